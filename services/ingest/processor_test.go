// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianChat/pkg/paths"
	"github.com/AleutianAI/AleutianChat/services/vector"
)

// fakeIndex is an in-memory per-namespace vector store. Queries return
// all records with scripted scores.
type fakeIndex struct {
	records map[string][]vector.Record // namespace -> records
	scores  map[string]float32         // record id -> score
	deleted map[string][]string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		records: map[string][]vector.Record{},
		scores:  map[string]float32{},
		deleted: map[string][]string{},
	}
}

func (f *fakeIndex) Upsert(ctx context.Context, ns string, records []vector.Record) error {
	f.records[ns] = append(f.records[ns], records...)
	return nil
}

func (f *fakeIndex) Query(ctx context.Context, ns string, values []float32, topK int, includeMetadata bool) ([]vector.Match, error) {
	var out []vector.Match
	for _, r := range f.records[ns] {
		score, ok := f.scores[r.ID]
		if !ok {
			score = 0.9
		}
		out = append(out, vector.Match{ID: r.ID, Score: score, Metadata: r.Metadata})
		if len(out) >= topK {
			break
		}
	}
	return out, nil
}

func (f *fakeIndex) DeleteByID(ctx context.Context, ns string, ids []string) error {
	f.deleted[ns] = append(f.deleted[ns], ids...)
	drop := map[string]bool{}
	for _, id := range ids {
		drop[id] = true
	}
	var kept []vector.Record
	for _, r := range f.records[ns] {
		if !drop[r.ID] {
			kept = append(kept, r)
		}
	}
	f.records[ns] = kept
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, 4)
	}
	return out, nil
}

type passthroughExtractor struct{}

func (passthroughExtractor) ExtractText(ctx context.Context, filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	return string(data), err
}

func newTestProcessor(t *testing.T, index vector.Index) (*Processor, *paths.Layout) {
	t.Helper()
	layout := paths.NewLayout(t.TempDir())
	return NewProcessor(index, fakeEmbedder{}, passthroughExtractor{}, layout, "deadbeef"), layout
}

func writeUpload(t *testing.T, layout *paths.Layout, userID, smID int, name, content string) string {
	t.Helper()
	dir := layout.Uploads(userID, smID)
	require.NoError(t, paths.EnsureDir(dir))
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestIngestFileUpsertsChunksWithMetadata(t *testing.T) {
	index := newFakeIndex()
	proc, layout := newTestProcessor(t, index)

	path := writeUpload(t, layout, 1, 10, "doc.txt", "alpha beta gamma")
	processedPath, err := proc.IngestFile(context.Background(), 1, 10, "file-1", path)
	require.NoError(t, err)

	ns := vector.Namespace(10, "deadbeef")
	require.NotEmpty(t, index.records[ns])
	for _, r := range index.records[ns] {
		assert.Equal(t, "file-1", r.Metadata["file_id"])
		assert.NotEmpty(t, r.Metadata["content"])
		assert.True(t, strings.HasPrefix(r.ID, "file-1_chunk_"))
	}

	data, err := os.ReadFile(processedPath)
	require.NoError(t, err)
	assert.Equal(t, "alpha beta gamma", string(data))
	assert.Equal(t, "file-1_processed.txt", filepath.Base(processedPath))
}

func TestIngestFileEmptyTextFails(t *testing.T) {
	proc, layout := newTestProcessor(t, newFakeIndex())
	path := writeUpload(t, layout, 1, 10, "empty.txt", "   \n")

	_, err := proc.IngestFile(context.Background(), 1, 10, "file-2", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no text extracted")
}

func TestQueryIndexFormatsAndFiltersByCutoff(t *testing.T) {
	index := newFakeIndex()
	proc, layout := newTestProcessor(t, index)

	path := writeUpload(t, layout, 1, 10, "doc.txt", "alpha beta gamma")
	_, err := proc.IngestFile(context.Background(), 1, 10, "file-1", path)
	require.NoError(t, err)

	ns := vector.Namespace(10, "deadbeef")
	require.Len(t, index.records[ns], 1)
	index.scores["file-1_chunk_0"] = 0.91

	out, err := proc.QueryIndex(context.Background(), 10, "beta")
	require.NoError(t, err)
	assert.Contains(t, out, "[Source: Document file-1, Relevance: 0.91]")
	assert.Contains(t, out, "alpha beta gamma")

	// Below the 0.70 cutoff nothing is returned.
	index.scores["file-1_chunk_0"] = 0.42
	out, err = proc.QueryIndex(context.Background(), 10, "beta")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestQueryIndexJoinsHitsWithSeparator(t *testing.T) {
	index := newFakeIndex()
	proc, _ := newTestProcessor(t, index)

	ns := vector.Namespace(10, "deadbeef")
	index.records[ns] = []vector.Record{
		{ID: "a_chunk_0", Metadata: map[string]any{"file_id": "a", "content": "first"}},
		{ID: "b_chunk_0", Metadata: map[string]any{"file_id": "b", "content": "second"}},
	}
	index.scores["a_chunk_0"] = 0.95
	index.scores["b_chunk_0"] = 0.80

	out, err := proc.QueryIndex(context.Background(), 10, "anything")
	require.NoError(t, err)
	parts := strings.Split(out, "\n\n---\n\n")
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0], "Document a")
	assert.Contains(t, parts[1], "Document b")
}

func TestQueryIsNamespaceScoped(t *testing.T) {
	index := newFakeIndex()
	proc, layout := newTestProcessor(t, index)

	path := writeUpload(t, layout, 1, 10, "doc.txt", "alpha beta gamma")
	_, err := proc.IngestFile(context.Background(), 1, 10, "file-1", path)
	require.NoError(t, err)

	// A different system message sees an empty namespace.
	out, err := proc.QueryIndex(context.Background(), 11, "beta")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDeleteFileVectorsFiltersByFileID(t *testing.T) {
	index := newFakeIndex()
	proc, _ := newTestProcessor(t, index)

	ns := vector.Namespace(10, "deadbeef")
	index.records[ns] = []vector.Record{
		{ID: "keep_chunk_0", Metadata: map[string]any{"file_id": "keep", "content": "x"}},
		{ID: "gone_chunk_0", Metadata: map[string]any{"file_id": "gone", "content": "y"}},
		{ID: "gone_chunk_1", Metadata: map[string]any{"file_id": "gone", "content": "z"}},
	}

	require.NoError(t, proc.DeleteFileVectors(context.Background(), 10, "gone"))
	assert.ElementsMatch(t, []string{"gone_chunk_0", "gone_chunk_1"}, index.deleted[ns])
	require.Len(t, index.records[ns], 1)
	assert.Equal(t, "keep_chunk_0", index.records[ns][0].ID)
}

// fakeFileStore is an in-memory FileStore.
type fakeFileStore struct {
	rows map[string]FileRecord
}

func (f *fakeFileStore) InsertUploadedFile(ctx context.Context, userID, smID int, rec FileRecord) error {
	f.rows[rec.ID] = rec
	return nil
}

func (f *fakeFileStore) UpdateProcessedPath(ctx context.Context, fileID, processedPath string) error {
	rec, ok := f.rows[fileID]
	if !ok {
		return fmt.Errorf("no such file %s", fileID)
	}
	rec.ProcessedPath = processedPath
	f.rows[fileID] = rec
	return nil
}

func (f *fakeFileStore) GetUploadedFile(ctx context.Context, userID, smID int, fileID string) (*FileRecord, error) {
	rec, ok := f.rows[fileID]
	if !ok {
		return nil, fmt.Errorf("no such file %s", fileID)
	}
	return &rec, nil
}

func (f *fakeFileStore) ListUploadedFiles(ctx context.Context, userID, smID int) ([]FileRecord, error) {
	var out []FileRecord
	for _, r := range f.rows {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeFileStore) DeleteUploadedFile(ctx context.Context, fileID string) error {
	delete(f.rows, fileID)
	return nil
}

func TestManagerUploadQueryDeleteRoundTrip(t *testing.T) {
	index := newFakeIndex()
	layout := paths.NewLayout(t.TempDir())
	proc := NewProcessor(index, fakeEmbedder{}, passthroughExtractor{}, layout, "deadbeef")
	store := &fakeFileStore{rows: map[string]FileRecord{}}
	mgr := NewManager(proc, store, layout)
	ctx := context.Background()

	rec, err := mgr.Upload(ctx, 1, 10, "notes.txt", "text/plain", []byte("alpha beta gamma"))
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	assert.FileExists(t, rec.FilePath)
	assert.FileExists(t, rec.ProcessedPath)

	index.scores[rec.ID+"_chunk_0"] = 0.88
	out, err := proc.QueryIndex(ctx, 10, "beta")
	require.NoError(t, err)
	assert.Contains(t, out, "alpha beta gamma")

	details, err := mgr.Delete(ctx, 1, 10, rec.ID)
	require.NoError(t, err)
	assert.True(t, details.VectorsDeleted)
	assert.True(t, details.OriginalFileDeleted)
	assert.True(t, details.ProcessedFileDeleted)
	assert.True(t, details.DatabaseEntryDeleted)

	out, err = proc.QueryIndex(ctx, 10, "beta")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoFileExists(t, rec.FilePath)
	assert.NoFileExists(t, rec.ProcessedPath)
	assert.Empty(t, store.rows)
}
