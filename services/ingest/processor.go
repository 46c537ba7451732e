// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest runs the document pipeline: extract, chunk, embed,
// upsert, and answers semantic queries against the per-system-message
// namespace.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianChat/pkg/paths"
	"github.com/AleutianAI/AleutianChat/services/extract"
	"github.com/AleutianAI/AleutianChat/services/vector"
)

var tracer = otel.Tracer("chat.ingest")

// Chunking geometry: roughly 512 tokens per chunk with 50-token overlap,
// expressed in characters for the recursive splitter.
const (
	chunkSizeChars    = 2048
	chunkOverlapChars = 200
)

// Retrieval parameters.
const (
	queryTopK        = 5
	similarityCutoff = 0.70

	// deleteScanTopK is the enumeration width for namespace scans when
	// deleting a document's chunks. Serverless indexes reject
	// metadata-filter deletes, so deletion is query-then-delete-by-id.
	deleteScanTopK = 10000
)

// Processor implements ingestion and retrieval over an Index and an
// Embedder, scoped to one database identifier.
type Processor struct {
	index    vector.Index
	embedder vector.Embedder
	extract  extract.Extractor
	layout   *paths.Layout
	dbID     string
}

// NewProcessor wires the ingestion pipeline.
func NewProcessor(index vector.Index, embedder vector.Embedder, extractor extract.Extractor, layout *paths.Layout, dbID string) *Processor {
	return &Processor{
		index:    index,
		embedder: embedder,
		extract:  extractor,
		layout:   layout,
		dbID:     dbID,
	}
}

// IngestFile extracts, chunks, embeds and upserts a stored file, then
// writes the concatenated processed text to
// processed_texts/{file_id}_processed.txt. Returns the processed-text
// path.
func (p *Processor) IngestFile(ctx context.Context, userID, systemMessageID int, fileID, filePath string) (string, error) {
	ctx, span := tracer.Start(ctx, "Processor.IngestFile")
	defer span.End()
	span.SetAttributes(
		attribute.String("file.id", fileID),
		attribute.Int("system_message.id", systemMessageID),
	)

	text, err := p.extract.ExtractText(ctx, filePath)
	if err != nil {
		return "", fmt.Errorf("extraction failed for %s: %w", filepath.Base(filePath), err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no text extracted from %s", filepath.Base(filePath))
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSizeChars),
		textsplitter.WithChunkOverlap(chunkOverlapChars),
	)
	chunks, err := splitter.SplitText(text)
	if err != nil {
		return "", fmt.Errorf("chunking failed: %w", err)
	}
	if len(chunks) == 0 {
		return "", fmt.Errorf("chunking produced no chunks for %s", filepath.Base(filePath))
	}
	span.SetAttributes(attribute.Int("chunks", len(chunks)))

	embeddings, err := p.embedder.Embed(ctx, chunks)
	if err != nil {
		return "", fmt.Errorf("embedding failed: %w", err)
	}

	records := make([]vector.Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = vector.Record{
			ID:     fmt.Sprintf("%s_chunk_%d", fileID, i),
			Values: embeddings[i],
			Metadata: map[string]any{
				"file_id": fileID,
				"content": chunk,
			},
		}
	}

	namespace := vector.Namespace(systemMessageID, p.dbID)
	if err := p.index.Upsert(ctx, namespace, records); err != nil {
		return "", fmt.Errorf("vector upsert failed: %w", err)
	}
	slog.Info("Ingested file into vector index",
		"file_id", fileID,
		"namespace", namespace,
		"chunks", len(chunks),
	)

	processedDir := p.layout.ProcessedTexts(userID, systemMessageID)
	if err := paths.EnsureDir(processedDir); err != nil {
		return "", err
	}
	processedPath := filepath.Join(processedDir, fmt.Sprintf("%s_processed.txt", fileID))
	if err := os.WriteFile(processedPath, []byte(text), 0644); err != nil {
		return "", fmt.Errorf("failed to write processed text: %w", err)
	}
	return processedPath, nil
}

// QueryIndex embeds the query and retrieves the top hits above the
// similarity cutoff, formatted as source-attributed blocks joined by
// "\n\n---\n\n". Returns "" when nothing clears the threshold.
func (p *Processor) QueryIndex(ctx context.Context, systemMessageID int, query string) (string, error) {
	ctx, span := tracer.Start(ctx, "Processor.QueryIndex")
	defer span.End()
	span.SetAttributes(attribute.Int("system_message.id", systemMessageID))

	embeddings, err := p.embedder.Embed(ctx, []string{query})
	if err != nil {
		return "", fmt.Errorf("query embedding failed: %w", err)
	}

	namespace := vector.Namespace(systemMessageID, p.dbID)
	matches, err := p.index.Query(ctx, namespace, embeddings[0], queryTopK, true)
	if err != nil {
		return "", fmt.Errorf("vector query failed: %w", err)
	}

	var blocks []string
	for _, m := range matches {
		if m.Score < similarityCutoff {
			continue
		}
		fileID, _ := m.Metadata["file_id"].(string)
		content, _ := m.Metadata["content"].(string)
		if content == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("[Source: Document %s, Relevance: %.2f]\n%s", fileID, m.Score, content))
	}

	span.SetAttributes(
		attribute.Int("matches.total", len(matches)),
		attribute.Int("matches.surviving", len(blocks)),
	)
	if len(blocks) == 0 {
		slog.Debug("Vector query returned nothing above cutoff", "namespace", namespace)
		return "", nil
	}
	return strings.Join(blocks, "\n\n---\n\n"), nil
}

// DeleteFileVectors removes every chunk of a file from its namespace.
//
// Serverless indexes do not support metadata-filter deletes, so the
// namespace is enumerated with a zero-vector query and filtered by
// file_id client-side before deleting by id.
func (p *Processor) DeleteFileVectors(ctx context.Context, systemMessageID int, fileID string) error {
	ctx, span := tracer.Start(ctx, "Processor.DeleteFileVectors")
	defer span.End()
	span.SetAttributes(attribute.String("file.id", fileID))

	namespace := vector.Namespace(systemMessageID, p.dbID)
	matches, err := p.index.Query(ctx, namespace, vector.ZeroVector(), deleteScanTopK, true)
	if err != nil {
		return fmt.Errorf("namespace scan failed: %w", err)
	}

	var ids []string
	for _, m := range matches {
		if id, _ := m.Metadata["file_id"].(string); id == fileID {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		slog.Warn("No vectors found for file", "file_id", fileID, "namespace", namespace)
		return nil
	}

	if err := p.index.DeleteByID(ctx, namespace, ids); err != nil {
		return fmt.Errorf("vector delete failed: %w", err)
	}
	slog.Info("Deleted file vectors", "file_id", fileID, "namespace", namespace, "count", len(ids))
	return nil
}
