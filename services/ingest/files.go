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
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianChat/pkg/paths"
)

// FileRecord is the durable row backing an uploaded, indexed document.
type FileRecord struct {
	ID            string
	Filename      string
	FilePath      string
	ProcessedPath string
	Mime          string
	Size          int64
	UploadedAt    time.Time
}

// FileStore persists uploaded-file rows. Implemented by the
// conversation store.
type FileStore interface {
	InsertUploadedFile(ctx context.Context, userID, systemMessageID int, rec FileRecord) error
	UpdateProcessedPath(ctx context.Context, fileID, processedPath string) error
	GetUploadedFile(ctx context.Context, userID, systemMessageID int, fileID string) (*FileRecord, error)
	ListUploadedFiles(ctx context.Context, userID, systemMessageID int) ([]FileRecord, error)
	DeleteUploadedFile(ctx context.Context, fileID string) error
}

// DeleteDetails reports each step of a file deletion so a partial
// failure is visible to the caller.
type DeleteDetails struct {
	VectorsDeleted       bool `json:"vectors_deleted"`
	OriginalFileDeleted  bool `json:"original_file_deleted"`
	ProcessedFileDeleted bool `json:"processed_file_deleted"`
	DatabaseEntryDeleted bool `json:"database_entry_deleted"`
}

// Manager owns the lifecycle of indexed documents: upload + ingest,
// serving original and processed bytes, and full deletion (vectors,
// files on disk, database row).
type Manager struct {
	processor *Processor
	store     FileStore
	layout    *paths.Layout
}

// NewManager wires a vector-file manager.
func NewManager(processor *Processor, store FileStore, layout *paths.Layout) *Manager {
	return &Manager{processor: processor, store: store, layout: layout}
}

// Upload persists the raw bytes under uploads/, records the row, runs
// the ingestion pipeline, and stores the processed-text path.
func (m *Manager) Upload(ctx context.Context, userID, systemMessageID int, filename, mime string, content []byte) (*FileRecord, error) {
	uploadDir := m.layout.Uploads(userID, systemMessageID)
	if err := paths.EnsureDir(uploadDir); err != nil {
		return nil, err
	}

	fileID := uuid.New().String()
	safe := paths.SafeFilename(filename)
	storedPath := filepath.Join(uploadDir, fmt.Sprintf("%s_%s", fileID, safe))
	if err := os.WriteFile(storedPath, content, 0644); err != nil {
		return nil, fmt.Errorf("failed to persist upload: %w", err)
	}

	rec := FileRecord{
		ID:         fileID,
		Filename:   filename,
		FilePath:   storedPath,
		Mime:       mime,
		Size:       int64(len(content)),
		UploadedAt: time.Now().UTC(),
	}
	if err := m.store.InsertUploadedFile(ctx, userID, systemMessageID, rec); err != nil {
		paths.Remove(storedPath)
		return nil, fmt.Errorf("failed to record upload: %w", err)
	}

	processedPath, err := m.processor.IngestFile(ctx, userID, systemMessageID, fileID, storedPath)
	if err != nil {
		// Keep the row and raw bytes so the upload can be retried or
		// deleted; the file simply has no vectors yet.
		slog.Error("Ingestion failed after upload", "file_id", fileID, "error", err)
		return nil, fmt.Errorf("ingestion failed: %w", err)
	}

	if err := m.store.UpdateProcessedPath(ctx, fileID, processedPath); err != nil {
		return nil, fmt.Errorf("failed to record processed text: %w", err)
	}
	rec.ProcessedPath = processedPath
	return &rec, nil
}

// Get returns the stored row for a file.
func (m *Manager) Get(ctx context.Context, userID, systemMessageID int, fileID string) (*FileRecord, error) {
	return m.store.GetUploadedFile(ctx, userID, systemMessageID, fileID)
}

// List returns all uploaded files for a (user, system message) pair.
func (m *Manager) List(ctx context.Context, userID, systemMessageID int) ([]FileRecord, error) {
	return m.store.ListUploadedFiles(ctx, userID, systemMessageID)
}

// Delete removes a file end to end: vectors first, then both on-disk
// artifacts, then the database row. Each step's outcome is reported in
// the returned details; the database row is deleted last so a partial
// failure never leaves an orphaned row pointing at missing data.
func (m *Manager) Delete(ctx context.Context, userID, systemMessageID int, fileID string) (*DeleteDetails, error) {
	rec, err := m.store.GetUploadedFile(ctx, userID, systemMessageID, fileID)
	if err != nil {
		return nil, err
	}

	details := &DeleteDetails{}

	if err := m.processor.DeleteFileVectors(ctx, systemMessageID, fileID); err != nil {
		slog.Error("Vector deletion failed", "file_id", fileID, "error", err)
	} else {
		details.VectorsDeleted = true
	}

	if rec.FilePath != "" {
		if err := paths.Remove(rec.FilePath); err != nil {
			slog.Error("Original file deletion failed", "file_id", fileID, "error", err)
		} else {
			details.OriginalFileDeleted = true
		}
	}
	if rec.ProcessedPath != "" {
		if err := paths.Remove(rec.ProcessedPath); err != nil {
			slog.Error("Processed file deletion failed", "file_id", fileID, "error", err)
		} else {
			details.ProcessedFileDeleted = true
		}
	} else {
		// Nothing was ever processed; report the step as clean.
		details.ProcessedFileDeleted = true
	}

	if err := m.store.DeleteUploadedFile(ctx, fileID); err != nil {
		slog.Error("Database deletion failed", "file_id", fileID, "error", err)
		return details, fmt.Errorf("failed to delete file record: %w", err)
	}
	details.DatabaseEntryDeleted = true

	slog.Info("Deleted vector file",
		"file_id", fileID,
		"vectors", details.VectorsDeleted,
		"original", details.OriginalFileDeleted,
		"processed", details.ProcessedFileDeleted,
	)
	return details, nil
}
