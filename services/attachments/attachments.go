// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package attachments manages ephemeral per-user session files.
//
// Attachments are never embedded or indexed; their extracted text is
// inlined into a single chat turn and the file itself is eligible for
// TTL sweeping. The filename on disk encodes the attachment id so
// lookups need no database.
package attachments

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianChat/pkg/paths"
	"github.com/AleutianAI/AleutianChat/services/extract"
)

// Info describes a saved attachment.
type Info struct {
	AttachmentID string `json:"attachment_id"`
	Filename     string `json:"filename"`
	Size         int64  `json:"size"`
	Mime         string `json:"mime"`
}

// Handler stores, removes and extracts session attachments.
type Handler struct {
	layout    *paths.Layout
	extractor extract.Extractor
}

// NewHandler creates a session-attachment handler.
func NewHandler(layout *paths.Layout, extractor extract.Extractor) *Handler {
	return &Handler{layout: layout, extractor: extractor}
}

// Save writes the attachment to the user's session folder as
// {attachment_id}_{safe_filename}.
func (h *Handler) Save(userID int, filename string, content []byte) (*Info, error) {
	dir := h.layout.SessionAttachments(userID)
	if err := paths.EnsureDir(dir); err != nil {
		return nil, err
	}

	attachmentID := uuid.New().String()
	safe := paths.SafeFilename(filename)
	path := filepath.Join(dir, fmt.Sprintf("%s_%s", attachmentID, safe))
	if err := os.WriteFile(path, content, 0644); err != nil {
		return nil, fmt.Errorf("failed to save attachment: %w", err)
	}

	slog.Info("Saved session attachment",
		"attachment_id", attachmentID,
		"user_id", userID,
		"size", len(content),
	)
	return &Info{
		AttachmentID: attachmentID,
		Filename:     safe,
		Size:         int64(len(content)),
		Mime:         mimeFor(safe),
	}, nil
}

// Remove deletes an attachment. Returns false when no file with the
// given id exists for the user.
func (h *Handler) Remove(userID int, attachmentID string) (bool, error) {
	path, err := h.find(userID, attachmentID)
	if err != nil {
		return false, err
	}
	if path == "" {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("failed to remove attachment: %w", err)
	}
	return true, nil
}

// GetContent extracts the attachment's text with the same extractor the
// ingestion pipeline uses, without embedding or persisting anything.
func (h *Handler) GetContent(ctx context.Context, userID int, attachmentID string) (text, filename, mimeType string, err error) {
	path, err := h.find(userID, attachmentID)
	if err != nil {
		return "", "", "", err
	}
	if path == "" {
		return "", "", "", fmt.Errorf("attachment %s not found", attachmentID)
	}

	text, err = h.extractor.ExtractText(ctx, path)
	if err != nil {
		return "", "", "", fmt.Errorf("attachment extraction failed: %w", err)
	}

	base := filepath.Base(path)
	filename = strings.TrimPrefix(base, attachmentID+"_")
	return text, filename, mimeFor(filename), nil
}

// SweepOlderThan removes attachments for all users whose modification
// time is before cutoff. Returns the number removed.
func (h *Handler) SweepOlderThan(cutoff time.Time) int {
	removed := 0
	users, err := os.ReadDir(h.layout.Base())
	if err != nil {
		return 0
	}
	for _, u := range users {
		if !u.IsDir() {
			continue
		}
		dir := filepath.Join(h.layout.Base(), u.Name(), paths.AttachmentsSubdir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil || info.IsDir() {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if os.Remove(filepath.Join(dir, e.Name())) == nil {
					removed++
				}
			}
		}
	}
	if removed > 0 {
		slog.Info("Swept stale session attachments", "removed", removed)
	}
	return removed
}

// find locates the attachment file by its id prefix. Empty path means
// not found.
func (h *Handler) find(userID int, attachmentID string) (string, error) {
	if attachmentID == "" || strings.ContainsAny(attachmentID, "/\\") {
		return "", fmt.Errorf("invalid attachment id")
	}
	dir := h.layout.SessionAttachments(userID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to list attachments: %w", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), attachmentID+"_") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", nil
}

func mimeFor(filename string) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return "application/octet-stream"
}
