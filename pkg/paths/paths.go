// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package paths resolves the per-user, per-system-message storage layout.
//
// Indexed artifacts live under
//
//	{base}/{user_id}/{system_message_id}/{uploads|processed_texts|llmwhisperer_output|web_search_results}
//
// and ephemeral session attachments under
//
//	{base}/{user_id}/session_attachments
//
// Directories are created on demand with 0755 permissions.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Subdirectory names under each (user, system message) folder.
const (
	UploadsDir        = "uploads"
	ProcessedDir      = "processed_texts"
	WhispererDir      = "llmwhisperer_output"
	WebResultsDir     = "web_search_results"
	AttachmentsSubdir = "session_attachments"
)

// Layout resolves storage paths below a configured base folder.
type Layout struct {
	base string
}

// NewLayout creates a Layout rooted at base (BASE_UPLOAD_FOLDER).
func NewLayout(base string) *Layout {
	return &Layout{base: base}
}

// Base returns the root storage folder.
func (l *Layout) Base() string {
	return l.base
}

// UserDir is {base}/{user_id}.
func (l *Layout) UserDir(userID int) string {
	return filepath.Join(l.base, fmt.Sprintf("%d", userID))
}

// SystemMessageDir is {base}/{user_id}/{system_message_id}.
func (l *Layout) SystemMessageDir(userID, systemMessageID int) string {
	return filepath.Join(l.UserDir(userID), fmt.Sprintf("%d", systemMessageID))
}

// Uploads is the raw upload folder for a (user, system message) pair.
func (l *Layout) Uploads(userID, systemMessageID int) string {
	return filepath.Join(l.SystemMessageDir(userID, systemMessageID), UploadsDir)
}

// ProcessedTexts is the extracted-text folder for a (user, system message) pair.
func (l *Layout) ProcessedTexts(userID, systemMessageID int) string {
	return filepath.Join(l.SystemMessageDir(userID, systemMessageID), ProcessedDir)
}

// WhispererOutput holds raw extractor output for a (user, system message) pair.
func (l *Layout) WhispererOutput(userID, systemMessageID int) string {
	return filepath.Join(l.SystemMessageDir(userID, systemMessageID), WhispererDir)
}

// WebSearchResults holds persisted fetched pages for a (user, system message) pair.
func (l *Layout) WebSearchResults(userID, systemMessageID int) string {
	return filepath.Join(l.SystemMessageDir(userID, systemMessageID), WebResultsDir)
}

// SessionAttachments is {base}/{user_id}/session_attachments.
func (l *Layout) SessionAttachments(userID int) string {
	return filepath.Join(l.UserDir(userID), AttachmentsSubdir)
}

// EnsureDir creates dir (and parents) with 0755 if it does not exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// Exists reports whether the path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Remove deletes a file if present. Missing files are not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeFilename reduces a user-supplied filename to a flat, shell-safe
// name: path components are stripped, runs of unsafe characters collapse
// to a single underscore, and leading dots are removed so the result can
// never escape its folder or hide itself.
func SafeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "unnamed"
	}
	return name
}
