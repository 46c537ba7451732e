// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package attachments

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianChat/pkg/paths"
	"github.com/AleutianAI/AleutianChat/services/extract"
)

func newHandler(t *testing.T) *Handler {
	t.Helper()
	layout := paths.NewLayout(t.TempDir())
	return NewHandler(layout, extract.NewService(nil))
}

func TestSaveAndGetContent(t *testing.T) {
	h := newHandler(t)

	info, err := h.Save(3, "notes.txt", []byte("attachment body"))
	require.NoError(t, err)
	assert.NotEmpty(t, info.AttachmentID)
	assert.Equal(t, "notes.txt", info.Filename)
	assert.Equal(t, int64(len("attachment body")), info.Size)

	text, filename, mimeType, err := h.GetContent(context.Background(), 3, info.AttachmentID)
	require.NoError(t, err)
	assert.Equal(t, "attachment body", text)
	assert.Equal(t, "notes.txt", filename)
	assert.Contains(t, mimeType, "text/plain")
}

func TestGetContentScopedToUser(t *testing.T) {
	h := newHandler(t)

	info, err := h.Save(3, "secret.txt", []byte("private"))
	require.NoError(t, err)

	_, _, _, err = h.GetContent(context.Background(), 4, info.AttachmentID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRemove(t *testing.T) {
	h := newHandler(t)

	info, err := h.Save(3, "temp.txt", []byte("x"))
	require.NoError(t, err)

	ok, err := h.Remove(3, info.AttachmentID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Remove(3, info.AttachmentID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveRejectsPathTraversal(t *testing.T) {
	h := newHandler(t)
	_, err := h.Remove(3, "../../../etc")
	require.Error(t, err)
}

func TestSaveSanitizesFilename(t *testing.T) {
	h := newHandler(t)

	info, err := h.Save(3, "../../evil name.txt", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "evil_name.txt", info.Filename)
}

func TestSweepOlderThan(t *testing.T) {
	layout := paths.NewLayout(t.TempDir())
	h := NewHandler(layout, extract.NewService(nil))

	old, err := h.Save(3, "old.txt", []byte("stale"))
	require.NoError(t, err)
	fresh, err := h.Save(3, "fresh.txt", []byte("new"))
	require.NoError(t, err)

	// Age the first attachment past the cutoff.
	oldPath, err := h.find(3, old.AttachmentID)
	require.NoError(t, err)
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	removed := h.SweepOlderThan(time.Now().Add(-time.Hour))
	assert.Equal(t, 1, removed)

	_, _, _, err = h.GetContent(context.Background(), 3, old.AttachmentID)
	assert.Error(t, err)
	_, _, _, err = h.GetContent(context.Background(), 3, fresh.AttachmentID)
	assert.NoError(t, err)
}
