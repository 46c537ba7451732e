// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(99).String())
}

func TestFileLogging(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "test-service",
		Quiet:   true,
	})
	logger.Info("hello from test", "request_id", "abc-123")
	require.NoError(t, logger.Close())

	expected := filepath.Join(dir, "test-service_"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(expected)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	assert.Equal(t, "hello from test", entry["msg"])
	assert.Equal(t, "abc-123", entry["request_id"])
	assert.Equal(t, "test-service", entry["service"])
}

func TestLevelFiltering(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:  LevelWarn,
		LogDir: dir,
		Quiet:  true,
	})
	logger.Debug("dropped")
	logger.Info("also dropped")
	logger.Warn("kept")
	require.NoError(t, logger.Close())

	files, err := filepath.Glob(filepath.Join(dir, "*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), "kept")
}

func TestWithCarriesAttributes(t *testing.T) {
	dir := t.TempDir()

	logger := New(Config{
		Level:  LevelInfo,
		LogDir: dir,
		Quiet:  true,
	})
	child := logger.With("conversation_id", 42)
	child.Info("turn complete")
	require.NoError(t, logger.Close())

	files, _ := filepath.Glob(filepath.Join(dir, "*.log"))
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"conversation_id":42`)
}

func TestCloseWithoutFileIsNoop(t *testing.T) {
	logger := New(Config{Quiet: true})
	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}

func TestMultiHandlerEnabled(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "out.log"))
	require.NoError(t, err)
	defer f.Close()

	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}}
	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, home, expandPath("~"))
	assert.Equal(t, filepath.Join(home, "logs"), expandPath("~/logs"))
	assert.Equal(t, "/var/log/app", expandPath("/var/log/app"))
}
