// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWhisperer struct {
	text string
	err  error
}

func (f *fakeWhisperer) ExtractText(ctx context.Context, filePath string) (string, error) {
	return f.text, f.err
}

func TestServiceRoutesPDFToWhisperer(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "report.PDF")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF-1.4 binary"), 0644))

	svc := NewService(&fakeWhisperer{text: "extracted pdf text"})
	text, err := svc.ExtractText(context.Background(), pdf)
	require.NoError(t, err)
	assert.Equal(t, "extracted pdf text", text)
}

func TestServiceReadsPlainText(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("alpha beta gamma"), 0644))

	svc := NewService(nil)
	text, err := svc.ExtractText(context.Background(), txt)
	require.NoError(t, err)
	assert.Equal(t, "alpha beta gamma", text)
}

func TestServicePDFWithoutWhispererFails(t *testing.T) {
	svc := NewService(nil)
	_, err := svc.ExtractText(context.Background(), "/tmp/doc.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no extractor is configured")
}

func TestServiceRejectsBinaryAsText(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "image.png")
	require.NoError(t, os.WriteFile(bin, []byte{0x89, 0x50, 0xff, 0xfe, 0x00}, 0644))

	svc := NewService(nil)
	_, err := svc.ExtractText(context.Background(), bin)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid UTF-8")
}

func TestWhispererClientFullFlow(t *testing.T) {
	var statusCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("unstract-key"))
		switch {
		case r.URL.Path == "/whisper":
			json.NewEncoder(w).Encode(map[string]string{"whisper_hash": "job-1"})
		case r.URL.Path == "/whisper-status":
			assert.Equal(t, "job-1", r.URL.Query().Get("whisper_hash"))
			// First poll still processing, second done.
			if statusCalls.Add(1) == 1 {
				json.NewEncoder(w).Encode(map[string]string{"status": "processing"})
			} else {
				json.NewEncoder(w).Encode(map[string]string{"status": "processed"})
			}
		case r.URL.Path == "/whisper-retrieve":
			json.NewEncoder(w).Encode(map[string]string{"result_text": "the extracted document"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	pdf := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF"), 0644))

	client := NewWhispererClient("test-key", srv.URL)
	require.NotNil(t, client)

	text, err := client.ExtractText(context.Background(), pdf)
	require.NoError(t, err)
	assert.Equal(t, "the extracted document", text)
	assert.GreaterOrEqual(t, statusCalls.Load(), int32(2))
}

func TestWhispererClientJobFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/whisper":
			json.NewEncoder(w).Encode(map[string]string{"whisper_hash": "job-2"})
		case "/whisper-status":
			json.NewEncoder(w).Encode(map[string]string{"status": "error"})
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	pdf := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF"), 0644))

	client := NewWhispererClient("test-key", srv.URL)
	_, err := client.ExtractText(context.Background(), pdf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestNewWhispererClientMissingKey(t *testing.T) {
	assert.Nil(t, NewWhispererClient("", ""))
}
