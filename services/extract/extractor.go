// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract turns uploaded documents into plain text.
//
// PDFs go through the LLMWhisperer OCR/layout service; everything else
// is read as UTF-8 text. The Extractor interface is the seam callers
// inject so tests never touch the external service.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Extractor converts a stored file into plain text.
type Extractor interface {
	ExtractText(ctx context.Context, filePath string) (string, error)
}

// Service routes extraction by file extension: .pdf to the external
// extractor, anything else to a plain text read.
type Service struct {
	whisperer Extractor
}

var _ Extractor = (*Service)(nil)

// NewService creates an extraction service. whisperer may be nil, in
// which case PDF extraction fails with a configuration error.
func NewService(whisperer Extractor) *Service {
	return &Service{whisperer: whisperer}
}

// ExtractText implements the Extractor interface.
func (s *Service) ExtractText(ctx context.Context, filePath string) (string, error) {
	if strings.EqualFold(filepath.Ext(filePath), ".pdf") {
		if s.whisperer == nil {
			return "", fmt.Errorf("PDF extraction requested but no extractor is configured")
		}
		return s.whisperer.ExtractText(ctx, filePath)
	}
	return readTextFile(filePath)
}

// readTextFile reads a text-like file, rejecting content that is not
// valid UTF-8 rather than feeding mojibake into the index.
func readTextFile(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", filePath, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("file %s is not valid UTF-8 text", filepath.Base(filePath))
	}
	return string(data), nil
}
