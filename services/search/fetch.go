// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/AleutianAI/AleutianChat/pkg/paths"
)

const partialFetchLimit = 1000

// maxFetchBytes bounds how much of a page body is read. Pages larger
// than this are truncated, not rejected.
const maxFetchBytes = 2 << 20

// FetchedPage is a fetched and text-extracted search result.
type FetchedPage struct {
	Title          string `json:"title"`
	URL            string `json:"url"`
	Description    string `json:"description"`
	Content        string `json:"content"`
	CitationNumber int    `json:"citation_number"`
}

// Fetcher retrieves page text for search results.
type Fetcher interface {
	FetchPartial(ctx context.Context, url string) string
	FetchFull(ctx context.Context, url string) string
}

// PageFetcher fetches pages over HTTP with a 10-second total timeout
// and extracts readable text. Fetch errors yield empty text rather than
// failing the pipeline; a dead link should never kill a search.
type PageFetcher struct {
	httpClient *http.Client
}

var _ Fetcher = (*PageFetcher)(nil)

// NewPageFetcher creates a page fetcher.
func NewPageFetcher() *PageFetcher {
	return &PageFetcher{
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchPartial implements the Fetcher interface; returns at most the
// first 1000 characters of page text.
func (f *PageFetcher) FetchPartial(ctx context.Context, pageURL string) string {
	text := f.fetch(ctx, pageURL)
	if len(text) > partialFetchLimit {
		return text[:partialFetchLimit]
	}
	return text
}

// FetchFull implements the Fetcher interface.
func (f *PageFetcher) FetchFull(ctx context.Context, pageURL string) string {
	return f.fetch(ctx, pageURL)
}

func (f *PageFetcher) fetch(ctx context.Context, pageURL string) string {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		slog.Warn("Skipping unfetchable URL", "url", pageURL, "error", err)
		return ""
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; AleutianChat/1.0)")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		slog.Warn("Page fetch failed", "url", pageURL, "error", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("Page fetch returned non-200", "url", pageURL, "status", resp.StatusCode)
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		slog.Warn("Page body read failed", "url", pageURL, "error", err)
		return ""
	}
	return extractText(body, pageURL)
}

// extractText pulls readable text from HTML, preferring the readability
// extractor and falling back to a blunt tag strip.
func extractText(body []byte, pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err == nil {
		article, rerr := readability.FromReader(bytes.NewReader(body), parsed)
		if rerr == nil && strings.TrimSpace(article.TextContent) != "" {
			return collapseWhitespace(article.TextContent)
		}
	}
	return collapseWhitespace(stripTags(string(body)))
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe    = regexp.MustCompile(`<[^>]+>`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

func stripTags(html string) string {
	html = scriptRe.ReplaceAllString(html, " ")
	return tagRe.ReplaceAllString(html, " ")
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// PersistResults writes each fetched page to result_{n}.json in the
// given web_search_results directory. Persistence failures are logged
// and ignored; the turn's answer does not depend on the archive.
func PersistResults(dir string, pages []FetchedPage) {
	if dir == "" || len(pages) == 0 {
		return
	}
	if err := paths.EnsureDir(dir); err != nil {
		slog.Warn("Cannot create web_search_results directory", "dir", dir, "error", err)
		return
	}
	for i, page := range pages {
		data, err := json.MarshalIndent(page, "", "  ")
		if err != nil {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("result_%d.json", i+1))
		if err := os.WriteFile(path, data, 0644); err != nil {
			slog.Warn("Failed to persist search result", "path", path, "error", err)
		}
	}
}
