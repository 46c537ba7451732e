// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search implements the web-search subsystem: the Brave search
// client, page fetching, and the standard and deep research pipelines.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	braveEndpoint    = "https://api.search.brave.com/res/v1/web/search"
	resultsPerSearch = 3
)

// Result is one web-search hit. Citation numbers are 1-based and
// contiguous within a single search call; the deep pipeline reassigns
// them across the combined set.
type Result struct {
	Title          string `json:"title"`
	URL            string `json:"url"`
	Description    string `json:"description"`
	CitationNumber int    `json:"citation_number"`
}

// Searcher is the search seam the pipelines depend on.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// RateLimitedError marks a 429 from the search API.
type RateLimitedError struct {
	Query string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("search rate limit exceeded for query %q", e.Query)
}

// IsRateLimited checks whether err is a *RateLimitedError.
func IsRateLimited(err error) bool {
	_, ok := err.(*RateLimitedError)
	return ok
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// BraveClient calls the Brave web-search API. A process-wide limiter
// keeps all callers within the subscription's 1 request/second budget.
type BraveClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	limiter    *rate.Limiter
}

var _ Searcher = (*BraveClient)(nil)

// NewBraveClient creates a Brave search client. Returns nil when the
// key is empty so callers can treat web search as an optional feature.
func NewBraveClient(apiKey string) *BraveClient {
	if apiKey == "" {
		return nil
	}
	return &BraveClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		apiKey:     apiKey,
		baseURL:    braveEndpoint,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Search implements the Searcher interface.
func (b *BraveClient) Search(ctx context.Context, query string) ([]Result, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait canceled: %w", err)
	}

	endpoint := fmt.Sprintf("%s?q=%s&count=%d", b.baseURL, url.QueryEscape(query), resultsPerSearch)
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		slog.Warn("Brave rate limit hit", "query", query)
		return nil, &RateLimitedError{Query: query}
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned status %d: %s", resp.StatusCode, string(body))
	}

	var braveResp braveResponse
	if err := json.Unmarshal(body, &braveResp); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	results := make([]Result, 0, len(braveResp.Web.Results))
	for i, r := range braveResp.Web.Results {
		results = append(results, Result{
			Title:          r.Title,
			URL:            r.URL,
			Description:    r.Description,
			CitationNumber: i + 1,
		})
	}
	slog.Debug("Web search complete", "query", query, "results", len(results))
	return results, nil
}
