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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianChat/services/llm"
)

// Deep pipeline parameters. Three queries is a deliberate rate-limit
// budget, not a tunable; the fetch/summarize fan-out is bounded to the
// worker-pool width.
const (
	deepQueryCount      = 3
	deepFetchWorkers    = 4
	summarizeCharLimit  = 5000
	truncationMarker    = "[Content truncated]"
)

type queriesPayload struct {
	Queries []string `json:"queries"`
}

// Deep runs the three-query research pipeline: generate queries, search
// sequentially under the rate limiter, dedupe and renumber, fetch and
// summarize concurrently, then combine into one cited answer.
func (s *Service) Deep(ctx context.Context, model string, history []llm.Message, query, resultsDir string) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "Search.Deep")
	defer span.End()

	if s.searcher == nil {
		return nil, fmt.Errorf("web search is not configured")
	}

	understanding := understandQuery(ctx, s.gen, model, history, query)
	queries, err := s.generateQueries(ctx, model, understanding)
	if err != nil {
		return nil, err
	}

	results, err := s.runSearches(ctx, queries)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &Outcome{Summary: "", Queries: queries}, nil
	}

	pages := s.fetchAndSummarize(ctx, model, query, results)
	PersistResults(resultsDir, pages)

	summary := s.combine(ctx, model, query, pages)
	summary = appendMissingCitations(summary, pages)

	slog.Info("Deep web search complete",
		"queries", len(queries),
		"results", len(results),
	)
	return &Outcome{Summary: summary, Queries: queries}, nil
}

// generateQueries asks the model for exactly three diverse search
// queries as JSON. Malformed output is rejected, not repaired.
func (s *Service) generateQueries(ctx context.Context, model, understanding string) ([]string, error) {
	prompt := fmt.Sprintf(
		"Generate exactly %d diverse web search queries to research the following topic. "+
			"Respond with JSON only, in the form {\"queries\": [\"...\", \"...\", \"...\"]}.\n\nTopic: %s",
		deepQueryCount, understanding,
	)
	result, err := s.gen.Generate(ctx, model, []llm.Message{{Role: "user", Content: prompt}}, llm.GenerationParams{})
	if err != nil {
		return nil, fmt.Errorf("query generation failed: %w", err)
	}

	raw := extractJSONObject(result.Text)
	var payload queriesPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("query generation returned malformed JSON: %w", err)
	}
	if len(payload.Queries) != deepQueryCount {
		return nil, fmt.Errorf("query generation returned %d queries, want %d", len(payload.Queries), deepQueryCount)
	}
	for _, q := range payload.Queries {
		if strings.TrimSpace(q) == "" {
			return nil, fmt.Errorf("query generation returned an empty query")
		}
	}
	return payload.Queries, nil
}

// runSearches executes the queries sequentially under the shared rate
// limiter, tolerating per-query failures, and returns URL-deduplicated
// results with unique contiguous citation numbers. Fails only when
// every query fails.
func (s *Service) runSearches(ctx context.Context, queries []string) ([]Result, error) {
	var combined []Result
	seen := map[string]bool{}
	failures := 0

	for _, q := range queries {
		results, err := s.searcher.Search(ctx, q)
		if err != nil {
			slog.Warn("Deep search query failed", "query", q, "error", err)
			failures++
			continue
		}
		for _, r := range results {
			if seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			r.CitationNumber = len(combined) + 1
			combined = append(combined, r)
		}
	}

	if failures == len(queries) {
		return nil, fmt.Errorf("all %d search queries failed", len(queries))
	}
	return combined, nil
}

// fetchAndSummarize fetches full page text and produces a per-result
// summary, fanning out over a bounded worker group. Result order is
// preserved.
func (s *Service) fetchAndSummarize(ctx context.Context, model, query string, results []Result) []FetchedPage {
	pages := make([]FetchedPage, len(results))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deepFetchWorkers)
	for i, r := range results {
		g.Go(func() error {
			content := s.fetcher.FetchFull(gctx, r.URL)
			summary := s.intelligentSummarize(gctx, model, query, r, content)
			mu.Lock()
			pages[i] = FetchedPage{
				Title:          r.Title,
				URL:            r.URL,
				Description:    r.Description,
				Content:        summary,
				CitationNumber: r.CitationNumber,
			}
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return pages
}

// intelligentSummarize condenses one fetched page into a summary
// relevant to the query. Content is truncated to 5000 chars before the
// call; on LLM failure the description stands in.
func (s *Service) intelligentSummarize(ctx context.Context, model, query string, r Result, content string) string {
	if strings.TrimSpace(content) == "" {
		return r.Description
	}
	if len(content) > summarizeCharLimit {
		content = content[:summarizeCharLimit] + "\n" + truncationMarker
	}

	prompt := fmt.Sprintf(
		"Summarize the following page content as it relates to %q. Be factual and concise.\n\n"+
			"Title: %s\nURL: %s\n\n%s",
		query, r.Title, r.URL, content,
	)
	result, err := s.gen.Generate(ctx, model, []llm.Message{{Role: "user", Content: prompt}}, llm.GenerationParams{})
	if err != nil || strings.TrimSpace(result.Text) == "" {
		slog.Warn("Per-result summarization failed", "url", r.URL, "error", err)
		return r.Description
	}
	return strings.TrimSpace(result.Text)
}

// combine merges per-result summaries into one cited answer, falling
// back from the primary model to the cheap model to plain
// concatenation.
func (s *Service) combine(ctx context.Context, model, query string, pages []FetchedPage) string {
	var material strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&material, "[%d] %s\nURL: %s\nSummary: %s\n\n",
			p.CitationNumber, p.Title, p.URL, p.Content)
	}

	prompt := fmt.Sprintf(
		"Combine these research summaries into a comprehensive answer to %q. "+
			"Cite sources inline as [n] and end with a 'Sources:' list of the full URLs.\n\n%s",
		query, material.String(),
	)

	for _, m := range []string{model, CheapModel} {
		result, err := s.gen.Generate(ctx, m, []llm.Message{{Role: "user", Content: prompt}}, llm.GenerationParams{})
		if err == nil && strings.TrimSpace(result.Text) != "" {
			return strings.TrimSpace(result.Text)
		}
		slog.Warn("Combiner model failed", "model", m, "error", err)
	}

	// Safety net: concatenate the individual summaries with their
	// citations.
	var fallback strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&fallback, "[%d] %s\n%s\n\n", p.CitationNumber, p.Title, p.Content)
	}
	fallback.WriteString("Sources:\n")
	for _, p := range pages {
		fmt.Fprintf(&fallback, "[%d] %s\n", p.CitationNumber, p.URL)
	}
	return strings.TrimSpace(fallback.String())
}

// appendMissingCitations adds an "Additional Sources:" appendix for any
// citation the combined text dropped.
func appendMissingCitations(summary string, pages []FetchedPage) string {
	var missing []FetchedPage
	for _, p := range pages {
		if !strings.Contains(summary, fmt.Sprintf("[%d]", p.CitationNumber)) {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return summary
	}

	var b strings.Builder
	b.WriteString(summary)
	b.WriteString("\n\nAdditional Sources:\n")
	for _, p := range missing {
		fmt.Fprintf(&b, "[%d] %s - %s\n", p.CitationNumber, p.Title, p.URL)
	}
	return strings.TrimSpace(b.String())
}

// extractJSONObject returns the first {...} block in s, tolerating
// models that wrap JSON in prose or code fences.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
