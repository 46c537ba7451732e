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
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianChat/services/llm"
)

var tracer = otel.Tracer("chat.search")

// Outcome is the result of a search pipeline run.
type Outcome struct {
	Summary string
	Queries []string
}

// Service runs the standard and deep web-research pipelines.
type Service struct {
	searcher Searcher
	fetcher  Fetcher
	gen      Generator
}

// NewService wires the search pipelines. searcher may be nil when no
// search key is configured; pipelines then fail cleanly.
func NewService(searcher Searcher, fetcher Fetcher, gen Generator) *Service {
	return &Service{searcher: searcher, fetcher: fetcher, gen: gen}
}

// Enabled reports whether a search backend is configured.
func (s *Service) Enabled() bool {
	return s.searcher != nil
}

// Standard runs the single-query pipeline: understand, rewrite, one
// search, partial fetches, one cited summarization pass. resultsDir, if
// non-empty, receives result_{n}.json archives.
func (s *Service) Standard(ctx context.Context, model string, history []llm.Message, query, resultsDir string) (*Outcome, error) {
	ctx, span := tracer.Start(ctx, "Search.Standard")
	defer span.End()

	if s.searcher == nil {
		return nil, fmt.Errorf("web search is not configured")
	}

	understanding := understandQuery(ctx, s.gen, CheapModel, history, query)
	searchQuery := rewriteQuery(ctx, s.gen, understanding, query)
	span.SetAttributes(attribute.String("search.query", searchQuery))

	results, err := s.searcher.Search(ctx, searchQuery)
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}
	if len(results) == 0 {
		return &Outcome{Summary: "", Queries: []string{searchQuery}}, nil
	}

	pages := make([]FetchedPage, 0, len(results))
	for _, r := range results {
		pages = append(pages, FetchedPage{
			Title:          r.Title,
			URL:            r.URL,
			Description:    r.Description,
			Content:        s.fetcher.FetchPartial(ctx, r.URL),
			CitationNumber: r.CitationNumber,
		})
	}
	PersistResults(resultsDir, pages)

	var sources strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&sources, "[%d] %s\nURL: %s\nDescription: %s\nContent: %s\n\n",
			p.CitationNumber, p.Title, p.URL, p.Description, p.Content)
	}

	prompt := fmt.Sprintf(
		"Using these web search results, answer the query %q. "+
			"Cite sources inline as [n] and end with a 'Sources:' list of the URLs you used.\n\n%s",
		query, sources.String(),
	)
	result, err := s.gen.Generate(ctx, model, []llm.Message{{Role: "user", Content: prompt}}, llm.GenerationParams{})
	if err != nil {
		return nil, fmt.Errorf("search summarization failed: %w", err)
	}

	slog.Info("Standard web search complete", "query", searchQuery, "results", len(results))
	return &Outcome{
		Summary: strings.TrimSpace(result.Text),
		Queries: []string{searchQuery},
	}, nil
}
