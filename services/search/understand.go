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

	"github.com/AleutianAI/AleutianChat/services/llm"
)

// CheapModel handles auxiliary calls: query rewrites, understanding,
// and summarization fallbacks.
const CheapModel = "gpt-4o-mini-2024-07-18"

// historyPreviewChars caps how much of each prior turn is shown to the
// query-understanding call.
const (
	historyPreviewChars = 200
	historyPreviewTurns = 6
)

// Generator is the slice of the LLM router the search pipelines use.
type Generator interface {
	Generate(ctx context.Context, model string, messages []llm.Message, params llm.GenerationParams) (*llm.Result, error)
}

// understandQuery asks the model for a concise interpretation of what
// information the user is seeking, given truncated previews of the
// recent conversation. Falls back to the raw query on any failure.
func understandQuery(ctx context.Context, gen Generator, model string, history []llm.Message, query string) string {
	var convo strings.Builder
	start := 0
	if len(history) > historyPreviewTurns {
		start = len(history) - historyPreviewTurns
	}
	for _, m := range history[start:] {
		if m.Role == "system" {
			continue
		}
		preview := m.Content
		if len(preview) > historyPreviewChars {
			preview = preview[:historyPreviewChars] + "..."
		}
		convo.WriteString(fmt.Sprintf("%s: %s\n", m.Role, preview))
	}

	prompt := fmt.Sprintf(
		"Given this conversation:\n%s\nAnd this new user query: %q\n\n"+
			"Provide a concise interpretation of what information the user is seeking. "+
			"Respond with the interpretation only.",
		convo.String(), query,
	)

	result, err := gen.Generate(ctx, model, []llm.Message{{Role: "user", Content: prompt}}, llm.GenerationParams{})
	if err != nil || result == nil || strings.TrimSpace(result.Text) == "" {
		slog.Warn("Query understanding failed, using raw query", "error", err)
		return query
	}
	return strings.TrimSpace(result.Text)
}

// rewriteQuery asks the cheap model to turn the understanding into one
// concise web-search query. Falls back to the original query.
func rewriteQuery(ctx context.Context, gen Generator, understanding, original string) string {
	prompt := fmt.Sprintf(
		"Rewrite the following information need as one concise web search query. "+
			"Respond with the query only, no quotes:\n\n%s",
		understanding,
	)
	result, err := gen.Generate(ctx, CheapModel, []llm.Message{{Role: "user", Content: prompt}}, llm.GenerationParams{})
	if err != nil || result == nil {
		slog.Warn("Query rewrite failed, using original", "error", err)
		return original
	}
	rewritten := strings.Trim(strings.TrimSpace(result.Text), `"`)
	if rewritten == "" {
		return original
	}
	return rewritten
}
