// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianChat/services/llm"
	"github.com/AleutianAI/AleutianChat/services/search"
)

// =============================================================================
// Conversation titles
// =============================================================================

const (
	// titleFallback is used when every generation path fails.
	titleFallback = "New Conversation"

	// summarizeThresholdTokens gates the pre-summarization passes: only
	// inputs above this estimate are summarized before asking for the
	// title.
	summarizeThresholdTokens = 1000

	// titleHistoryTurns is how many trailing turns feed the title.
	titleHistoryTurns = 5
)

// GenerateTitle produces a 2-4 word conversation title using the cheap
// model. Very long system messages and histories are summarized first,
// each pass gated by a token estimate so short inputs go straight
// through.
func GenerateTitle(ctx context.Context, gen search.Generator, counter *llm.Counter, systemMessage string, history []llm.Message) string {
	persona := systemMessage
	if counter.CountText(ctx, search.CheapModel, persona) > summarizeThresholdTokens {
		persona = summarize(ctx, gen, "Summarize this assistant persona in two sentences:\n\n"+persona, persona)
	}

	turns := history
	if len(turns) > titleHistoryTurns {
		turns = turns[len(turns)-titleHistoryTurns:]
	}
	var b strings.Builder
	for _, m := range turns {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	convo := b.String()
	if counter.CountText(ctx, search.CheapModel, convo) > summarizeThresholdTokens {
		convo = summarize(ctx, gen, "Summarize this conversation in two sentences:\n\n"+convo, convo)
	}

	prompt := fmt.Sprintf(
		"Persona: %s\n\nConversation:\n%s\n"+
			"Generate a short title (2-4 words) for this conversation. "+
			"Respond with the title only, no quotes or punctuation.",
		persona, convo)

	result, err := gen.Generate(ctx, search.CheapModel,
		[]llm.Message{{Role: "user", Content: prompt}}, llm.GenerationParams{})
	if err != nil || result == nil || strings.TrimSpace(result.Text) == "" {
		slog.Warn("Title generation failed, using fallback", "error", err)
		return titleFallback
	}
	title := strings.Trim(strings.TrimSpace(result.Text), `"'`)
	if len(strings.Fields(title)) > 6 {
		title = strings.Join(strings.Fields(title)[:4], " ")
	}
	return title
}

// summarize runs one summarization pass, returning the original text
// when the call fails.
func summarize(ctx context.Context, gen search.Generator, prompt, fallback string) string {
	result, err := gen.Generate(ctx, search.CheapModel,
		[]llm.Message{{Role: "user", Content: prompt}}, llm.GenerationParams{})
	if err != nil || result == nil || strings.TrimSpace(result.Text) == "" {
		return fallback
	}
	return result.Text
}
