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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/AleutianChat/services/llm"
)

// titleGen scripts the cheap-model responses in call order.
type titleGen struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (g *titleGen) Generate(_ context.Context, _ string, messages []llm.Message, _ llm.GenerationParams) (*llm.Result, error) {
	g.prompts = append(g.prompts, messages[0].Content)
	if g.err != nil {
		return nil, g.err
	}
	i := g.calls
	g.calls++
	if i >= len(g.responses) {
		i = len(g.responses) - 1
	}
	return &llm.Result{Text: g.responses[i]}, nil
}

func TestGenerateTitleShortInputsSingleCall(t *testing.T) {
	gen := &titleGen{responses: []string{"Weather Question"}}
	history := []llm.Message{
		{Role: "user", Content: "what's the weather"},
		{Role: "assistant", Content: "Sunny."},
	}

	title := GenerateTitle(context.Background(), gen, llm.NewCounter(nil), "You are helpful.", history)
	assert.Equal(t, "Weather Question", title)
	assert.Equal(t, 1, gen.calls, "short inputs skip the summarization passes")
}

func TestGenerateTitleSummarizesLongHistory(t *testing.T) {
	gen := &titleGen{responses: []string{"a condensed conversation", "Long Chat"}}
	long := strings.Repeat("many words here ", 2000)
	history := []llm.Message{{Role: "user", Content: long}}

	title := GenerateTitle(context.Background(), gen, llm.NewCounter(nil), "You are helpful.", history)
	assert.Equal(t, "Long Chat", title)
	assert.Equal(t, 2, gen.calls)
	assert.Contains(t, gen.prompts[0], "Summarize this conversation")
}

func TestGenerateTitleUsesLastFiveTurns(t *testing.T) {
	gen := &titleGen{responses: []string{"Recent Topic"}}
	var history []llm.Message
	for i := 0; i < 10; i++ {
		history = append(history, llm.Message{Role: "user", Content: fmt.Sprintf("turn-%d", i)})
	}

	GenerateTitle(context.Background(), gen, llm.NewCounter(nil), "persona", history)
	prompt := gen.prompts[len(gen.prompts)-1]
	assert.Contains(t, prompt, "turn-9")
	assert.NotContains(t, prompt, "turn-4")
}

func TestGenerateTitleFallbackOnError(t *testing.T) {
	gen := &titleGen{err: fmt.Errorf("provider down")}
	title := GenerateTitle(context.Background(), gen, llm.NewCounter(nil), "persona", nil)
	assert.Equal(t, titleFallback, title)
}

func TestGenerateTitleTrimsQuotes(t *testing.T) {
	gen := &titleGen{responses: []string{`"Quoted Title"`}}
	title := GenerateTitle(context.Background(), gen, llm.NewCounter(nil), "persona", nil)
	assert.Equal(t, "Quoted Title", title)
}
