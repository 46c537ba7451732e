// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGeminiCounter struct {
	n   int
	err error
}

func (f *fakeGeminiCounter) CountTokens(ctx context.Context, model, text string) (int, error) {
	return f.n, f.err
}

func TestCountTextCL100K(t *testing.T) {
	counter := NewCounter(nil)

	n := counter.CountText(context.Background(), "gpt-4o", "Hello, world!")
	assert.Greater(t, n, 0)
	assert.Less(t, n, 10)

	assert.Equal(t, 0, counter.CountText(context.Background(), "gpt-4o", ""))
}

func TestCountMessagesIncludesOverhead(t *testing.T) {
	counter := NewCounter(nil)
	ctx := context.Background()

	messages := []Message{
		{Role: "system", Content: "You are helpful."},
		{Role: "user", Content: "Hello there."},
	}
	sum := counter.CountText(ctx, "gpt-4o", messages[0].Content) +
		counter.CountText(ctx, "gpt-4o", messages[1].Content)

	total := counter.CountMessages(ctx, "gpt-4o", messages)
	assert.Greater(t, total, sum, "framing overhead should be added on top of content")
}

// Conversation total accounting: the turn total equals the prompt count
// plus the reply counted as a single assistant message.
func TestTurnTotalIsPromptPlusReply(t *testing.T) {
	counter := NewCounter(nil)
	ctx := context.Background()

	prompt := []Message{
		{Role: "system", Content: "You are helpful."},
		{Role: "user", Content: "What is the capital of France?"},
	}
	reply := []Message{{Role: "assistant", Content: "The capital of France is Paris."}}

	promptTokens := counter.CountMessages(ctx, "gpt-4o", prompt)
	completionTokens := counter.CountMessages(ctx, "gpt-4o", reply)
	total := promptTokens + completionTokens

	require.Greater(t, promptTokens, 0)
	require.Greater(t, completionTokens, 0)
	assert.Equal(t, total, counter.CountMessages(ctx, "gpt-4o", prompt)+counter.CountMessages(ctx, "gpt-4o", reply))
}

func TestCountTextGeminiUsesAPICounter(t *testing.T) {
	counter := NewCounter(&fakeGeminiCounter{n: 42})

	n := counter.CountText(context.Background(), "gemini-2.0-flash", "whatever text")
	assert.Equal(t, 42, n)
}

func TestCountTextGeminiFallsBackToHeuristic(t *testing.T) {
	counter := NewCounter(&fakeGeminiCounter{err: errors.New("quota exceeded")})

	text := "The quick brown fox jumps over the lazy dog."
	n := counter.CountText(context.Background(), "gemini-2.0-flash", text)
	assert.Equal(t, heuristicTokens(text), n)
	assert.Greater(t, n, 0)
}

func TestCountTextGeminiNoCounterConfigured(t *testing.T) {
	counter := NewCounter(nil)

	text := "Some text for the heuristic."
	assert.Equal(t, heuristicTokens(text), counter.CountText(context.Background(), "gemini-2.0-flash", text))
}

func TestHeuristicTokens(t *testing.T) {
	assert.Equal(t, 0, heuristicTokens(""))

	// 40 chars, 8 words: (10 + 10.4) / 2 = 10
	text := "aaaa bbbb cccc dddd eeee ffff gggg hhhh "
	assert.Equal(t, 10, heuristicTokens(text))
}
