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
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Per-message framing overhead for chat-formatted prompts. Every message
// carries role and separator tokens beyond its content, plus a fixed
// priming cost for the assistant reply.
const (
	tokensPerMessage = 4
	tokensPerReply   = 3
)

var (
	cl100kOnce sync.Once
	cl100kEnc  *tiktoken.Tiktoken
	cl100kErr  error
)

func cl100k() (*tiktoken.Tiktoken, error) {
	cl100kOnce.Do(func() {
		cl100kEnc, cl100kErr = tiktoken.GetEncoding("cl100k_base")
	})
	return cl100kEnc, cl100kErr
}

// GeminiCounter counts tokens through the Gemini API. Satisfied by
// *GeminiClient; nil means no Gemini access and the heuristic is used.
type GeminiCounter interface {
	CountTokens(ctx context.Context, model, text string) (int, error)
}

// Counter estimates token usage per provider family.
//
// OpenAI, Anthropic and Cerebras models are counted with the cl100k_base
// encoding; Anthropic and Cerebras tokenizers differ slightly but cl100k
// is close enough for accounting. Gemini models go through the API
// counter when one is available.
type Counter struct {
	gemini GeminiCounter
}

// NewCounter creates a token counter. gemini may be nil.
func NewCounter(gemini GeminiCounter) *Counter {
	return &Counter{gemini: gemini}
}

// CountText estimates the tokens in a single block of text.
func (c *Counter) CountText(ctx context.Context, model, text string) int {
	if strings.HasPrefix(strings.ToLower(model), "gemini-") {
		return c.countGemini(ctx, model, text)
	}
	return countCL100K(text)
}

// CountMessages estimates the prompt cost of a chat-formatted message
// list, including per-message framing overhead.
func (c *Counter) CountMessages(ctx context.Context, model string, messages []Message) int {
	if strings.HasPrefix(strings.ToLower(model), "gemini-") {
		var joined strings.Builder
		for _, m := range messages {
			joined.WriteString(m.Content)
			joined.WriteString("\n")
		}
		return c.countGemini(ctx, model, joined.String())
	}

	total := tokensPerReply
	for _, m := range messages {
		total += tokensPerMessage
		total += countCL100K(m.Role)
		total += countCL100K(m.Content)
	}
	return total
}

func (c *Counter) countGemini(ctx context.Context, model, text string) int {
	if c.gemini != nil {
		n, err := c.gemini.CountTokens(ctx, model, text)
		if err == nil {
			return n
		}
		slog.Warn("Gemini token count failed, using heuristic", "model", model, "error", err)
	}
	return heuristicTokens(text)
}

// countCL100K counts text with the cl100k_base encoding, falling back to
// a whitespace split if the encoding cannot be loaded.
func countCL100K(text string) int {
	enc, err := cl100k()
	if err != nil {
		slog.Warn("cl100k_base encoding unavailable, using word split", "error", err)
		return len(strings.Fields(text))
	}
	return len(enc.Encode(text, nil, nil))
}

// heuristicTokens blends the two common rules of thumb, chars/4 and
// words*1.3, by averaging them.
func heuristicTokens(text string) int {
	byChars := float64(len(text)) / 4.0
	byWords := float64(len(strings.Fields(text))) * 1.3
	return int((byChars + byWords) / 2.0)
}
