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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider scripts per-call outcomes and records how often it was hit.
type fakeProvider struct {
	name    string
	calls   int
	results []func() (*Result, error)
}

func (f *fakeProvider) Generate(ctx context.Context, model string, messages []Message, params GenerationParams) (*Result, error) {
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx]()
}

func okProvider(name string) *fakeProvider {
	return &fakeProvider{
		name: name,
		results: []func() (*Result, error){
			func() (*Result, error) { return &Result{Text: "from " + name, Model: name}, nil },
		},
	}
}

func TestRouterPrefixRouting(t *testing.T) {
	openAI := okProvider("openai")
	anthropic := okProvider("anthropic")
	gemini := okProvider("gemini")
	cerebras := okProvider("cerebras")

	router := NewRouter(Clients{
		OpenAI:    openAI,
		Anthropic: anthropic,
		Gemini:    gemini,
		Cerebras:  cerebras,
	})

	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o", "openai"},
		{"gpt-4o-mini-2024-07-18", "openai"},
		{"o3-mini", "openai"},
		{"claude-3-7-sonnet-20250219", "anthropic"},
		{"gemini-2.0-flash", "gemini"},
		{"llama3.1-8b", "cerebras"},
		{"llama-3.3-70b", "cerebras"},
		{"deepSeek-r1-distill-llama-70B", "cerebras"},
	}
	for _, tc := range tests {
		t.Run(tc.model, func(t *testing.T) {
			res, err := router.Generate(context.Background(), tc.model, []Message{{Role: "user", Content: "hi"}}, GenerationParams{})
			require.NoError(t, err)
			assert.Equal(t, "from "+tc.want, res.Text)
		})
	}
}

func TestRouterUnknownModel(t *testing.T) {
	router := NewRouter(Clients{OpenAI: okProvider("openai")})

	_, err := router.Generate(context.Background(), "mistral-large", nil, GenerationParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no provider registered")
}

func TestRouterUnconfiguredProvider(t *testing.T) {
	router := NewRouter(Clients{OpenAI: okProvider("openai")})

	_, err := router.Generate(context.Background(), "claude-3-5-haiku", nil, GenerationParams{})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestRouterRetriesTransientFailure(t *testing.T) {
	provider := &fakeProvider{
		results: []func() (*Result, error){
			func() (*Result, error) { return nil, errors.New("connection reset") },
			func() (*Result, error) { return nil, errors.New("connection reset") },
			func() (*Result, error) { return &Result{Text: "third time lucky", Model: "gpt-4o"}, nil },
		},
	}
	router := NewRouter(Clients{OpenAI: provider})

	res, err := router.Generate(context.Background(), "gpt-4o", nil, GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", res.Text)
	assert.Equal(t, 3, provider.calls)
}

func TestRouterExhaustsAttempts(t *testing.T) {
	provider := &fakeProvider{
		results: []func() (*Result, error){
			func() (*Result, error) { return nil, errors.New("persistent failure") },
		},
	}
	router := NewRouter(Clients{OpenAI: provider})

	_, err := router.Generate(context.Background(), "gpt-4o", nil, GenerationParams{})
	require.Error(t, err)
	assert.Equal(t, maxAttempts, provider.calls)
	assert.Contains(t, err.Error(), fmt.Sprintf("after %d attempts", maxAttempts))
}

func TestRouterConfigErrorNotRetried(t *testing.T) {
	provider := &fakeProvider{
		results: []func() (*Result, error){
			func() (*Result, error) { return nil, &ConfigError{Provider: "openai"} },
		},
	}
	router := NewRouter(Clients{OpenAI: provider})

	_, err := router.Generate(context.Background(), "gpt-4o", nil, GenerationParams{})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Equal(t, 1, provider.calls)
}

func TestRouterNilResultTreatedAsFailure(t *testing.T) {
	provider := &fakeProvider{
		results: []func() (*Result, error){
			func() (*Result, error) { return nil, nil },
			func() (*Result, error) { return &Result{Text: "recovered"}, nil },
		},
	}
	router := NewRouter(Clients{OpenAI: provider})

	res, err := router.Generate(context.Background(), "gpt-4o", nil, GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Text)
	assert.Equal(t, 2, provider.calls)
}
