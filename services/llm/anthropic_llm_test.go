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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxTokensForModel(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"claude-3-7-sonnet-20250219", 64000},
		{"claude-sonnet-4-20250514", 32000},
		{"claude-opus-4-20250514", 32000},
		{"claude-3-5-haiku-20241022", 4096},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, maxTokensForModel(tc.model), tc.model)
	}
}

func TestMergeSystemIntoFirstUser(t *testing.T) {
	t.Run("system folded into leading user turn", func(t *testing.T) {
		got := mergeSystemIntoFirstUser([]Message{
			{Role: "system", Content: "You are terse."},
			{Role: "user", Content: "Hello"},
		})
		require.Len(t, got, 1)
		assert.Equal(t, "user", got[0].Role)
		assert.Equal(t, "You are terse.\n\nUser: Hello", got[0].Content)
	})

	t.Run("empty user injected when history starts with assistant", func(t *testing.T) {
		got := mergeSystemIntoFirstUser([]Message{
			{Role: "system", Content: "You are terse."},
			{Role: "assistant", Content: "Previously..."},
		})
		require.Len(t, got, 2)
		assert.Equal(t, "user", got[0].Role)
		assert.Equal(t, "You are terse.", got[0].Content)
		assert.Equal(t, "assistant", got[1].Role)
	})

	t.Run("no system message passes through", func(t *testing.T) {
		got := mergeSystemIntoFirstUser([]Message{
			{Role: "user", Content: "Hello"},
			{Role: "assistant", Content: "Hi"},
		})
		require.Len(t, got, 2)
		assert.Equal(t, "Hello", got[0].Content)
	})
}

func newTestAnthropic(t *testing.T, handler http.HandlerFunc) *AnthropicClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewAnthropicClient("test-key")
	require.NoError(t, err)
	client.baseURL = srv.URL
	return client
}

func TestAnthropicGenerateRefusal(t *testing.T) {
	client := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		json.NewEncoder(w).Encode(anthropicResponse{
			Model:      "claude-3-7-sonnet-20250219",
			StopReason: "refusal",
		})
	})

	res, err := client.Generate(context.Background(), "claude-3-7-sonnet-20250219",
		[]Message{{Role: "user", Content: "do something dubious"}}, GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, RefusalNotice, res.Text)
}

func TestAnthropicGenerateCollectsThinking(t *testing.T) {
	client := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Thinking)
		assert.Equal(t, "enabled", req.Thinking.Type)
		assert.Equal(t, 8000, req.Thinking.BudgetTokens)
		// Budget plus answer headroom exceeds the 4096 default tier.
		assert.GreaterOrEqual(t, req.MaxTokens, 8000+2048)

		json.NewEncoder(w).Encode(anthropicResponse{
			Model: req.Model,
			Content: []anthropicContent{
				{Type: "thinking", Thinking: "step by step"},
				{Type: "text", Text: "the answer"},
			},
			StopReason: "end_turn",
		})
	})

	res, err := client.Generate(context.Background(), "claude-3-5-haiku-20241022",
		[]Message{{Role: "user", Content: "hi"}},
		GenerationParams{ExtendedThinking: true, ThinkingBudget: 8000})
	require.NoError(t, err)
	assert.Equal(t, "the answer", res.Text)
	assert.Equal(t, "step by step", res.Thinking)
}

func TestAnthropicGenerateAPIError(t *testing.T) {
	client := newTestAnthropic(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad model"}}`))
	})

	_, err := client.Generate(context.Background(), "claude-nope",
		[]Message{{Role: "user", Content: "hi"}}, GenerationParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestNewAnthropicClientMissingKey(t *testing.T) {
	_, err := NewAnthropicClient("")
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}
