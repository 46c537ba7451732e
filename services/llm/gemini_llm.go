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
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// GeminiClient is the Google Gemini backend.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a Gemini client from an API key.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, &ConfigError{Provider: "gemini"}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// Generate implements the ProviderClient interface.
//
// Gemini receives the entire conversation, system message included,
// concatenated into a single user turn. Role alternation is not
// reconstructed.
func (g *GeminiClient) Generate(ctx context.Context, model string, messages []Message, params GenerationParams) (*Result, error) {
	slog.Debug("Generating text via Gemini", "model", model)

	var prompt strings.Builder
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		if prompt.Len() > 0 {
			prompt.WriteString("\n\n")
		}
		prompt.WriteString(m.Content)
	}

	config := &genai.GenerateContentConfig{}
	if params.Temperature != nil {
		config.Temperature = params.Temperature
	}
	if params.TopP != nil {
		config.TopP = params.TopP
	}
	if params.MaxTokens != nil {
		config.MaxOutputTokens = int32(*params.MaxTokens)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt.String(), genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		slog.Error("Gemini API call failed", "model", model, "error", err)
		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("received empty response from Gemini")
	}
	return &Result{Text: text, Model: model}, nil
}

// CountTokens asks the Gemini API for the token count of the given text.
// Used by EstimateTokens when a Gemini model is selected.
func (g *GeminiClient) CountTokens(ctx context.Context, model, text string) (int, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}
	resp, err := g.client.Models.CountTokens(ctx, model, contents, nil)
	if err != nil {
		return 0, fmt.Errorf("gemini CountTokens failed: %w", err)
	}
	return int(resp.TotalTokens), nil
}
