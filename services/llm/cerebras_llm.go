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

	"github.com/sashabaranov/go-openai"
)

const cerebrasBaseURL = "https://api.cerebras.ai/v1"

// CerebrasClient serves the llama and distilled deepseek models through
// the Cerebras inference API, which is OpenAI-compatible.
type CerebrasClient struct {
	client *openai.Client
}

// NewCerebrasClient creates a Cerebras client from an API key.
func NewCerebrasClient(apiKey string) (*CerebrasClient, error) {
	if apiKey == "" {
		return nil, &ConfigError{Provider: "cerebras"}
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = cerebrasBaseURL
	return &CerebrasClient{client: openai.NewClientWithConfig(cfg)}, nil
}

// Generate implements the ProviderClient interface.
func (c *CerebrasClient) Generate(ctx context.Context, model string, messages []Message, params GenerationParams) (*Result, error) {
	slog.Debug("Generating text via Cerebras", "model", model)

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(messages),
	}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("Cerebras API call failed", "model", model, "error", err)
		return nil, fmt.Errorf("cerebras API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("cerebras returned no choices")
	}

	canonical := resp.Model
	if canonical == "" {
		canonical = model
	}
	return &Result{
		Text:  resp.Choices[0].Message.Content,
		Model: canonical,
	}, nil
}
