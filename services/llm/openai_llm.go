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

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient is the OpenAI chat-completions backend.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates an OpenAI client from an API key.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, &ConfigError{Provider: "openai"}
	}
	return &OpenAIClient{client: openai.NewClient(apiKey)}, nil
}

// Generate implements the ProviderClient interface.
//
// The o3-mini reasoning model takes max_completion_tokens instead of
// max_tokens and accepts a reasoning_effort level; standard gpt- models
// take temperature and max_tokens.
func (o *OpenAIClient) Generate(ctx context.Context, model string, messages []Message, params GenerationParams) (*Result, error) {
	slog.Debug("Generating text via OpenAI", "model", model)

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(messages),
	}

	if strings.EqualFold(model, "o3-mini") {
		if params.MaxTokens != nil {
			req.MaxCompletionTokens = *params.MaxTokens
		}
		if params.ReasoningEffort != "" {
			req.ReasoningEffort = params.ReasoningEffort
		}
	} else {
		if params.Temperature != nil {
			req.Temperature = *params.Temperature
		}
		if params.MaxTokens != nil {
			req.MaxTokens = *params.MaxTokens
		}
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", "model", model, "error", err)
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("OpenAI returned no choices", "model", model)
		return nil, fmt.Errorf("OpenAI returned no choices")
	}

	slog.Debug("Received response from OpenAI",
		"model", resp.Model,
		"finish_reason", resp.Choices[0].FinishReason,
	)
	return &Result{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
	}, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return out
}
