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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicAPIVersion = "2023-06-01"
	anthropicBaseURL    = "https://api.anthropic.com/v1/messages"

	// RefusalNotice is returned verbatim when the model refuses the
	// request (stop_reason "refusal").
	RefusalNotice = "The model declined to respond to this request. Please rephrase and try again."
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Thinking    *thinkingParams    `json:"thinking,omitempty"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type thinkingParams struct {
	Type         string `json:"type"` // Must be "enabled"
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicContent struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Thinking string `json:"thinking,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Error      *anthropicError    `json:"error,omitempty"`
}

// AnthropicClient is the Anthropic messages-API backend.
//
// The client speaks REST directly rather than through an SDK so the
// thinking parameter and stop_reason handling stay under our control.
type AnthropicClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

// NewAnthropicClient creates an Anthropic client from an API key.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, &ConfigError{Provider: "anthropic"}
	}
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		baseURL:    anthropicBaseURL,
	}, nil
}

// maxTokensForModel returns the output budget for a Claude model tier.
func maxTokensForModel(model string) int {
	switch {
	case model == "claude-3-7-sonnet-20250219":
		return 64000
	case strings.HasPrefix(model, "claude-4"),
		strings.HasPrefix(model, "claude-opus-4"),
		strings.HasPrefix(model, "claude-sonnet-4"):
		return 32000
	default:
		return 4096
	}
}

// Generate implements the ProviderClient interface.
//
// The system message is merged into the first user message as
// "{system}\n\nUser: {user}"; when the history does not start with a user
// turn, an empty user message is injected to carry the system content.
func (a *AnthropicClient) Generate(ctx context.Context, model string, messages []Message, params GenerationParams) (*Result, error) {
	apiMessages := mergeSystemIntoFirstUser(messages)

	reqPayload := anthropicRequest{
		Model:     model,
		Messages:  apiMessages,
		MaxTokens: maxTokensForModel(model),
	}
	if params.Temperature != nil {
		reqPayload.Temperature = params.Temperature
	}
	if params.TopP != nil {
		reqPayload.TopP = params.TopP
	}
	if len(params.Stop) > 0 {
		reqPayload.StopSeqs = params.Stop
	}
	if params.ExtendedThinking {
		reqPayload.Thinking = &thinkingParams{
			Type:         "enabled",
			BudgetTokens: params.ThinkingBudget,
		}
		minRequired := params.ThinkingBudget + 2048 // budget + room for the answer
		if reqPayload.MaxTokens < minRequired {
			slog.Info("Adjusting max_tokens to accommodate thinking budget",
				"old", reqPayload.MaxTokens, "new", minRequired)
			reqPayload.MaxTokens = minRequired
		}
	}

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	slog.Debug("Sending REST request to Anthropic", "model", model)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("anthropic API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	if apiResp.StopReason == "refusal" {
		slog.Warn("Anthropic refused the request", "model", model)
		return &Result{Text: RefusalNotice, Model: apiResp.Model}, nil
	}
	if len(apiResp.Content) == 0 {
		return nil, fmt.Errorf("received empty content from Anthropic")
	}

	var finalText, thinking strings.Builder
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			finalText.WriteString(block.Text)
		case "thinking":
			thinking.WriteString(block.Thinking)
		}
	}
	if finalText.Len() == 0 {
		return nil, fmt.Errorf("received content but no text block found")
	}

	canonical := apiResp.Model
	if canonical == "" {
		canonical = model
	}
	return &Result{
		Text:     finalText.String(),
		Model:    canonical,
		Thinking: thinking.String(),
	}, nil
}

// mergeSystemIntoFirstUser folds the system turn into the first user turn.
func mergeSystemIntoFirstUser(messages []Message) []anthropicMessage {
	var system string
	var rest []Message
	for _, m := range messages {
		if strings.ToLower(m.Role) == "system" {
			system = m.Content
			continue
		}
		rest = append(rest, m)
	}

	if system != "" {
		if len(rest) == 0 || strings.ToLower(rest[0].Role) != "user" {
			rest = append([]Message{{Role: "user", Content: ""}}, rest...)
		}
		if rest[0].Content == "" {
			rest[0].Content = system
		} else {
			rest[0].Content = fmt.Sprintf("%s\n\nUser: %s", system, rest[0].Content)
		}
	}

	out := make([]anthropicMessage, 0, len(rest))
	for _, m := range rest {
		out = append(out, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
