// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides provider clients and model-name routing for chat
// generation.
//
// The package exposes a Router that dispatches a generation request to one
// of the configured providers (OpenAI, Anthropic, Gemini, Cerebras) based
// on the model-name prefix. Provider clients implement the ProviderClient
// interface; the Router adds retry with exponential backoff on top. Token
// counting helpers live in tokens.go.
package llm

import (
	"context"
	"fmt"
)

// Message is a single conversation turn in provider-neutral form.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content"`
}

// GenerationParams carries optional per-request generation settings.
//
// Pointer fields are omitted from the provider payload when nil, letting
// each provider apply its own defaults.
type GenerationParams struct {
	Temperature      *float32 `json:"temperature,omitempty"`
	MaxTokens        *int     `json:"max_tokens,omitempty"`
	TopP             *float32 `json:"top_p,omitempty"`
	Stop             []string `json:"stop,omitempty"`
	ReasoningEffort  string   `json:"reasoning_effort,omitempty"`
	ExtendedThinking bool     `json:"extended_thinking,omitempty"`
	ThinkingBudget   int      `json:"thinking_budget,omitempty"`
}

// Result is the outcome of one generation call.
//
// Model is the canonical model name reported by the provider, which may
// differ from the requested alias. Thinking carries the intermediate
// reasoning trace for models that expose one; empty otherwise.
type Result struct {
	Text     string
	Model    string
	Thinking string
}

// ProviderClient is the contract each LLM backend implements.
//
// Implementations must be safe for concurrent use. A nil Result with a nil
// error is a contract violation; the Router treats it as a provider
// failure.
type ProviderClient interface {
	Generate(ctx context.Context, model string, messages []Message, params GenerationParams) (*Result, error)
}

// ConfigError indicates a provider was selected whose credentials are not
// configured. Surfaced unchanged so handlers can distinguish it from a
// transient provider failure.
type ConfigError struct {
	Provider string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %s is not configured (missing API key)", e.Provider)
}

// IsConfigError checks whether err is a *ConfigError.
func IsConfigError(err error) bool {
	_, ok := err.(*ConfigError)
	return ok
}
