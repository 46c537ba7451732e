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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var routerTracer = otel.Tracer("chat.llm.router")

// Retry policy for provider calls. Each provider call gets up to
// maxAttempts tries with exponential backoff starting at initialBackoff.
// There is no cross-provider fallback: if OpenAI is down, the turn fails.
const (
	maxAttempts    = 3
	initialBackoff = 1 * time.Second
	backoffFactor  = 2
)

// Clients is the injected bag of provider clients. A nil field means the
// corresponding provider is not configured; routing to it yields a
// ConfigError.
type Clients struct {
	OpenAI    ProviderClient
	Anthropic ProviderClient
	Gemini    ProviderClient
	Cerebras  ProviderClient
}

// Router dispatches generation requests by model-name prefix.
//
// # Routing Table
//
//	gpt-*, o3-mini                      -> OpenAI
//	claude-*                            -> Anthropic
//	gemini-*                            -> Gemini
//	llama3*, llama-3.3-70b,
//	deepSeek-r1-distill-llama-70B       -> Cerebras
//
// # Thread Safety
//
// Router is immutable after construction and safe for concurrent use.
type Router struct {
	clients Clients
}

// NewRouter creates a Router over the given provider clients.
func NewRouter(clients Clients) *Router {
	return &Router{clients: clients}
}

// Generate routes a generation request to the provider owning the model
// name, retrying transient failures with exponential backoff.
//
// Returns the provider Result, or an error when routing fails, the
// provider is unconfigured, or all attempts are exhausted.
func (r *Router) Generate(ctx context.Context, model string, messages []Message, params GenerationParams) (*Result, error) {
	ctx, span := routerTracer.Start(ctx, "Router.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.messages", len(messages)),
	)

	client, provider, err := r.resolve(model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "routing failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("llm.provider", provider))

	var lastErr error
	backoff := initialBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			slog.Info("Retrying LLM call",
				"provider", provider,
				"model", model,
				"attempt", attempt,
				"backoff", backoff,
				"lastError", lastErr,
			)
			select {
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, "context canceled during retry")
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= backoffFactor
		}

		result, err := client.Generate(ctx, model, messages, params)
		if err == nil && result != nil {
			span.SetAttributes(attribute.Int("llm.attempts", attempt))
			return result, nil
		}
		if err == nil {
			err = fmt.Errorf("provider %s returned nil result", provider)
		}
		if IsConfigError(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "provider not configured")
			return nil, err
		}
		lastErr = err
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "all attempts exhausted")
	return nil, fmt.Errorf("LLM call failed after %d attempts: %w", maxAttempts, lastErr)
}

// resolve maps a model name to its provider client.
func (r *Router) resolve(model string) (ProviderClient, string, error) {
	lower := strings.ToLower(model)

	switch {
	case strings.HasPrefix(lower, "gpt-"), lower == "o3-mini":
		if r.clients.OpenAI == nil {
			return nil, "openai", &ConfigError{Provider: "openai"}
		}
		return r.clients.OpenAI, "openai", nil

	case strings.HasPrefix(lower, "claude-"):
		if r.clients.Anthropic == nil {
			return nil, "anthropic", &ConfigError{Provider: "anthropic"}
		}
		return r.clients.Anthropic, "anthropic", nil

	case strings.HasPrefix(lower, "gemini-"):
		if r.clients.Gemini == nil {
			return nil, "gemini", &ConfigError{Provider: "gemini"}
		}
		return r.clients.Gemini, "gemini", nil

	case strings.HasPrefix(lower, "llama3"),
		lower == "llama-3.3-70b",
		lower == strings.ToLower("deepSeek-r1-distill-llama-70B"):
		if r.clients.Cerebras == nil {
			return nil, "cerebras", &ConfigError{Provider: "cerebras"}
		}
		return r.clients.Cerebras, "cerebras", nil
	}

	return nil, "", fmt.Errorf("no provider registered for model %q", model)
}
