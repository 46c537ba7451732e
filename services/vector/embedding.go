// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

// EmbeddingTokenLimit is the input cap of the embedding model (cl100k
// tokens). Queries over this limit must be rewritten or truncated before
// embedding.
const EmbeddingTokenLimit = 8190

// EmbeddingDimension is the output width of the embedding model.
const EmbeddingDimension = 1536

// Embedder turns text into dense vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIEmbedder embeds text with the OpenAI ada-002 embedding model.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder over an existing OpenAI client.
func NewOpenAIEmbedder(client *openai.Client) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		client: client,
		model:  openai.AdaEmbeddingV2,
	}
}

// Embed implements the Embedder interface. Input order is preserved.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		slog.Error("Embedding request failed", "inputs", len(texts), "error", err)
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding response index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
