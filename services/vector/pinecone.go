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

	"github.com/pinecone-io/go-pinecone/v3/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// Record is one vector plus its metadata, in SDK-neutral form.
type Record struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// Match is one query hit.
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Index is the vector-index seam the ingest layer depends on. All
// operations are scoped to a namespace.
type Index interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
	Query(ctx context.Context, namespace string, values []float32, topK int, includeMetadata bool) ([]Match, error)
	DeleteByID(ctx context.Context, namespace string, ids []string) error
}

// PineconeIndex adapts the Pinecone serverless SDK to the Index
// interface. Index connections are created per namespace on demand; the
// SDK connection object is cheap and carries the namespace binding.
type PineconeIndex struct {
	client *pinecone.Client
	host   string
}

var _ Index = (*PineconeIndex)(nil)

// NewPineconeIndex connects to a Pinecone index by name and resolves its
// host. Returns an error when the key is missing or the index does not
// exist.
func NewPineconeIndex(ctx context.Context, apiKey, indexName string) (*PineconeIndex, error) {
	if apiKey == "" || indexName == "" {
		return nil, fmt.Errorf("pinecone API key and index name are required")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create pinecone client: %w", err)
	}

	idx, err := client.DescribeIndex(ctx, indexName)
	if err != nil {
		return nil, fmt.Errorf("failed to describe pinecone index %s: %w", indexName, err)
	}
	slog.Info("Connected to Pinecone index", "index", indexName, "host", idx.Host)

	return &PineconeIndex{client: client, host: idx.Host}, nil
}

func (p *PineconeIndex) conn(namespace string) (*pinecone.IndexConnection, error) {
	conn, err := p.client.Index(pinecone.NewIndexConnParams{
		Host:      p.host,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open index connection for namespace %s: %w", namespace, err)
	}
	return conn, nil
}

// Upsert implements the Index interface.
func (p *PineconeIndex) Upsert(ctx context.Context, namespace string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	conn, err := p.conn(namespace)
	if err != nil {
		return err
	}
	defer conn.Close()

	vectors := make([]*pinecone.Vector, 0, len(records))
	for _, r := range records {
		meta, err := structpb.NewStruct(r.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for vector %s: %w", r.ID, err)
		}
		values := r.Values
		vectors = append(vectors, &pinecone.Vector{
			Id:       r.ID,
			Values:   &values,
			Metadata: meta,
		})
	}

	count, err := conn.UpsertVectors(ctx, vectors)
	if err != nil {
		return fmt.Errorf("pinecone upsert failed: %w", err)
	}
	slog.Debug("Upserted vectors", "namespace", namespace, "count", count)
	return nil
}

// Query implements the Index interface.
func (p *PineconeIndex) Query(ctx context.Context, namespace string, values []float32, topK int, includeMetadata bool) ([]Match, error) {
	conn, err := p.conn(namespace)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          values,
		TopK:            uint32(topK),
		IncludeMetadata: includeMetadata,
	})
	if err != nil {
		return nil, fmt.Errorf("pinecone query failed: %w", err)
	}

	matches := make([]Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m == nil || m.Vector == nil {
			continue
		}
		match := Match{ID: m.Vector.Id, Score: m.Score}
		if m.Vector.Metadata != nil {
			match.Metadata = m.Vector.Metadata.AsMap()
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// DeleteByID implements the Index interface.
func (p *PineconeIndex) DeleteByID(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	conn, err := p.conn(namespace)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.DeleteVectorsById(ctx, ids); err != nil {
		return fmt.Errorf("pinecone delete failed: %w", err)
	}
	slog.Debug("Deleted vectors", "namespace", namespace, "count", len(ids))
	return nil
}

// ZeroVector returns an all-zero query vector of the index dimension,
// used to enumerate a namespace when deleting a document's chunks.
func ZeroVector() []float32 {
	return make([]float32, EmbeddingDimension)
}
