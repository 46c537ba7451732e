// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vector provides the embedding and vector-index layer:
// namespace derivation, OpenAI embeddings, and the Pinecone adapter.
//
// Every system message owns a private namespace in the shared index so
// retrieval never crosses system-message boundaries. The namespace is
// derived from the system-message id and an identifier of the backing
// database, which keeps staging and production deployments that share
// one Pinecone index from colliding.
package vector

import (
	"crypto/md5"
	"fmt"
	"net/url"
	"strings"
)

// Namespace derives the Pinecone namespace for a system message:
// "sm_" plus the first 12 hex chars of md5("{id}_{dbID}").
func Namespace(systemMessageID int, dbID string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%d_%s", systemMessageID, dbID)))
	return "sm_" + fmt.Sprintf("%x", sum)[:12]
}

// DatabaseIdentifier reduces a DATABASE_URL to a short stable hash of
// its host and database name: the first 8 hex chars of md5(host+dbname).
func DatabaseIdentifier(databaseURL string) (string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse database URL: %w", err)
	}
	host := u.Hostname()
	dbname := strings.TrimPrefix(u.Path, "/")
	if host == "" || dbname == "" {
		return "", fmt.Errorf("database URL is missing host or database name")
	}
	sum := md5.Sum([]byte(host + dbname))
	return fmt.Sprintf("%x", sum)[:8], nil
}
