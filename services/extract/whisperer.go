// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Polling parameters for the asynchronous whisper flow. The service
// processes documents out of band; total wait is capped at maxWait.
const (
	pollInterval = 3 * time.Second
	maxWait      = 180 * time.Second
)

// WhispererClient is the LLMWhisperer v2 HTTP client.
//
// Flow: POST the document to /whisper, poll /whisper-status until the
// job reports "processed", then GET /whisper-retrieve for the text.
type WhispererClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

var _ Extractor = (*WhispererClient)(nil)

// NewWhispererClient creates a client for the LLMWhisperer API.
// Returns nil when apiKey is empty so callers can treat the extractor
// as an optional feature.
func NewWhispererClient(apiKey, baseURL string) *WhispererClient {
	if apiKey == "" {
		return nil
	}
	if baseURL == "" {
		baseURL = "https://llmwhisperer-api.us-central.unstract.com/api/v2"
	}
	return &WhispererClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiKey:     apiKey,
		baseURL:    baseURL,
	}
}

type whisperSubmitResponse struct {
	WhisperHash string `json:"whisper_hash"`
	Message     string `json:"message"`
}

type whisperStatusResponse struct {
	Status string `json:"status"`
}

type whisperRetrieveResponse struct {
	ResultText string `json:"result_text"`
}

// ExtractText implements the Extractor interface.
func (w *WhispererClient) ExtractText(ctx context.Context, filePath string) (string, error) {
	hash, err := w.submit(ctx, filePath)
	if err != nil {
		return "", err
	}
	slog.Info("Submitted document for extraction", "file", filePath, "whisper_hash", hash)

	if err := w.waitProcessed(ctx, hash); err != nil {
		return "", err
	}
	return w.retrieve(ctx, hash)
}

// submit uploads the raw document and returns the job hash.
func (w *WhispererClient) submit(ctx context.Context, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file for extraction: %w", err)
	}
	defer f.Close()

	endpoint := fmt.Sprintf("%s/whisper?mode=form&output_mode=layout_preserving", w.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, f)
	if err != nil {
		return "", fmt.Errorf("failed to create whisper request: %w", err)
	}
	req.Header.Set("unstract-key", w.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper submit failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("whisper submit returned status %d: %s", resp.StatusCode, string(body))
	}

	var submitResp whisperSubmitResponse
	if err := json.Unmarshal(body, &submitResp); err != nil {
		return "", fmt.Errorf("failed to parse whisper response: %w", err)
	}
	if submitResp.WhisperHash == "" {
		return "", fmt.Errorf("whisper submit returned no job hash: %s", string(body))
	}
	return submitResp.WhisperHash, nil
}

// waitProcessed polls the job status until processed, error, or the
// 180-second cap.
func (w *WhispererClient) waitProcessed(ctx context.Context, hash string) error {
	deadline := time.Now().Add(maxWait)
	for {
		status, err := w.status(ctx, hash)
		if err != nil {
			return err
		}
		switch status {
		case "processed":
			return nil
		case "error", "failed":
			return fmt.Errorf("extraction job %s failed", hash)
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("extraction job %s timed out after %s", hash, maxWait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (w *WhispererClient) status(ctx context.Context, hash string) (string, error) {
	endpoint := fmt.Sprintf("%s/whisper-status?whisper_hash=%s", w.baseURL, url.QueryEscape(hash))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("unstract-key", w.apiKey)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper status check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper status returned %d: %s", resp.StatusCode, string(body))
	}

	var statusResp whisperStatusResponse
	if err := json.Unmarshal(body, &statusResp); err != nil {
		return "", fmt.Errorf("failed to parse status response: %w", err)
	}
	return statusResp.Status, nil
}

func (w *WhispererClient) retrieve(ctx context.Context, hash string) (string, error) {
	endpoint := fmt.Sprintf("%s/whisper-retrieve?whisper_hash=%s&text_only=false", w.baseURL, url.QueryEscape(hash))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create retrieve request: %w", err)
	}
	req.Header.Set("unstract-key", w.apiKey)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper retrieve failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper retrieve returned %d: %s", resp.StatusCode, string(body))
	}

	var retrieveResp whisperRetrieveResponse
	if err := json.Unmarshal(body, &retrieveResp); err == nil && retrieveResp.ResultText != "" {
		return retrieveResp.ResultText, nil
	}
	// The retrieve endpoint returns raw text when text_only is set or
	// for older deployments.
	return string(body), nil
}
