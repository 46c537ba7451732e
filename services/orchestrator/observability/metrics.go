// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the orchestrator.
//
// Metrics are exposed via the /metrics endpoint. All operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "aleutian"
	chatSubsystem    = "chat"
)

// ChatMetrics holds all Prometheus metrics for chat turns.
//
// Initialize once at startup via InitMetrics().
type ChatMetrics struct {
	// RequestsTotal counts chat turns by model and status.
	// Labels: model, status (success, error)
	RequestsTotal *prometheus.CounterVec

	// TokensTotal counts tokens by direction and model.
	// Labels: direction (prompt, completion), model
	TokensTotal *prometheus.CounterVec

	// TurnDurationSeconds measures wall time per chat turn.
	// Labels: model
	TurnDurationSeconds *prometheus.HistogramVec

	// SearchesTotal counts web searches by mode and status.
	// Labels: mode (standard, deep), status (success, error)
	SearchesTotal *prometheus.CounterVec

	// ActiveWebsockets tracks live status-session connections.
	ActiveWebsockets prometheus.Gauge

	// ErrorsTotal counts failures by stage.
	// Labels: stage (conversation, llm, persist, ...)
	ErrorsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics.
var DefaultMetrics *ChatMetrics

// InitMetrics creates and registers all chat metrics. Call once at
// startup.
func InitMetrics() *ChatMetrics {
	if DefaultMetrics != nil {
		return DefaultMetrics
	}
	DefaultMetrics = &ChatMetrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "requests_total",
			Help:      "Chat turns by model and status.",
		}, []string{"model", "status"}),
		TokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "tokens_total",
			Help:      "Tokens processed by direction and model.",
		}, []string{"direction", "model"}),
		TurnDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "turn_duration_seconds",
			Help:      "Wall time per chat turn.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"model"}),
		SearchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "web_searches_total",
			Help:      "Web searches by mode and status.",
		}, []string{"mode", "status"}),
		ActiveWebsockets: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "active_websockets",
			Help:      "Live status-session websocket connections.",
		}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: chatSubsystem,
			Name:      "errors_total",
			Help:      "Failures by pipeline stage.",
		}, []string{"stage"}),
	}
	return DefaultMetrics
}

// RecordTurn is a nil-safe helper for the chat handler.
func (m *ChatMetrics) RecordTurn(model, status string, seconds float64, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(model, status).Inc()
	m.TurnDurationSeconds.WithLabelValues(model).Observe(seconds)
	m.TokensTotal.WithLabelValues("prompt", model).Add(float64(promptTokens))
	m.TokensTotal.WithLabelValues("completion", model).Add(float64(completionTokens))
}

// RecordSearch counts one web search by mode (standard, deep) and
// status (success, error). Nil-safe.
func (m *ChatMetrics) RecordSearch(mode, status string) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(mode, status).Inc()
}

// RecordStageError counts a pipeline stage failure. Nil-safe.
func (m *ChatMetrics) RecordStageError(stage string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(stage).Inc()
}

// SetActiveWebsockets is a nil-safe gauge setter, wired to the status
// manager's OnCountChange observer.
func (m *ChatMetrics) SetActiveWebsockets(n int) {
	if m == nil {
		return
	}
	m.ActiveWebsockets.Set(float64(n))
}
