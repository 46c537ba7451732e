// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ttl runs the background cleanup loop: expired status sessions
// and stale session attachments.
package ttl

import (
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Cleanup scheduler
// =============================================================================

// SessionSweeper drops expired status sessions. Satisfied by
// *status.Manager.
type SessionSweeper interface {
	Sweep() int
}

// AttachmentSweeper removes attachments older than the cutoff.
// Satisfied by *attachments.Handler.
type AttachmentSweeper interface {
	SweepOlderThan(cutoff time.Time) int
}

// SchedulerConfig holds settings for the cleanup loop.
type SchedulerConfig struct {
	// Interval between cleanup cycles.
	Interval time.Duration

	// AttachmentMaxAge is how long a session attachment may linger
	// before it is removed.
	AttachmentMaxAge time.Duration
}

// DefaultSchedulerConfig returns production defaults: a cycle every
// 15 minutes, attachments kept for 24 hours.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:         15 * time.Minute,
		AttachmentMaxAge: 24 * time.Hour,
	}
}

// Scheduler owns the cleanup goroutine. Uses the ticker + done channel
// pattern for graceful shutdown.
type Scheduler struct {
	sessions    SessionSweeper
	attachments AttachmentSweeper
	config      SchedulerConfig
	now         func() time.Time

	mu      sync.Mutex
	done    chan struct{}
	running bool
}

// NewScheduler creates a cleanup scheduler. attachments and now may be
// nil (attachment sweeping disabled, wall clock).
func NewScheduler(sessions SessionSweeper, attachments AttachmentSweeper, config SchedulerConfig, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	if config.Interval <= 0 {
		config = DefaultSchedulerConfig()
	}
	return &Scheduler{
		sessions:    sessions,
		attachments: attachments,
		config:      config,
		now:         now,
	}
}

// Start launches the background loop. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})

	go s.loop(s.done)
	slog.Info("Cleanup scheduler started",
		"interval", s.config.Interval, "attachment_max_age", s.config.AttachmentMaxAge)
}

// Stop terminates the loop. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.done)
	slog.Info("Cleanup scheduler stopped")
}

func (s *Scheduler) loop(done chan struct{}) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.RunCycle()
		}
	}
}

// RunCycle executes one cleanup pass. Exported so tests and operators
// can trigger it without waiting for the ticker.
func (s *Scheduler) RunCycle() {
	dropped := s.sessions.Sweep()
	removed := 0
	if s.attachments != nil {
		removed = s.attachments.SweepOlderThan(s.now().Add(-s.config.AttachmentMaxAge))
	}
	if dropped > 0 || removed > 0 {
		slog.Info("Cleanup cycle finished",
			"sessions_dropped", dropped, "attachments_removed", removed)
	}
}
