// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package status tracks per-turn websocket status sessions.
//
// A chat client creates a session (implicitly via /chat or by reusing
// the X-Session-ID header), connects a websocket to receive progress
// frames, and the orchestrator pushes stage updates as the turn runs.
// Session state is in-process only; scale-out needs session affinity.
package status

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session TTL and sweep cadence. The sweep is opportunistic: it runs
// piggybacked on other calls, at most once per sweepInterval.
const (
	sessionTTL    = time.Hour
	sweepInterval = 5 * time.Minute
)

// State is the lifecycle phase of a session.
type State int

const (
	// StateCreated means the session exists but no websocket has
	// registered.
	StateCreated State = iota
	// StateActive means a websocket is attached.
	StateActive
	// StateInactive means the websocket detached; the session lingers
	// until its TTL.
	StateInactive
)

// WSConn is the minimal websocket surface the manager writes to.
// Satisfied by *websocket.Conn (WriteJSON/Close).
type WSConn interface {
	WriteJSON(v any) error
	Close() error
}

// Clock abstracts time for TTL tests.
type Clock func() time.Time

// Frame is one status message pushed to the client.
type Frame struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	ID        string `json:"id,omitempty"`
	Status    string `json:"status,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type session struct {
	userID    int
	state     State
	conn      WSConn
	counted   bool
	expiresAt time.Time
	writeMu   sync.Mutex
}

// Manager owns all live status sessions. A single mutex serializes
// registry bookkeeping and the cleanup sweep; per-session locks
// serialize frame writes so the client sees updates in issue order.
type Manager struct {
	mu              sync.Mutex
	sessions        map[string]*session
	connectionCount int
	lastSweep       time.Time
	now             Clock

	// OnCountChange, when set, observes the active-connection gauge.
	OnCountChange func(count int)
}

// NewManager creates a session manager. now may be nil for wall time.
func NewManager(now Clock) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		sessions: map[string]*session{},
		now:      now,
	}
}

// CreateSession registers a session for a user and returns its id,
// formatted "{user_id}-{uuid}".
func (m *Manager) CreateSession(userID int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	sessionID := fmt.Sprintf("%d-%s", userID, uuid.New().String())
	m.sessions[sessionID] = &session{
		userID:    userID,
		state:     StateCreated,
		expiresAt: m.now().Add(sessionTTL),
	}
	slog.Debug("Created status session", "session_id", sessionID, "user_id", userID)
	return sessionID
}

// SessionExists reports whether the session id is known and unexpired.
func (m *Manager) SessionExists(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	_, ok := m.sessions[sessionID]
	return ok
}

// RegisterConnection attaches a websocket to a pre-created session and
// sends the initial connected frame. The active-connection counter
// increments at most once per session, so a client that reconnects
// does not inflate the gauge.
func (m *Manager) RegisterConnection(sessionID string, conn WSConn) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown session %s: create a session before connecting", sessionID)
	}
	s.conn = conn
	s.state = StateActive
	s.expiresAt = m.now().Add(sessionTTL)
	if !s.counted {
		s.counted = true
		m.connectionCount++
		m.notifyCountLocked()
	}
	m.mu.Unlock()

	frame := Frame{Type: "status", Status: "connected", SessionID: sessionID}
	if err := m.write(s, frame); err != nil {
		return fmt.Errorf("failed to send connected frame: %w", err)
	}
	slog.Info("Websocket registered", "session_id", sessionID)
	return nil
}

// SendStatusUpdate pushes a progress frame and extends the session's
// TTL, so a long-running turn cannot be swept mid-pipeline. Returns
// false when the session has no live connection or the write fails; a
// failed write tears the connection down.
func (m *Manager) SendStatusUpdate(sessionID, message, statusTag string) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.state != StateActive || s.conn == nil {
		m.mu.Unlock()
		return false
	}
	s.expiresAt = m.now().Add(sessionTTL)
	m.mu.Unlock()

	frame := Frame{
		Type:      "status",
		Message:   message,
		Timestamp: m.now().UTC().Format(time.RFC3339),
		ID:        uuid.New().String(),
		Status:    statusTag,
	}
	if err := m.write(s, frame); err != nil {
		slog.Warn("Status write failed, removing connection",
			"session_id", sessionID, "error", err)
		m.RemoveConnection(sessionID, false)
		return false
	}
	return true
}

// SendPing sends a keepalive frame. Same teardown semantics as
// SendStatusUpdate.
func (m *Manager) SendPing(sessionID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.state != StateActive || s.conn == nil {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	frame := Frame{Type: "ping", Timestamp: m.now().UTC().Format(time.RFC3339)}
	if err := m.write(s, frame); err != nil {
		m.RemoveConnection(sessionID, false)
		return false
	}
	return true
}

// SendPong answers a client-initiated ping.
func (m *Manager) SendPong(sessionID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.state != StateActive || s.conn == nil {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	frame := Frame{Type: "pong", Timestamp: m.now().UTC().Format(time.RFC3339)}
	if err := m.write(s, frame); err != nil {
		m.RemoveConnection(sessionID, false)
		return false
	}
	return true
}

// RemoveConnection marks the session inactive and decrements the
// counter. The underlying socket is closed only when the caller is not
// the websocket handler itself; the handler owns its own close path.
func (m *Manager) RemoveConnection(sessionID string, fromHandler bool) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	conn := s.conn
	wasCounted := s.counted
	s.conn = nil
	s.state = StateInactive
	s.counted = false
	if wasCounted && m.connectionCount > 0 {
		m.connectionCount--
		m.notifyCountLocked()
	}
	m.mu.Unlock()

	if conn != nil && !fromHandler {
		conn.Close()
	}
	slog.Debug("Websocket removed", "session_id", sessionID, "from_handler", fromHandler)
}

// ConnectionCount returns the active-connection gauge.
func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectionCount
}

// Sweep drops expired sessions immediately, regardless of the
// opportunistic cadence. Returns the number dropped. Used by the TTL
// scheduler.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSweep = time.Time{}
	return m.sweepLocked()
}

// sweepLocked drops sessions past expires_at, at most once per
// sweepInterval. Caller holds m.mu.
func (m *Manager) sweepLocked() int {
	now := m.now()
	if now.Sub(m.lastSweep) < sweepInterval {
		return 0
	}
	m.lastSweep = now

	dropped := 0
	for id, s := range m.sessions {
		if now.After(s.expiresAt) {
			if s.counted && m.connectionCount > 0 {
				m.connectionCount--
				m.notifyCountLocked()
			}
			if s.conn != nil {
				s.conn.Close()
			}
			delete(m.sessions, id)
			dropped++
		}
	}
	if dropped > 0 {
		slog.Info("Swept expired status sessions", "dropped", dropped)
	}
	return dropped
}

func (m *Manager) notifyCountLocked() {
	if m.OnCountChange != nil {
		m.OnCountChange(m.connectionCount)
	}
}

// write serializes frame writes per session.
func (m *Manager) write(s *session, frame Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("connection gone")
	}
	return s.conn.WriteJSON(frame)
}
