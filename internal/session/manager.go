// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

// Package session tracks authenticated sessions with absolute lifetime and
// idle timeout.
//
// Session ids are 32 random bytes, hex encoded, and are returned to the
// caller exactly once. The manager indexes sessions by the BLAKE2b-256
// digest of the id so a memory dump does not expose usable ids.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/tomtom215/bastion/internal/logging"
	"github.com/tomtom215/bastion/internal/metrics"
)

// Reason explains why a session failed validation.
type Reason string

const (
	ReasonNotFound    Reason = "not_found"
	ReasonExpired     Reason = "expired"
	ReasonIdleTimeout Reason = "idle_timeout"
	ReasonInactive    Reason = "inactive"
)

// ErrSessionNotFound is returned by RevokeSession for unknown ids.
var ErrSessionNotFound = errors.New("session: not found")

// Metadata describes the client that opened a session.
type Metadata struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
}

// Session is a tracked session. ID is never populated on stored sessions;
// Handle is the hashed key.
type Session struct {
	Handle       string    `json:"handle"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
	Active       bool      `json:"active"`
	Metadata     Metadata  `json:"metadata"`

	// EndReason records why an inactive session ended.
	EndReason Reason `json:"end_reason,omitempty"`
}

// Validation is the result of ValidateSession.
type Validation struct {
	Valid   bool     `json:"valid"`
	Reason  Reason   `json:"reason,omitempty"`
	Session *Session `json:"session,omitempty"`
}

// Config holds session timing.
type Config struct {
	Lifetime    time.Duration
	IdleTimeout time.Duration
}

// DefaultConfig returns a 1h lifetime with a 15m idle timeout.
func DefaultConfig() Config {
	return Config{Lifetime: time.Hour, IdleTimeout: 15 * time.Minute}
}

// Manager owns all sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session // handle -> session
	byUser   map[string]map[string]struct{}
	cfg      Config
	now      func() time.Time
}

// NewManager creates a manager. Zero durations take defaults.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = def.Lifetime
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	return &Manager{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]map[string]struct{}),
		cfg:      cfg,
		now:      time.Now,
	}
}

func newID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HandleFor returns the at-rest key of a session id.
func HandleFor(id string) string {
	sum := blake2b.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

// CreateSession opens a session for userID and returns its id.
func (m *Manager) CreateSession(userID string, md Metadata) (string, error) {
	if userID == "" {
		return "", errors.New("session: user id is required")
	}
	id, err := newID()
	if err != nil {
		return "", err
	}
	handle := HandleFor(id)

	m.mu.Lock()
	now := m.now()
	m.sessions[handle] = &Session{
		Handle:       handle,
		UserID:       userID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.cfg.Lifetime),
		LastActivity: now,
		Active:       true,
		Metadata:     md,
	}
	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]struct{})
	}
	m.byUser[userID][handle] = struct{}{}
	active := m.activeLocked()
	m.mu.Unlock()

	metrics.SessionsActive.Set(float64(active))
	logging.Debug().Str("user_id", userID).Str("ip", md.IP).Msg("Session created")
	return id, nil
}

// ValidateSession checks id and refreshes its last activity when valid.
// A failed validation deactivates the session permanently.
func (m *Manager) ValidateSession(id string) Validation {
	v := m.validate(id)
	if v.Valid {
		metrics.RecordSessionValidation("valid")
	} else {
		metrics.RecordSessionValidation(string(v.Reason))
	}
	return v
}

func (m *Manager) validate(id string) Validation {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[HandleFor(id)]
	if !ok {
		return Validation{Reason: ReasonNotFound}
	}
	if !s.Active {
		reason := s.EndReason
		if reason == "" {
			reason = ReasonInactive
		}
		return Validation{Reason: reason, Session: copySession(s)}
	}

	now := m.now()
	switch {
	case !now.Before(s.ExpiresAt):
		s.end(ReasonExpired)
		return Validation{Reason: ReasonExpired, Session: copySession(s)}
	case now.Sub(s.LastActivity) >= m.cfg.IdleTimeout:
		s.end(ReasonIdleTimeout)
		return Validation{Reason: ReasonIdleTimeout, Session: copySession(s)}
	}
	s.LastActivity = now
	return Validation{Valid: true, Session: copySession(s)}
}

// end deactivates s, keeping the first terminal reason.
func (s *Session) end(reason Reason) {
	s.Active = false
	if s.EndReason == "" {
		s.EndReason = reason
	}
}

// RevokeSession deactivates a session.
func (m *Manager) RevokeSession(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[HandleFor(id)]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	if s.Active {
		s.end(ReasonInactive)
	}
	active := m.activeLocked()
	m.mu.Unlock()

	metrics.SessionsActive.Set(float64(active))
	logging.Info().Str("user_id", s.UserID).Msg("Session revoked")
	return nil
}

// RevokeUserSessions deactivates every session of userID and returns the
// number that were active.
func (m *Manager) RevokeUserSessions(userID string) int {
	m.mu.Lock()
	n := 0
	for h := range m.byUser[userID] {
		if s := m.sessions[h]; s != nil && s.Active {
			s.end(ReasonInactive)
			n++
		}
	}
	active := m.activeLocked()
	m.mu.Unlock()

	metrics.SessionsActive.Set(float64(active))
	if n > 0 {
		logging.Info().Str("user_id", userID).Int("sessions", n).Msg("User sessions revoked")
	}
	return n
}

// ListUserSessions returns userID's sessions ordered by creation time.
func (m *Manager) ListUserSessions(userID string) []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.byUser[userID]))
	for h := range m.byUser[userID] {
		if s := m.sessions[h]; s != nil {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Sweep removes sessions that are inactive, past their lifetime or idle.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	now := m.now()
	removed := 0
	for h, s := range m.sessions {
		if s.Active && now.Before(s.ExpiresAt) && now.Sub(s.LastActivity) < m.cfg.IdleTimeout {
			continue
		}
		delete(m.sessions, h)
		if set := m.byUser[s.UserID]; set != nil {
			delete(set, h)
			if len(set) == 0 {
				delete(m.byUser, s.UserID)
			}
		}
		removed++
	}
	active := m.activeLocked()
	m.mu.Unlock()

	metrics.SessionsActive.Set(float64(active))
	return removed
}

// ActiveCount returns the number of sessions flagged active.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked()
}

func (m *Manager) activeLocked() int {
	n := 0
	for _, s := range m.sessions {
		if s.Active {
			n++
		}
	}
	return n
}

func copySession(s *Session) *Session {
	cp := *s
	return &cp
}
