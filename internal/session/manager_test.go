// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package session

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *fakeClock) {
	t.Helper()
	m := NewManager(cfg)
	clock := &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	m.now = clock.Now
	return m, clock
}

func mustCreate(t *testing.T, m *Manager, user string) string {
	t.Helper()
	id, err := m.CreateSession(user, Metadata{IP: "10.0.0.1", DeviceID: "laptop"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return id
}

func TestSessionIDFormat(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	id := mustCreate(t, m, "alice")
	if len(id) != 64 {
		t.Errorf("id length = %d, want 64 hex chars", len(id))
	}
	other := mustCreate(t, m, "alice")
	if id == other {
		t.Error("ids must be unique")
	}

	for _, s := range m.ListUserSessions("alice") {
		if s.Handle == id || s.Handle == other {
			t.Error("stored handle must not equal the raw id")
		}
	}
	if HandleFor(id) == HandleFor(other) {
		t.Error("handles must differ")
	}
}

func TestIdleTimeout(t *testing.T) {
	m, clock := newTestManager(t, Config{Lifetime: time.Hour, IdleTimeout: 100 * time.Millisecond})

	kept := mustCreate(t, m, "alice")
	idle := mustCreate(t, m, "bob")

	for i := 0; i < 3; i++ {
		clock.Advance(50 * time.Millisecond)
		if v := m.ValidateSession(kept); !v.Valid {
			t.Fatalf("revalidated session invalid at step %d: %s", i, v.Reason)
		}
	}

	// bob has now been idle for 150ms.
	v := m.ValidateSession(idle)
	if v.Valid || v.Reason != ReasonIdleTimeout {
		t.Fatalf("idle session = %+v, want idle_timeout", v)
	}
	if v := m.ValidateSession(idle); v.Valid || v.Reason != ReasonIdleTimeout {
		t.Errorf("second validation = %+v, want idle_timeout", v)
	}
}

func TestAbsoluteLifetime(t *testing.T) {
	m, clock := newTestManager(t, Config{Lifetime: time.Second, IdleTimeout: time.Second})
	id := mustCreate(t, m, "alice")

	clock.Advance(600 * time.Millisecond)
	if v := m.ValidateSession(id); !v.Valid {
		t.Fatalf("session should be valid: %s", v.Reason)
	}
	clock.Advance(600 * time.Millisecond)
	v := m.ValidateSession(id)
	if v.Valid || v.Reason != ReasonExpired {
		t.Errorf("validation = %+v, want expired", v)
	}

	// The terminal reason sticks, even across a later revoke.
	if err := m.RevokeSession(id); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if v := m.ValidateSession(id); v.Valid || v.Reason != ReasonExpired {
			t.Errorf("repeat validation %d = %+v, want expired", i, v)
		}
	}
	if got := m.ListUserSessions("alice"); len(got) != 1 || got[0].EndReason != ReasonExpired {
		t.Errorf("ListUserSessions = %+v", got)
	}
}

func TestNotFoundAndRevoke(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	if v := m.ValidateSession("deadbeef"); v.Reason != ReasonNotFound {
		t.Errorf("unknown id reason = %s", v.Reason)
	}
	if err := m.RevokeSession("deadbeef"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("RevokeSession unknown error = %v", err)
	}

	id := mustCreate(t, m, "alice")
	if err := m.RevokeSession(id); err != nil {
		t.Fatalf("RevokeSession: %v", err)
	}
	if v := m.ValidateSession(id); v.Reason != ReasonInactive {
		t.Errorf("revoked reason = %s, want inactive", v.Reason)
	}
}

func TestRevokeUserSessions(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	a1 := mustCreate(t, m, "alice")
	mustCreate(t, m, "alice")
	b := mustCreate(t, m, "bob")

	if n := m.RevokeUserSessions("alice"); n != 2 {
		t.Errorf("revoked %d, want 2", n)
	}
	if m.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", m.ActiveCount())
	}
	if v := m.ValidateSession(a1); v.Valid {
		t.Error("alice session should be revoked")
	}
	if v := m.ValidateSession(b); !v.Valid {
		t.Error("bob session should survive")
	}
	if n := m.RevokeUserSessions("alice"); n != 0 {
		t.Errorf("second revoke = %d, want 0", n)
	}
}

func TestSweep(t *testing.T) {
	m, clock := newTestManager(t, Config{Lifetime: time.Hour, IdleTimeout: time.Minute})
	revoked := mustCreate(t, m, "alice")
	mustCreate(t, m, "bob")
	fresh := mustCreate(t, m, "carol")
	_ = m.RevokeSession(revoked)

	clock.Advance(45 * time.Second)
	m.ValidateSession(fresh)
	clock.Advance(30 * time.Second)

	// alice is revoked, bob idle for 75s, carol idle for 30s.
	if removed := m.Sweep(); removed != 2 {
		t.Errorf("Sweep removed %d, want 2", removed)
	}
	if len(m.ListUserSessions("bob")) != 0 {
		t.Error("bob session should be gone")
	}
	if len(m.ListUserSessions("carol")) != 1 {
		t.Error("carol session should remain")
	}
}

func TestCreateSessionRequiresUser(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	if _, err := m.CreateSession("", Metadata{}); err == nil {
		t.Error("empty user should fail")
	}
}
