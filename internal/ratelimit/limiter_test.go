// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
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

func newTestLimiter(t *testing.T, cfg Config, store Store) (*Limiter, *fakeClock) {
	t.Helper()
	l := New(cfg, store)
	clock := newFakeClock()
	l.now = clock.Now
	return l, clock
}

func TestLimitFor(t *testing.T) {
	l := New(Config{MaxRequests: 100}, nil)
	tests := []struct {
		name  string
		roles []string
		want  int
	}{
		{"no roles", nil, 100},
		{"unknown role", []string{"auditor"}, 100},
		{"guest", []string{"guest"}, 50},
		{"user", []string{"user"}, 100},
		{"manager", []string{"manager"}, 200},
		{"admin", []string{"admin"}, 500},
		{"highest wins", []string{"guest", "manager", "user"}, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := l.LimitFor(tt.roles); got != tt.want {
				t.Errorf("LimitFor(%v) = %d, want %d", tt.roles, got, tt.want)
			}
		})
	}

	tiny := New(Config{MaxRequests: 1}, nil)
	if got := tiny.LimitFor([]string{"guest"}); got != 1 {
		t.Errorf("limit floor = %d, want 1", got)
	}
}

func TestFixedWindowBlockAndRecovery(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLimiter(t, Config{
		Window:        time.Second,
		MaxRequests:   3,
		BlockDuration: 2 * time.Second,
	}, nil)

	for i := 1; i <= 3; i++ {
		res, err := l.CheckRateLimit(ctx, "alice", nil)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if !res.Allowed || res.Remaining != 3-i {
			t.Fatalf("call %d = %+v, want allowed with %d remaining", i, res, 3-i)
		}
	}

	res, _ := l.CheckRateLimit(ctx, "alice", nil)
	if res.Allowed || !res.Blocked {
		t.Fatalf("4th call = %+v, want rejected and blocked", res)
	}
	if res.RetryAfter != 2*time.Second {
		t.Errorf("RetryAfter = %v, want 2s", res.RetryAfter)
	}

	// Still inside the block even though the window rolled over.
	clock.Advance(1500 * time.Millisecond)
	res, _ = l.CheckRateLimit(ctx, "alice", nil)
	if res.Allowed || res.Blocked {
		t.Errorf("call during block = %+v, want rejected without a new block", res)
	}
	if res.RetryAfter != 500*time.Millisecond {
		t.Errorf("RetryAfter = %v, want 500ms", res.RetryAfter)
	}

	clock.Advance(600 * time.Millisecond)
	res, _ = l.CheckRateLimit(ctx, "alice", nil)
	if !res.Allowed || res.Remaining != 2 {
		t.Errorf("call after block = %+v, want fresh window", res)
	}

	if !l.Allow(ctx, "bob", nil) {
		t.Error("other principals are unaffected")
	}
}

func TestWindowRollover(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLimiter(t, Config{Window: time.Second, MaxRequests: 2, BlockDuration: time.Minute}, nil)

	l.Allow(ctx, "u", nil)
	l.Allow(ctx, "u", nil)

	// Exactly one window later is still the same window.
	clock.Advance(time.Second)
	if l.Allow(ctx, "u", nil) {
		t.Fatal("call at window boundary should count against the old window")
	}
	if err := l.Reset(ctx, "u"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !l.Allow(ctx, "u", nil) {
		t.Fatal("Reset should clear the block")
	}

	clock.Advance(1001 * time.Millisecond)
	l.Allow(ctx, "u", nil)
	if !l.Allow(ctx, "u", nil) {
		t.Error("window should have rolled over")
	}
}

func TestRoleMultiplierApplied(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, Config{Window: time.Minute, MaxRequests: 2, BlockDuration: time.Minute}, nil)

	allowed := 0
	for i := 0; i < 20; i++ {
		if l.Allow(ctx, "root", []string{"admin"}) {
			allowed++
		}
	}
	if allowed != 10 {
		t.Errorf("admin allowed %d, want 10", allowed)
	}
}

func TestMemorySweep(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	l, clock := newTestLimiter(t, Config{Window: time.Second, MaxRequests: 1, BlockDuration: 10 * time.Second}, store)

	l.Allow(ctx, "idle", nil)
	l.Allow(ctx, "blocked", nil)
	l.Allow(ctx, "blocked", nil)

	clock.Advance(2 * time.Second)
	removed, err := l.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 || store.Len() != 1 {
		t.Errorf("removed %d, remaining %d; want 1 and 1", removed, store.Len())
	}

	clock.Advance(10 * time.Second)
	if removed, _ := l.Sweep(ctx); removed != 1 {
		t.Errorf("second sweep removed %d, want 1", removed)
	}
}

func TestConcurrentChecksRespectLimit(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(t, Config{Window: time.Minute, MaxRequests: 50, BlockDuration: time.Minute}, nil)

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if l.Allow(ctx, "shared", nil) {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	if allowed != 50 {
		t.Errorf("allowed %d, want exactly 50", allowed)
	}
}
