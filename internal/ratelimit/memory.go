// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowState struct {
	count        int
	windowStart  time.Time
	blockedUntil time.Time
}

// MemoryStore keeps window state in process memory under one lock.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*windowState
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*windowState)}
}

// Hit implements Store.
func (s *MemoryStore) Hit(_ context.Context, key string, limit int, now time.Time, window, block time.Duration) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[key]
	if ok && !st.blockedUntil.IsZero() {
		if now.Before(st.blockedUntil) {
			return Result{
				Limit:        limit,
				RetryAfter:   st.blockedUntil.Sub(now),
				BlockedUntil: st.blockedUntil,
			}, nil
		}
		ok = false
	}
	if !ok {
		st = &windowState{windowStart: now}
		s.states[key] = st
	}
	if now.Sub(st.windowStart) > window {
		st.count = 0
		st.windowStart = now
	}

	st.count++
	if st.count > limit {
		st.blockedUntil = now.Add(block)
		return Result{
			Limit:        limit,
			RetryAfter:   block,
			BlockedUntil: st.blockedUntil,
			Blocked:      true,
		}, nil
	}
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - st.count,
	}, nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.states, key)
	s.mu.Unlock()
	return nil
}

// Sweep implements Store.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, st := range s.states {
		if now.Sub(st.windowStart) > window && !now.Before(st.blockedUntil) {
			delete(s.states, k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked principals.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
