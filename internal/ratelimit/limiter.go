// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

// Package ratelimit implements the per-principal fixed-window limiter.
//
// Each principal gets max(1, floor(MaxRequests × multiplier)) requests per
// window, where the multiplier is the highest among the principal's roles.
// Exceeding the limit blocks the principal for BlockDuration; once a block
// lapses the principal starts a fresh window.
//
// State lives in a Store. MemoryStore is the default; RedisStore shares
// state between instances.
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/tomtom215/bastion/internal/logging"
	"github.com/tomtom215/bastion/internal/metrics"
)

// Config holds limiter parameters.
type Config struct {
	Window        time.Duration
	MaxRequests   int
	BlockDuration time.Duration

	// Multipliers maps role id to limit multiplier.
	Multipliers map[string]float64
}

// DefaultConfig returns a 60s window of 100 requests with a 300s block.
func DefaultConfig() Config {
	return Config{
		Window:        60 * time.Second,
		MaxRequests:   100,
		BlockDuration: 300 * time.Second,
		Multipliers: map[string]float64{
			"admin":   5,
			"manager": 2,
			"user":    1,
			"guest":   0.5,
		},
	}
}

// Result is the outcome of one check.
type Result struct {
	Allowed      bool          `json:"allowed"`
	Limit        int           `json:"limit"`
	Remaining    int           `json:"remaining"`
	RetryAfter   time.Duration `json:"retry_after"`
	BlockedUntil time.Time     `json:"blocked_until,omitempty"`

	// Blocked is true only for the check that started a block.
	Blocked bool `json:"-"`
}

// Store holds per-principal window state.
type Store interface {
	// Hit counts one request against key and returns the decision.
	Hit(ctx context.Context, key string, limit int, now time.Time, window, block time.Duration) (Result, error)

	// Reset drops the state for key.
	Reset(ctx context.Context, key string) error

	// Sweep drops state whose window and block have both elapsed.
	Sweep(ctx context.Context, now time.Time, window time.Duration) (int, error)
}

// Limiter applies role-scaled limits on top of a Store.
type Limiter struct {
	cfg   Config
	store Store
	now   func() time.Time
}

// New creates a limiter. A nil store uses a MemoryStore.
func New(cfg Config, store Store) *Limiter {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.BlockDuration < 0 {
		cfg.BlockDuration = def.BlockDuration
	}
	if cfg.Multipliers == nil {
		cfg.Multipliers = def.Multipliers
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{cfg: cfg, store: store, now: time.Now}
}

// LimitFor returns the request limit for a principal holding roles.
func (l *Limiter) LimitFor(roles []string) int {
	mult := 0.0
	for _, r := range roles {
		if m, ok := l.cfg.Multipliers[r]; ok && m > mult {
			mult = m
		}
	}
	if mult == 0 {
		mult = 1
	}
	limit := int(math.Floor(float64(l.cfg.MaxRequests) * mult))
	if limit < 1 {
		limit = 1
	}
	return limit
}

// CheckRateLimit counts one request for principal and reports whether it
// may proceed. Store errors are returned so callers can fail closed.
func (l *Limiter) CheckRateLimit(ctx context.Context, principal string, roles []string) (Result, error) {
	limit := l.LimitFor(roles)
	res, err := l.store.Hit(ctx, principal, limit, l.now(), l.cfg.Window, l.cfg.BlockDuration)
	if err != nil {
		logging.Error().Err(err).Str("principal", principal).Msg("Rate limit check failed")
		return Result{Limit: limit}, err
	}
	metrics.RecordRateLimit(res.Allowed, res.Blocked)
	if res.Blocked {
		logging.Warn().
			Str("principal", principal).
			Int("limit", limit).
			Time("blocked_until", res.BlockedUntil).
			Msg("Principal rate limited")
	}
	return res, nil
}

// Allow is CheckRateLimit reduced to a boolean. Errors deny.
func (l *Limiter) Allow(ctx context.Context, principal string, roles []string) bool {
	res, err := l.CheckRateLimit(ctx, principal, roles)
	return err == nil && res.Allowed
}

// Reset clears the state for principal.
func (l *Limiter) Reset(ctx context.Context, principal string) error {
	return l.store.Reset(ctx, principal)
}

// Sweep removes stale principal state.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	return l.store.Sweep(ctx, l.now(), l.cfg.Window)
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}
