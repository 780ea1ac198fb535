// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/bastion/internal/logging"
	"github.com/tomtom215/bastion/internal/metrics"
)

// hitScript applies the fixed-window algorithm atomically.
// KEYS[1] state hash; ARGV now_ms, window_ms, limit, block_ms.
// Returns {allowed, count, blocked_until_ms, new_block}.
var hitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local block = tonumber(ARGV[4])

local count = tonumber(redis.call('HGET', key, 'count') or '0')
local ws = tonumber(redis.call('HGET', key, 'ws') or ARGV[1])
local bu = tonumber(redis.call('HGET', key, 'bu') or '0')

if bu > 0 then
  if now < bu then
    return {0, count, bu, 0}
  end
  count = 0
  ws = now
  bu = 0
end

if now - ws > window then
  count = 0
  ws = now
end

count = count + 1
local allowed = 1
local newblock = 0
if count > limit then
  bu = now + block
  allowed = 0
  newblock = 1
end

redis.call('HSET', key, 'count', count, 'ws', ws, 'bu', bu)
local ttl = window
if bu - now > ttl then
  ttl = bu - now
end
redis.call('PEXPIRE', key, ttl + window)
return {allowed, count, bu, newblock}
`)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces limiter keys.
	KeyPrefix string

	// FailureThreshold consecutive errors open the breaker.
	FailureThreshold uint32

	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// RedisStore keeps window state in Redis so several instances share limits.
// Calls go through a circuit breaker; while it is open every Hit fails fast.
type RedisStore struct {
	client *redis.Client
	prefix string
	cb     *gobreaker.CircuitBreaker[[]int64]
}

const breakerName = "ratelimit-redis"

// NewRedisStore connects a store using cfg.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStoreWithClient(client, cfg)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, cfg RedisConfig) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "bastion:ratelimit:"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	threshold := cfg.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[[]int64](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Rate limit backend breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return &RedisStore{client: client, prefix: cfg.KeyPrefix, cb: cb}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}

// Hit implements Store.
func (s *RedisStore) Hit(ctx context.Context, key string, limit int, now time.Time, window, block time.Duration) (Result, error) {
	nowMs := now.UnixMilli()
	vals, err := s.cb.Execute(func() ([]int64, error) {
		return hitScript.Run(ctx, s.client, []string{s.prefix + key},
			nowMs, window.Milliseconds(), limit, block.Milliseconds()).Int64Slice()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Result{}, fmt.Errorf("rate limit backend unavailable: %w", err)
		}
		return Result{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(vals) != 4 {
		return Result{}, fmt.Errorf("rate limit script returned %d values", len(vals))
	}

	allowed, count, blockedUntilMs, newBlock := vals[0] == 1, int(vals[1]), vals[2], vals[3] == 1
	res := Result{Allowed: allowed, Limit: limit, Blocked: newBlock}
	if allowed {
		res.Remaining = limit - count
		return res, nil
	}
	res.BlockedUntil = time.UnixMilli(blockedUntilMs)
	res.RetryAfter = res.BlockedUntil.Sub(time.UnixMilli(nowMs))
	return res, nil
}

// Reset implements Store.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}

// Sweep implements Store. Redis expires keys on its own.
func (s *RedisStore) Sweep(context.Context, time.Time, time.Duration) (int, error) {
	return 0, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
