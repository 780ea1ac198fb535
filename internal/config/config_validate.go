// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package config

import (
	"fmt"
	"strings"
)

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}
	if err := c.validateAudit(); err != nil {
		return err
	}
	if err := c.validateRiskAndPolicy(); err != nil {
		return err
	}
	return c.validateStorage()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %v", c.Sweep.Interval)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateRateLimit() error {
	rl := c.RateLimit
	if rl.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive, got %v", rl.Window)
	}
	if rl.MaxRequests < 1 {
		return fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be at least 1, got %d", rl.MaxRequests)
	}
	if rl.BlockDuration < 0 {
		return fmt.Errorf("RATE_LIMIT_BLOCK_DURATION cannot be negative, got %v", rl.BlockDuration)
	}
	for role, m := range rl.Multipliers {
		if m <= 0 {
			return fmt.Errorf("rate limit multiplier for role %q must be positive, got %v", role, m)
		}
	}
	switch rl.Backend {
	case "memory":
	case "redis":
		if rl.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be memory or redis, got %q", rl.Backend)
	}
	return nil
}

func (c *Config) validateSession() error {
	if c.Session.Lifetime <= 0 {
		return fmt.Errorf("SESSION_LIFETIME must be positive, got %v", c.Session.Lifetime)
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive, got %v", c.Session.IdleTimeout)
	}
	if c.Session.IdleTimeout > c.Session.Lifetime {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT (%v) cannot exceed SESSION_LIFETIME (%v)",
			c.Session.IdleTimeout, c.Session.Lifetime)
	}
	return nil
}

func (c *Config) validateAudit() error {
	if c.Audit.MaxEntries < 1 {
		return fmt.Errorf("AUDIT_MAX_ENTRIES must be at least 1, got %d", c.Audit.MaxEntries)
	}
	if c.Audit.Retention <= 0 {
		return fmt.Errorf("AUDIT_RETENTION must be positive, got %v", c.Audit.Retention)
	}
	if c.Audit.BruteForceAttempts < 1 {
		return fmt.Errorf("AUDIT_BRUTE_FORCE_ATTEMPTS must be at least 1, got %d", c.Audit.BruteForceAttempts)
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be at least 1, got %d", c.Cache.MaxEntries)
	}
	return nil
}

func (c *Config) validateRiskAndPolicy() error {
	if c.Risk.HighThreshold <= 0 || c.Risk.HighThreshold > 1 {
		return fmt.Errorf("RISK_HIGH_THRESHOLD must be in (0,1], got %v", c.Risk.HighThreshold)
	}
	if c.Policy.WeightedThreshold <= 0 || c.Policy.WeightedThreshold > 1 {
		return fmt.Errorf("POLICY_WEIGHTED_THRESHOLD must be in (0,1], got %v", c.Policy.WeightedThreshold)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("STORAGE_PATH is required unless STORAGE_IN_MEMORY=true")
	}
	return nil
}
