// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies the documented defaults.
func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.RateLimit.Window != 60*time.Second {
		t.Errorf("RateLimit.Window = %v, want 60s", cfg.RateLimit.Window)
	}
	if cfg.RateLimit.MaxRequests != 100 {
		t.Errorf("RateLimit.MaxRequests = %d, want 100", cfg.RateLimit.MaxRequests)
	}
	if cfg.RateLimit.BlockDuration != 300*time.Second {
		t.Errorf("RateLimit.BlockDuration = %v, want 300s", cfg.RateLimit.BlockDuration)
	}
	wantMult := map[string]float64{"admin": 5, "bastion-admin": 5, "manager": 2, "user": 1, "guest": 0.5}
	for role, m := range wantMult {
		if cfg.RateLimit.Multipliers[role] != m {
			t.Errorf("multiplier[%s] = %v, want %v", role, cfg.RateLimit.Multipliers[role], m)
		}
	}
	if cfg.Session.Lifetime != time.Hour {
		t.Errorf("Session.Lifetime = %v, want 1h", cfg.Session.Lifetime)
	}
	if cfg.Session.IdleTimeout != 15*time.Minute {
		t.Errorf("Session.IdleTimeout = %v, want 15m", cfg.Session.IdleTimeout)
	}
	if cfg.Audit.ReportWindow != 30*24*time.Hour {
		t.Errorf("Audit.ReportWindow = %v, want 720h", cfg.Audit.ReportWindow)
	}
	if cfg.Policy.WeightedThreshold != 0.7 {
		t.Errorf("Policy.WeightedThreshold = %v, want 0.7", cfg.Policy.WeightedThreshold)
	}
	if cfg.Sweep.Interval != 24*time.Hour {
		t.Errorf("Sweep.Interval = %v, want 24h", cfg.Sweep.Interval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := `
server:
  port: 9000
ratelimit:
  max_requests: 50
  multipliers:
    admin: 10
session:
  idle_timeout: 5m
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "25")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("RISK_OFF_HOURS_EXEMPT_ROLES", "oncall,sre")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000 from file", cfg.Server.Port)
	}
	if cfg.RateLimit.MaxRequests != 25 {
		t.Errorf("RateLimit.MaxRequests = %d, want 25 from env", cfg.RateLimit.MaxRequests)
	}
	if cfg.RateLimit.Multipliers["admin"] != 10 {
		t.Errorf("admin multiplier = %v, want 10", cfg.RateLimit.Multipliers["admin"])
	}
	if cfg.Session.IdleTimeout != 5*time.Minute {
		t.Errorf("Session.IdleTimeout = %v, want 5m", cfg.Session.IdleTimeout)
	}
	if len(cfg.Security.CORSOrigins) != 2 || cfg.Security.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.Security.CORSOrigins)
	}
	if got := cfg.Risk.OffHoursExemptRoles; len(got) != 2 || got[0] != "oncall" || got[1] != "sre" {
		t.Errorf("OffHoursExemptRoles = %v", got)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"HTTP_PORT", "server.port"},
		{"RATE_LIMIT_BACKEND", "ratelimit.backend"},
		{"SESSION_IDLE_TIMEOUT", "session.idle_timeout"},
		{"PATH", ""},
		{"HOME", ""},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			if got := envTransformFunc(tt.env); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "HTTP_PORT"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "LOG_LEVEL"},
		{"zero window", func(c *Config) { c.RateLimit.Window = 0 }, "RATE_LIMIT_WINDOW"},
		{"negative multiplier", func(c *Config) { c.RateLimit.Multipliers["guest"] = -1 }, "multiplier"},
		{"redis without addr", func(c *Config) {
			c.RateLimit.Backend = "redis"
			c.RateLimit.RedisAddr = ""
		}, "REDIS_ADDR"},
		{"idle beyond lifetime", func(c *Config) { c.Session.IdleTimeout = 2 * time.Hour }, "SESSION_IDLE_TIMEOUT"},
		{"threshold above one", func(c *Config) { c.Policy.WeightedThreshold = 1.5 }, "POLICY_WEIGHTED_THRESHOLD"},
		{"no storage path", func(c *Config) { c.Storage.Path = "" }, "STORAGE_PATH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
