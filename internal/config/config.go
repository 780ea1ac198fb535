// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

// Package config loads Bastion configuration with Koanf v2.
//
// Loading order (later layers win):
//  1. Built-in defaults (defaultConfig)
//  2. Optional YAML file (CONFIG_PATH or one of DefaultConfigPaths)
//  3. Mapped environment variables (see envTransformFunc)
//
// Config is immutable after Load and safe for concurrent reads.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Security   SecurityConfig   `koanf:"security"`
	RateLimit  RateLimitConfig  `koanf:"ratelimit"`
	Session    SessionConfig    `koanf:"session"`
	Cache      CacheConfig      `koanf:"cache"`
	Audit      AuditConfig      `koanf:"audit"`
	Risk       RiskConfig       `koanf:"risk"`
	Policy     PolicyConfig     `koanf:"policy"`
	Storage    StorageConfig    `koanf:"storage"`
	Sweep      SweepConfig      `koanf:"sweep"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig mirrors logging.Config for the loadable fields.
type LoggingConfig struct {
	// Level: trace, debug, info, warn, error. Env: LOG_LEVEL
	Level string `koanf:"level"`

	// Format: json or console. Env: LOG_FORMAT
	Format string `koanf:"format"`

	// Caller adds file:line. Env: LOG_CALLER
	Caller bool `koanf:"caller"`
}

// SecurityConfig holds admin API protection settings.
type SecurityConfig struct {
	// JWTSecret verifies HS256 bearer tokens. When empty the API trusts the
	// X-Principal-ID header, which is only acceptable behind a trusted proxy.
	// Env: JWT_SECRET
	JWTSecret string `koanf:"jwt_secret"`

	// JWTIssuer, when set, must match the iss claim. Env: JWT_ISSUER
	JWTIssuer string `koanf:"jwt_issuer"`

	// CORSOrigins is a comma-separated list in env form. Env: CORS_ORIGINS
	CORSOrigins []string `koanf:"cors_origins"`

	// AdminRateLimit is the per-IP request budget for admin routes per AdminRateWindow.
	AdminRateLimit  int           `koanf:"admin_rate_limit"`
	AdminRateWindow time.Duration `koanf:"admin_rate_window"`

	// AdminPrincipal, when set, is granted the built-in administrator role
	// at startup. Env: ADMIN_PRINCIPAL
	AdminPrincipal string `koanf:"admin_principal"`
}

// RateLimitConfig configures the per-principal request limiter.
type RateLimitConfig struct {
	Window        time.Duration      `koanf:"window"`
	MaxRequests   int                `koanf:"max_requests"`
	BlockDuration time.Duration      `koanf:"block_duration"`
	Multipliers   map[string]float64 `koanf:"multipliers"`

	// Backend is memory or redis. Env: RATE_LIMIT_BACKEND
	Backend string `koanf:"backend"`

	// RedisAddr is host:port for the redis backend. Env: REDIS_ADDR
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
}

// SessionConfig configures session lifetimes.
type SessionConfig struct {
	Lifetime    time.Duration `koanf:"lifetime"`
	IdleTimeout time.Duration `koanf:"idle_timeout"`
}

// CacheConfig configures the smart cache.
type CacheConfig struct {
	DefaultTTL time.Duration `koanf:"default_ttl"`
	MaxEntries int           `koanf:"max_entries"`
}

// AuditConfig configures the audit log.
type AuditConfig struct {
	Retention          time.Duration `koanf:"retention"`
	MaxEntries         int           `koanf:"max_entries"`
	ReportWindow       time.Duration `koanf:"report_window"`
	BruteForceWindow   time.Duration `koanf:"brute_force_window"`
	BruteForceAttempts int           `koanf:"brute_force_attempts"`
	ArchiveDropped     bool          `koanf:"archive_dropped"`
}

// RiskConfig configures risk thresholds and history sizes.
type RiskConfig struct {
	HighThreshold    float64       `koanf:"high_threshold"`
	AddressHistory   int           `koanf:"address_history"`
	AssessmentWindow time.Duration `koanf:"assessment_window"`

	// OffHoursExemptRoles are never flagged for access outside business hours.
	OffHoursExemptRoles []string `koanf:"off_hours_exempt_roles"`
}

// PolicyConfig configures the policy engine.
type PolicyConfig struct {
	WeightedThreshold float64 `koanf:"weighted_threshold"`
}

// StorageConfig configures the Badger snapshot store.
type StorageConfig struct {
	// Path is the Badger directory. Ignored when InMemory is set. Env: STORAGE_PATH
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`

	// RestoreOnStart loads the named snapshot at startup when present.
	RestoreOnStart string `koanf:"restore_on_start"`
}

// SweepConfig configures the background expiry sweep.
type SweepConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// SupervisorConfig mirrors supervisor.TreeConfig.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}
