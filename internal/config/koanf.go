// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/bastion/config.yaml",
	"/etc/bastion/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8086,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Security: SecurityConfig{
			AdminRateLimit:  120,
			AdminRateWindow: time.Minute,
		},
		RateLimit: RateLimitConfig{
			Window:        60 * time.Second,
			MaxRequests:   100,
			BlockDuration: 300 * time.Second,
			Multipliers: map[string]float64{
				"admin":         5,
				"bastion-admin": 5,
				"manager":       2,
				"user":    1,
				"guest":   0.5,
			},
			Backend:   "memory",
			RedisAddr: "127.0.0.1:6379",
		},
		Session: SessionConfig{
			Lifetime:    time.Hour,
			IdleTimeout: 15 * time.Minute,
		},
		Cache: CacheConfig{
			DefaultTTL: 5 * time.Minute,
			MaxEntries: 10000,
		},
		Audit: AuditConfig{
			Retention:          90 * 24 * time.Hour,
			MaxEntries:         100000,
			ReportWindow:       30 * 24 * time.Hour,
			BruteForceWindow:   time.Hour,
			BruteForceAttempts: 5,
			ArchiveDropped:     true,
		},
		Risk: RiskConfig{
			HighThreshold:       0.80,
			AddressHistory:      100,
			AssessmentWindow:    24 * time.Hour,
			OffHoursExemptRoles: []string{"admin", "manager", "bastion-admin"},
		},
		Policy: PolicyConfig{
			WeightedThreshold: 0.7,
		},
		Storage: StorageConfig{
			Path: "/data/bastion",
		},
		Sweep: SweepConfig{
			Interval: 24 * time.Hour,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file and
// the environment, then validates it.
func Load() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile is Load with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// RATE_LIMIT_MAX_REQUESTS -> ratelimit.max_requests
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"security.cors_origins",
	"risk.off_hours_exempt_roles",
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(path, out); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"jwt_secret":        "security.jwt_secret",
	"jwt_issuer":        "security.jwt_issuer",
	"cors_origins":      "security.cors_origins",
	"admin_rate_limit":  "security.admin_rate_limit",
	"admin_rate_window": "security.admin_rate_window",
	"admin_principal":   "security.admin_principal",

	"rate_limit_window":         "ratelimit.window",
	"rate_limit_max_requests":   "ratelimit.max_requests",
	"rate_limit_block_duration": "ratelimit.block_duration",
	"rate_limit_backend":        "ratelimit.backend",
	"redis_addr":                "ratelimit.redis_addr",
	"redis_password":            "ratelimit.redis_password",
	"redis_db":                  "ratelimit.redis_db",

	"session_lifetime":     "session.lifetime",
	"session_idle_timeout": "session.idle_timeout",

	"cache_default_ttl": "cache.default_ttl",
	"cache_max_entries": "cache.max_entries",

	"audit_retention":            "audit.retention",
	"audit_max_entries":          "audit.max_entries",
	"audit_report_window":        "audit.report_window",
	"audit_brute_force_window":   "audit.brute_force_window",
	"audit_brute_force_attempts": "audit.brute_force_attempts",
	"audit_archive_dropped":      "audit.archive_dropped",

	"risk_high_threshold":         "risk.high_threshold",
	"risk_address_history":        "risk.address_history",
	"risk_off_hours_exempt_roles": "risk.off_hours_exempt_roles",

	"policy_weighted_threshold": "policy.weighted_threshold",

	"storage_path":             "storage.path",
	"storage_in_memory":        "storage.in_memory",
	"storage_restore_on_start": "storage.restore_on_start",

	"sweep_interval": "sweep.interval",
}

// envTransformFunc maps known environment variables to koanf paths.
// Unknown variables map to "" and are ignored.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
