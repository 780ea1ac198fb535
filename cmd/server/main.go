// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/bastion/internal/api"
	"github.com/tomtom215/bastion/internal/audit"
	"github.com/tomtom215/bastion/internal/auth"
	"github.com/tomtom215/bastion/internal/authz"
	"github.com/tomtom215/bastion/internal/cache"
	"github.com/tomtom215/bastion/internal/config"
	"github.com/tomtom215/bastion/internal/logging"
	"github.com/tomtom215/bastion/internal/policy"
	"github.com/tomtom215/bastion/internal/ratelimit"
	"github.com/tomtom215/bastion/internal/rbac"
	"github.com/tomtom215/bastion/internal/risk"
	"github.com/tomtom215/bastion/internal/session"
	"github.com/tomtom215/bastion/internal/storage"
	"github.com/tomtom215/bastion/internal/supervisor"
	"github.com/tomtom215/bastion/internal/supervisor/services"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("storage_path", cfg.Storage.Path).
		Bool("storage_in_memory", cfg.Storage.InMemory).
		Str("ratelimit_backend", cfg.RateLimit.Backend).
		Bool("jwt", cfg.Security.JWTSecret != "").
		Msg("Starting Bastion with supervisor tree")

	store, err := storage.Open(storage.Options{Path: cfg.Storage.Path, InMemory: cfg.Storage.InMemory})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing storage")
		}
	}()

	limiterStore, closeLimiter := initLimiterStore(cfg)
	defer closeLimiter()

	svc, err := initService(cfg, store, limiterStore)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize authorization service")
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	restoreOnStart(startCtx, svc, cfg.Storage.RestoreOnStart)
	if err := api.Bootstrap(startCtx, svc, cfg.Security.AdminPrincipal); err != nil {
		cancelStart()
		logging.Fatal().Err(err).Msg("Failed to bootstrap admin role")
	}
	cancelStart()
	if cfg.Security.AdminPrincipal == "" {
		logging.Warn().Msg("ADMIN_PRINCIPAL not set; assign the bastion-admin role through a snapshot import")
	}

	authenticator, err := initAuthenticator(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize authentication")
	}

	mw := api.DefaultChiMiddlewareConfig()
	mw.CORSAllowedOrigins = cfg.Security.CORSOrigins
	mw.RateLimitRequests = cfg.Security.AdminRateLimit
	mw.RateLimitWindow = cfg.Security.AdminRateWindow
	router := api.NewRouter(svc, api.RouterConfig{Middleware: mw, Authenticator: authenticator})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: cfg.Supervisor.FailureThreshold,
		FailureDecay:     cfg.Supervisor.FailureDecay,
		FailureBackoff:   cfg.Supervisor.FailureBackoff,
		ShutdownTimeout:  cfg.Supervisor.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}
	tree.AddCoreService(services.NewSweepService(svc, cfg.Sweep.Interval))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Received shutdown signal, waiting for supervisor to finish...")
		err = <-errCh
	case err = <-errCh:
		logging.Error().Msg("Supervisor tree stopped without a shutdown signal")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree stopped with error")
	}
	if report, reportErr := tree.UnstoppedServiceReport(); reportErr == nil {
		for _, u := range report {
			logging.Warn().Str("service", u.Name).Msg("Service did not stop in time")
		}
	}

	// A final sweep pushes expired entries to the archive before storage closes.
	removed := svc.Sweep(context.Background())
	logging.Info().Interface("swept", removed).Msg("Bastion stopped")
}

// initLimiterStore selects the rate limit backend. The returned func
// releases it.
func initLimiterStore(cfg *config.Config) (ratelimit.Store, func()) {
	if cfg.RateLimit.Backend != "redis" {
		return ratelimit.NewMemoryStore(), func() {}
	}

	rs := ratelimit.NewRedisStore(ratelimit.RedisConfig{
		Addr:     cfg.RateLimit.RedisAddr,
		Password: cfg.RateLimit.RedisPassword,
		DB:       cfg.RateLimit.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rs.Ping(ctx); err != nil {
		// The limiter fails closed while Redis is unreachable.
		logging.Warn().Err(err).Str("addr", cfg.RateLimit.RedisAddr).Msg("Redis not reachable at startup")
	} else {
		logging.Info().Str("addr", cfg.RateLimit.RedisAddr).Msg("Using Redis rate limit backend")
	}
	return rs, func() {
		if err := rs.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing Redis client")
		}
	}
}

// initService builds the components and composes them.
func initService(cfg *config.Config, store *storage.Store, limiterStore ratelimit.Store) (*authz.Service, error) {
	graph, err := rbac.NewGraph()
	if err != nil {
		return nil, fmt.Errorf("role graph: %w", err)
	}

	scorer := risk.NewScorer(risk.Config{
		HighThreshold:       cfg.Risk.HighThreshold,
		AddressHistory:      cfg.Risk.AddressHistory,
		AssessmentWindow:    cfg.Risk.AssessmentWindow,
		OffHoursExemptRoles: cfg.Risk.OffHoursExemptRoles,
	})

	auditOpts := []audit.Option{audit.WithAnalyzer(scorer)}
	if cfg.Audit.ArchiveDropped {
		auditOpts = append(auditOpts, audit.WithArchiver(store))
	}
	auditLog := audit.NewLogger(audit.Config{
		Retention:          cfg.Audit.Retention,
		MaxEntries:         cfg.Audit.MaxEntries,
		ReportWindow:       cfg.Audit.ReportWindow,
		BruteForceWindow:   cfg.Audit.BruteForceWindow,
		BruteForceAttempts: cfg.Audit.BruteForceAttempts,
	}, auditOpts...)

	limiter := ratelimit.New(ratelimit.Config{
		Window:        cfg.RateLimit.Window,
		MaxRequests:   cfg.RateLimit.MaxRequests,
		BlockDuration: cfg.RateLimit.BlockDuration,
		Multipliers:   cfg.RateLimit.Multipliers,
	}, limiterStore)

	permCache := cache.New(cache.Config{
		Name:       "permissions",
		DefaultTTL: cfg.Cache.DefaultTTL,
		MaxEntries: cfg.Cache.MaxEntries,
	})

	return authz.NewService(authz.Deps{
		Graph:     graph,
		Policies:  policy.NewEngine(graph, cfg.Policy.WeightedThreshold),
		Limiter:   limiter,
		Sessions:  session.NewManager(session.Config{Lifetime: cfg.Session.Lifetime, IdleTimeout: cfg.Session.IdleTimeout}),
		Risk:      scorer,
		Audit:     auditLog,
		Cache:     permCache,
		Snapshots: store,
	}, authz.Config{CacheTTL: cfg.Cache.DefaultTTL})
}

// restoreOnStart loads the named snapshot. A missing snapshot is not fatal
// so a fresh deployment can name the snapshot it will save later.
func restoreOnStart(ctx context.Context, svc *authz.Service, name string) {
	if name == "" {
		return
	}
	err := svc.RestoreSnapshot(ctx, authz.Actor{ID: "system"}, name)
	switch {
	case errors.Is(err, storage.ErrSnapshotNotFound):
		logging.Warn().Str("snapshot", name).Msg("Startup snapshot not found, starting empty")
	case err != nil:
		logging.Fatal().Err(err).Str("snapshot", name).Msg("Failed to restore startup snapshot")
	default:
		logging.Info().Str("snapshot", name).Msg("Restored startup snapshot")
	}
}

// initAuthenticator returns the JWT authenticator when a secret is
// configured and the trusted header authenticator otherwise.
func initAuthenticator(cfg *config.Config) (auth.Authenticator, error) {
	if cfg.Security.JWTSecret == "" {
		logging.Warn().
			Str("header", auth.HeaderPrincipal).
			Msg("JWT_SECRET not set; trusting principal header, run behind an authenticating proxy")
		return auth.NewHeaderAuthenticator(""), nil
	}
	mgr, err := auth.NewJWTManager(&cfg.Security)
	if err != nil {
		return nil, err
	}
	return auth.NewJWTAuthenticator(mgr), nil
}
