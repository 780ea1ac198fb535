// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

// Package metrics holds the Prometheus collectors for the authorization core.
// Collectors register on the default registry through promauto and are
// exposed by the API at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Authorization decisions
	AuthzDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_authz_decisions_total",
			Help: "Authorization decisions by outcome and reason",
		},
		[]string{"outcome", "reason", "strategy"},
	)

	AuthzDecisionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bastion_authz_decision_duration_seconds",
			Help:    "Time spent producing an authorization decision",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05},
		},
	)

	PolicyEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_policy_evaluations_total",
			Help: "Policy evaluations by effect and source (policy or fallback)",
		},
		[]string{"effect", "source"},
	)

	// Rate limiting
	RateLimitChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_ratelimit_checks_total",
			Help: "Rate limit checks by result",
		},
		[]string{"result"},
	)

	RateLimitBlocksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bastion_ratelimit_blocks_total",
			Help: "Principals placed into a temporary block",
		},
	)

	// Circuit breakers
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bastion_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Sessions
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bastion_sessions_active",
			Help: "Sessions currently tracked as active",
		},
	)

	SessionValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_session_validations_total",
			Help: "Session validations by result",
		},
		[]string{"result"},
	)

	// Smart cache
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_cache_hits_total",
			Help: "Smart cache hits",
		},
		[]string{"cache"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_cache_misses_total",
			Help: "Smart cache misses, including expired entries",
		},
		[]string{"cache"},
	)

	CacheHitRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bastion_cache_hit_rate",
			Help: "Smart cache hit ratio in [0,1]",
		},
		[]string{"cache"},
	)

	// Risk
	RiskScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bastion_risk_score",
			Help:    "Distribution of computed risk scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1},
		},
	)

	// Audit
	AuditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_audit_entries_total",
			Help: "Audit entries written by status",
		},
		[]string{"status"},
	)

	AuditEntriesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_audit_entries_dropped_total",
			Help: "Audit entries removed from memory by cap or retention",
		},
		[]string{"cause"},
	)

	IncidentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_security_incidents_total",
			Help: "Security incidents raised by type and severity",
		},
		[]string{"type", "severity"},
	)

	// Background sweep
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bastion_sweep_duration_seconds",
			Help:    "Duration of the background expiry sweep",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_sweep_removed_total",
			Help: "Items removed by the background sweep per structure",
		},
		[]string{"structure"},
	)

	// Admin API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bastion_api_requests_total",
			Help: "Admin API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bastion_api_request_duration_seconds",
			Help:    "Admin API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordDecision records an authorization decision.
func RecordDecision(allowed bool, reason, strategy string, duration time.Duration) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	if reason == "" {
		reason = "none"
	}
	AuthzDecisionsTotal.WithLabelValues(outcome, reason, strategy).Inc()
	AuthzDecisionDuration.Observe(duration.Seconds())
}

// RecordPolicyEvaluation records which effect won and whether a policy or
// the role graph fallback decided.
func RecordPolicyEvaluation(effect string, fromPolicy bool) {
	source := "fallback"
	if fromPolicy {
		source = "policy"
	}
	PolicyEvaluationsTotal.WithLabelValues(effect, source).Inc()
}

// RecordRateLimit records a limiter check; blocked is true only when the
// check placed the principal into a new block.
func RecordRateLimit(allowed, blocked bool) {
	if allowed {
		RateLimitChecksTotal.WithLabelValues("allowed").Inc()
	} else {
		RateLimitChecksTotal.WithLabelValues("rejected").Inc()
	}
	if blocked {
		RateLimitBlocksTotal.Inc()
	}
}

// RecordSessionValidation records a validation result ("valid" or a reason).
func RecordSessionValidation(result string) {
	SessionValidationsTotal.WithLabelValues(result).Inc()
}

// RecordCacheLookup records a smart cache lookup and refreshes the hit rate.
func RecordCacheLookup(cache string, hit bool, hitRate float64) {
	if hit {
		CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cache).Inc()
	}
	CacheHitRate.WithLabelValues(cache).Set(hitRate)
}

// RecordIncident records a newly raised security incident.
func RecordIncident(incidentType, severity string) {
	IncidentsTotal.WithLabelValues(incidentType, severity).Inc()
}

// RecordSweep records one background sweep pass.
func RecordSweep(duration time.Duration, removed map[string]int) {
	SweepDuration.Observe(duration.Seconds())
	for structure, n := range removed {
		if n > 0 {
			SweepRemovedTotal.WithLabelValues(structure).Add(float64(n))
		}
	}
}

// RecordAPIRequest records one admin API request. route is the chi route
// pattern, not the raw path, to keep label cardinality bounded.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
