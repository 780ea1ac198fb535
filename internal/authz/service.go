// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

/*
service.go - Authorization Service

The Service is the single object constructed at startup that composes the
role graph, policy engine, rate limiter, session manager, risk scorer,
audit log and permission cache. Request handlers receive it by reference.

Authorize sequencing is fixed:
  - identity: an empty principal is denied with NoIdentity
  - rate limit: a blocked principal is denied with RateLimited
  - session: when a session id is supplied it must validate and belong to
    the principal, otherwise SessionInvalid
  - permissions: the policy engine checks the requirement by strategy;
    a miss is InsufficientPermissions, an explicit Deny is PolicyDenied
  - on allow: risk is scored, an incident is raised at or above the high
    threshold, success is audited and the access is folded into the
    behavior profile

Every branch writes exactly one audit entry. Panics and backend errors
become InternalError, are audited, and deny.
*/

package authz

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/tomtom215/bastion/internal/audit"
	"github.com/tomtom215/bastion/internal/cache"
	"github.com/tomtom215/bastion/internal/logging"
	"github.com/tomtom215/bastion/internal/metrics"
	"github.com/tomtom215/bastion/internal/policy"
	"github.com/tomtom215/bastion/internal/ratelimit"
	"github.com/tomtom215/bastion/internal/rbac"
	"github.com/tomtom215/bastion/internal/risk"
	"github.com/tomtom215/bastion/internal/session"
)

// Reason explains a denial. It is empty on allow.
type Reason string

const (
	ReasonNoIdentity              Reason = "NoIdentity"
	ReasonRateLimited             Reason = "RateLimited"
	ReasonInsufficientPermissions Reason = "InsufficientPermissions"
	ReasonPolicyDenied            Reason = "PolicyDenied"
	ReasonSessionInvalid          Reason = "SessionInvalid"
	ReasonInternalError           Reason = "InternalError"
)

// HTTPStatus maps a decision reason to the status the web layer should
// return.
func HTTPStatus(r Reason) int {
	switch r {
	case "":
		return http.StatusOK
	case ReasonNoIdentity, ReasonSessionInvalid:
		return http.StatusUnauthorized
	case ReasonRateLimited:
		return http.StatusTooManyRequests
	case ReasonInsufficientPermissions, ReasonPolicyDenied:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// Request is one authorization question.
type Request struct {
	Principal   string             `json:"principal"`
	Permissions []string           `json:"permissions"`
	Strategy    policy.Strategy    `json:"strategy,omitempty"`
	Weights     map[string]float64 `json:"weights,omitempty"`
	Threshold   float64            `json:"threshold,omitempty"`

	// Action and Resource describe the operation being gated, typically
	// the HTTP method and path.
	Action   string `json:"action,omitempty"`
	Resource string `json:"resource,omitempty"`

	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Sensitive flags the operation for the risk scorer.
	Sensitive bool `json:"sensitive,omitempty"`

	// Attributes are exposed to policy conditions as context.<key>.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed              bool                `json:"allowed"`
	Reason               Reason              `json:"reason,omitempty"`
	Detail               string              `json:"detail,omitempty"`
	Principal            string              `json:"principal,omitempty"`
	EffectivePermissions []string            `json:"effective_permissions"`
	Scope                *rbac.Scope         `json:"scope,omitempty"`
	RiskScore            float64             `json:"risk_score"`
	RiskLevel            risk.Level          `json:"risk_level,omitempty"`
	RiskFactors          []risk.Factor       `json:"risk_factors,omitempty"`
	Check                *policy.CheckResult `json:"check,omitempty"`
	RetryAfter           time.Duration       `json:"retry_after,omitempty"`
	SessionReason        session.Reason      `json:"session_reason,omitempty"`
	IncidentID           string              `json:"incident_id,omitempty"`
	AuditID              string              `json:"audit_id,omitempty"`
}

// Deps are the components the service composes. Cache and Snapshots are
// optional.
type Deps struct {
	Graph     *rbac.Graph
	Policies  *policy.Engine
	Limiter   *ratelimit.Limiter
	Sessions  *session.Manager
	Risk      *risk.Scorer
	Audit     *audit.Logger
	Cache     cache.Cacher
	Snapshots SnapshotStore
}

// Config holds service tuning.
type Config struct {
	// CacheTTL bounds how long effective permissions and scope are memoized.
	CacheTTL time.Duration
}

// DefaultConfig returns a 5 minute cache TTL.
func DefaultConfig() Config {
	return Config{CacheTTL: 5 * time.Minute}
}

// Service is the authorization façade.
type Service struct {
	graph     *rbac.Graph
	policies  *policy.Engine
	limiter   *ratelimit.Limiter
	sessions  *session.Manager
	risk      *risk.Scorer
	audit     *audit.Logger
	cache     cache.Cacher
	snapshots SnapshotStore
	config    Config
	now       func() time.Time
}

// NewService wires the components together. The cache is subscribed to
// graph changes so memoized permissions never outlive a mutation.
func NewService(deps Deps, cfg Config) (*Service, error) {
	switch {
	case deps.Graph == nil:
		return nil, errors.New("authz: graph is required")
	case deps.Policies == nil:
		return nil, errors.New("authz: policy engine is required")
	case deps.Limiter == nil:
		return nil, errors.New("authz: rate limiter is required")
	case deps.Sessions == nil:
		return nil, errors.New("authz: session manager is required")
	case deps.Risk == nil:
		return nil, errors.New("authz: risk scorer is required")
	case deps.Audit == nil:
		return nil, errors.New("authz: audit logger is required")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	if deps.Cache == nil {
		deps.Cache = cache.New(cache.Config{Name: "permissions", DefaultTTL: cfg.CacheTTL})
	}

	s := &Service{
		graph:     deps.Graph,
		policies:  deps.Policies,
		limiter:   deps.Limiter,
		sessions:  deps.Sessions,
		risk:      deps.Risk,
		audit:     deps.Audit,
		cache:     deps.Cache,
		snapshots: deps.Snapshots,
		config:    cfg,
		now:       time.Now,
	}
	s.graph.OnChange(s.invalidate)
	return s, nil
}

// Graph returns the role/permission graph.
func (s *Service) Graph() *rbac.Graph { return s.graph }

// Policies returns the policy engine.
func (s *Service) Policies() *policy.Engine { return s.policies }

// Sessions returns the session manager.
func (s *Service) Sessions() *session.Manager { return s.sessions }

// Risk returns the risk scorer.
func (s *Service) Risk() *risk.Scorer { return s.risk }

// Audit returns the audit logger.
func (s *Service) Audit() *audit.Logger { return s.audit }

// Limiter returns the rate limiter.
func (s *Service) Limiter() *ratelimit.Limiter { return s.limiter }

// Cache returns the permission cache.
func (s *Service) Cache() cache.Cacher { return s.cache }

// Sweep runs one maintenance pass over every component and returns the
// number of items removed per component.
func (s *Service) Sweep(ctx context.Context) map[string]int {
	start := time.Now()
	removed := map[string]int{
		"sessions": s.sessions.Sweep(),
		"cache":    s.cache.Sweep(),
		"risk":     s.risk.Sweep(),
	}
	n, err := s.limiter.Sweep(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("Rate limiter sweep failed")
	}
	removed["ratelimit"] = n
	audited := s.audit.Sweep(ctx)
	removed["audit"] = audited.Entries
	removed["incidents"] = audited.Incidents
	metrics.RecordSweep(time.Since(start), removed)
	return removed
}

// Authorize decides req. It never returns an allow on error.
func (s *Service) Authorize(ctx context.Context, req Request) (d Decision) {
	start := time.Now()
	strategy := req.Strategy
	if strategy == "" {
		strategy = policy.StrategyAll
	}
	defer func() {
		if r := recover(); r != nil {
			d = s.internalError(ctx, req, fmt.Errorf("panic during authorization: %v", r))
		}
		metrics.RecordDecision(d.Allowed, string(d.Reason), string(strategy), time.Since(start))
	}()

	now := s.now()
	d = Decision{Principal: req.Principal, EffectivePermissions: []string{}}

	if req.Principal == "" {
		d.Reason = ReasonNoIdentity
		d.Detail = "no principal supplied"
		d.AuditID = s.auditDecision(ctx, req, audit.EventAccessDenied, audit.StatusFailure, d, nil)
		return d
	}

	roles, err := s.graph.GetUserRoles(req.Principal)
	if err != nil {
		return s.internalError(ctx, req, fmt.Errorf("role lookup: %w", err))
	}

	rl, err := s.limiter.CheckRateLimit(ctx, req.Principal, roles)
	if err != nil {
		return s.internalError(ctx, req, fmt.Errorf("rate limit: %w", err))
	}
	if !rl.Allowed {
		d.Reason = ReasonRateLimited
		d.RetryAfter = rl.RetryAfter
		d.Detail = fmt.Sprintf("retry after %s", rl.RetryAfter)
		d.AuditID = s.auditDecision(ctx, req, audit.EventRateLimited, audit.StatusFailure, d, roles)
		return d
	}

	if req.SessionID != "" {
		v := s.sessions.ValidateSession(req.SessionID)
		switch {
		case !v.Valid:
			d.Reason = ReasonSessionInvalid
			d.SessionReason = v.Reason
			d.Detail = "session " + string(v.Reason)
		case v.Session.UserID != req.Principal:
			d.Reason = ReasonSessionInvalid
			d.Detail = "session belongs to another principal"
		}
		if d.Reason != "" {
			d.AuditID = s.auditDecision(ctx, req, audit.EventSessionInvalid, audit.StatusFailure, d, roles)
			return d
		}
	}

	check, err := s.policies.Check(req.Principal, policy.Requirement{
		Permissions: req.Permissions,
		Strategy:    strategy,
		Weights:     req.Weights,
		Threshold:   req.Threshold,
	}, s.policyContext(req, now))
	if err != nil {
		return s.internalError(ctx, req, fmt.Errorf("policy check: %w", err))
	}
	d.Check = &check

	perms, err := s.effectivePermissions(req.Principal)
	if err != nil {
		return s.internalError(ctx, req, fmt.Errorf("effective permissions: %w", err))
	}
	d.EffectivePermissions = perms

	if !check.Allowed {
		d.Reason = ReasonInsufficientPermissions
		d.Detail = "missing " + strings.Join(check.Denied, ", ")
		if check.DeniedByPolicy {
			d.Reason = ReasonPolicyDenied
			d.Detail = "denied by policy " + check.DenyPolicyID
		}
		d.AuditID = s.auditDecision(ctx, req, audit.EventAccessDenied, audit.StatusFailure, d, roles)
		logging.Debug().
			Str("principal", req.Principal).
			Strs("denied", check.Denied).
			Str("reason", string(d.Reason)).
			Msg("Access denied")
		return d
	}

	scope, err := s.scope(req.Principal)
	if err != nil {
		return s.internalError(ctx, req, fmt.Errorf("scope: %w", err))
	}
	d.Scope = &scope

	rctx := risk.Context{
		Action:    auditAction(req),
		Resource:  req.Resource,
		IP:        req.IP,
		DeviceID:  req.DeviceID,
		Roles:     roles,
		Sensitive: req.Sensitive || s.touchesHighRisk(req.Permissions),
		Time:      now,
	}
	assessment := s.risk.CalculateRiskScore(req.Principal, rctx)
	d.Allowed = true
	d.RiskScore = assessment.Score
	d.RiskLevel = assessment.Level
	d.RiskFactors = assessment.Factors

	if s.risk.ExceedsThreshold(assessment) {
		inc, err := s.audit.ReportSecurityIncident(audit.Incident{
			Type:      audit.IncidentHighRiskAccess,
			UserID:    req.Principal,
			Action:    rctx.Action,
			Resource:  req.Resource,
			Timestamp: now,
			Details: map[string]any{
				"risk_score": assessment.Score,
				"risk_level": string(assessment.Level),
				"factors":    assessment.Factors,
				"ip":         req.IP,
			},
		})
		if err != nil {
			logging.Error().Err(err).Str("principal", req.Principal).Msg("Failed to raise high risk incident")
		} else {
			d.IncidentID = inc.ID
		}
	}

	d.AuditID = s.auditDecision(ctx, req, audit.EventAccessGranted, audit.StatusSuccess, d, roles)
	s.risk.RecordAccess(req.Principal, rctx)
	return d
}

// internalError audits a failed evaluation and returns a closed decision.
func (s *Service) internalError(ctx context.Context, req Request, err error) Decision {
	logging.Error().Err(err).Str("principal", req.Principal).Msg("Authorization failed")
	d := Decision{
		Principal:            req.Principal,
		Reason:               ReasonInternalError,
		Detail:               "internal error",
		EffectivePermissions: []string{},
	}
	func() {
		// The audit write must not turn a handled failure into a second panic.
		defer func() {
			if r := recover(); r != nil {
				logging.Error().Interface("panic", r).Msg("Audit write failed during internal error")
			}
		}()
		d.AuditID = s.auditDecision(ctx, req, audit.EventInternalError, audit.StatusFailure, d, nil)
	}()
	return d
}

// auditDecision writes the decision entry and returns its id.
func (s *Service) auditDecision(ctx context.Context, req Request, typ audit.EventType, status audit.Status, d Decision, roles []string) string {
	details := map[string]any{
		"permissions": req.Permissions,
	}
	if d.Reason != "" {
		details["reason"] = string(d.Reason)
	}
	if d.Detail != "" {
		details["detail"] = d.Detail
	}
	if d.Check != nil {
		details["strategy"] = string(d.Check.Strategy)
		details["ratio"] = d.Check.Ratio
	}
	if d.Allowed {
		details["risk_score"] = d.RiskScore
		details["risk_level"] = string(d.RiskLevel)
	}

	e, err := s.audit.LogAuditEvent(ctx, audit.Entry{
		Type:      typ,
		UserID:    req.Principal,
		Roles:     roles,
		Action:    auditAction(req),
		Resource:  req.Resource,
		Status:    status,
		Context: audit.EntryContext{
			IP:        req.IP,
			UserAgent: req.UserAgent,
			SessionID: req.SessionID,
			RequestID: req.RequestID,
		},
		Tags:    []string{"authorize"},
		Details: details,
	})
	if err != nil {
		logging.Error().Err(err).Str("principal", req.Principal).Msg("Failed to write audit entry")
		return ""
	}
	return e.ID
}

// auditAction names the audited operation: the caller's action, else the
// required permission keys.
func auditAction(req Request) string {
	if req.Action != "" {
		return req.Action
	}
	if len(req.Permissions) > 0 {
		return strings.Join(req.Permissions, ",")
	}
	return "authorize"
}

// policyContext exposes request details to policy conditions under context.*.
func (s *Service) policyContext(req Request, now time.Time) map[string]any {
	ctx := make(map[string]any, len(req.Attributes)+8)
	for k, v := range req.Attributes {
		ctx[k] = v
	}
	ctx["ip"] = req.IP
	ctx["user_agent"] = req.UserAgent
	ctx["device_id"] = req.DeviceID
	ctx["session_id"] = req.SessionID
	ctx["sensitive"] = req.Sensitive
	ctx["hour"] = now.Hour()
	ctx["weekday"] = now.Weekday().String()
	if req.Resource != "" {
		ctx["path"] = req.Resource
	}
	return ctx
}

// touchesHighRisk reports whether any required permission is high risk.
func (s *Service) touchesHighRisk(keys []string) bool {
	for _, k := range keys {
		if p, err := s.graph.GetPermission(k); err == nil && p.RiskTier == rbac.RiskHigh {
			return true
		}
	}
	return false
}

const (
	permsKeyPrefix = "perms:"
	scopeKeyPrefix = "scope:"
)

func (s *Service) effectivePermissions(userID string) ([]string, error) {
	v, err := s.cache.GetOrCompute(permsKeyPrefix+userID, s.config.CacheTTL, func() (any, error) {
		return s.graph.GetUserEffectivePermissions(userID)
	})
	if err != nil {
		return nil, err
	}
	perms := slices.Clone(v.([]string))
	if perms == nil {
		perms = []string{}
	}
	return perms, nil
}

func (s *Service) scope(userID string) (rbac.Scope, error) {
	v, err := s.cache.GetOrCompute(scopeKeyPrefix+userID, s.config.CacheTTL, func() (any, error) {
		return s.graph.CalculateUserScope(userID)
	})
	if err != nil {
		return rbac.Scope{}, err
	}
	sc := v.(rbac.Scope)
	sc.Roles = slices.Clone(sc.Roles)
	sc.Resources = slices.Clone(sc.Resources)
	sc.HighRiskPermissions = slices.Clone(sc.HighRiskPermissions)
	if sc.Attributes != nil {
		attrs := make(map[string]any, len(sc.Attributes))
		for k, v := range sc.Attributes {
			attrs[k] = v
		}
		sc.Attributes = attrs
	}
	return sc, nil
}

// invalidate drops memoized entries affected by a graph change.
func (s *Service) invalidate(c rbac.Change) {
	if c.UserID != "" {
		s.cache.Delete(permsKeyPrefix + c.UserID)
		s.cache.Delete(scopeKeyPrefix + c.UserID)
		return
	}
	s.cache.Clear()
}
