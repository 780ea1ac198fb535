// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/bastion/internal/auth"
	"github.com/tomtom215/bastion/internal/authz"
	"github.com/tomtom215/bastion/internal/policy"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// Middleware configures CORS and the per-IP admin limit. Nil uses defaults.
	Middleware *ChiMiddlewareConfig

	// Authenticator resolves the caller. Nil trusts the X-Principal-ID header.
	Authenticator auth.Authenticator
}

// Router wires handlers, authentication and authorization gates.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
	authn         auth.Authenticator
	gate          *authz.Middleware
}

// NewRouter creates the admin API router for svc.
func NewRouter(svc *authz.Service, cfg RouterConfig) *Router {
	authn := cfg.Authenticator
	if authn == nil {
		authn = auth.NewHeaderAuthenticator("")
	}
	return &Router{
		handler:       NewHandler(svc),
		chiMiddleware: NewChiMiddleware(cfg.Middleware),
		authn:         authn,
		gate:          authz.NewMiddleware(svc),
	}
}

// need gates a route on every one of perms.
func (router *Router) need(perms ...string) func(http.Handler) http.Handler {
	return router.gate.RequirePermissions(policy.StrategyAll, perms...)
}

func unauthorized(w http.ResponseWriter, _ *http.Request, err error) {
	msg := "invalid credentials"
	if errors.Is(err, auth.ErrExpiredCredentials) {
		msg = "credentials expired"
	}
	respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", msg, nil)
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	h := router.handler
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())
	r.Use(PrometheusMetrics)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		// /metrics negotiates its own encoding, so compression stays here.
		r.Use(chimiddleware.Compress(5, "application/json", "text/csv", "text/plain"))
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimit())
			r.Use(auth.Middleware(router.authn, unauthorized))
			router.adminRoutes(r)
		})
	})

	return r
}

// adminRoutes registers every route that needs a principal.
func (router *Router) adminRoutes(r chi.Router) {
	h := router.handler

	r.With(router.need()).Get("/me", h.WhoAmI)
	r.With(router.need(PermAuthorize)).Post("/authorize", h.Authorize)

	r.Route("/sessions", func(r chi.Router) {
		r.With(router.need(PermSessionsManage)).Post("/", h.CreateSession)
		r.With(router.need(PermSessionsRead)).Get("/{sessionID}/validate", h.ValidateSession)
		r.With(router.need(PermSessionsManage)).Delete("/{sessionID}", h.RevokeSession)
	})

	r.Route("/roles", func(r chi.Router) {
		r.With(router.need(PermRBACRead)).Get("/", h.ListRoles)
		r.With(router.need(PermRBACManage)).Post("/", h.CreateRole)
		r.With(router.need(PermRBACRead)).Get("/{roleID}", h.GetRole)
		r.With(router.need(PermRBACManage)).Put("/{roleID}", h.UpdateRole)
		r.With(router.need(PermRBACManage)).Delete("/{roleID}", h.DeleteRole)
		r.With(router.need(PermRBACRead)).Get("/{roleID}/users", h.ListRoleUsers)
		r.With(router.need(PermRBACManage)).Put("/{roleID}/permissions/{permKey}", h.GrantPermission)
		r.With(router.need(PermRBACManage)).Delete("/{roleID}/permissions/{permKey}", h.RevokePermission)
	})

	r.Route("/permissions", func(r chi.Router) {
		r.With(router.need(PermRBACRead)).Get("/", h.ListPermissions)
		r.With(router.need(PermRBACManage)).Post("/", h.CreatePermission)
		r.With(router.need(PermRBACManage)).Put("/{permKey}", h.RedefinePermission)
	})

	r.Route("/users/{userID}", func(r chi.Router) {
		r.With(router.need(PermRBACRead)).Get("/roles", h.GetUserRoles)
		r.With(router.need(PermRBACManage)).Put("/roles/{roleID}", h.AssignRole)
		r.With(router.need(PermRBACManage)).Delete("/roles/{roleID}", h.RemoveRole)
		r.With(router.need(PermRBACRead)).Get("/attributes", h.GetUserAttributes)
		r.With(router.need(PermRBACManage)).Put("/attributes", h.SetUserAttributes)
		r.With(router.need(PermRBACRead)).Get("/permissions", h.GetUserPermissions)
		r.With(router.need(PermRBACRead)).Get("/scope", h.GetUserScope)
		r.With(router.need(PermSessionsRead)).Get("/sessions", h.ListUserSessions)
		r.With(router.need(PermSessionsManage)).Delete("/sessions", h.RevokeUserSessions)
		r.With(router.need(PermAuditRead)).Get("/history", h.GetUserAccessHistory)
		r.With(router.need(PermRiskRead)).Get("/risk", h.RecentAssessments)
	})

	r.Route("/policies", func(r chi.Router) {
		r.With(router.need(PermPoliciesRead)).Get("/", h.ListPolicies)
		r.With(router.need(PermPoliciesManage)).Post("/", h.CreatePolicy)
		r.With(router.need(PermPoliciesManage)).Post("/conditional", h.CreateConditionalRule)
		r.With(router.need(PermPoliciesRead)).Get("/{policyID}", h.GetPolicy)
		r.With(router.need(PermPoliciesManage)).Delete("/{policyID}", h.DeletePolicy)
		r.With(router.need(PermPoliciesManage)).Put("/{policyID}/enabled", h.SetPolicyEnabled)
	})

	r.Route("/audit", func(r chi.Router) {
		r.With(router.need(PermAuditRead)).Get("/", h.QueryAuditLog)
		r.With(router.need(PermAuditRead)).Get("/report", h.AuditReport)
		r.With(router.need(PermAuditRead)).Get("/compliance", h.ComplianceReport)
		r.With(router.need(PermAuditRead)).Get("/summary", h.SecuritySummary)
		r.With(router.need(PermAuditRead)).Get("/export", h.ExportAuditLog)
		r.With(router.need(PermAuditWrite)).Post("/auth-events", h.RecordAuthEvent)
	})

	r.Route("/incidents", func(r chi.Router) {
		r.With(router.need(PermAuditRead)).Get("/", h.ListIncidents)
		r.With(router.need(PermIncidentsManage)).Post("/", h.ReportIncident)
		r.With(router.need(PermAuditRead)).Get("/{incidentID}", h.GetIncident)
		r.With(router.need(PermIncidentsManage)).Put("/{incidentID}/status", h.UpdateIncidentStatus)
	})

	r.Route("/risk", func(r chi.Router) {
		r.Use(router.need(PermRiskRead))
		r.Post("/assess", h.AssessRisk)
		r.Post("/anomalies", h.DetectAnomalies)
	})

	r.Group(func(r chi.Router) {
		r.Use(router.need(PermSnapshotsManage))
		r.Get("/snapshots", h.ListSnapshots)
		r.Post("/snapshots", h.SaveSnapshot)
		r.Post("/snapshots/{name}/restore", h.RestoreSnapshot)
		r.Get("/export", h.Export)
		r.Post("/import", h.Import)
	})
}
