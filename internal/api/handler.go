// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/bastion/internal/authz"
)

// Handler serves the admin API on top of the authorization service.
type Handler struct {
	svc       *authz.Service
	startTime time.Time
}

// NewHandler creates a handler for svc.
func NewHandler(svc *authz.Service) *Handler {
	return &Handler{svc: svc, startTime: time.Now()}
}

// actorFrom describes the caller of an administrative request.
func actorFrom(r *http.Request) authz.Actor {
	req := authz.RequestFromHTTP(r, "", nil)
	return authz.Actor{
		ID:        req.Principal,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		SessionID: req.SessionID,
		RequestID: req.RequestID,
	}
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status         string  `json:"status"`
	Uptime         string  `json:"uptime"`
	Roles          int     `json:"roles"`
	Permissions    int     `json:"permissions"`
	Policies       int     `json:"policies"`
	ActiveSessions int     `json:"active_sessions"`
	AuditEntries   int     `json:"audit_entries"`
	OpenIncidents  int     `json:"open_incidents"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
}

// Health reports liveness and component sizes. It never requires a principal.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:         "healthy",
		Uptime:         time.Since(h.startTime).Round(time.Second).String(),
		Permissions:    len(h.svc.Graph().ListPermissions()),
		Policies:       h.svc.Policies().Len(),
		ActiveSessions: h.svc.Sessions().ActiveCount(),
		AuditEntries:   h.svc.Audit().Len(),
		OpenIncidents:  h.svc.Audit().OpenIncidentCount(),
		CacheHitRate:   h.svc.Cache().HitRate(),
	}
	if roles, err := h.svc.Graph().ListRoles(); err == nil {
		resp.Roles = len(roles)
	} else {
		resp.Status = "degraded"
	}
	respondData(w, r, http.StatusOK, resp)
}
