// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package authz

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tomtom215/bastion/internal/logging"
	"github.com/tomtom215/bastion/internal/policy"
)

// Header names read by the middleware.
const (
	HeaderSessionID = "X-Session-ID"
	HeaderDeviceID  = "X-Device-ID"
)

// Middleware gates HTTP handlers on Service.Authorize.
type Middleware struct {
	svc *Service
}

// NewMiddleware creates authorization middleware for svc.
func NewMiddleware(svc *Service) *Middleware {
	return &Middleware{svc: svc}
}

// RequirePermissions admits a request only when the principal in its
// context holds perms under strategy. The admitting Decision is stored in
// the request context.
func (m *Middleware) RequirePermissions(strategy policy.Strategy, perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := m.svc.Authorize(r.Context(), RequestFromHTTP(r, strategy, perms))
			if !d.Allowed {
				WriteDenial(w, d)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithDecision(r.Context(), d)))
		})
	}
}

// Authorize wraps a single handler, requiring all of perms.
func (m *Middleware) Authorize(next http.HandlerFunc, perms ...string) http.HandlerFunc {
	return m.RequirePermissions(policy.StrategyAll, perms...)(next).ServeHTTP
}

// RequestFromHTTP builds an authorization request from r. The action is
// derived from the method and the resource is the URL path.
func RequestFromHTTP(r *http.Request, strategy policy.Strategy, perms []string) Request {
	return Request{
		Principal:   PrincipalFromContext(r.Context()),
		Permissions: perms,
		Strategy:    strategy,
		Action:      methodToAction(r.Method),
		Resource:    r.URL.Path,
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
		DeviceID:    r.Header.Get(HeaderDeviceID),
		SessionID:   r.Header.Get(HeaderSessionID),
		RequestID:   logging.RequestIDFromContext(r.Context()),
	}
}

// WriteDenial writes a JSON error for a denied decision. Rate limited
// responses carry Retry-After in whole seconds.
func WriteDenial(w http.ResponseWriter, d Decision) {
	status := HTTPStatus(d.Reason)
	if d.Reason == ReasonRateLimited && d.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := map[string]any{
		"error":  string(d.Reason),
		"detail": d.Detail,
	}
	if d.AuditID != "" {
		body["audit_id"] = d.AuditID
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("Failed to write denial")
	}
}

// methodToAction maps HTTP methods to actions.
func methodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return "read"
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return "write"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// clientIP returns the host part of RemoteAddr. Proxy headers are resolved
// by chi's RealIP middleware before this runs.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
