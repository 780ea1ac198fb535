// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package api

import (
	"net/http"

	"github.com/tomtom215/bastion/internal/authz"
	"github.com/tomtom215/bastion/internal/policy"
)

// AuthorizeRequest is the body of POST /api/v1/authorize. It is sent by an
// enforcement point asking about one of its own users, so the client
// fields describe that user's request, not the caller's.
type AuthorizeRequest struct {
	Principal   string             `json:"principal" validate:"max=256"`
	Permissions []string           `json:"permissions" validate:"max=64,dive,permkey"`
	Strategy    string             `json:"strategy" validate:"omitempty,oneof=all any weighted"`
	Weights     map[string]float64 `json:"weights,omitempty"`
	Threshold   float64            `json:"threshold" validate:"gte=0,lte=1"`
	Action      string             `json:"action" validate:"max=128"`
	Resource    string             `json:"resource" validate:"max=1024"`
	IP          string             `json:"ip" validate:"omitempty,ip"`
	UserAgent   string             `json:"user_agent" validate:"max=512"`
	DeviceID    string             `json:"device_id" validate:"max=256"`
	SessionID   string             `json:"session_id" validate:"max=256"`
	Sensitive   bool               `json:"sensitive"`
	Attributes  map[string]any     `json:"attributes,omitempty"`
}

// Authorize evaluates a request through the full pipeline and returns the
// decision with status 200 whether or not access is allowed. Principal
// defaults to the caller.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	var body AuthorizeRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	strategy := policy.StrategyAll
	if body.Strategy != "" {
		s, err := policy.ParseStrategy(body.Strategy)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		strategy = s
	}

	caller := actorFrom(r)
	req := authz.Request{
		Principal:   body.Principal,
		Permissions: body.Permissions,
		Strategy:    strategy,
		Weights:     body.Weights,
		Threshold:   body.Threshold,
		Action:      body.Action,
		Resource:    body.Resource,
		IP:          body.IP,
		UserAgent:   body.UserAgent,
		DeviceID:    body.DeviceID,
		SessionID:   body.SessionID,
		RequestID:   caller.RequestID,
		Sensitive:   body.Sensitive,
		Attributes:  body.Attributes,
	}
	if req.Principal == "" {
		req.Principal = caller.ID
	}
	if req.IP == "" {
		req.IP = caller.IP
	}

	respondData(w, r, http.StatusOK, h.svc.Authorize(r.Context(), req))
}

// WhoAmI returns the caller's role scope.
func (h *Handler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	principal := authz.PrincipalFromContext(r.Context())
	scope, err := h.svc.Graph().CalculateUserScope(principal)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusOK, scope)
}
