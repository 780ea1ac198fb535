// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/bastion/internal/risk"
)

// AssessRequest is the body of POST /api/v1/risk/assess.
type AssessRequest struct {
	UserID  string       `json:"user_id" validate:"required,max=256"`
	Context risk.Context `json:"context"`

	// Record folds the access into the behavior profile after scoring.
	Record bool `json:"record"`
}

// AnomaliesRequest is the body of POST /api/v1/risk/anomalies.
type AnomaliesRequest struct {
	Observations []risk.Observation `json:"observations" validate:"required,min=1,max=1000"`
}

// AssessRisk scores one access context. Roles default to the user's
// current roles.
func (h *Handler) AssessRisk(w http.ResponseWriter, r *http.Request) {
	var body AssessRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	ctx := body.Context
	if ctx.Roles == nil {
		roles, err := h.svc.Graph().GetUserRoles(body.UserID)
		if err != nil {
			respondDomainError(w, err)
			return
		}
		ctx.Roles = roles
	}

	a := h.svc.Risk().CalculateRiskScore(body.UserID, ctx)
	if body.Record {
		h.svc.Risk().RecordAccess(body.UserID, ctx)
	}
	respondData(w, r, http.StatusOK, map[string]any{
		"assessment":        a,
		"exceeds_threshold": h.svc.Risk().ExceedsThreshold(a),
	})
}

// DetectAnomalies scores a batch of observations without changing any
// profile and returns those at medium or above.
func (h *Handler) DetectAnomalies(w http.ResponseWriter, r *http.Request) {
	var body AnomaliesRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	respondList(w, r, h.svc.Risk().DetectAnomalies(body.Observations))
}

// RecentAssessments returns a user's stored assessments.
func (h *Handler) RecentAssessments(w http.ResponseWriter, r *http.Request) {
	respondList(w, r, h.svc.Risk().RecentAssessments(chi.URLParam(r, "userID")))
}
