// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/bastion/internal/policy"
)

// CreatePolicyRequest is the body of POST /api/v1/policies. Enabled
// defaults to true.
type CreatePolicyRequest struct {
	ID          string            `json:"id" validate:"max=128"`
	Name        string            `json:"name" validate:"required,max=128"`
	Description string            `json:"description" validate:"max=1024"`
	Effect      policy.Effect     `json:"effect" validate:"required,oneof=allow deny"`
	Priority    int               `json:"priority"`
	Principal   policy.Principal  `json:"principal"`
	Actions     []string          `json:"actions" validate:"required,min=1,dive,required"`
	Resources   []string          `json:"resources" validate:"required,min=1,dive,required"`
	Condition   *policy.Condition `json:"condition,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
}

// SetEnabledRequest is the body of PUT /api/v1/policies/{policyID}/enabled.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ListPolicies lists policies in evaluation order.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	respondList(w, r, h.svc.Policies().GetAllPolicies())
}

// GetPolicy returns one policy.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Policies().GetPolicy(chi.URLParam(r, "policyID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusOK, p)
}

// CreatePolicy stores an ABAC policy.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var body CreatePolicyRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	enabled := true
	if body.Enabled != nil {
		enabled = *body.Enabled
	}
	p, err := h.svc.CreatePolicy(r.Context(), actorFrom(r), policy.Policy{
		ID:          body.ID,
		Name:        body.Name,
		Description: body.Description,
		Effect:      body.Effect,
		Priority:    body.Priority,
		Principal:   body.Principal,
		Actions:     body.Actions,
		Resources:   body.Resources,
		Condition:   body.Condition,
		Enabled:     enabled,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusCreated, p)
}

// CreateConditionalRule stores a policy built from a conditional rule.
func (h *Handler) CreateConditionalRule(w http.ResponseWriter, r *http.Request) {
	var body policy.ConditionalRule
	if !decodeJSON(w, r, &body) {
		return
	}
	p, err := h.svc.CreateConditionalRule(r.Context(), actorFrom(r), body)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusCreated, p)
}

// DeletePolicy removes a policy.
func (h *Handler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeletePolicy(r.Context(), actorFrom(r), chi.URLParam(r, "policyID")); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetPolicyEnabled toggles a policy.
func (h *Handler) SetPolicyEnabled(w http.ResponseWriter, r *http.Request) {
	var body SetEnabledRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.svc.SetPolicyEnabled(r.Context(), actorFrom(r), chi.URLParam(r, "policyID"), body.Enabled); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
