// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/bastion/internal/session"
)

// CreateSessionRequest is the body of POST /api/v1/sessions.
type CreateSessionRequest struct {
	UserID    string `json:"user_id" validate:"required,max=256"`
	IP        string `json:"ip" validate:"omitempty,ip"`
	UserAgent string `json:"user_agent" validate:"max=512"`
	DeviceID  string `json:"device_id" validate:"max=256"`
}

// CreateSessionResponse returns the raw id once. Only the handle is kept.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	Handle    string `json:"handle"`
}

// CreateSession opens a session for a user.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var body CreateSessionRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	actor := actorFrom(r)
	md := session.Metadata{IP: body.IP, UserAgent: body.UserAgent, DeviceID: body.DeviceID}
	if md.IP == "" {
		md.IP = actor.IP
	}

	id, err := h.svc.CreateSession(r.Context(), actor, body.UserID, md)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusCreated, CreateSessionResponse{
		SessionID: id,
		Handle:    session.HandleFor(id),
	})
}

// ValidateSession reports whether a session id is usable and touches it.
func (h *Handler) ValidateSession(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, h.svc.Sessions().ValidateSession(chi.URLParam(r, "sessionID")))
}

// RevokeSession deactivates one session.
func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RevokeSession(r.Context(), actorFrom(r), chi.URLParam(r, "sessionID")); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUserSessions lists a user's sessions by handle.
func (h *Handler) ListUserSessions(w http.ResponseWriter, r *http.Request) {
	respondList(w, r, h.svc.Sessions().ListUserSessions(chi.URLParam(r, "userID")))
}

// RevokeUserSessions deactivates every session of a user.
func (h *Handler) RevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	n := h.svc.RevokeUserSessions(r.Context(), actorFrom(r), chi.URLParam(r, "userID"))
	respondData(w, r, http.StatusOK, map[string]int{"revoked": n})
}
