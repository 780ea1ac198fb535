// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/bastion/internal/storage"
)

// SaveSnapshotRequest is the body of POST /api/v1/snapshots.
type SaveSnapshotRequest struct {
	Name string `json:"name" validate:"required,max=128,excludesall=/\\"`
}

// ImportRequest is the body of POST /api/v1/import.
type ImportRequest struct {
	Snapshot *storage.Snapshot `json:"snapshot" validate:"required"`
}

// ListSnapshots lists stored snapshots.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	infos, err := h.svc.ListSnapshots(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondList(w, r, infos)
}

// SaveSnapshot persists the current graph and policies under a name.
func (h *Handler) SaveSnapshot(w http.ResponseWriter, r *http.Request) {
	var body SaveSnapshotRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	info, err := h.svc.SaveSnapshot(r.Context(), actorFrom(r), body.Name)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusCreated, info)
}

// RestoreSnapshot replaces the graph and policies with a stored snapshot.
func (h *Handler) RestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RestoreSnapshot(r.Context(), actorFrom(r), chi.URLParam(r, "name")); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export returns the current graph and policies without storing them.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Export(r.Context(), actorFrom(r))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusOK, snap)
}

// Import replaces the graph and policies with a posted snapshot.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	var body ImportRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.svc.Import(r.Context(), actorFrom(r), body.Snapshot); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
