// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/bastion/internal/rbac"
)

// CreateRoleRequest is the body of POST /api/v1/roles. Listed permissions
// must already exist.
type CreateRoleRequest struct {
	ID          string   `json:"id" validate:"required,max=64,roleid"`
	Name        string   `json:"name" validate:"required,max=128"`
	Level       int      `json:"level" validate:"min=0,max=1000"`
	Description string   `json:"description" validate:"max=1024"`
	Permissions []string `json:"permissions" validate:"dive,permkey"`
}

// RedefinePermissionRequest is the body of PUT /api/v1/permissions/{permKey}.
type RedefinePermissionRequest struct {
	Name        string `json:"name" validate:"max=128"`
	Description string `json:"description" validate:"max=1024"`
	RiskTier    string `json:"risk_tier" validate:"omitempty,oneof=low medium high"`
}

// SetAttributesRequest is the body of PUT /api/v1/users/{userID}/attributes.
type SetAttributesRequest struct {
	Attributes map[string]any `json:"attributes"`
}

// ListRoles lists roles with their direct permissions.
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.svc.Graph().ListRoles()
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondList(w, r, roles)
}

// GetRole returns one role.
func (h *Handler) GetRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.svc.Graph().GetRole(chi.URLParam(r, "roleID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusOK, role)
}

// CreateRole adds a role.
func (h *Handler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var body CreateRoleRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	role, err := h.svc.CreateRole(r.Context(), actorFrom(r), rbac.Role{
		ID:          body.ID,
		Name:        body.Name,
		Level:       body.Level,
		Description: body.Description,
		Permissions: body.Permissions,
	})
	if errors.Is(err, rbac.ErrPermissionNotFound) {
		respondError(w, http.StatusBadRequest, "UNKNOWN_PERMISSION", err.Error(), nil)
		return
	}
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusCreated, role)
}

// UpdateRole changes role metadata.
func (h *Handler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	var body rbac.RoleUpdate
	if !decodeJSON(w, r, &body) {
		return
	}
	role, err := h.svc.UpdateRole(r.Context(), actorFrom(r), chi.URLParam(r, "roleID"), body)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusOK, role)
}

// DeleteRole removes a role and reports the users who lost it.
func (h *Handler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.DeleteRole(r.Context(), actorFrom(r), chi.URLParam(r, "roleID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if users == nil {
		users = []string{}
	}
	respondData(w, r, http.StatusOK, map[string]any{"affected_users": users})
}

// ListRoleUsers lists the users holding a role.
func (h *Handler) ListRoleUsers(w http.ResponseWriter, r *http.Request) {
	roleID := chi.URLParam(r, "roleID")
	if _, err := h.svc.Graph().GetRole(roleID); err != nil {
		respondDomainError(w, err)
		return
	}
	users, err := h.svc.Graph().GetUsersWithRole(roleID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondList(w, r, users)
}

// GrantPermission adds a permission to a role.
func (h *Handler) GrantPermission(w http.ResponseWriter, r *http.Request) {
	added, err := h.svc.GrantPermission(r.Context(), actorFrom(r), chi.URLParam(r, "roleID"), chi.URLParam(r, "permKey"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusOK, map[string]bool{"changed": added})
}

// RevokePermission removes a permission from a role.
func (h *Handler) RevokePermission(w http.ResponseWriter, r *http.Request) {
	removed, err := h.svc.RevokePermission(r.Context(), actorFrom(r), chi.URLParam(r, "roleID"), chi.URLParam(r, "permKey"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusOK, map[string]bool{"changed": removed})
}

// ListPermissions lists permission definitions.
func (h *Handler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	respondList(w, r, h.svc.Graph().ListPermissions())
}

// CreatePermission defines a permission.
func (h *Handler) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var body rbac.Permission
	if !decodeJSON(w, r, &body) {
		return
	}
	p, err := h.svc.CreatePermission(r.Context(), actorFrom(r), body)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusCreated, p)
}

// RedefinePermission replaces a permission's metadata. The key comes from
// the path.
func (h *Handler) RedefinePermission(w http.ResponseWriter, r *http.Request) {
	var body RedefinePermissionRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	p, err := h.svc.RedefinePermission(r.Context(), actorFrom(r), rbac.Permission{
		Key:         chi.URLParam(r, "permKey"),
		Name:        body.Name,
		Description: body.Description,
		RiskTier:    rbac.RiskTier(body.RiskTier),
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusOK, p)
}

// GetUserRoles lists a user's roles.
func (h *Handler) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.svc.Graph().GetUserRoles(chi.URLParam(r, "userID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondList(w, r, roles)
}

// AssignRole gives a user a role.
func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	added, err := h.svc.AssignRole(r.Context(), actorFrom(r), chi.URLParam(r, "userID"), chi.URLParam(r, "roleID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusOK, map[string]bool{"changed": added})
}

// RemoveRole takes a role from a user.
func (h *Handler) RemoveRole(w http.ResponseWriter, r *http.Request) {
	removed, err := h.svc.RemoveRole(r.Context(), actorFrom(r), chi.URLParam(r, "userID"), chi.URLParam(r, "roleID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusOK, map[string]bool{"changed": removed})
}

// GetUserAttributes returns a user's ABAC attributes.
func (h *Handler) GetUserAttributes(w http.ResponseWriter, r *http.Request) {
	attrs := h.svc.Graph().GetUserAttributes(chi.URLParam(r, "userID"))
	if attrs == nil {
		attrs = map[string]any{}
	}
	respondData(w, r, http.StatusOK, attrs)
}

// SetUserAttributes replaces a user's ABAC attributes.
func (h *Handler) SetUserAttributes(w http.ResponseWriter, r *http.Request) {
	var body SetAttributesRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := h.svc.SetUserAttributes(r.Context(), actorFrom(r), chi.URLParam(r, "userID"), body.Attributes); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetUserPermissions returns a user's effective permission keys.
func (h *Handler) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.svc.Graph().GetUserEffectivePermissions(chi.URLParam(r, "userID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondList(w, r, perms)
}

// GetUserScope returns a user's role scope.
func (h *Handler) GetUserScope(w http.ResponseWriter, r *http.Request) {
	scope, err := h.svc.Graph().CalculateUserScope(chi.URLParam(r, "userID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusOK, scope)
}
