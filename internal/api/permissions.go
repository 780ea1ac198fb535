// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package api

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/tomtom215/bastion/internal/authz"
	"github.com/tomtom215/bastion/internal/logging"
	"github.com/tomtom215/bastion/internal/rbac"
)

// Permissions guarding the admin API.
const (
	PermAuthorize       = "authz:check"
	PermRBACRead        = "rbac:read"
	PermRBACManage      = "rbac:manage"
	PermPoliciesRead    = "policies:read"
	PermPoliciesManage  = "policies:manage"
	PermSessionsRead    = "sessions:read"
	PermSessionsManage  = "sessions:manage"
	PermAuditRead       = "audit:read"
	PermAuditWrite      = "audit:write"
	PermIncidentsManage = "incidents:manage"
	PermRiskRead        = "risk:read"
	PermSnapshotsManage = "snapshots:manage"
)

// AdminRoleID is the built-in role holding every admin API permission.
const AdminRoleID = "bastion-admin"

// AdminPermissions lists the admin API permissions with their risk tiers.
func AdminPermissions() []rbac.Permission {
	return []rbac.Permission{
		{Key: PermAuthorize, Name: "Evaluate authorization requests", RiskTier: rbac.RiskLow},
		{Key: PermRBACRead, Name: "Read roles and permissions", RiskTier: rbac.RiskLow},
		{Key: PermRBACManage, Name: "Manage roles and permissions", RiskTier: rbac.RiskHigh},
		{Key: PermPoliciesRead, Name: "Read policies", RiskTier: rbac.RiskLow},
		{Key: PermPoliciesManage, Name: "Manage policies", RiskTier: rbac.RiskHigh},
		{Key: PermSessionsRead, Name: "Inspect sessions", RiskTier: rbac.RiskLow},
		{Key: PermSessionsManage, Name: "Create and revoke sessions", RiskTier: rbac.RiskMedium},
		{Key: PermAuditRead, Name: "Read the audit log", RiskTier: rbac.RiskMedium},
		{Key: PermAuditWrite, Name: "Record authentication events", RiskTier: rbac.RiskMedium},
		{Key: PermIncidentsManage, Name: "Triage security incidents", RiskTier: rbac.RiskMedium},
		{Key: PermRiskRead, Name: "Run risk assessments", RiskTier: rbac.RiskLow},
		{Key: PermSnapshotsManage, Name: "Save and restore snapshots", RiskTier: rbac.RiskHigh},
	}
}

// Bootstrap makes sure the admin permissions and AdminRoleID exist and
// that principal holds the role. Existing entries are left untouched, so
// it is safe on every start. The changes are audited as actor "system".
func Bootstrap(ctx context.Context, svc *authz.Service, principal string) error {
	actor := authz.Actor{ID: "system"}
	g := svc.Graph()

	for _, p := range AdminPermissions() {
		if _, err := g.GetPermission(p.Key); err == nil {
			continue
		} else if !errors.Is(err, rbac.ErrPermissionNotFound) {
			return err
		}
		if _, err := svc.CreatePermission(ctx, actor, p); err != nil {
			return fmt.Errorf("bootstrap permission %s: %w", p.Key, err)
		}
	}

	role, err := g.GetRole(AdminRoleID)
	if errors.Is(err, rbac.ErrRoleNotFound) {
		role, err = svc.CreateRole(ctx, actor, rbac.Role{
			ID:          AdminRoleID,
			Name:        "Bastion Administrator",
			Level:       0,
			Description: "Full access to the admin API",
		})
		if err != nil {
			return fmt.Errorf("bootstrap admin role: %w", err)
		}
	} else if err != nil {
		return err
	}

	for _, p := range AdminPermissions() {
		if slices.Contains(role.Permissions, p.Key) {
			continue
		}
		if _, err := svc.GrantPermission(ctx, actor, AdminRoleID, p.Key); err != nil {
			return fmt.Errorf("bootstrap grant %s: %w", p.Key, err)
		}
	}

	if principal == "" {
		return nil
	}
	added, err := svc.AssignRole(ctx, actor, principal, AdminRoleID)
	if err != nil {
		return fmt.Errorf("bootstrap admin principal: %w", err)
	}
	if added {
		logging.Info().Str("principal", principal).Msg("Granted administrator role")
	}
	return nil
}
