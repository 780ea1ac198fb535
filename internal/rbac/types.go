// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package rbac

import (
	"errors"
	"strings"
	"time"
)

// RiskTier classifies how sensitive granting a permission is.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// Role is a named permission set with a hierarchy level (lower is more privileged).
type Role struct {
	ID          string    `json:"id" validate:"required,max=64,roleid"`
	Name        string    `json:"name" validate:"required,max=128"`
	Level       int       `json:"level" validate:"min=0,max=1000"`
	Description string    `json:"description,omitempty" validate:"max=1024"`
	CreatedAt   time.Time `json:"created_at"`
	Permissions []string  `json:"permissions"`
}

// Permission describes a "resource:action" key.
type Permission struct {
	Key         string   `json:"key" validate:"required,permkey"`
	Name        string   `json:"name,omitempty" validate:"max=128"`
	Description string   `json:"description,omitempty" validate:"max=1024"`
	RiskTier    RiskTier `json:"risk_tier" validate:"omitempty,oneof=low medium high"`
}

// Scope aggregates a user's role levels, permissions and attributes for
// hierarchy-based decisions.
type Scope struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`

	// HighestLevel is the smallest level number held, -1 without roles.
	HighestLevel int `json:"highest_level"`

	// LowestLevel is the largest level number held, -1 without roles.
	LowestLevel int `json:"lowest_level"`

	PermissionCount     int            `json:"permission_count"`
	Resources           []string       `json:"resources"`
	HighRiskPermissions []string       `json:"high_risk_permissions"`
	Attributes          map[string]any `json:"attributes,omitempty"`
}

// ChangeKind names the graph mutation that produced a Change.
type ChangeKind string

const (
	ChangeRoleCreated       ChangeKind = "role.created"
	ChangeRoleUpdated       ChangeKind = "role.updated"
	ChangeRoleDeleted       ChangeKind = "role.deleted"
	ChangePermissionCreated ChangeKind = "permission.created"
	ChangePermissionGranted ChangeKind = "permission.granted"
	ChangePermissionRevoked ChangeKind = "permission.revoked"
	ChangeRoleAssigned      ChangeKind = "role.assigned"
	ChangeRoleRemoved       ChangeKind = "role.removed"
	ChangeAttributesSet     ChangeKind = "attributes.updated"
	ChangeImported          ChangeKind = "graph.imported"
)

// Change is delivered to listeners after a mutation is applied.
// UserID is empty for changes that may affect every holder of a role.
type Change struct {
	Kind       ChangeKind
	UserID     string
	RoleID     string
	Permission string
}

// Sentinel errors.
var (
	ErrRoleNotFound       = errors.New("rbac: role not found")
	ErrRoleExists         = errors.New("rbac: role already exists")
	ErrPermissionNotFound = errors.New("rbac: permission not found")
	ErrPermissionExists   = errors.New("rbac: permission already exists")
	ErrInvalidInput       = errors.New("rbac: invalid input")
	ErrUnsupportedVersion = errors.New("rbac: unsupported snapshot version")
)

// SplitPermissionKey splits "resource:action" at the last colon.
func SplitPermissionKey(key string) (resource, action string, ok bool) {
	i := strings.LastIndexByte(key, ':')
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}

// PermissionKey joins a resource and action.
func PermissionKey(resource, action string) string {
	return resource + ":" + action
}
