// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

// Package rbac implements the role/permission graph and the per-user
// attribute store.
//
// Edges (user→role, role→permission) are held in a casbin SyncedEnforcer;
// role and permission metadata and attribute bags are held alongside it
// under the graph lock. A user's effective permissions are the union of the
// permission sets of every role assigned to them.
package rbac

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tomtom215/bastion/internal/logging"
	"github.com/tomtom215/bastion/internal/validation"
)

// Graph is the role/permission graph plus attribute store.
type Graph struct {
	mu          sync.RWMutex
	edges       *edges
	roles       map[string]*Role
	permissions map[string]*Permission
	attributes  map[string]map[string]any

	listenersMu sync.RWMutex
	listeners   []func(Change)

	validate *validator.Validate
	now      func() time.Time
}

// NewGraph creates an empty graph.
func NewGraph() (*Graph, error) {
	e, err := newEdges()
	if err != nil {
		return nil, err
	}
	return &Graph{
		edges:       e,
		roles:       make(map[string]*Role),
		permissions: make(map[string]*Permission),
		attributes:  make(map[string]map[string]any),
		validate:    validation.GetValidator(),
		now:         time.Now,
	}, nil
}

// OnChange registers a listener invoked after every applied mutation.
func (g *Graph) OnChange(fn func(Change)) {
	g.listenersMu.Lock()
	g.listeners = append(g.listeners, fn)
	g.listenersMu.Unlock()
}

func (g *Graph) notify(c Change) {
	g.listenersMu.RLock()
	listeners := g.listeners
	g.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(c)
	}
}

// =====================================================
// Roles
// =====================================================

// CreateRole adds a new role. Permissions listed on the role must already exist.
func (g *Graph) CreateRole(role Role) (Role, error) {
	if err := g.validate.Struct(role); err != nil {
		return Role{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	g.mu.Lock()
	if _, exists := g.roles[role.ID]; exists {
		g.mu.Unlock()
		return Role{}, fmt.Errorf("%w: %s", ErrRoleExists, role.ID)
	}
	for _, p := range role.Permissions {
		if _, ok := g.permissions[p]; !ok {
			g.mu.Unlock()
			return Role{}, fmt.Errorf("%w: %s", ErrPermissionNotFound, p)
		}
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = g.now().UTC()
	}
	stored := role
	stored.Permissions = nil
	g.roles[role.ID] = &stored
	for _, p := range role.Permissions {
		if _, err := g.edges.grant(role.ID, p); err != nil {
			g.mu.Unlock()
			return Role{}, err
		}
	}
	out, err := g.roleLocked(role.ID)
	g.mu.Unlock()
	if err != nil {
		return Role{}, err
	}

	logging.Info().Str("role_id", role.ID).Int("level", role.Level).Msg("Role created")
	g.notify(Change{Kind: ChangeRoleCreated, RoleID: role.ID})
	return out, nil
}

// RoleUpdate carries optional role field changes.
type RoleUpdate struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,max=128"`
	Level       *int    `json:"level,omitempty" validate:"omitempty,min=0,max=1000"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=1024"`
}

// UpdateRole changes role metadata. Permission edges are managed with
// AssignPermissionToRole and RemovePermissionFromRole.
func (g *Graph) UpdateRole(id string, upd RoleUpdate) (Role, error) {
	if err := g.validate.Struct(upd); err != nil {
		return Role{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	g.mu.Lock()
	r, ok := g.roles[id]
	if !ok {
		g.mu.Unlock()
		return Role{}, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	if upd.Name != nil {
		if *upd.Name == "" {
			g.mu.Unlock()
			return Role{}, fmt.Errorf("%w: role name cannot be empty", ErrInvalidInput)
		}
		r.Name = *upd.Name
	}
	if upd.Level != nil {
		r.Level = *upd.Level
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	out, err := g.roleLocked(id)
	g.mu.Unlock()
	if err != nil {
		return Role{}, err
	}

	g.notify(Change{Kind: ChangeRoleUpdated, RoleID: id})
	return out, nil
}

// DeleteRole removes a role with all of its edges and returns the users
// that held it.
func (g *Graph) DeleteRole(id string) ([]string, error) {
	g.mu.Lock()
	if _, ok := g.roles[id]; !ok {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	users, err := g.edges.dropRole(id)
	if err != nil {
		g.mu.Unlock()
		return nil, err
	}
	delete(g.roles, id)
	g.mu.Unlock()

	logging.Info().Str("role_id", id).Int("holders", len(users)).Msg("Role deleted")
	g.notify(Change{Kind: ChangeRoleDeleted, RoleID: id})
	return users, nil
}

// GetRole returns a role with its current permission set.
func (g *Graph) GetRole(id string) (Role, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.roleLocked(id)
}

// ListRoles returns all roles ordered by level, then id.
func (g *Graph) ListRoles() ([]Role, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Role, 0, len(g.roles))
	for id := range g.roles {
		r, err := g.roleLocked(id)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (g *Graph) roleLocked(id string) (Role, error) {
	r, ok := g.roles[id]
	if !ok {
		return Role{}, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	perms, err := g.edges.permissionsFor(id)
	if err != nil {
		return Role{}, err
	}
	out := *r
	out.Permissions = perms
	return out, nil
}

// =====================================================
// Permissions
// =====================================================

// CreatePermission defines a new permission key. Redefining an existing key
// requires RedefinePermission.
func (g *Graph) CreatePermission(p Permission) (Permission, error) {
	if p.RiskTier == "" {
		p.RiskTier = RiskLow
	}
	if err := g.validate.Struct(p); err != nil {
		return Permission{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	g.mu.Lock()
	if _, exists := g.permissions[p.Key]; exists {
		g.mu.Unlock()
		return Permission{}, fmt.Errorf("%w: %s", ErrPermissionExists, p.Key)
	}
	stored := p
	g.permissions[p.Key] = &stored
	g.mu.Unlock()

	g.notify(Change{Kind: ChangePermissionCreated, Permission: p.Key})
	return p, nil
}

// RedefinePermission replaces the metadata of an existing permission.
func (g *Graph) RedefinePermission(p Permission) (Permission, error) {
	if p.RiskTier == "" {
		p.RiskTier = RiskLow
	}
	if err := g.validate.Struct(p); err != nil {
		return Permission{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	g.mu.Lock()
	if _, exists := g.permissions[p.Key]; !exists {
		g.mu.Unlock()
		return Permission{}, fmt.Errorf("%w: %s", ErrPermissionNotFound, p.Key)
	}
	stored := p
	g.permissions[p.Key] = &stored
	g.mu.Unlock()

	logging.Info().Str("permission", p.Key).Str("risk_tier", string(p.RiskTier)).Msg("Permission redefined")
	g.notify(Change{Kind: ChangePermissionCreated, Permission: p.Key})
	return p, nil
}

// GetPermission returns a permission definition.
func (g *Graph) GetPermission(key string) (Permission, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.permissions[key]
	if !ok {
		return Permission{}, fmt.Errorf("%w: %s", ErrPermissionNotFound, key)
	}
	return *p, nil
}

// ListPermissions returns all permission definitions sorted by key.
func (g *Graph) ListPermissions() []Permission {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Permission, 0, len(g.permissions))
	for _, p := range g.permissions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// AssignPermissionToRole grants permKey to roleID. Returns false when the
// role already had it.
func (g *Graph) AssignPermissionToRole(roleID, permKey string) (bool, error) {
	g.mu.Lock()
	if _, ok := g.roles[roleID]; !ok {
		g.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
	}
	if _, ok := g.permissions[permKey]; !ok {
		g.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrPermissionNotFound, permKey)
	}
	added, err := g.edges.grant(roleID, permKey)
	g.mu.Unlock()
	if err != nil {
		return false, err
	}

	if added {
		logging.Info().Str("role_id", roleID).Str("permission", permKey).Msg("Permission granted to role")
		g.notify(Change{Kind: ChangePermissionGranted, RoleID: roleID, Permission: permKey})
	}
	return added, nil
}

// RemovePermissionFromRole revokes permKey from roleID. Returns false when
// the role did not have it.
func (g *Graph) RemovePermissionFromRole(roleID, permKey string) (bool, error) {
	g.mu.Lock()
	if _, ok := g.roles[roleID]; !ok {
		g.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
	}
	removed, err := g.edges.revoke(roleID, permKey)
	g.mu.Unlock()
	if err != nil {
		return false, err
	}

	if removed {
		logging.Info().Str("role_id", roleID).Str("permission", permKey).Msg("Permission revoked from role")
		g.notify(Change{Kind: ChangePermissionRevoked, RoleID: roleID, Permission: permKey})
	}
	return removed, nil
}

// =====================================================
// Assignments
// =====================================================

// AssignRoleToUser adds roleID to userID. Assigning a held role is a no-op
// that returns false.
func (g *Graph) AssignRoleToUser(userID, roleID string) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	g.mu.Lock()
	if _, ok := g.roles[roleID]; !ok {
		g.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
	}
	added, err := g.edges.assign(userID, roleID)
	g.mu.Unlock()
	if err != nil {
		return false, err
	}

	if added {
		logging.Info().Str("user_id", userID).Str("role_id", roleID).Msg("Role assigned")
		g.notify(Change{Kind: ChangeRoleAssigned, UserID: userID, RoleID: roleID})
	}
	return added, nil
}

// RemoveRoleFromUser removes roleID from userID. Removing a role the user
// lacks is a no-op that returns false.
func (g *Graph) RemoveRoleFromUser(userID, roleID string) (bool, error) {
	g.mu.Lock()
	removed, err := g.edges.unassign(userID, roleID)
	g.mu.Unlock()
	if err != nil {
		return false, err
	}

	if removed {
		logging.Info().Str("user_id", userID).Str("role_id", roleID).Msg("Role removed")
		g.notify(Change{Kind: ChangeRoleRemoved, UserID: userID, RoleID: roleID})
	}
	return removed, nil
}

// GetUserRoles returns the sorted role ids held by userID.
func (g *Graph) GetUserRoles(userID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges.rolesFor(userID)
}

// GetUsersWithRole returns the users holding roleID.
func (g *Graph) GetUsersWithRole(roleID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.roles[roleID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, roleID)
	}
	return g.edges.usersFor(roleID)
}

// GetUserEffectivePermissions returns the sorted union of the permission
// sets of all roles held by userID, read from live state.
func (g *Graph) GetUserEffectivePermissions(userID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.effectiveLocked(userID)
}

func (g *Graph) effectiveLocked(userID string) ([]string, error) {
	roles, err := g.edges.rolesFor(userID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, r := range roles {
		perms, err := g.edges.permissionsFor(r)
		if err != nil {
			return nil, err
		}
		for _, p := range perms {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// HasPermission reports whether any role held by userID grants permKey.
// Errors resolve to false.
func (g *Graph) HasPermission(userID, permKey string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasLocked(userID, permKey)
}

func (g *Graph) hasLocked(userID, permKey string) bool {
	allowed, err := g.edges.enforce(userID, permKey)
	if err != nil {
		logging.Error().Err(err).Str("user_id", userID).Str("permission", permKey).Msg("Permission check failed")
		return false
	}
	return allowed
}

// HasAllPermissions reports whether userID holds every key. An empty list is
// vacuously true.
func (g *Graph) HasAllPermissions(userID string, keys []string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, k := range keys {
		if !g.hasLocked(userID, k) {
			return false
		}
	}
	return true
}

// HasAnyPermission reports whether userID holds at least one key.
func (g *Graph) HasAnyPermission(userID string, keys []string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, k := range keys {
		if g.hasLocked(userID, k) {
			return true
		}
	}
	return false
}

// CalculateUserScope aggregates role levels, permissions and attributes.
func (g *Graph) CalculateUserScope(userID string) (Scope, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	roles, err := g.edges.rolesFor(userID)
	if err != nil {
		return Scope{}, err
	}
	perms, err := g.effectiveLocked(userID)
	if err != nil {
		return Scope{}, err
	}

	scope := Scope{
		UserID:              userID,
		Roles:               roles,
		HighestLevel:        -1,
		LowestLevel:         -1,
		PermissionCount:     len(perms),
		Resources:           []string{},
		HighRiskPermissions: []string{},
	}
	for _, id := range roles {
		r, ok := g.roles[id]
		if !ok {
			continue
		}
		if scope.HighestLevel < 0 || r.Level < scope.HighestLevel {
			scope.HighestLevel = r.Level
		}
		if r.Level > scope.LowestLevel {
			scope.LowestLevel = r.Level
		}
	}

	resources := make(map[string]struct{})
	for _, p := range perms {
		if res, _, ok := SplitPermissionKey(p); ok {
			resources[res] = struct{}{}
		}
		if def, ok := g.permissions[p]; ok && def.RiskTier == RiskHigh {
			scope.HighRiskPermissions = append(scope.HighRiskPermissions, p)
		}
	}
	for r := range resources {
		scope.Resources = append(scope.Resources, r)
	}
	sort.Strings(scope.Resources)

	if attrs, ok := g.attributes[userID]; ok {
		scope.Attributes = copyAttributes(attrs)
	}
	return scope, nil
}

// =====================================================
// Attributes
// =====================================================

// SetUserAttributes replaces the attribute bag of userID.
func (g *Graph) SetUserAttributes(userID string, attrs map[string]any) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	g.mu.Lock()
	if len(attrs) == 0 {
		delete(g.attributes, userID)
	} else {
		g.attributes[userID] = copyAttributes(attrs)
	}
	g.mu.Unlock()

	g.notify(Change{Kind: ChangeAttributesSet, UserID: userID})
	return nil
}

// GetUserAttributes returns a copy of userID's attribute bag (never nil).
func (g *Graph) GetUserAttributes(userID string) map[string]any {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return copyAttributes(g.attributes[userID])
}

func copyAttributes(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
