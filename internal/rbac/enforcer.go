// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package rbac

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

//go:embed model.conf
var embeddedModel string

const (
	userPrefix = "user:"
	rolePrefix = "role:"
)

func userSubject(id string) string { return userPrefix + id }
func roleSubject(id string) string { return rolePrefix + id }

// edges holds the user→role and role→permission edges in a casbin
// SyncedEnforcer. Role and permission metadata live in Graph.
type edges struct {
	enforcer *casbin.SyncedEnforcer
}

func newEdges() (*edges, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	return &edges{enforcer: enforcer}, nil
}

func (e *edges) grant(roleID, permKey string) (bool, error) {
	obj, act, ok := SplitPermissionKey(permKey)
	if !ok {
		return false, fmt.Errorf("%w: permission key %q", ErrInvalidInput, permKey)
	}
	added, err := e.enforcer.AddPolicy(roleSubject(roleID), obj, act)
	if err != nil {
		return false, fmt.Errorf("failed to add policy: %w", err)
	}
	return added, nil
}

func (e *edges) revoke(roleID, permKey string) (bool, error) {
	obj, act, ok := SplitPermissionKey(permKey)
	if !ok {
		return false, fmt.Errorf("%w: permission key %q", ErrInvalidInput, permKey)
	}
	removed, err := e.enforcer.RemovePolicy(roleSubject(roleID), obj, act)
	if err != nil {
		return false, fmt.Errorf("failed to remove policy: %w", err)
	}
	return removed, nil
}

func (e *edges) assign(userID, roleID string) (bool, error) {
	added, err := e.enforcer.AddGroupingPolicy(userSubject(userID), roleSubject(roleID))
	if err != nil {
		return false, fmt.Errorf("failed to add role: %w", err)
	}
	return added, nil
}

func (e *edges) unassign(userID, roleID string) (bool, error) {
	removed, err := e.enforcer.RemoveGroupingPolicy(userSubject(userID), roleSubject(roleID))
	if err != nil {
		return false, fmt.Errorf("failed to remove role: %w", err)
	}
	return removed, nil
}

// dropRole removes every permission edge and assignment of a role and
// returns the users that held it.
func (e *edges) dropRole(roleID string) ([]string, error) {
	users, err := e.usersFor(roleID)
	if err != nil {
		return nil, err
	}
	sub := roleSubject(roleID)
	if _, err := e.enforcer.RemoveFilteredPolicy(0, sub); err != nil {
		return nil, fmt.Errorf("failed to remove role permissions: %w", err)
	}
	if _, err := e.enforcer.RemoveFilteredGroupingPolicy(1, sub); err != nil {
		return nil, fmt.Errorf("failed to remove role assignments: %w", err)
	}
	return users, nil
}

func (e *edges) rolesFor(userID string) ([]string, error) {
	rules, err := e.enforcer.GetFilteredGroupingPolicy(0, userSubject(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to read roles: %w", err)
	}
	roles := make([]string, 0, len(rules))
	for _, r := range rules {
		if len(r) >= 2 {
			roles = append(roles, strings.TrimPrefix(r[1], rolePrefix))
		}
	}
	sort.Strings(roles)
	return roles, nil
}

func (e *edges) usersFor(roleID string) ([]string, error) {
	rules, err := e.enforcer.GetFilteredGroupingPolicy(1, roleSubject(roleID))
	if err != nil {
		return nil, fmt.Errorf("failed to read role holders: %w", err)
	}
	users := make([]string, 0, len(rules))
	for _, r := range rules {
		users = append(users, strings.TrimPrefix(r[0], userPrefix))
	}
	sort.Strings(users)
	return users, nil
}

func (e *edges) permissionsFor(roleID string) ([]string, error) {
	rules, err := e.enforcer.GetFilteredPolicy(0, roleSubject(roleID))
	if err != nil {
		return nil, fmt.Errorf("failed to read role permissions: %w", err)
	}
	perms := make([]string, 0, len(rules))
	for _, r := range rules {
		if len(r) >= 3 {
			perms = append(perms, PermissionKey(r[1], r[2]))
		}
	}
	sort.Strings(perms)
	return perms, nil
}

// enforce reports whether any role of userID grants permKey.
func (e *edges) enforce(userID, permKey string) (bool, error) {
	obj, act, ok := SplitPermissionKey(permKey)
	if !ok {
		return false, nil
	}
	allowed, err := e.enforcer.Enforce(userSubject(userID), obj, act)
	if err != nil {
		return false, fmt.Errorf("enforcement failed: %w", err)
	}
	return allowed, nil
}

// assignments returns user id → role ids for every user edge.
func (e *edges) assignments() (map[string][]string, error) {
	rules, err := e.enforcer.GetGroupingPolicy()
	if err != nil {
		return nil, fmt.Errorf("failed to read assignments: %w", err)
	}
	out := make(map[string][]string)
	for _, r := range rules {
		if len(r) < 2 || !strings.HasPrefix(r[0], userPrefix) {
			continue
		}
		u := strings.TrimPrefix(r[0], userPrefix)
		out[u] = append(out[u], strings.TrimPrefix(r[1], rolePrefix))
	}
	for u := range out {
		sort.Strings(out[u])
	}
	return out, nil
}
