// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package authz

import (
	"context"
	"errors"

	"github.com/goccy/go-json"

	"github.com/tomtom215/bastion/internal/audit"
	"github.com/tomtom215/bastion/internal/logging"
	"github.com/tomtom215/bastion/internal/policy"
	"github.com/tomtom215/bastion/internal/rbac"
	"github.com/tomtom215/bastion/internal/session"
)

// Actor identifies who performed an administrative change.
type Actor struct {
	ID        string
	IP        string
	UserAgent string
	SessionID string
	RequestID string
}

// change describes one administrative mutation for the audit log.
type change struct {
	typ        audit.EventType
	action     string
	resource   string
	resourceID string
	before     any
	after      any
	details    map[string]any
}

// record audits an administrative change. A failed mutation is still
// audited with status failure.
func (s *Service) record(ctx context.Context, actor Actor, c change, opErr error) {
	status := audit.StatusSuccess
	details := c.details
	if opErr != nil {
		status = audit.StatusFailure
		if details == nil {
			details = map[string]any{}
		}
		details["error"] = opErr.Error()
	}
	_, err := s.audit.LogAuditEvent(ctx, audit.Entry{
		Type:       c.typ,
		UserID:     actor.ID,
		Action:     c.action,
		Resource:   c.resource,
		ResourceID: c.resourceID,
		Status:     status,
		Before:     rawJSON(c.before),
		After:      rawJSON(c.after),
		Context: audit.EntryContext{
			IP:        actor.IP,
			UserAgent: actor.UserAgent,
			SessionID: actor.SessionID,
			RequestID: actor.RequestID,
		},
		Tags:    []string{"admin"},
		Details: details,
	})
	if err != nil {
		logging.Error().Err(err).Str("event_type", string(c.typ)).Msg("Failed to audit administrative change")
	}
}

func rawJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// CreateRole creates a role.
func (s *Service) CreateRole(ctx context.Context, actor Actor, role rbac.Role) (rbac.Role, error) {
	created, err := s.graph.CreateRole(role)
	c := change{typ: audit.EventRoleCreated, action: "role:create", resource: "role", resourceID: role.ID}
	if err == nil {
		c.after = created
	}
	s.record(ctx, actor, c, err)
	return created, err
}

// UpdateRole changes role metadata.
func (s *Service) UpdateRole(ctx context.Context, actor Actor, id string, upd rbac.RoleUpdate) (rbac.Role, error) {
	before, _ := s.graph.GetRole(id)
	updated, err := s.graph.UpdateRole(id, upd)
	c := change{typ: audit.EventRoleUpdated, action: "role:update", resource: "role", resourceID: id}
	if err == nil {
		c.before, c.after = before, updated
	}
	s.record(ctx, actor, c, err)
	return updated, err
}

// DeleteRole removes a role and returns the users who lost it.
func (s *Service) DeleteRole(ctx context.Context, actor Actor, id string) ([]string, error) {
	before, _ := s.graph.GetRole(id)
	users, err := s.graph.DeleteRole(id)
	c := change{
		typ: audit.EventRoleDeleted, action: "role:delete", resource: "role", resourceID: id,
		details: map[string]any{"affected_users": users},
	}
	if err == nil {
		c.before = before
	}
	s.record(ctx, actor, c, err)
	return users, err
}

// CreatePermission defines a permission.
func (s *Service) CreatePermission(ctx context.Context, actor Actor, p rbac.Permission) (rbac.Permission, error) {
	created, err := s.graph.CreatePermission(p)
	c := change{typ: audit.EventPermissionCreated, action: "permission:create", resource: "permission", resourceID: p.Key}
	if err == nil {
		c.after = created
	}
	s.record(ctx, actor, c, err)
	return created, err
}

// RedefinePermission replaces a permission's metadata.
func (s *Service) RedefinePermission(ctx context.Context, actor Actor, p rbac.Permission) (rbac.Permission, error) {
	before, _ := s.graph.GetPermission(p.Key)
	updated, err := s.graph.RedefinePermission(p)
	c := change{typ: audit.EventPermissionCreated, action: "permission:redefine", resource: "permission", resourceID: p.Key}
	if err == nil {
		c.before, c.after = before, updated
	}
	s.record(ctx, actor, c, err)
	return updated, err
}

// GrantPermission adds a permission to a role. It reports whether the
// edge was new.
func (s *Service) GrantPermission(ctx context.Context, actor Actor, roleID, permKey string) (bool, error) {
	added, err := s.graph.AssignPermissionToRole(roleID, permKey)
	s.record(ctx, actor, change{
		typ: audit.EventPermissionGranted, action: "permission:grant", resource: "role", resourceID: roleID,
		details: map[string]any{"permission": permKey, "changed": added},
	}, err)
	return added, err
}

// RevokePermission removes a permission from a role.
func (s *Service) RevokePermission(ctx context.Context, actor Actor, roleID, permKey string) (bool, error) {
	removed, err := s.graph.RemovePermissionFromRole(roleID, permKey)
	s.record(ctx, actor, change{
		typ: audit.EventPermissionRevoked, action: "permission:revoke", resource: "role", resourceID: roleID,
		details: map[string]any{"permission": permKey, "changed": removed},
	}, err)
	return removed, err
}

// AssignRole grants a role to a user.
func (s *Service) AssignRole(ctx context.Context, actor Actor, userID, roleID string) (bool, error) {
	added, err := s.graph.AssignRoleToUser(userID, roleID)
	s.record(ctx, actor, change{
		typ: audit.EventRoleAssigned, action: "role:assign", resource: "user", resourceID: userID,
		details: map[string]any{"role": roleID, "changed": added},
	}, err)
	return added, err
}

// RemoveRole takes a role away from a user.
func (s *Service) RemoveRole(ctx context.Context, actor Actor, userID, roleID string) (bool, error) {
	removed, err := s.graph.RemoveRoleFromUser(userID, roleID)
	s.record(ctx, actor, change{
		typ: audit.EventRoleRemoved, action: "role:remove", resource: "user", resourceID: userID,
		details: map[string]any{"role": roleID, "changed": removed},
	}, err)
	return removed, err
}

// SetUserAttributes replaces a user's ABAC attributes.
func (s *Service) SetUserAttributes(ctx context.Context, actor Actor, userID string, attrs map[string]any) error {
	before := s.graph.GetUserAttributes(userID)
	err := s.graph.SetUserAttributes(userID, attrs)
	c := change{typ: audit.EventAttributesUpdated, action: "user:set_attributes", resource: "user", resourceID: userID}
	if err == nil {
		c.before, c.after = before, attrs
	}
	s.record(ctx, actor, c, err)
	return err
}

// CreatePolicy stores an ABAC policy.
func (s *Service) CreatePolicy(ctx context.Context, actor Actor, p policy.Policy) (policy.Policy, error) {
	created, err := s.policies.CreatePolicy(p)
	c := change{typ: audit.EventPolicyCreated, action: "policy:create", resource: "policy", resourceID: created.ID}
	if err == nil {
		c.after = created
	}
	s.record(ctx, actor, c, err)
	return created, err
}

// CreateConditionalRule stores a policy built from a conditional rule.
func (s *Service) CreateConditionalRule(ctx context.Context, actor Actor, rule policy.ConditionalRule) (policy.Policy, error) {
	created, err := s.policies.CreateConditionalRule(rule)
	c := change{typ: audit.EventPolicyCreated, action: "policy:create_rule", resource: "policy", resourceID: created.ID}
	if err == nil {
		c.after = created
	}
	s.record(ctx, actor, c, err)
	return created, err
}

// DeletePolicy removes a policy.
func (s *Service) DeletePolicy(ctx context.Context, actor Actor, id string) error {
	before, _ := s.policies.GetPolicy(id)
	err := s.policies.DeletePolicy(id)
	c := change{typ: audit.EventPolicyDeleted, action: "policy:delete", resource: "policy", resourceID: id}
	if err == nil {
		c.before = before
	}
	s.record(ctx, actor, c, err)
	return err
}

// SetPolicyEnabled toggles a policy.
func (s *Service) SetPolicyEnabled(ctx context.Context, actor Actor, id string, enabled bool) error {
	err := s.policies.SetEnabled(id, enabled)
	s.record(ctx, actor, change{
		typ: audit.EventPolicyUpdated, action: "policy:set_enabled", resource: "policy", resourceID: id,
		details: map[string]any{"enabled": enabled},
	}, err)
	return err
}

// RecordAuthentication audits a login attempt made outside Bastion, so
// failed logins feed the brute force detector.
func (s *Service) RecordAuthentication(ctx context.Context, actor Actor, success bool, details map[string]any) error {
	if actor.ID == "" {
		return errors.New("authz: authentication event needs a user id")
	}
	status := audit.StatusFailure
	if success {
		status = audit.StatusSuccess
	}
	_, err := s.audit.LogAuditEvent(ctx, audit.Entry{
		Type:   audit.EventLogin,
		UserID: actor.ID,
		Action: "login",
		Status: status,
		Context: audit.EntryContext{
			IP:        actor.IP,
			UserAgent: actor.UserAgent,
			RequestID: actor.RequestID,
		},
		Details: details,
	})
	return err
}

// CreateSession opens a session for userID.
func (s *Service) CreateSession(ctx context.Context, actor Actor, userID string, md session.Metadata) (string, error) {
	id, err := s.sessions.CreateSession(userID, md)
	s.record(ctx, actor, change{
		typ: audit.EventSessionCreated, action: "session:create", resource: "session", resourceID: session.HandleFor(id),
		details: map[string]any{"user_id": userID},
	}, err)
	return id, err
}

// RevokeSession deactivates a session.
func (s *Service) RevokeSession(ctx context.Context, actor Actor, id string) error {
	err := s.sessions.RevokeSession(id)
	s.record(ctx, actor, change{
		typ: audit.EventSessionRevoked, action: "session:revoke", resource: "session", resourceID: session.HandleFor(id),
	}, err)
	return err
}

// RevokeUserSessions deactivates every session of userID.
func (s *Service) RevokeUserSessions(ctx context.Context, actor Actor, userID string) int {
	n := s.sessions.RevokeUserSessions(userID)
	s.record(ctx, actor, change{
		typ: audit.EventSessionRevoked, action: "session:revoke_all", resource: "user", resourceID: userID,
		details: map[string]any{"revoked": n},
	}, nil)
	return n
}

// ReportIncident records a manually reported security incident.
func (s *Service) ReportIncident(ctx context.Context, actor Actor, inc audit.Incident) (audit.Incident, error) {
	stored, err := s.audit.ReportSecurityIncident(inc)
	c := change{typ: audit.EventIncidentReported, action: "incident:report", resource: "incident", resourceID: stored.ID}
	if err == nil {
		c.after = stored
	}
	s.record(ctx, actor, c, err)
	return stored, err
}

// UpdateIncidentStatus moves an incident along its lifecycle.
func (s *Service) UpdateIncidentStatus(ctx context.Context, actor Actor, id string, status audit.IncidentStatus, note string) (audit.Incident, error) {
	before, _ := s.audit.GetIncident(id)
	updated, err := s.audit.UpdateIncidentStatus(id, status, note)
	c := change{
		typ: audit.EventIncidentUpdated, action: "incident:update_status", resource: "incident", resourceID: id,
		details: map[string]any{"status": string(status)},
	}
	if err == nil {
		c.before, c.after = before.Status, updated.Status
	}
	s.record(ctx, actor, c, err)
	return updated, err
}
