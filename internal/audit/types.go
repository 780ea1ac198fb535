// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package audit

import (
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// EventType categorizes audit entries.
type EventType string

const (
	// Authorization decisions
	EventAccessGranted  EventType = "access.granted"
	EventAccessDenied   EventType = "access.denied"
	EventRateLimited    EventType = "access.rate_limited"
	EventSessionInvalid EventType = "access.session_invalid"
	EventInternalError  EventType = "access.error"

	// Authentication
	EventLogin          EventType = "auth.login"
	EventLogout         EventType = "auth.logout"
	EventSessionCreated EventType = "auth.session_created"
	EventSessionRevoked EventType = "auth.session_revoked"

	// Graph administration
	EventRoleCreated       EventType = "role.created"
	EventRoleUpdated       EventType = "role.updated"
	EventRoleDeleted       EventType = "role.deleted"
	EventRoleAssigned      EventType = "role.assigned"
	EventRoleRemoved       EventType = "role.removed"
	EventPermissionCreated EventType = "permission.created"
	EventPermissionGranted EventType = "permission.granted"
	EventPermissionRevoked EventType = "permission.revoked"
	EventAttributesUpdated EventType = "user.attributes_updated"

	// Policy administration
	EventPolicyCreated EventType = "policy.created"
	EventPolicyUpdated EventType = "policy.updated"
	EventPolicyDeleted EventType = "policy.deleted"

	// Data
	EventDataExport      EventType = "data.export"
	EventDataImport      EventType = "data.import"
	EventSnapshotSaved   EventType = "data.snapshot_saved"
	EventSnapshotRestore EventType = "data.snapshot_restored"

	// Incident triage
	EventIncidentReported EventType = "incident.reported"
	EventIncidentUpdated  EventType = "incident.updated"
)

// Status is the outcome of an audited action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Severity ranks entries and incidents.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

var eventSeverity = map[EventType]Severity{
	EventAccessDenied:      SeverityMedium,
	EventRateLimited:       SeverityMedium,
	EventSessionInvalid:    SeverityMedium,
	EventInternalError:     SeverityHigh,
	EventRoleCreated:       SeverityMedium,
	EventRoleUpdated:       SeverityMedium,
	EventRoleDeleted:       SeverityHigh,
	EventRoleAssigned:      SeverityMedium,
	EventRoleRemoved:       SeverityMedium,
	EventPermissionGranted: SeverityMedium,
	EventPermissionRevoked: SeverityHigh,
	EventPolicyCreated:     SeverityMedium,
	EventPolicyUpdated:     SeverityMedium,
	EventPolicyDeleted:     SeverityHigh,
	EventDataImport:        SeverityHigh,
	EventSnapshotRestore:   SeverityHigh,
	EventIncidentReported:  SeverityMedium,
	EventIncidentUpdated:   SeverityMedium,
}

// SeverityFor returns the default severity of an event type.
// Unmapped types are low.
func SeverityFor(t EventType) Severity {
	if s, ok := eventSeverity[t]; ok {
		return s
	}
	return SeverityLow
}

// EntryContext carries the client details of an audited request.
type EntryContext struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Entry is one immutable audit record.
type Entry struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Type       EventType       `json:"event_type"`
	UserID     string          `json:"user_id,omitempty"`
	Roles      []string        `json:"roles,omitempty"`
	Action     string          `json:"action"`
	Resource   string          `json:"resource,omitempty"`
	ResourceID string          `json:"resource_id,omitempty"`
	Status     Status          `json:"status"`
	Severity   Severity        `json:"severity"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Context    EntryContext    `json:"context"`
	Tags       []string        `json:"tags,omitempty"`
	Details    map[string]any  `json:"details,omitempty"`
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Types      []EventType `json:"types,omitempty"`
	UserID     string      `json:"user_id,omitempty"`
	Action     string      `json:"action,omitempty"`
	Resource   string      `json:"resource,omitempty"`
	Status     Status      `json:"status,omitempty"`
	Severities []Severity  `json:"severities,omitempty"`
	Tag        string      `json:"tag,omitempty"`
	IP         string      `json:"ip,omitempty"`
	StartTime  *time.Time  `json:"start_time,omitempty"`
	EndTime    *time.Time  `json:"end_time,omitempty"`
	Limit      int         `json:"limit,omitempty"`
	Offset     int         `json:"offset,omitempty"`
}

// IncidentType names a class of security incident. Callers may report
// types beyond the built-in ones.
type IncidentType string

const (
	IncidentBruteForce      IncidentType = "BRUTE_FORCE_ATTEMPT"
	IncidentHighRiskAccess  IncidentType = "HIGH_RISK_ACCESS_ATTEMPT"
	IncidentAbnormalAccess  IncidentType = "ABNORMAL_ACCESS_PATTERN"
	IncidentSensitiveChange IncidentType = "SENSITIVE_OPERATION"
)

var incidentSeverity = map[IncidentType]Severity{
	IncidentBruteForce:      SeverityHigh,
	IncidentHighRiskAccess:  SeverityHigh,
	IncidentAbnormalAccess:  SeverityMedium,
	IncidentSensitiveChange: SeverityHigh,
}

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentClosed        IncidentStatus = "closed"
)

var incidentTransitions = map[IncidentStatus][]IncidentStatus{
	IncidentOpen:          {IncidentInvestigating, IncidentResolved, IncidentClosed},
	IncidentInvestigating: {IncidentResolved, IncidentClosed},
	IncidentResolved:      {IncidentClosed},
}

// Active reports whether the incident still needs attention.
func (s IncidentStatus) Active() bool {
	return s == IncidentOpen || s == IncidentInvestigating
}

// CanTransition reports whether s may move to next.
func (s IncidentStatus) CanTransition(next IncidentStatus) bool {
	for _, n := range incidentTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Note is an annotation on an incident.
type Note struct {
	Timestamp time.Time      `json:"timestamp"`
	Status    IncidentStatus `json:"status"`
	Text      string         `json:"text,omitempty"`
}

// Incident is a security incident raised by a detector or a caller.
type Incident struct {
	ID          string         `json:"id"`
	Type        IncidentType   `json:"type"`
	Severity    Severity       `json:"severity"`
	UserID      string         `json:"user_id,omitempty"`
	Action      string         `json:"action,omitempty"`
	Resource    string         `json:"resource,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	LastSeen    time.Time      `json:"last_seen"`
	Occurrences int            `json:"occurrences"`
	Status      IncidentStatus `json:"status"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	EntryIDs    []string       `json:"entry_ids,omitempty"`
	Notes       []Note         `json:"notes,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// IncidentFilter selects incidents. Zero fields match everything.
type IncidentFilter struct {
	Types      []IncidentType   `json:"types,omitempty"`
	Severities []Severity       `json:"severities,omitempty"`
	Statuses   []IncidentStatus `json:"statuses,omitempty"`
	UserID     string           `json:"user_id,omitempty"`
	StartTime  *time.Time       `json:"start_time,omitempty"`
	EndTime    *time.Time       `json:"end_time,omitempty"`
	Limit      int              `json:"limit,omitempty"`
}

var (
	ErrIncidentNotFound   = errors.New("audit: incident not found")
	ErrInvalidTransition  = errors.New("audit: invalid incident status transition")
	ErrInvalidEntry       = errors.New("audit: invalid entry")
	ErrUnsupportedFormat  = errors.New("audit: unsupported export format")
	ErrInvalidIncidentArg = errors.New("audit: invalid incident")
)
