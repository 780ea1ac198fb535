// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package audit

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/bastion/internal/logging"
	"github.com/tomtom215/bastion/internal/metrics"
)

// ReportSecurityIncident records an incident raised outside the built-in
// detectors. Type is required. Severity defaults from the type, or low for
// unknown types. The incident always starts open.
func (l *Logger) ReportSecurityIncident(inc Incident) (Incident, error) {
	if inc.Type == "" {
		return Incident{}, fmt.Errorf("%w: type is required", ErrInvalidIncidentArg)
	}
	if inc.Severity != "" && !inc.Severity.Valid() {
		return Incident{}, fmt.Errorf("%w: unknown severity %q", ErrInvalidIncidentArg, inc.Severity)
	}

	inc = cloneIncident(&inc)

	l.incMu.Lock()
	defer l.incMu.Unlock()
	stored := l.raiseLocked(&inc)
	return cloneIncident(stored), nil
}

// raiseLocked fills defaults, stores inc and emits the log line and metric.
func (l *Logger) raiseLocked(inc *Incident) *Incident {
	if inc.ID == "" {
		inc.ID = uuid.New().String()
	}
	if inc.Severity == "" {
		inc.Severity = SeverityLow
		if s, ok := incidentSeverity[inc.Type]; ok {
			inc.Severity = s
		}
	}
	if inc.Timestamp.IsZero() {
		inc.Timestamp = l.now()
	}
	if inc.LastSeen.IsZero() {
		inc.LastSeen = inc.Timestamp
	}
	if inc.Occurrences < 1 {
		inc.Occurrences = 1
	}
	inc.Status = IncidentOpen
	inc.ResolvedAt = nil

	l.incidents = append(l.incidents, inc)
	l.byID[inc.ID] = inc

	metrics.RecordIncident(string(inc.Type), string(inc.Severity))
	logging.Warn().
		Str("incident_id", inc.ID).
		Str("type", string(inc.Type)).
		Str("severity", string(inc.Severity)).
		Str("user_id", inc.UserID).
		Str("action", inc.Action).
		Int("occurrences", inc.Occurrences).
		Msg("Security incident raised")
	return inc
}

// GetSecurityIncidents returns incidents matching filter, newest first.
func (l *Logger) GetSecurityIncidents(filter IncidentFilter) []Incident {
	l.incMu.Lock()
	defer l.incMu.Unlock()

	var out []Incident
	for i := len(l.incidents) - 1; i >= 0; i-- {
		inc := l.incidents[i]
		if !matchesIncident(inc, &filter) {
			continue
		}
		out = append(out, cloneIncident(inc))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// GetIncident returns the incident with id.
func (l *Logger) GetIncident(id string) (Incident, error) {
	l.incMu.Lock()
	defer l.incMu.Unlock()
	inc, ok := l.byID[id]
	if !ok {
		return Incident{}, ErrIncidentNotFound
	}
	return cloneIncident(inc), nil
}

// UpdateIncidentStatus moves an incident along its lifecycle and appends a
// note. Resolved and closed incidents stamp ResolvedAt once.
func (l *Logger) UpdateIncidentStatus(id string, status IncidentStatus, note string) (Incident, error) {
	l.incMu.Lock()
	defer l.incMu.Unlock()

	inc, ok := l.byID[id]
	if !ok {
		return Incident{}, ErrIncidentNotFound
	}
	if !inc.Status.CanTransition(status) {
		return Incident{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, inc.Status, status)
	}

	now := l.now()
	from := inc.Status
	inc.Status = status
	if (status == IncidentResolved || status == IncidentClosed) && inc.ResolvedAt == nil {
		inc.ResolvedAt = &now
	}
	inc.Notes = append(inc.Notes, Note{Timestamp: now, Status: status, Text: note})

	logging.Info().
		Str("incident_id", id).
		Str("from", string(from)).
		Str("to", string(status)).
		Msg("Security incident updated")
	return cloneIncident(inc), nil
}

// OpenIncidentCount returns the number of open or investigating incidents.
func (l *Logger) OpenIncidentCount() int {
	l.incMu.Lock()
	defer l.incMu.Unlock()
	n := 0
	for _, inc := range l.incidents {
		if inc.Status.Active() {
			n++
		}
	}
	return n
}

// lastTouched is the later of LastSeen and ResolvedAt.
func (inc *Incident) lastTouched() time.Time {
	if inc.ResolvedAt != nil && inc.ResolvedAt.After(inc.LastSeen) {
		return *inc.ResolvedAt
	}
	return inc.LastSeen
}

func matchesIncident(inc *Incident, filter *IncidentFilter) bool {
	if len(filter.Types) > 0 && !slices.Contains(filter.Types, inc.Type) {
		return false
	}
	if len(filter.Severities) > 0 && !slices.Contains(filter.Severities, inc.Severity) {
		return false
	}
	if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, inc.Status) {
		return false
	}
	if filter.UserID != "" && inc.UserID != filter.UserID {
		return false
	}
	if filter.StartTime != nil && inc.Timestamp.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && inc.Timestamp.After(*filter.EndTime) {
		return false
	}
	return true
}

func cloneIncident(inc *Incident) Incident {
	cp := *inc
	cp.EntryIDs = slices.Clone(inc.EntryIDs)
	cp.Notes = slices.Clone(inc.Notes)
	if inc.ResolvedAt != nil {
		t := *inc.ResolvedAt
		cp.ResolvedAt = &t
	}
	if inc.Details != nil {
		cp.Details = make(map[string]any, len(inc.Details))
		for k, v := range inc.Details {
			cp.Details[k] = v
		}
	}
	return cp
}
