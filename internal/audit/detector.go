// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package audit

import (
	"time"

	"github.com/tomtom215/bastion/internal/risk"
)

// detectLocked runs every detector against a freshly stored entry.
func (l *Logger) detectLocked(e Entry) {
	if e.Status == StatusFailure && e.UserID != "" {
		l.detectBruteForceLocked(e)
	}
	if e.Status == StatusSuccess && e.Type == EventAccessGranted && e.UserID != "" {
		l.detectAbnormalAccessLocked(e)
	}
	if e.Type == EventRoleDeleted || e.Type == EventPermissionRevoked {
		l.raiseLocked(&Incident{
			Type:      IncidentSensitiveChange,
			Severity:  SeverityHigh,
			UserID:    e.UserID,
			Action:    e.Action,
			Resource:  e.Resource,
			Timestamp: e.Timestamp,
			EntryIDs:  []string{e.ID},
			Details:   map[string]any{"event_type": string(e.Type), "resource_id": e.ResourceID},
		})
	}
}

// detectBruteForceLocked raises one incident per user and action once the
// configured number of failures lands inside the window. Later failures
// within the window of an active incident are attached to it. Failures at
// or before the resolution of an earlier incident are never counted again.
func (l *Logger) detectBruteForceLocked(e Entry) {
	last := l.lastIncidentLocked(IncidentBruteForce, e.UserID, e.Action)
	if last != nil && last.Status.Active() && e.Timestamp.Sub(last.Timestamp) <= l.cfg.BruteForceWindow {
		last.Occurrences++
		last.LastSeen = e.Timestamp
		last.EntryIDs = append(last.EntryIDs, e.ID)
		return
	}

	cutoff := e.Timestamp.Add(-l.cfg.BruteForceWindow)
	if last != nil {
		boundary := last.LastSeen
		if last.ResolvedAt != nil && last.ResolvedAt.After(boundary) {
			boundary = *last.ResolvedAt
		}
		if boundary.After(cutoff) {
			cutoff = boundary
		}
	}
	start := cutoff.Add(time.Nanosecond)
	end := e.Timestamp
	failures := l.store.Query(Filter{
		UserID:    e.UserID,
		Action:    e.Action,
		Status:    StatusFailure,
		StartTime: &start,
		EndTime:   &end,
	})
	if len(failures) < l.cfg.BruteForceAttempts {
		return
	}

	ids := make([]string, len(failures))
	for i := range failures {
		ids[len(failures)-1-i] = failures[i].ID
	}
	l.raiseLocked(&Incident{
		Type:        IncidentBruteForce,
		Severity:    SeverityHigh,
		UserID:      e.UserID,
		Action:      e.Action,
		Resource:    e.Resource,
		Timestamp:   e.Timestamp,
		Occurrences: len(failures),
		EntryIDs:    ids,
		Details:     map[string]any{"window": l.cfg.BruteForceWindow.String(), "ip": e.Context.IP},
	})
}

func (l *Logger) detectAbnormalAccessLocked(e Entry) {
	if l.analyzer == nil {
		return
	}
	a := l.analyzer.AnalyzeAccess(e.UserID, risk.Context{
		Action:   e.Action,
		Resource: e.Resource,
		IP:       e.Context.IP,
		Roles:    e.Roles,
		Time:     e.Timestamp,
	})
	if !a.UnusualTime || !a.AbnormalBehavior {
		return
	}
	l.raiseLocked(&Incident{
		Type:      IncidentAbnormalAccess,
		Severity:  SeverityMedium,
		UserID:    e.UserID,
		Action:    e.Action,
		Resource:  e.Resource,
		Timestamp: e.Timestamp,
		EntryIDs:  []string{e.ID},
		Details:   map[string]any{"unusual_time": true, "abnormal_behavior": true},
	})
}

// lastIncidentLocked returns the most recent incident of type t for the user
// and action.
func (l *Logger) lastIncidentLocked(t IncidentType, userID, action string) *Incident {
	for i := len(l.incidents) - 1; i >= 0; i-- {
		inc := l.incidents[i]
		if inc.Type == t && inc.UserID == userID && inc.Action == action {
			return inc
		}
	}
	return nil
}
