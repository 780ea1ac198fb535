// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package audit

import (
	"sort"
	"time"
)

// Period is a closed time range. A zero Period means the configured report
// window ending now.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IncidentCounts aggregates incidents.
type IncidentCounts struct {
	Total      int            `json:"total"`
	ByType     map[string]int `json:"by_type"`
	BySeverity map[string]int `json:"by_severity"`
	ByStatus   map[string]int `json:"by_status"`
}

// Report is an aggregate view of the audit log over a period.
type Report struct {
	Period       Period         `json:"period"`
	GeneratedAt  time.Time      `json:"generated_at"`
	TotalEntries int            `json:"total_entries"`
	Successes    int            `json:"successes"`
	Failures     int            `json:"failures"`
	SuccessRate  float64        `json:"success_rate"`
	FailureRate  float64        `json:"failure_rate"`
	ByType       map[string]int `json:"by_type"`
	ByUser       map[string]int `json:"by_user"`
	ByResource   map[string]int `json:"by_resource"`
	BySeverity   map[string]int `json:"by_severity"`
	Incidents    IncidentCounts `json:"incidents"`
}

// GenerateAuditReport aggregates entries and incidents inside p.
func (l *Logger) GenerateAuditReport(p Period) Report {
	now := l.now()
	if p.End.IsZero() {
		p.End = now
	}
	if p.Start.IsZero() {
		p.Start = p.End.Add(-l.cfg.ReportWindow)
	}

	r := Report{
		Period:      p,
		GeneratedAt: now,
		ByType:      make(map[string]int),
		ByUser:      make(map[string]int),
		ByResource:  make(map[string]int),
		BySeverity:  make(map[string]int),
	}
	for _, e := range l.store.Query(Filter{StartTime: &p.Start, EndTime: &p.End}) {
		r.TotalEntries++
		if e.Status == StatusSuccess {
			r.Successes++
		} else {
			r.Failures++
		}
		r.ByType[string(e.Type)]++
		r.BySeverity[string(e.Severity)]++
		if e.UserID != "" {
			r.ByUser[e.UserID]++
		}
		if e.Resource != "" {
			r.ByResource[e.Resource]++
		}
	}
	if r.TotalEntries > 0 {
		r.SuccessRate = float64(r.Successes) / float64(r.TotalEntries)
		r.FailureRate = float64(r.Failures) / float64(r.TotalEntries)
	}
	r.Incidents = countIncidents(l.GetSecurityIncidents(IncidentFilter{StartTime: &p.Start, EndTime: &p.End}))
	return r
}

func countIncidents(incs []Incident) IncidentCounts {
	c := IncidentCounts{
		ByType:     make(map[string]int),
		BySeverity: make(map[string]int),
		ByStatus:   make(map[string]int),
	}
	for _, inc := range incs {
		c.Total++
		c.ByType[string(inc.Type)]++
		c.BySeverity[string(inc.Severity)]++
		c.ByStatus[string(inc.Status)]++
	}
	return c
}

// ComplianceCheck is one pass/fail line of a compliance report.
type ComplianceCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// ComplianceReport summarizes how the audit trail meets its retention and
// review obligations.
type ComplianceReport struct {
	GeneratedAt            time.Time         `json:"generated_at"`
	RetentionDays          int               `json:"retention_days"`
	Capacity               int               `json:"capacity"`
	TotalEntries           int               `json:"total_entries"`
	ArchivedEntries        int               `json:"archived_entries"`
	OldestEntry            *time.Time        `json:"oldest_entry,omitempty"`
	NewestEntry            *time.Time        `json:"newest_entry,omitempty"`
	AdministrativeChanges  int               `json:"administrative_changes"`
	FailedAccessAttempts   int               `json:"failed_access_attempts"`
	OpenIncidents          int               `json:"open_incidents"`
	UnresolvedHighSeverity int               `json:"unresolved_high_severity"`
	Checks                 []ComplianceCheck `json:"checks"`
	Compliant              bool              `json:"compliant"`
}

var administrativeEvents = []EventType{
	EventRoleCreated, EventRoleUpdated, EventRoleDeleted,
	EventRoleAssigned, EventRoleRemoved,
	EventPermissionCreated, EventPermissionGranted, EventPermissionRevoked,
	EventAttributesUpdated,
	EventPolicyCreated, EventPolicyUpdated, EventPolicyDeleted,
	EventDataImport, EventSnapshotRestore,
}

// GenerateComplianceReport evaluates the whole in-memory log.
func (l *Logger) GenerateComplianceReport() ComplianceReport {
	now := l.now()
	stats := l.store.Stats()
	r := ComplianceReport{
		GeneratedAt:           now,
		RetentionDays:         int(l.cfg.Retention / (24 * time.Hour)),
		Capacity:              l.store.Cap(),
		TotalEntries:          int(stats.TotalEntries),
		ArchivedEntries:       l.ArchivedCount(),
		OldestEntry:           stats.OldestEntry,
		NewestEntry:           stats.NewestEntry,
		AdministrativeChanges: l.store.Count(Filter{Types: administrativeEvents}),
		FailedAccessAttempts:  l.store.Count(Filter{Types: []EventType{EventAccessDenied}}),
	}

	for _, inc := range l.GetSecurityIncidents(IncidentFilter{Statuses: []IncidentStatus{IncidentOpen, IncidentInvestigating}}) {
		r.OpenIncidents++
		if inc.Severity.AtLeast(SeverityHigh) {
			r.UnresolvedHighSeverity++
		}
	}

	retained := r.OldestEntry == nil || !r.OldestEntry.Before(now.Add(-l.cfg.Retention))
	r.Checks = []ComplianceCheck{
		{
			Name:   "retention_enforced",
			Passed: retained,
			Detail: "no in-memory entry is older than the retention period",
		},
		{
			Name:   "within_capacity",
			Passed: r.TotalEntries <= r.Capacity,
			Detail: "in-memory log is within its configured cap",
		},
		{
			Name:   "high_severity_incidents_triaged",
			Passed: r.UnresolvedHighSeverity == 0,
			Detail: "no high or critical incident is open or under investigation",
		},
	}
	r.Compliant = true
	for _, c := range r.Checks {
		r.Compliant = r.Compliant && c.Passed
	}
	return r
}

// UserCount pairs a user with a count.
type UserCount struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

// SecuritySummary is the dashboard view of the last 24 hours.
type SecuritySummary struct {
	GeneratedAt         time.Time      `json:"generated_at"`
	TotalEntries        int            `json:"total_entries"`
	EntriesLast24h      int            `json:"entries_last_24h"`
	FailuresLast24h     int            `json:"failures_last_24h"`
	OpenIncidents       int            `json:"open_incidents"`
	OpenBySeverity      map[string]int `json:"open_by_severity"`
	TopFailingUsers     []UserCount    `json:"top_failing_users"`
	RecentIncidents     []Incident     `json:"recent_incidents"`
	IncidentsLast24h    int            `json:"incidents_last_24h"`
	HighRiskAccessCount int            `json:"high_risk_access_count"`
}

const summaryTopN = 5

// GetSecuritySummary returns counters for the last 24 hours plus the open
// incident picture.
func (l *Logger) GetSecuritySummary() SecuritySummary {
	now := l.now()
	since := now.Add(-24 * time.Hour)

	s := SecuritySummary{
		GeneratedAt:    now,
		TotalEntries:   l.store.Len(),
		OpenBySeverity: make(map[string]int),
	}

	failing := make(map[string]int)
	for _, e := range l.store.Query(Filter{StartTime: &since}) {
		s.EntriesLast24h++
		if e.Status == StatusFailure {
			s.FailuresLast24h++
			if e.UserID != "" {
				failing[e.UserID]++
			}
		}
	}
	for u, n := range failing {
		s.TopFailingUsers = append(s.TopFailingUsers, UserCount{UserID: u, Count: n})
	}
	sort.Slice(s.TopFailingUsers, func(i, j int) bool {
		a, b := s.TopFailingUsers[i], s.TopFailingUsers[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.UserID < b.UserID
	})
	if len(s.TopFailingUsers) > summaryTopN {
		s.TopFailingUsers = s.TopFailingUsers[:summaryTopN]
	}

	all := l.GetSecurityIncidents(IncidentFilter{})
	for _, inc := range all {
		if inc.Status.Active() {
			s.OpenIncidents++
			s.OpenBySeverity[string(inc.Severity)]++
		}
		if !inc.Timestamp.Before(since) {
			s.IncidentsLast24h++
			if inc.Type == IncidentHighRiskAccess {
				s.HighRiskAccessCount++
			}
		}
	}
	s.RecentIncidents = all[:min(len(all), summaryTopN)]
	return s
}
