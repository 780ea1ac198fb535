// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package audit

import (
	"errors"
	"testing"
	"time"
)

func TestReportSecurityIncidentDefaults(t *testing.T) {
	l, _ := newTestLogger(t, Config{})

	inc, err := l.ReportSecurityIncident(Incident{Type: IncidentHighRiskAccess, UserID: "eve", Details: map[string]any{"score": 0.85}})
	if err != nil {
		t.Fatalf("ReportSecurityIncident: %v", err)
	}
	if inc.ID == "" || inc.Severity != SeverityHigh || inc.Status != IncidentOpen || inc.Occurrences != 1 {
		t.Errorf("incident = %+v", inc)
	}
	if !inc.Timestamp.Equal(epoch) {
		t.Errorf("timestamp = %v", inc.Timestamp)
	}

	custom, err := l.ReportSecurityIncident(Incident{Type: "DATA_EXFILTRATION", Status: IncidentClosed})
	if err != nil {
		t.Fatalf("ReportSecurityIncident: %v", err)
	}
	if custom.Severity != SeverityLow {
		t.Errorf("unmapped incident severity = %s, want low", custom.Severity)
	}
	if custom.Status != IncidentOpen {
		t.Errorf("status = %s, want open", custom.Status)
	}

	if _, err := l.ReportSecurityIncident(Incident{}); !errors.Is(err, ErrInvalidIncidentArg) {
		t.Errorf("missing type error = %v", err)
	}
	if _, err := l.ReportSecurityIncident(Incident{Type: "X", Severity: "extreme"}); !errors.Is(err, ErrInvalidIncidentArg) {
		t.Errorf("bad severity error = %v", err)
	}
}

func TestIncidentTransitions(t *testing.T) {
	tests := []struct {
		from IncidentStatus
		to   IncidentStatus
		ok   bool
	}{
		{IncidentOpen, IncidentInvestigating, true},
		{IncidentOpen, IncidentResolved, true},
		{IncidentOpen, IncidentClosed, true},
		{IncidentInvestigating, IncidentResolved, true},
		{IncidentInvestigating, IncidentClosed, true},
		{IncidentInvestigating, IncidentOpen, false},
		{IncidentResolved, IncidentClosed, true},
		{IncidentResolved, IncidentOpen, false},
		{IncidentResolved, IncidentInvestigating, false},
		{IncidentClosed, IncidentOpen, false},
		{IncidentClosed, IncidentResolved, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestUpdateIncidentStatus(t *testing.T) {
	l, clock := newTestLogger(t, Config{})
	inc, _ := l.ReportSecurityIncident(Incident{Type: IncidentBruteForce, UserID: "mallory"})

	clock.Advance(time.Minute)
	got, err := l.UpdateIncidentStatus(inc.ID, IncidentInvestigating, "looking")
	if err != nil {
		t.Fatalf("investigating: %v", err)
	}
	if got.ResolvedAt != nil || len(got.Notes) != 1 {
		t.Errorf("after investigating = %+v", got)
	}

	clock.Advance(time.Minute)
	got, err = l.UpdateIncidentStatus(inc.ID, IncidentResolved, "")
	if err != nil {
		t.Fatalf("resolved: %v", err)
	}
	if got.ResolvedAt == nil || !got.ResolvedAt.Equal(epoch.Add(2*time.Minute)) {
		t.Errorf("resolved at = %v", got.ResolvedAt)
	}

	clock.Advance(time.Minute)
	got, err = l.UpdateIncidentStatus(inc.ID, IncidentClosed, "done")
	if err != nil {
		t.Fatalf("closed: %v", err)
	}
	if !got.ResolvedAt.Equal(epoch.Add(2 * time.Minute)) {
		t.Error("closing must keep the original resolution time")
	}

	if _, err := l.UpdateIncidentStatus(inc.ID, IncidentOpen, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("reopen error = %v, want ErrInvalidTransition", err)
	}
	if _, err := l.UpdateIncidentStatus("missing", IncidentClosed, ""); !errors.Is(err, ErrIncidentNotFound) {
		t.Errorf("missing error = %v, want ErrIncidentNotFound", err)
	}
	if l.OpenIncidentCount() != 0 {
		t.Errorf("OpenIncidentCount = %d, want 0", l.OpenIncidentCount())
	}
}

func TestGetSecurityIncidentsFilter(t *testing.T) {
	l, clock := newTestLogger(t, Config{})
	_, _ = l.ReportSecurityIncident(Incident{Type: IncidentBruteForce, UserID: "a"})
	clock.Advance(time.Hour)
	b, _ := l.ReportSecurityIncident(Incident{Type: IncidentAbnormalAccess, UserID: "b"})
	clock.Advance(time.Hour)
	_, _ = l.ReportSecurityIncident(Incident{Type: IncidentBruteForce, UserID: "b", Severity: SeverityCritical})

	if got := l.GetSecurityIncidents(IncidentFilter{UserID: "b"}); len(got) != 2 || got[0].Severity != SeverityCritical {
		t.Errorf("user b = %+v", got)
	}
	if got := l.GetSecurityIncidents(IncidentFilter{Severities: []Severity{SeverityMedium}}); len(got) != 1 || got[0].ID != b.ID {
		t.Errorf("medium = %+v", got)
	}
	start := epoch.Add(30 * time.Minute)
	if got := l.GetSecurityIncidents(IncidentFilter{StartTime: &start, Limit: 1}); len(got) != 1 || got[0].UserID != "b" {
		t.Errorf("limited = %+v", got)
	}

	got, _ := l.GetIncident(b.ID)
	got.Notes = append(got.Notes, Note{Text: "mutated"})
	again, _ := l.GetIncident(b.ID)
	if len(again.Notes) != 0 {
		t.Error("GetIncident must return a copy")
	}
}
