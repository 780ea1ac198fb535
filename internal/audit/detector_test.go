// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package audit

import (
	"testing"
	"time"

	"github.com/tomtom215/bastion/internal/risk"
)

type stubAnalyzer struct {
	result risk.Analysis
	calls  []risk.Context
}

func (s *stubAnalyzer) AnalyzeAccess(_ string, ctx risk.Context) risk.Analysis {
	s.calls = append(s.calls, ctx)
	return s.result
}

func failLogin(t *testing.T, l *Logger, user string) Entry {
	t.Helper()
	return mustLog(t, l, Entry{
		Type:     EventAccessDenied,
		UserID:   user,
		Action:   "login",
		Resource: "/session",
		Status:   StatusFailure,
		Context:  EntryContext{IP: "198.51.100.4"},
	})
}

func bruteForce(l *Logger, user string) []Incident {
	return l.GetSecurityIncidents(IncidentFilter{Types: []IncidentType{IncidentBruteForce}, UserID: user})
}

func TestBruteForceRaisesOneIncident(t *testing.T) {
	l, clock := newTestLogger(t, Config{})

	for i := 0; i < 4; i++ {
		failLogin(t, l, "mallory")
		clock.Advance(time.Second)
	}
	if n := len(bruteForce(l, "mallory")); n != 0 {
		t.Fatalf("incidents after 4 failures = %d, want 0", n)
	}

	fifth := failLogin(t, l, "mallory")
	incs := bruteForce(l, "mallory")
	if len(incs) != 1 {
		t.Fatalf("incidents after 5 failures = %d, want 1", len(incs))
	}
	inc := incs[0]
	if inc.Severity != SeverityHigh || inc.Status != IncidentOpen || inc.Occurrences != 5 {
		t.Errorf("incident = %+v", inc)
	}
	if len(inc.EntryIDs) != 5 || inc.EntryIDs[4] != fifth.ID {
		t.Errorf("entry ids = %v, want 5 oldest first", inc.EntryIDs)
	}

	clock.Advance(time.Second)
	failLogin(t, l, "mallory")
	incs = bruteForce(l, "mallory")
	if len(incs) != 1 {
		t.Fatalf("sixth failure created a duplicate: %d incidents", len(incs))
	}
	if incs[0].Occurrences != 6 {
		t.Errorf("occurrences = %d, want 6", incs[0].Occurrences)
	}
}

func TestBruteForceIgnoresOtherActionsAndOldFailures(t *testing.T) {
	l, clock := newTestLogger(t, Config{})

	for i := 0; i < 3; i++ {
		failLogin(t, l, "mallory")
	}
	clock.Advance(2 * time.Hour)
	failLogin(t, l, "mallory")
	mustLog(t, l, Entry{Type: EventAccessDenied, UserID: "mallory", Action: "doc:delete", Status: StatusFailure})
	failLogin(t, l, "mallory")
	failLogin(t, l, "other")

	if n := len(l.GetSecurityIncidents(IncidentFilter{})); n != 0 {
		t.Errorf("incidents = %d, want 0", n)
	}
}

func TestBruteForceAfterResolutionNeedsFreshFailures(t *testing.T) {
	l, clock := newTestLogger(t, Config{})

	for i := 0; i < 5; i++ {
		failLogin(t, l, "mallory")
		clock.Advance(time.Second)
	}
	first := bruteForce(l, "mallory")[0]

	clock.Advance(5 * time.Second)
	if _, err := l.UpdateIncidentStatus(first.ID, IncidentResolved, "password reset"); err != nil {
		t.Fatalf("UpdateIncidentStatus: %v", err)
	}

	for i := 0; i < 4; i++ {
		clock.Advance(time.Second)
		failLogin(t, l, "mallory")
	}
	incs := bruteForce(l, "mallory")
	if len(incs) != 1 {
		t.Fatalf("incidents after 4 fresh failures = %d, want 1", len(incs))
	}
	if incs[0].Status != IncidentResolved || incs[0].Occurrences != 5 {
		t.Errorf("resolved incident changed: %+v", incs[0])
	}

	clock.Advance(time.Second)
	failLogin(t, l, "mallory")
	incs = bruteForce(l, "mallory")
	if len(incs) != 2 {
		t.Fatalf("incidents after 5 fresh failures = %d, want 2", len(incs))
	}
	if incs[0].ID == first.ID || incs[0].Status != IncidentOpen || incs[0].Occurrences != 5 {
		t.Errorf("new incident = %+v", incs[0])
	}
	if incs[1].Status != IncidentResolved {
		t.Errorf("old incident reopened: %+v", incs[1])
	}
}

func TestAbnormalAccessPattern(t *testing.T) {
	tests := []struct {
		name     string
		analysis risk.Analysis
		status   Status
		want     int
	}{
		{"both signals", risk.Analysis{UnusualTime: true, AbnormalBehavior: true}, StatusSuccess, 1},
		{"time only", risk.Analysis{UnusualTime: true}, StatusSuccess, 0},
		{"behavior only", risk.Analysis{AbnormalBehavior: true}, StatusSuccess, 0},
		{"failure ignored", risk.Analysis{UnusualTime: true, AbnormalBehavior: true}, StatusFailure, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			an := &stubAnalyzer{result: tt.analysis}
			l, _ := newTestLogger(t, Config{}, WithAnalyzer(an))
			typ := EventAccessGranted
			if tt.status == StatusFailure {
				typ = EventAccessDenied
			}
			mustLog(t, l, Entry{Type: typ, UserID: "alice", Action: "report:export", Status: tt.status, Roles: []string{"user"}})

			incs := l.GetSecurityIncidents(IncidentFilter{Types: []IncidentType{IncidentAbnormalAccess}})
			if len(incs) != tt.want {
				t.Fatalf("incidents = %d, want %d", len(incs), tt.want)
			}
			if tt.want == 1 && incs[0].Severity != SeverityMedium {
				t.Errorf("severity = %s, want medium", incs[0].Severity)
			}
		})
	}
}

func TestAbnormalAccessPassesEntryContext(t *testing.T) {
	an := &stubAnalyzer{}
	l, _ := newTestLogger(t, Config{}, WithAnalyzer(an))
	mustLog(t, l, Entry{
		Type:    EventAccessGranted,
		UserID:  "alice",
		Action:  "doc:read",
		Roles:   []string{"manager"},
		Context: EntryContext{IP: "10.1.1.1"},
	})
	if len(an.calls) != 1 {
		t.Fatalf("analyzer calls = %d, want 1", len(an.calls))
	}
	c := an.calls[0]
	if c.Action != "doc:read" || c.IP != "10.1.1.1" || len(c.Roles) != 1 || !c.Time.Equal(epoch) {
		t.Errorf("context = %+v", c)
	}
}

func TestSensitiveOperations(t *testing.T) {
	l, _ := newTestLogger(t, Config{})

	mustLog(t, l, Entry{Type: EventRoleDeleted, UserID: "root", Action: "role:delete", ResourceID: "editor"})
	mustLog(t, l, Entry{Type: EventPermissionRevoked, UserID: "root", Action: "permission:revoke", Status: StatusFailure})
	mustLog(t, l, Entry{Type: EventRoleCreated, UserID: "root", Action: "role:create"})

	incs := l.GetSecurityIncidents(IncidentFilter{Types: []IncidentType{IncidentSensitiveChange}})
	if len(incs) != 2 {
		t.Fatalf("sensitive incidents = %d, want 2", len(incs))
	}
	for _, inc := range incs {
		if inc.Severity != SeverityHigh {
			t.Errorf("severity = %s, want high", inc.Severity)
		}
	}
}
