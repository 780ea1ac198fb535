// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// recordingArchiver keeps archived entries in memory.
type recordingArchiver struct {
	mu      sync.Mutex
	entries []Entry
	err     error
}

func (a *recordingArchiver) ArchiveEntries(_ context.Context, entries []Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, entries...)
	return nil
}

var epoch = time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC)

func newTestLogger(t *testing.T, cfg Config, opts ...Option) (*Logger, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: epoch}
	l := NewLogger(cfg, opts...)
	l.now = clock.Now
	return l, clock
}

func mustLog(t *testing.T, l *Logger, e Entry) Entry {
	t.Helper()
	stored, err := l.LogAuditEvent(context.Background(), e)
	if err != nil {
		t.Fatalf("LogAuditEvent: %v", err)
	}
	return stored
}

func TestLogAuditEventFillsDefaults(t *testing.T) {
	l, _ := newTestLogger(t, Config{})

	e := mustLog(t, l, Entry{Type: EventRoleDeleted, UserID: "root", Action: "role:delete", Resource: "role/editor"})
	if e.ID == "" {
		t.Error("id should be generated")
	}
	if !e.Timestamp.Equal(epoch) {
		t.Errorf("timestamp = %v, want %v", e.Timestamp, epoch)
	}
	if e.Severity != SeverityHigh {
		t.Errorf("severity = %s, want high", e.Severity)
	}
	if e.Status != StatusSuccess {
		t.Errorf("status = %s, want success", e.Status)
	}

	low := mustLog(t, l, Entry{Type: "custom.event", Action: "noop"})
	if low.Severity != SeverityLow {
		t.Errorf("unmapped severity = %s, want low", low.Severity)
	}
}

func TestLogAuditEventValidation(t *testing.T) {
	l, _ := newTestLogger(t, Config{})
	tests := []struct {
		name  string
		entry Entry
	}{
		{"missing type", Entry{Action: "read"}},
		{"missing action", Entry{Type: EventAccessGranted}},
		{"bad status", Entry{Type: EventAccessGranted, Action: "read", Status: "maybe"}},
		{"bad severity", Entry{Type: EventAccessGranted, Action: "read", Severity: "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.LogAuditEvent(context.Background(), tt.entry)
			if !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("error = %v, want ErrInvalidEntry", err)
			}
		})
	}
	if l.Len() != 0 {
		t.Errorf("Len = %d, want 0", l.Len())
	}
}

func TestQueryAuditLogNewestFirst(t *testing.T) {
	l, clock := newTestLogger(t, Config{})
	for _, u := range []string{"alice", "bob", "alice"} {
		mustLog(t, l, Entry{Type: EventAccessGranted, UserID: u, Action: "doc:read", Tags: []string{"api"}})
		clock.Advance(time.Minute)
	}
	mustLog(t, l, Entry{Type: EventAccessDenied, UserID: "alice", Action: "doc:delete", Status: StatusFailure})

	got := l.QueryAuditLog(Filter{UserID: "alice"})
	if len(got) != 3 {
		t.Fatalf("alice entries = %d, want 3", len(got))
	}
	if got[0].Type != EventAccessDenied {
		t.Errorf("first entry = %s, want newest (denied)", got[0].Type)
	}

	if n := len(l.QueryAuditLog(Filter{Status: StatusFailure})); n != 1 {
		t.Errorf("failures = %d, want 1", n)
	}
	if n := len(l.QueryAuditLog(Filter{Tag: "api"})); n != 3 {
		t.Errorf("tagged = %d, want 3", n)
	}
	if got := l.QueryAuditLog(Filter{Limit: 1, Offset: 1}); len(got) != 1 || got[0].UserID != "alice" || got[0].Type != EventAccessGranted {
		t.Errorf("page = %+v", got)
	}

	start := epoch.Add(30 * time.Second)
	end := epoch.Add(90 * time.Second)
	if got := l.QueryAuditLog(Filter{StartTime: &start, EndTime: &end}); len(got) != 1 || got[0].UserID != "bob" {
		t.Errorf("time range = %+v", got)
	}

	if n := len(l.GetUserAccessHistory("alice", 0)); n != 3 {
		t.Errorf("access history = %d, want 3", n)
	}
	if n := len(l.GetUserAccessHistory("alice", 2)); n != 2 {
		t.Errorf("limited history = %d, want 2", n)
	}
}

func TestCapEvictsOldestToArchiver(t *testing.T) {
	arch := &recordingArchiver{}
	l, clock := newTestLogger(t, Config{MaxEntries: 3}, WithArchiver(arch))

	var ids []string
	for i := 0; i < 5; i++ {
		e := mustLog(t, l, Entry{Type: EventAccessGranted, UserID: "u", Action: "read"})
		ids = append(ids, e.ID)
		clock.Advance(time.Second)
	}

	if l.Len() != 3 {
		t.Errorf("Len = %d, want cap 3", l.Len())
	}
	if len(arch.entries) != 2 || arch.entries[0].ID != ids[0] || arch.entries[1].ID != ids[1] {
		t.Errorf("archived = %+v, want two oldest in order", arch.entries)
	}
	if l.ArchivedCount() != 2 {
		t.Errorf("ArchivedCount = %d, want 2", l.ArchivedCount())
	}
}

func TestSweepEnforcesRetention(t *testing.T) {
	arch := &recordingArchiver{}
	l, clock := newTestLogger(t, Config{Retention: 24 * time.Hour}, WithArchiver(arch))

	mustLog(t, l, Entry{Type: EventAccessGranted, UserID: "u", Action: "read"})
	clock.Advance(20 * time.Hour)
	mustLog(t, l, Entry{Type: EventAccessGranted, UserID: "u", Action: "read"})
	clock.Advance(5 * time.Hour)

	if removed := l.Sweep(context.Background()); removed.Entries != 1 {
		t.Errorf("Sweep removed %d entries, want 1", removed.Entries)
	}
	if l.Len() != 1 || len(arch.entries) != 1 {
		t.Errorf("Len = %d archived = %d", l.Len(), len(arch.entries))
	}
	if removed := l.Sweep(context.Background()); removed.Entries != 0 {
		t.Errorf("second Sweep removed %d entries, want 0", removed.Entries)
	}
}

func TestSweepPurgesStaleIncidents(t *testing.T) {
	l, clock := newTestLogger(t, Config{Retention: 24 * time.Hour})

	closed, err := l.ReportSecurityIncident(Incident{Type: IncidentHighRiskAccess, UserID: "u"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.UpdateIncidentStatus(closed.ID, IncidentClosed, "noise"); err != nil {
		t.Fatal(err)
	}
	open, err := l.ReportSecurityIncident(Incident{Type: IncidentHighRiskAccess, UserID: "v"})
	if err != nil {
		t.Fatal(err)
	}
	investigating, err := l.ReportSecurityIncident(Incident{Type: IncidentHighRiskAccess, UserID: "w"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.UpdateIncidentStatus(investigating.ID, IncidentInvestigating, "looking"); err != nil {
		t.Fatal(err)
	}
	mustLog(t, l, Entry{Type: EventAccessGranted, UserID: "u", Action: "read"})

	clock.Advance(400 * 24 * time.Hour)
	recent, err := l.ReportSecurityIncident(Incident{Type: IncidentHighRiskAccess, UserID: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.UpdateIncidentStatus(recent.ID, IncidentResolved, "fixed"); err != nil {
		t.Fatal(err)
	}

	got := l.Sweep(context.Background())
	if got.Entries != 1 || got.Incidents != 1 {
		t.Errorf("Sweep = %+v, want 1 entry and 1 incident", got)
	}
	if _, err := l.GetIncident(closed.ID); !errors.Is(err, ErrIncidentNotFound) {
		t.Errorf("closed incident older than retention: %v", err)
	}
	for _, id := range []string{open.ID, investigating.ID, recent.ID} {
		if _, err := l.GetIncident(id); err != nil {
			t.Errorf("GetIncident(%s): %v", id, err)
		}
	}
	if n := len(l.GetSecurityIncidents(IncidentFilter{})); n != 3 {
		t.Errorf("incidents left = %d, want 3", n)
	}
	if got := l.Sweep(context.Background()); got.Incidents != 0 {
		t.Errorf("second Sweep removed %d incidents", got.Incidents)
	}
}

func TestArchiverFailureDoesNotBlockWrites(t *testing.T) {
	arch := &recordingArchiver{err: errors.New("disk full")}
	l, _ := newTestLogger(t, Config{MaxEntries: 1}, WithArchiver(arch))

	mustLog(t, l, Entry{Type: EventAccessGranted, Action: "read"})
	mustLog(t, l, Entry{Type: EventAccessGranted, Action: "read"})
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1", l.Len())
	}
	if l.ArchivedCount() != 0 {
		t.Errorf("ArchivedCount = %d, want 0", l.ArchivedCount())
	}
}

func TestConcurrentLogging(t *testing.T) {
	l, _ := newTestLogger(t, Config{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = l.LogAuditEvent(context.Background(), Entry{Type: EventAccessGranted, UserID: "u", Action: "read"})
				_ = l.QueryAuditLog(Filter{Limit: 5})
			}
		}()
	}
	wg.Wait()
	if l.Len() != 400 {
		t.Errorf("Len = %d, want 400", l.Len())
	}
}
