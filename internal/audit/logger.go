// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package audit

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/bastion/internal/logging"
	"github.com/tomtom215/bastion/internal/metrics"
	"github.com/tomtom215/bastion/internal/risk"
)

// Archiver receives entries evicted from memory, oldest first.
type Archiver interface {
	ArchiveEntries(ctx context.Context, entries []Entry) error
}

// Analyzer reports temporal and behavioral anomalies for an access.
// *risk.Scorer satisfies it.
type Analyzer interface {
	AnalyzeAccess(userID string, ctx risk.Context) risk.Analysis
}

// Config holds configuration for the audit logger.
type Config struct {
	// Retention is how long entries stay in memory.
	Retention time.Duration `json:"retention"`

	// MaxEntries caps the in-memory log.
	MaxEntries int `json:"max_entries"`

	// ReportWindow is the default period of GenerateAuditReport.
	ReportWindow time.Duration `json:"report_window"`

	// BruteForceWindow and BruteForceAttempts configure the brute-force
	// detector.
	BruteForceWindow   time.Duration `json:"brute_force_window"`
	BruteForceAttempts int           `json:"brute_force_attempts"`
}

// DefaultConfig returns 90 day retention, a 100k cap and 5 failures per hour.
func DefaultConfig() Config {
	return Config{
		Retention:          90 * 24 * time.Hour,
		MaxEntries:         DefaultMaxEntries,
		ReportWindow:       30 * 24 * time.Hour,
		BruteForceWindow:   time.Hour,
		BruteForceAttempts: 5,
	}
}

// Logger is the audit service: it owns the entry log, runs the detectors
// inline on every write and tracks incidents.
type Logger struct {
	cfg      Config
	store    *MemoryStore
	archiver Archiver
	analyzer Analyzer

	// incMu guards incidents and serializes writes with detection.
	incMu     sync.Mutex
	incidents []*Incident
	byID      map[string]*Incident

	archivedMu sync.Mutex
	archived   int

	now func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithArchiver sends evicted entries to a.
func WithArchiver(a Archiver) Option {
	return func(l *Logger) { l.archiver = a }
}

// WithAnalyzer enables the abnormal access detector.
func WithAnalyzer(a Analyzer) Option {
	return func(l *Logger) { l.analyzer = a }
}

// NewLogger creates an audit logger. Zero config fields take defaults.
func NewLogger(cfg Config, opts ...Option) *Logger {
	def := DefaultConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.ReportWindow <= 0 {
		cfg.ReportWindow = def.ReportWindow
	}
	if cfg.BruteForceWindow <= 0 {
		cfg.BruteForceWindow = def.BruteForceWindow
	}
	if cfg.BruteForceAttempts <= 0 {
		cfg.BruteForceAttempts = def.BruteForceAttempts
	}

	l := &Logger{
		cfg:   cfg,
		store: NewMemoryStore(cfg.MaxEntries),
		byID:  make(map[string]*Incident),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogAuditEvent validates, stamps and stores e, then runs the detectors.
// Missing ID, Timestamp and Severity are filled in. The stored entry is
// returned.
func (l *Logger) LogAuditEvent(ctx context.Context, e Entry) (Entry, error) {
	if e.Type == "" {
		return Entry{}, fmt.Errorf("%w: event type is required", ErrInvalidEntry)
	}
	if e.Action == "" {
		return Entry{}, fmt.Errorf("%w: action is required", ErrInvalidEntry)
	}
	switch e.Status {
	case StatusSuccess, StatusFailure:
	case "":
		e.Status = StatusSuccess
	default:
		return Entry{}, fmt.Errorf("%w: unknown status %q", ErrInvalidEntry, e.Status)
	}
	if e.Severity == "" {
		e.Severity = SeverityFor(e.Type)
	} else if !e.Severity.Valid() {
		return Entry{}, fmt.Errorf("%w: unknown severity %q", ErrInvalidEntry, e.Severity)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Roles = slices.Clone(e.Roles)
	e.Tags = slices.Clone(e.Tags)

	// Stamping, appending and detection share one critical section so the
	// detectors see entries in log order.
	l.incMu.Lock()
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	dropped := l.store.Append(e)
	l.detectLocked(e)
	l.incMu.Unlock()

	metrics.AuditEntriesTotal.WithLabelValues(string(e.Status)).Inc()
	if len(dropped) > 0 {
		metrics.AuditEntriesDropped.WithLabelValues("cap").Add(float64(len(dropped)))
		l.archive(ctx, dropped)
	}
	return e, nil
}

// QueryAuditLog returns entries matching filter, newest first.
func (l *Logger) QueryAuditLog(filter Filter) []Entry {
	return l.store.Query(filter)
}

// CountAuditLog returns the number of entries matching filter.
func (l *Logger) CountAuditLog(filter Filter) int {
	return l.store.Count(filter)
}

// GetUserAccessHistory returns userID's authorization decisions, newest
// first. A non-positive limit returns everything.
func (l *Logger) GetUserAccessHistory(userID string, limit int) []Entry {
	return l.store.Query(Filter{
		UserID: userID,
		Types:  []EventType{EventAccessGranted, EventAccessDenied, EventRateLimited, EventSessionInvalid},
		Limit:  limit,
	})
}

// Stats returns statistics over the in-memory log.
func (l *Logger) Stats() Stats {
	return l.store.Stats()
}

// Len returns the number of in-memory entries.
func (l *Logger) Len() int {
	return l.store.Len()
}

// ArchivedCount returns how many entries have been handed to the archiver.
func (l *Logger) ArchivedCount() int {
	l.archivedMu.Lock()
	defer l.archivedMu.Unlock()
	return l.archived
}

// SweepResult counts what one Sweep removed.
type SweepResult struct {
	Entries   int `json:"entries"`
	Incidents int `json:"incidents"`
}

// Sweep enforces retention on entries and on resolved or closed incidents.
// Open and investigating incidents are kept regardless of age.
func (l *Logger) Sweep(ctx context.Context) SweepResult {
	cutoff := l.now().Add(-l.cfg.Retention)
	res := SweepResult{Incidents: l.purgeIncidents(cutoff)}

	dropped := l.store.DeleteBefore(cutoff)
	res.Entries = len(dropped)
	if res.Entries > 0 {
		metrics.AuditEntriesDropped.WithLabelValues("retention").Add(float64(res.Entries))
		l.archive(ctx, dropped)
	}
	if res.Entries > 0 || res.Incidents > 0 {
		logging.Debug().
			Int("entries", res.Entries).
			Int("incidents", res.Incidents).
			Msg("Audit retention enforced")
	}
	return res
}

// purgeIncidents drops terminal incidents last touched before cutoff.
func (l *Logger) purgeIncidents(cutoff time.Time) int {
	l.incMu.Lock()
	defer l.incMu.Unlock()

	kept := l.incidents[:0]
	removed := 0
	for _, inc := range l.incidents {
		if inc.Status.Active() || !inc.lastTouched().Before(cutoff) {
			kept = append(kept, inc)
			continue
		}
		delete(l.byID, inc.ID)
		removed++
	}
	clear(l.incidents[len(kept):])
	l.incidents = kept
	return removed
}

func (l *Logger) archive(ctx context.Context, entries []Entry) {
	if l.archiver == nil {
		return
	}
	if err := l.archiver.ArchiveEntries(ctx, entries); err != nil {
		logging.Error().Err(err).Int("entries", len(entries)).Msg("Failed to archive audit entries")
		return
	}
	l.archivedMu.Lock()
	l.archived += len(entries)
	l.archivedMu.Unlock()
}
