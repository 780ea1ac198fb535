// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package audit

import (
	"slices"
	"sync"
	"time"
)

// DefaultMaxEntries is the in-memory cap when none is configured.
const DefaultMaxEntries = 100_000

// MemoryStore is the append-only, bounded entry log. Entries are kept in
// insertion order, which is also timestamp order unless a caller supplied
// an older timestamp.
type MemoryStore struct {
	entries []Entry
	mu      sync.RWMutex
	maxLen  int

	// unordered is set once an entry is appended with a timestamp older
	// than its predecessor, and cleared when the store empties.
	unordered bool
}

// NewMemoryStore creates a store holding at most maxLen entries.
func NewMemoryStore(maxLen int) *MemoryStore {
	if maxLen <= 0 {
		maxLen = DefaultMaxEntries
	}
	return &MemoryStore{
		entries: make([]Entry, 0, min(maxLen, 1024)),
		maxLen:  maxLen,
	}
}

// Append adds e and returns the oldest entries evicted to stay within the cap.
func (s *MemoryStore) Append(e Entry) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.entries); n > 0 && e.Timestamp.Before(s.entries[n-1].Timestamp) {
		s.unordered = true
	}
	s.entries = append(s.entries, e)
	if over := len(s.entries) - s.maxLen; over > 0 {
		dropped := slices.Clone(s.entries[:over])
		s.entries = slices.Delete(s.entries, 0, over)
		return dropped
	}
	return nil
}

// Query returns entries matching filter, newest first.
func (s *MemoryStore) Query(filter Filter) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Entry
	skipped := 0
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := &s.entries[i]
		if filter.StartTime != nil && !s.unordered && e.Timestamp.Before(*filter.StartTime) {
			break
		}
		if !matchesFilter(e, &filter) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		results = append(results, *e)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results
}

// Count returns the number of entries matching filter. Limit and Offset are
// ignored.
func (s *MemoryStore) Count(filter Filter) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for i := range s.entries {
		if matchesFilter(&s.entries[i], &filter) {
			n++
		}
	}
	return n
}

// DeleteBefore removes entries older than cutoff and returns them, oldest
// first.
func (s *MemoryStore) DeleteBefore(cutoff time.Time) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for n < len(s.entries) && s.entries[n].Timestamp.Before(cutoff) {
		n++
	}
	if n == 0 {
		return nil
	}
	dropped := slices.Clone(s.entries[:n])
	s.entries = slices.Delete(s.entries, 0, n)
	if len(s.entries) == 0 {
		s.unordered = false
	}
	return dropped
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Cap returns the configured maximum.
func (s *MemoryStore) Cap() int {
	return s.maxLen
}

// matchesFilter returns true if the entry matches all filter criteria.
//
//nolint:gocyclo // complexity inherent to multi-criteria filter matching
func matchesFilter(e *Entry, filter *Filter) bool {
	if len(filter.Types) > 0 && !slices.Contains(filter.Types, e.Type) {
		return false
	}
	if len(filter.Severities) > 0 && !slices.Contains(filter.Severities, e.Severity) {
		return false
	}
	if filter.Status != "" && e.Status != filter.Status {
		return false
	}
	if filter.UserID != "" && e.UserID != filter.UserID {
		return false
	}
	if filter.Action != "" && e.Action != filter.Action {
		return false
	}
	if filter.Resource != "" && e.Resource != filter.Resource {
		return false
	}
	if filter.IP != "" && e.Context.IP != filter.IP {
		return false
	}
	if filter.Tag != "" && !slices.Contains(e.Tags, filter.Tag) {
		return false
	}

	// Time range filter
	if filter.StartTime != nil && e.Timestamp.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && e.Timestamp.After(*filter.EndTime) {
		return false
	}
	return true
}

// Stats summarizes the store contents.
type Stats struct {
	TotalEntries      int64            `json:"total_entries"`
	EntriesByType     map[string]int64 `json:"entries_by_type"`
	EntriesBySeverity map[string]int64 `json:"entries_by_severity"`
	EntriesByStatus   map[string]int64 `json:"entries_by_status"`
	OldestEntry       *time.Time       `json:"oldest_entry,omitempty"`
	NewestEntry       *time.Time       `json:"newest_entry,omitempty"`
}

// Stats returns statistics over all stored entries.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		TotalEntries:      int64(len(s.entries)),
		EntriesByType:     make(map[string]int64),
		EntriesBySeverity: make(map[string]int64),
		EntriesByStatus:   make(map[string]int64),
	}
	for i := range s.entries {
		e := &s.entries[i]
		stats.EntriesByType[string(e.Type)]++
		stats.EntriesBySeverity[string(e.Severity)]++
		stats.EntriesByStatus[string(e.Status)]++

		if stats.OldestEntry == nil || e.Timestamp.Before(*stats.OldestEntry) {
			t := e.Timestamp
			stats.OldestEntry = &t
		}
		if stats.NewestEntry == nil || e.Timestamp.After(*stats.NewestEntry) {
			t := e.Timestamp
			stats.NewestEntry = &t
		}
	}
	return stats
}
