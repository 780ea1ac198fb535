// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

// Package storage persists graph and policy snapshots and archives audit
// entries evicted from memory. It is backed by BadgerDB.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/bastion/internal/audit"
	"github.com/tomtom215/bastion/internal/policy"
	"github.com/tomtom215/bastion/internal/rbac"
)

// Key prefixes for BadgerDB storage
const (
	snapshotKeyPrefix = "snapshot:"
	auditKeyPrefix    = "audit:"
)

// ErrSnapshotNotFound is returned when no snapshot has the requested name.
var ErrSnapshotNotFound = errors.New("storage: snapshot not found")

// Options configures Open.
type Options struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory; nothing survives Close.
	InMemory bool
}

// Store is a BadgerDB-backed snapshot and archive store.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the database described by opts.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Path == "" {
		return nil, errors.New("storage: path is required unless in-memory")
	}
	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &Store{db: db}, nil
}

// NewFromDB wraps an already opened database.
func NewFromDB(db *badger.DB) *Store {
	return &Store{db: db}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Snapshot is a point-in-time copy of the graph and the policy set.
type Snapshot struct {
	Name      string            `json:"name"`
	CreatedAt time.Time         `json:"created_at"`
	Graph     *rbac.Snapshot    `json:"graph"`
	Policies  *policy.PolicySet `json:"policies"`
}

// SnapshotInfo describes a stored snapshot without its payload.
type SnapshotInfo struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
}

// snapshotRecord keeps the parts raw so each decodes with its own decoder.
type snapshotRecord struct {
	Name      string          `json:"name"`
	CreatedAt time.Time       `json:"created_at"`
	Graph     json.RawMessage `json:"graph"`
	Policies  json.RawMessage `json:"policies"`
}

// SaveSnapshot stores snap under its name, replacing any previous one.
func (s *Store) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap == nil || snap.Name == "" {
		return errors.New("storage: snapshot name is required")
	}

	rec := snapshotRecord{Name: snap.Name, CreatedAt: snap.CreatedAt}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	var err error
	if snap.Graph != nil {
		if rec.Graph, err = rbac.EncodeSnapshot(snap.Graph); err != nil {
			return fmt.Errorf("encode graph: %w", err)
		}
	}
	if snap.Policies != nil {
		if rec.Policies, err = policy.EncodePolicySet(snap.Policies); err != nil {
			return fmt.Errorf("encode policies: %w", err)
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(snapshotKeyPrefix+snap.Name), data); err != nil {
			return fmt.Errorf("set snapshot: %w", err)
		}
		return nil
	})
}

// LoadSnapshot retrieves the snapshot called name.
func (s *Store) LoadSnapshot(ctx context.Context, name string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec snapshotRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKeyPrefix + name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSnapshotNotFound
		}
		if err != nil {
			return fmt.Errorf("get snapshot: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Name: rec.Name, CreatedAt: rec.CreatedAt}
	if len(rec.Graph) > 0 && string(rec.Graph) != "null" {
		if snap.Graph, err = rbac.DecodeSnapshot(rec.Graph); err != nil {
			return nil, fmt.Errorf("decode graph: %w", err)
		}
	}
	if len(rec.Policies) > 0 && string(rec.Policies) != "null" {
		if snap.Policies, err = policy.DecodePolicySet(rec.Policies); err != nil {
			return nil, fmt.Errorf("decode policies: %w", err)
		}
	}
	return snap, nil
}

// ListSnapshots returns stored snapshots, newest first.
func (s *Store) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []SnapshotInfo
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(snapshotKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var head struct {
				Name      string    `json:"name"`
				CreatedAt time.Time `json:"created_at"`
			}
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &head)
			})
			if err != nil {
				return fmt.Errorf("read snapshot %s: %w", item.Key(), err)
			}
			out = append(out, SnapshotInfo{Name: head.Name, CreatedAt: head.CreatedAt, Size: item.ValueSize()})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteSnapshot removes the snapshot called name.
func (s *Store) DeleteSnapshot(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(snapshotKeyPrefix + name)
		if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSnapshotNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

// auditKey orders entries by time; the id breaks ties.
func auditKey(e *audit.Entry) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", auditKeyPrefix, e.Timestamp.UnixNano(), e.ID))
}

func auditSeekKey(t time.Time) []byte {
	return []byte(fmt.Sprintf("%s%020d", auditKeyPrefix, t.UnixNano()))
}

// ArchiveEntries persists entries evicted from the in-memory audit log.
// It satisfies audit.Archiver.
func (s *Store) ArchiveEntries(ctx context.Context, entries []audit.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for i := range entries {
		data, err := json.Marshal(&entries[i])
		if err != nil {
			return fmt.Errorf("marshal audit entry: %w", err)
		}
		if err := wb.Set(auditKey(&entries[i]), data); err != nil {
			return fmt.Errorf("archive audit entry: %w", err)
		}
	}
	return wb.Flush()
}

// ArchiveQuery selects archived entries.
type ArchiveQuery struct {
	Since time.Time
	Until time.Time
	Limit int
}

// ArchivedEntries returns archived entries in [q.Since, q.Until], oldest
// first. A zero Until means no upper bound.
func (s *Store) ArchivedEntries(ctx context.Context, q ArchiveQuery) ([]audit.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []audit.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(auditKeyPrefix)
		start := prefix
		if !q.Since.IsZero() {
			start = auditSeekKey(q.Since)
		}
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			var e audit.Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode archived entry: %w", err)
			}
			if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
				break
			}
			out = append(out, e)
			if q.Limit > 0 && len(out) >= q.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ArchivedCount returns the number of archived entries.
func (s *Store) ArchivedCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(auditKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
