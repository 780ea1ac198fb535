// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/bastion/internal/audit"
	"github.com/tomtom215/bastion/internal/logging"
	"github.com/tomtom215/bastion/internal/rbac"
	"github.com/tomtom215/bastion/internal/storage"
)

// ErrNoSnapshotStore is returned when snapshots are requested but no store
// was configured.
var ErrNoSnapshotStore = errors.New("authz: snapshot store not configured")

// SnapshotStore persists named copies of the graph and policy set.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *storage.Snapshot) error
	LoadSnapshot(ctx context.Context, name string) (*storage.Snapshot, error)
	ListSnapshots(ctx context.Context) ([]storage.SnapshotInfo, error)
}

var _ SnapshotStore = (*storage.Store)(nil)

// Export captures the current graph and policy set without persisting it.
func (s *Service) Export(ctx context.Context, actor Actor) (*storage.Snapshot, error) {
	graph, err := s.graph.ExportData()
	if err == nil {
		snap := &storage.Snapshot{CreatedAt: s.now().UTC(), Graph: graph, Policies: s.policies.Export()}
		s.record(ctx, actor, change{
			typ: audit.EventDataExport, action: "data:export", resource: "snapshot",
			details: map[string]any{"roles": len(graph.Roles), "policies": len(snap.Policies.Policies)},
		}, nil)
		return snap, nil
	}
	s.record(ctx, actor, change{typ: audit.EventDataExport, action: "data:export", resource: "snapshot"}, err)
	return nil, fmt.Errorf("export graph: %w", err)
}

// Import replaces the graph and policy set with snap. The policy set is
// validated before the graph is touched, so a rejected snapshot leaves both
// unchanged.
func (s *Service) Import(ctx context.Context, actor Actor, snap *storage.Snapshot) error {
	err := s.apply(snap)
	name := ""
	if snap != nil {
		name = snap.Name
	}
	s.record(ctx, actor, change{typ: audit.EventDataImport, action: "data:import", resource: "snapshot", resourceID: name}, err)
	return err
}

func (s *Service) apply(snap *storage.Snapshot) error {
	if snap == nil || snap.Graph == nil {
		return fmt.Errorf("%w: snapshot has no graph", rbac.ErrInvalidInput)
	}
	if snap.Policies != nil {
		if err := s.policies.ValidateSet(snap.Policies); err != nil {
			return fmt.Errorf("import policies: %w", err)
		}
	}
	if err := s.graph.ImportData(snap.Graph); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	if snap.Policies != nil {
		if err := s.policies.Import(snap.Policies); err != nil {
			return fmt.Errorf("import policies: %w", err)
		}
	}
	s.cache.Clear()
	return nil
}

// SaveSnapshot exports the current state and stores it as name.
func (s *Service) SaveSnapshot(ctx context.Context, actor Actor, name string) (*storage.SnapshotInfo, error) {
	if s.snapshots == nil {
		return nil, ErrNoSnapshotStore
	}
	snap, err := s.Export(ctx, actor)
	if err != nil {
		return nil, err
	}
	snap.Name = name
	err = s.snapshots.SaveSnapshot(ctx, snap)
	s.record(ctx, actor, change{typ: audit.EventSnapshotSaved, action: "snapshot:save", resource: "snapshot", resourceID: name}, err)
	if err != nil {
		return nil, err
	}
	logging.Info().Str("snapshot", name).Msg("Snapshot saved")
	return &storage.SnapshotInfo{Name: name, CreatedAt: snap.CreatedAt}, nil
}

// RestoreSnapshot loads the snapshot called name and applies it.
func (s *Service) RestoreSnapshot(ctx context.Context, actor Actor, name string) error {
	if s.snapshots == nil {
		return ErrNoSnapshotStore
	}
	snap, err := s.snapshots.LoadSnapshot(ctx, name)
	if err == nil {
		err = s.apply(snap)
	}
	s.record(ctx, actor, change{typ: audit.EventSnapshotRestore, action: "snapshot:restore", resource: "snapshot", resourceID: name}, err)
	if err != nil {
		return err
	}
	logging.Info().Str("snapshot", name).Msg("Snapshot restored")
	return nil
}

// ListSnapshots lists stored snapshots, newest first.
func (s *Service) ListSnapshots(ctx context.Context) ([]storage.SnapshotInfo, error) {
	if s.snapshots == nil {
		return nil, ErrNoSnapshotStore
	}
	return s.snapshots.ListSnapshots(ctx)
}
