// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package rbac

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/bastion/internal/logging"
)

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = "1.0"

// Snapshot is the serializable form of the whole graph.
type Snapshot struct {
	Version     string                    `json:"version"`
	ExportedAt  time.Time                 `json:"exported_at"`
	Roles       []Role                    `json:"roles"`
	Permissions []Permission              `json:"permissions"`
	Assignments map[string][]string       `json:"assignments"`
	Attributes  map[string]map[string]any `json:"attributes"`
}

// ExportData captures roles, permissions, assignments and attributes.
func (g *Graph) ExportData() (*Snapshot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := &Snapshot{
		Version:     SnapshotVersion,
		ExportedAt:  g.now().UTC(),
		Roles:       make([]Role, 0, len(g.roles)),
		Permissions: make([]Permission, 0, len(g.permissions)),
		Attributes:  make(map[string]map[string]any, len(g.attributes)),
	}
	for id := range g.roles {
		r, err := g.roleLocked(id)
		if err != nil {
			return nil, err
		}
		snap.Roles = append(snap.Roles, r)
	}
	sort.Slice(snap.Roles, func(i, j int) bool { return snap.Roles[i].ID < snap.Roles[j].ID })

	for _, p := range g.permissions {
		snap.Permissions = append(snap.Permissions, *p)
	}
	sort.Slice(snap.Permissions, func(i, j int) bool { return snap.Permissions[i].Key < snap.Permissions[j].Key })

	assignments, err := g.edges.assignments()
	if err != nil {
		return nil, err
	}
	snap.Assignments = assignments

	for u, attrs := range g.attributes {
		snap.Attributes[u] = copyAttributes(attrs)
	}
	return snap, nil
}

// ImportData replaces the whole graph with the snapshot contents. The new
// state is built off to the side and swapped in, so a failed import leaves
// the graph untouched.
func (g *Graph) ImportData(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: nil snapshot", ErrInvalidInput)
	}
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, snap.Version)
	}

	e, err := newEdges()
	if err != nil {
		return err
	}
	perms := make(map[string]*Permission, len(snap.Permissions))
	for _, p := range snap.Permissions {
		if p.RiskTier == "" {
			p.RiskTier = RiskLow
		}
		if err := g.validate.Struct(p); err != nil {
			return fmt.Errorf("%w: permission %q: %v", ErrInvalidInput, p.Key, err)
		}
		stored := p
		perms[p.Key] = &stored
	}

	roles := make(map[string]*Role, len(snap.Roles))
	for _, r := range snap.Roles {
		if err := g.validate.Struct(r); err != nil {
			return fmt.Errorf("%w: role %q: %v", ErrInvalidInput, r.ID, err)
		}
		for _, p := range r.Permissions {
			if _, ok := perms[p]; !ok {
				return fmt.Errorf("%w: role %q references %s", ErrPermissionNotFound, r.ID, p)
			}
			if _, err := e.grant(r.ID, p); err != nil {
				return err
			}
		}
		stored := r
		stored.Permissions = nil
		roles[r.ID] = &stored
	}

	for user, ids := range snap.Assignments {
		for _, id := range ids {
			if _, ok := roles[id]; !ok {
				return fmt.Errorf("%w: user %q assigned to %s", ErrRoleNotFound, user, id)
			}
			if _, err := e.assign(user, id); err != nil {
				return err
			}
		}
	}

	attrs := make(map[string]map[string]any, len(snap.Attributes))
	for u, a := range snap.Attributes {
		if len(a) > 0 {
			attrs[u] = copyAttributes(a)
		}
	}

	g.mu.Lock()
	g.edges = e
	g.roles = roles
	g.permissions = perms
	g.attributes = attrs
	g.mu.Unlock()

	logging.Info().
		Int("roles", len(roles)).
		Int("permissions", len(perms)).
		Int("users", len(snap.Assignments)).
		Msg("Graph imported")
	g.notify(Change{Kind: ChangeImported})
	return nil
}

// EncodeSnapshot serializes a snapshot as JSON.
func EncodeSnapshot(snap *Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a JSON snapshot. Numeric attribute values are kept
// as json.Number so large integers survive the round trip.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var snap Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}
