// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package rbac

import (
	"errors"
	"reflect"
	"testing"

	"github.com/goccy/go-json"
)

func TestExportImportRoundTrip(t *testing.T) {
	src := seedGraph(t)
	mustAssign(t, src, "alice", "editor")
	mustAssign(t, src, "bob", "viewer")
	mustAssign(t, src, "bob", "editor")
	if err := src.SetUserAttributes("alice", map[string]any{"department": "legal", "clearance": 4}); err != nil {
		t.Fatalf("SetUserAttributes: %v", err)
	}

	snap, err := src.ExportData()
	if err != nil {
		t.Fatalf("ExportData: %v", err)
	}
	data, err := EncodeSnapshot(snap)
	if err != nil {
		t.Fatalf("EncodeSnapshot: %v", err)
	}
	decoded, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}

	dst := newTestGraph(t)
	if err := dst.ImportData(decoded); err != nil {
		t.Fatalf("ImportData: %v", err)
	}

	for _, user := range []string{"alice", "bob", "nobody"} {
		want, _ := src.GetUserEffectivePermissions(user)
		got, _ := dst.GetUserEffectivePermissions(user)
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s effective permissions = %v, want %v", user, got, want)
		}
		wantRoles, _ := src.GetUserRoles(user)
		gotRoles, _ := dst.GetUserRoles(user)
		if !reflect.DeepEqual(gotRoles, wantRoles) {
			t.Errorf("%s roles = %v, want %v", user, gotRoles, wantRoles)
		}
	}

	if !reflect.DeepEqual(dst.ListPermissions(), src.ListPermissions()) {
		t.Errorf("permissions differ after import")
	}
	editor, err := dst.GetRole("editor")
	if err != nil {
		t.Fatalf("GetRole: %v", err)
	}
	if editor.Level != 20 || editor.Name != "Editor" {
		t.Errorf("editor metadata = %+v", editor)
	}

	attrs := dst.GetUserAttributes("alice")
	if attrs["department"] != "legal" {
		t.Errorf("department = %v", attrs["department"])
	}
	if n, ok := attrs["clearance"].(json.Number); !ok || n.String() != "4" {
		t.Errorf("clearance = %#v, want json.Number 4", attrs["clearance"])
	}
}

func TestImportRejectsBadSnapshots(t *testing.T) {
	g := seedGraph(t)
	mustAssign(t, g, "alice", "editor")

	tests := []struct {
		name    string
		snap    *Snapshot
		wantErr error
	}{
		{"nil", nil, ErrInvalidInput},
		{"version", &Snapshot{Version: "9.9"}, ErrUnsupportedVersion},
		{"dangling permission", &Snapshot{
			Version: SnapshotVersion,
			Roles:   []Role{{ID: "r", Name: "R", Permissions: []string{"x:y"}}},
		}, ErrPermissionNotFound},
		{"dangling role", &Snapshot{
			Version:     SnapshotVersion,
			Assignments: map[string][]string{"u": {"missing"}},
		}, ErrRoleNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := g.ImportData(tt.snap); !errors.Is(err, tt.wantErr) {
				t.Errorf("ImportData error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if !g.HasPermission("alice", "doc:write") {
		t.Error("failed imports must leave the graph untouched")
	}
}

func TestImportNotifiesListeners(t *testing.T) {
	g := seedGraph(t)
	snap, err := g.ExportData()
	if err != nil {
		t.Fatalf("ExportData: %v", err)
	}

	var kinds []ChangeKind
	g.OnChange(func(c Change) { kinds = append(kinds, c.Kind) })
	if err := g.ImportData(snap); err != nil {
		t.Fatalf("ImportData: %v", err)
	}
	if len(kinds) != 1 || kinds[0] != ChangeImported {
		t.Errorf("kinds = %v", kinds)
	}
}
