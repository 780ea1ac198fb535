// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package policy

import (
	"errors"
	"testing"
)

func TestExportImportPreservesTieOrder(t *testing.T) {
	src := NewEngine(newFakeDirectory(), 0)
	first := mustCreate(t, src, Policy{Name: "first", Effect: EffectAllow, Priority: 2, Actions: []string{"read"}, Resources: []string{"doc"}, Enabled: true})
	mustCreate(t, src, Policy{Name: "second", Effect: EffectAllow, Priority: 2, Actions: []string{"read"}, Resources: []string{"doc"}, Enabled: true})
	mustCreate(t, src, Policy{
		Name: "clearance", Effect: EffectDeny, Priority: 1, Enabled: true,
		Actions: []string{"read"}, Resources: []string{"vault/*"},
		Condition: Match("user.clearance", OpLt, 5),
	})

	data, err := EncodePolicySet(src.Export())
	if err != nil {
		t.Fatalf("EncodePolicySet: %v", err)
	}
	set, err := DecodePolicySet(data)
	if err != nil {
		t.Fatalf("DecodePolicySet: %v", err)
	}

	dir := newFakeDirectory()
	dir.attrs["bob"] = map[string]any{"clearance": 3}
	dst := NewEngine(dir, 0)
	if err := dst.Import(set); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if dst.Len() != 3 {
		t.Fatalf("Len = %d, want 3", dst.Len())
	}

	res, _ := dst.EvaluatePolicies("bob", Request{Action: "read", Resource: "doc"})
	if res.PolicyID != first.ID {
		t.Errorf("tie winner = %s, want %s", res.PolicyID, first.ID)
	}

	// The decoded literal is a json.Number and still compares numerically.
	res, _ = dst.EvaluatePolicies("bob", Request{Action: "read", Resource: "vault/keys"})
	if res.Allowed || !res.FromPolicy {
		t.Errorf("clearance deny not applied after import: %+v", res)
	}

	// New policies land after imported ones in tie order.
	third := mustCreate(t, dst, Policy{Name: "third", Effect: EffectAllow, Priority: 2, Actions: []string{"read"}, Resources: []string{"doc"}, Enabled: true})
	all := dst.GetAllPolicies()
	if all[2].ID != third.ID {
		t.Errorf("new tie policy at %s, want last of priority 2", all[2].Name)
	}
}

func TestImportRejectsInvalid(t *testing.T) {
	e := NewEngine(newFakeDirectory(), 0)
	keep := mustCreate(t, e, Policy{Name: "keep", Effect: EffectAllow, Actions: []string{"a"}, Resources: []string{"r"}})

	tests := []struct {
		name    string
		set     *PolicySet
		wantErr error
	}{
		{"nil", nil, ErrInvalidPolicy},
		{"version", &PolicySet{Version: "0"}, ErrUnsupportedVersion},
		{"missing id", &PolicySet{Version: ExportVersion, Policies: []Policy{{Name: "x", Effect: EffectAllow, Actions: []string{"a"}, Resources: []string{"r"}}}}, ErrInvalidPolicy},
		{"duplicate id", &PolicySet{Version: ExportVersion, Policies: []Policy{
			{ID: "p", Name: "x", Effect: EffectAllow, Actions: []string{"a"}, Resources: []string{"r"}},
			{ID: "p", Name: "y", Effect: EffectAllow, Actions: []string{"a"}, Resources: []string{"r"}},
		}}, ErrInvalidPolicy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.Import(tt.set); !errors.Is(err, tt.wantErr) {
				t.Errorf("Import error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if _, err := e.GetPolicy(keep.ID); err != nil {
		t.Errorf("failed import replaced state: %v", err)
	}
}

func TestValidateSetLeavesStateUnchanged(t *testing.T) {
	e := NewEngine(newFakeDirectory(), 0)
	keep := mustCreate(t, e, Policy{Name: "keep", Effect: EffectAllow, Actions: []string{"a"}, Resources: []string{"r"}})

	bad := &PolicySet{Version: ExportVersion, Policies: []Policy{
		{ID: "bad", Name: "bad", Effect: "maybe", Actions: []string{"a"}, Resources: []string{"r"}},
	}}
	if err := e.ValidateSet(bad); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("ValidateSet(bad) = %v, want ErrInvalidPolicy", err)
	}

	good := &PolicySet{Version: ExportVersion, Policies: []Policy{
		{ID: "new", Name: "new", Effect: EffectDeny, Actions: []string{"a"}, Resources: []string{"r"}},
	}}
	if err := e.ValidateSet(good); err != nil {
		t.Errorf("ValidateSet(good) = %v", err)
	}
	if _, err := e.GetPolicy("new"); !errors.Is(err, ErrPolicyNotFound) {
		t.Errorf("ValidateSet stored a policy: %v", err)
	}
	if e.Len() != 1 {
		t.Errorf("Len = %d, want 1", e.Len())
	}
	if _, err := e.GetPolicy(keep.ID); err != nil {
		t.Errorf("GetPolicy(keep): %v", err)
	}
}
