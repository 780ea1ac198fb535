// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package validation

import (
	"strings"
	"testing"
)

type roleRequest struct {
	ID    string `validate:"required,max=64,roleid"`
	Name  string `validate:"required,max=128"`
	Level int    `validate:"min=0,max=1000"`
}

type grantRequest struct {
	Permission string `validate:"required,permkey"`
	Strategy   string `validate:"omitempty,oneof=all any weighted"`
}

func TestGetValidatorSingleton(t *testing.T) {
	if GetValidator() != GetValidator() {
		t.Error("GetValidator() should return the same instance")
	}
}

func TestValidateStructValid(t *testing.T) {
	if err := ValidateStruct(&roleRequest{ID: "editor", Name: "Editor", Level: 50}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateStruct(&grantRequest{Permission: "reports:q3:read", Strategy: "any"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateStructInvalid(t *testing.T) {
	tests := []struct {
		name      string
		input     any
		wantField string
		wantTag   string
	}{
		{"missing id", &roleRequest{Name: "x"}, "ID", "required"},
		{"colon in id", &roleRequest{ID: "a:b", Name: "x"}, "ID", "roleid"},
		{"level too high", &roleRequest{ID: "a", Name: "x", Level: 1001}, "Level", "max"},
		{"key without action", &grantRequest{Permission: "doc:"}, "Permission", "permkey"},
		{"key with space", &grantRequest{Permission: "doc: read"}, "Permission", "permkey"},
		{"unknown strategy", &grantRequest{Permission: "doc:read", Strategy: "most"}, "Strategy", "oneof"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.input)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if len(err.Fields) != 1 || err.Fields[0].Field != tt.wantField || err.Fields[0].Tag != tt.wantTag {
				t.Errorf("fields = %+v, want %s/%s", err.Fields, tt.wantField, tt.wantTag)
			}
		})
	}
}

func TestToAPIError(t *testing.T) {
	single := ValidateStruct(&roleRequest{ID: "editor"}).ToAPIError()
	if single.Code != "VALIDATION_ERROR" || single.Message != "Name is required" || single.Details["field"] != "Name" {
		t.Errorf("single = %+v", single)
	}

	multi := ValidateStruct(&roleRequest{Level: -1}).ToAPIError()
	fields, ok := multi.Details["fields"].([]map[string]any)
	if !ok || len(fields) != 3 {
		t.Fatalf("details = %+v", multi.Details)
	}
	if !strings.Contains(multi.Message, "ID: ID is required") || !strings.Contains(multi.Message, "Level must be at least 0") {
		t.Errorf("message = %q", multi.Message)
	}
}

func TestIsPermissionKey(t *testing.T) {
	tests := map[string]bool{
		"doc:read":       true,
		"reports:q3:run": true,
		"doc":            false,
		":read":          false,
		"doc:":           false,
		"doc :read":      false,
	}
	for key, want := range tests {
		if got := IsPermissionKey(key); got != want {
			t.Errorf("IsPermissionKey(%q) = %v, want %v", key, got, want)
		}
	}
}
