// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package audit

import (
	"encoding/csv"
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestExportJSON(t *testing.T) {
	l, _ := seedReportLog(t)

	data, err := l.ExportAuditLogs(FormatJSON, Filter{UserID: "alice"})
	if err != nil {
		t.Fatalf("ExportAuditLogs: %v", err)
	}
	var got []Entry
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 || got[0].Resource != "/docs/2" {
		t.Errorf("entries = %+v", got)
	}

	empty, err := l.ExportAuditLogs(FormatJSON, Filter{UserID: "nobody"})
	if err != nil || string(empty) != "[]" {
		t.Errorf("empty export = %q, %v", empty, err)
	}
}

func TestExportCSV(t *testing.T) {
	l, _ := newTestLogger(t, Config{})
	mustLog(t, l, Entry{
		Type:     EventAccessDenied,
		UserID:   "bob",
		Action:   "doc:delete",
		Resource: "/docs/a,b",
		Status:   StatusFailure,
		Tags:     []string{"api", "v1"},
	})

	data, err := l.ExportAuditLogs(FormatCSV, Filter{})
	if err != nil {
		t.Fatalf("ExportAuditLogs: %v", err)
	}
	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("csv parse: %v", err)
	}
	if len(rows) != 2 || rows[0][0] != "id" {
		t.Fatalf("rows = %v", rows)
	}
	row := rows[1]
	if row[3] != "bob" || row[5] != "/docs/a,b" || row[7] != "failure" || row[12] != "api;v1" {
		t.Errorf("row = %v", row)
	}
}

func TestExportCEF(t *testing.T) {
	l, _ := newTestLogger(t, Config{})
	mustLog(t, l, Entry{
		Type:     EventRoleDeleted,
		UserID:   "root",
		Action:   "role:delete",
		Resource: "role|editor=x",
		Context:  EntryContext{IP: "10.0.0.9"},
	})

	data, err := l.ExportAuditLogs(FormatCEF, Filter{})
	if err != nil {
		t.Fatalf("ExportAuditLogs: %v", err)
	}
	line := string(data)
	if !strings.HasPrefix(line, "CEF:0|Bastion|AuthorizationCore|1.0|role.deleted|role:delete success|8|") {
		t.Errorf("header = %q", line)
	}
	for _, want := range []string{"suid=root", "src=10.0.0.9", `request=role|editor\=x`, "outcome=success"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestCEFEscaping(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		header string
		ext    string
	}{
		{"plain", "doc:read", "doc:read", "doc:read"},
		{"pipe", "a|b", `a\|b`, "a|b"},
		{"equals", "k=v", "k=v", `k\=v`},
		{"backslash", `c:\tmp`, `c:\\tmp`, `c:\\tmp`},
		{"newline", "a\nb", "a b", `a\nb`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := escapeHeader(tt.in); got != tt.header {
				t.Errorf("escapeHeader(%q) = %q, want %q", tt.in, got, tt.header)
			}
			if got := escapeExtension(tt.in); got != tt.ext {
				t.Errorf("escapeExtension(%q) = %q, want %q", tt.in, got, tt.ext)
			}
		})
	}
}

func TestExportUnsupportedFormat(t *testing.T) {
	l, _ := newTestLogger(t, Config{})
	if _, err := l.ExportAuditLogs("xml", Filter{}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("error = %v, want ErrUnsupportedFormat", err)
	}
}
