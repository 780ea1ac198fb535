// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package audit

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Format names an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatCEF  Format = "cef"
)

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatCEF:
		return "text/plain"
	}
	return "application/json"
}

// Exporter encodes entries.
type Exporter interface {
	Export(entries []Entry) ([]byte, error)
}

// ExporterFor returns the exporter for f.
func ExporterFor(f Format) (Exporter, error) {
	switch f {
	case FormatJSON:
		return &JSONExporter{}, nil
	case FormatCSV:
		return &CSVExporter{}, nil
	case FormatCEF:
		return NewCEFExporter(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

// ExportAuditLogs encodes the entries matching filter, newest first.
func (l *Logger) ExportAuditLogs(f Format, filter Filter) ([]byte, error) {
	exp, err := ExporterFor(f)
	if err != nil {
		return nil, err
	}
	return exp.Export(l.store.Query(filter))
}

// JSONExporter exports entries as an indented JSON array.
type JSONExporter struct{}

// Export exports entries to JSON format.
func (e *JSONExporter) Export(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}

var csvHeader = []string{
	"id", "timestamp", "event_type", "user_id", "action", "resource", "resource_id",
	"status", "severity", "ip", "user_agent", "session_id", "tags",
}

// CSVExporter exports entries as RFC 4180 CSV with a header row.
type CSVExporter struct{}

// Export exports entries to CSV format.
func (e *CSVExporter) Export(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for i := range entries {
		en := &entries[i]
		row := []string{
			en.ID,
			en.Timestamp.UTC().Format(time.RFC3339Nano),
			string(en.Type),
			en.UserID,
			en.Action,
			en.Resource,
			en.ResourceID,
			string(en.Status),
			string(en.Severity),
			en.Context.IP,
			en.Context.UserAgent,
			en.Context.SessionID,
			strings.Join(en.Tags, ";"),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CEFExporter exports entries in Common Event Format for SIEM ingestion.
type CEFExporter struct {
	DeviceVendor  string
	DeviceProduct string
	DeviceVersion string
}

// NewCEFExporter creates a new CEF exporter with defaults.
func NewCEFExporter() *CEFExporter {
	return &CEFExporter{
		DeviceVendor:  "Bastion",
		DeviceProduct: "AuthorizationCore",
		DeviceVersion: "1.0",
	}
}

// Export exports entries to CEF format.
// CEF Format: CEF:Version|Device Vendor|Device Product|Device Version|Signature ID|Name|Severity|Extension
func (e *CEFExporter) Export(entries []Entry) ([]byte, error) {
	lines := make([]string, 0, len(entries))
	for i := range entries {
		en := &entries[i]
		lines = append(lines, fmt.Sprintf("CEF:0|%s|%s|%s|%s|%s|%d|%s",
			escapeHeader(e.DeviceVendor),
			escapeHeader(e.DeviceProduct),
			escapeHeader(e.DeviceVersion),
			escapeHeader(string(en.Type)),
			escapeHeader(en.Action+" "+string(en.Status)),
			cefSeverity(en.Severity),
			e.buildExtension(en),
		))
	}
	return []byte(strings.Join(lines, "\n")), nil
}

// cefSeverity maps our severity to CEF severity (0-10).
func cefSeverity(s Severity) int {
	switch s {
	case SeverityLow:
		return 3
	case SeverityMedium:
		return 5
	case SeverityHigh:
		return 8
	case SeverityCritical:
		return 10
	}
	return 0
}

func (e *CEFExporter) buildExtension(en *Entry) string {
	parts := []string{fmt.Sprintf("rt=%d", en.Timestamp.UnixMilli())}

	if en.UserID != "" {
		parts = append(parts, "suid="+escapeExtension(en.UserID))
	}
	if en.Context.IP != "" {
		parts = append(parts, "src="+escapeExtension(en.Context.IP))
	}
	if en.Resource != "" {
		parts = append(parts, "request="+escapeExtension(en.Resource))
	}
	parts = append(parts, "act="+escapeExtension(en.Action))
	parts = append(parts, "outcome="+escapeExtension(string(en.Status)))
	if en.Context.RequestID != "" {
		parts = append(parts, "externalId="+escapeExtension(en.Context.RequestID))
	}
	parts = append(parts, "cs1Label=entryId", "cs1="+escapeExtension(en.ID))
	return strings.Join(parts, " ")
}

var (
	cefHeaderEscaper    = strings.NewReplacer(`\`, `\\`, "|", `\|`, "\r\n", " ", "\n", " ", "\r", " ")
	cefExtensionEscaper = strings.NewReplacer(`\`, `\\`, "=", `\=`, "\r\n", `\n`, "\n", `\n`, "\r", `\r`)
)

// escapeHeader escapes a CEF header field. Pipes delimit header fields.
func escapeHeader(s string) string {
	return cefHeaderEscaper.Replace(s)
}

// escapeExtension escapes a CEF extension value. Equals signs delimit
// keys, and line breaks are written as \n and \r.
func escapeExtension(s string) string {
	return cefExtensionEscaper.Replace(s)
}
