// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/bastion/internal/audit"
	"github.com/tomtom215/bastion/internal/authz"
	"github.com/tomtom215/bastion/internal/logging"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// auditFilterFromQuery builds an audit filter from query parameters:
// type, severity (comma lists), user_id, action, resource, status, tag, ip,
// start, end (RFC 3339), limit, offset.
func auditFilterFromQuery(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		UserID:   q.Get("user_id"),
		Action:   q.Get("action"),
		Resource: q.Get("resource"),
		Status:   audit.Status(q.Get("status")),
		Tag:      q.Get("tag"),
		IP:       q.Get("ip"),
		Limit:    getIntParam(r, "limit", defaultAuditLimit),
		Offset:   getIntParam(r, "offset", 0),
	}
	for _, t := range getListParam(r, "type") {
		f.Types = append(f.Types, audit.EventType(t))
	}
	for _, s := range getListParam(r, "severity") {
		sev := audit.Severity(s)
		if !sev.Valid() {
			return f, fmt.Errorf("unknown severity %q", s)
		}
		f.Severities = append(f.Severities, sev)
	}
	if f.Status != "" && f.Status != audit.StatusSuccess && f.Status != audit.StatusFailure {
		return f, fmt.Errorf("status must be success or failure")
	}
	if f.Limit <= 0 || f.Limit > maxAuditLimit {
		f.Limit = defaultAuditLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	var err error
	if f.StartTime, err = getTimeParam(r, "start"); err != nil {
		return f, err
	}
	if f.EndTime, err = getTimeParam(r, "end"); err != nil {
		return f, err
	}
	return f, nil
}

// QueryAuditLog returns matching entries, newest first.
func (h *Handler) QueryAuditLog(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilterFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error(), nil)
		return
	}
	respondList(w, r, h.svc.Audit().QueryAuditLog(f))
}

// GetUserAccessHistory returns a user's recent entries.
func (h *Handler) GetUserAccessHistory(w http.ResponseWriter, r *http.Request) {
	limit := getIntParam(r, "limit", defaultAuditLimit)
	if limit <= 0 || limit > maxAuditLimit {
		limit = defaultAuditLimit
	}
	respondList(w, r, h.svc.Audit().GetUserAccessHistory(chi.URLParam(r, "userID"), limit))
}

// AuditReport aggregates the log over ?start= and ?end=. Without them the
// configured report window is used.
func (h *Handler) AuditReport(w http.ResponseWriter, r *http.Request) {
	start, err := getTimeParam(r, "start")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PERIOD", err.Error(), nil)
		return
	}
	end, err := getTimeParam(r, "end")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PERIOD", err.Error(), nil)
		return
	}

	var p audit.Period
	if start != nil || end != nil {
		p.End = time.Now().UTC()
		if end != nil {
			p.End = *end
		}
		if start != nil {
			p.Start = *start
		}
		if p.Start.After(p.End) {
			respondError(w, http.StatusBadRequest, "INVALID_PERIOD", "start must not be after end", nil)
			return
		}
	}
	respondData(w, r, http.StatusOK, h.svc.Audit().GenerateAuditReport(p))
}

// ComplianceReport evaluates retention and review checks.
func (h *Handler) ComplianceReport(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, h.svc.Audit().GenerateComplianceReport())
}

// SecuritySummary returns the dashboard view.
func (h *Handler) SecuritySummary(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, h.svc.Audit().GetSecuritySummary())
}

// ExportAuditLog streams matching entries as json, csv or cef (?format=).
// The export itself is audited.
func (h *Handler) ExportAuditLog(w http.ResponseWriter, r *http.Request) {
	f, err := auditFilterFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error(), nil)
		return
	}
	if r.URL.Query().Get("limit") == "" {
		f.Limit = 0
	}
	format := audit.Format(r.URL.Query().Get("format"))
	if format == "" {
		format = audit.FormatJSON
	}

	data, err := h.svc.Audit().ExportAuditLogs(format, f)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	actor := actorFrom(r)
	if _, err := h.svc.Audit().LogAuditEvent(r.Context(), audit.Entry{
		Type:     audit.EventDataExport,
		UserID:   actor.ID,
		Action:   "audit:export",
		Resource: "audit_log",
		Context: audit.EntryContext{
			IP:        actor.IP,
			UserAgent: actor.UserAgent,
			SessionID: actor.SessionID,
			RequestID: actor.RequestID,
		},
		Tags:    []string{"admin"},
		Details: map[string]any{"format": string(format), "bytes": len(data)},
	}); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Failed to audit log export")
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="audit-%s.%s"`, time.Now().UTC().Format("20060102T150405Z"), format))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write audit export")
	}
}

// AuthEventRequest is the body of POST /api/v1/audit/auth-events.
type AuthEventRequest struct {
	UserID    string         `json:"user_id" validate:"required,max=256"`
	Success   bool           `json:"success"`
	IP        string         `json:"ip" validate:"omitempty,ip"`
	UserAgent string         `json:"user_agent" validate:"max=512"`
	Details   map[string]any `json:"details,omitempty"`
}

// RecordAuthEvent audits a login attempt made by an external identity
// provider. Failed attempts feed brute force detection.
func (h *Handler) RecordAuthEvent(w http.ResponseWriter, r *http.Request) {
	var body AuthEventRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	caller := actorFrom(r)
	subject := authz.Actor{
		ID:        body.UserID,
		IP:        body.IP,
		UserAgent: body.UserAgent,
		RequestID: caller.RequestID,
	}
	details := body.Details
	if details == nil {
		details = map[string]any{}
	}
	details["reported_by"] = caller.ID

	if err := h.svc.RecordAuthentication(r.Context(), subject, body.Success, details); err != nil {
		respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ListIncidents lists incidents newest first. Query: type, severity,
// status (comma lists), user_id, start, end, limit.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	f := audit.IncidentFilter{
		UserID: r.URL.Query().Get("user_id"),
		Limit:  getIntParam(r, "limit", defaultAuditLimit),
	}
	for _, t := range getListParam(r, "type") {
		f.Types = append(f.Types, audit.IncidentType(t))
	}
	for _, s := range getListParam(r, "severity") {
		f.Severities = append(f.Severities, audit.Severity(s))
	}
	for _, s := range getListParam(r, "status") {
		f.Statuses = append(f.Statuses, audit.IncidentStatus(s))
	}
	var err error
	if f.StartTime, err = getTimeParam(r, "start"); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error(), nil)
		return
	}
	if f.EndTime, err = getTimeParam(r, "end"); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_FILTER", err.Error(), nil)
		return
	}
	respondList(w, r, h.svc.Audit().GetSecurityIncidents(f))
}

// GetIncident returns one incident.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.svc.Audit().GetIncident(chi.URLParam(r, "incidentID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusOK, inc)
}

// ReportIncidentRequest is the body of POST /api/v1/incidents.
type ReportIncidentRequest struct {
	Type     string         `json:"type" validate:"required,max=64"`
	Severity string         `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	UserID   string         `json:"user_id" validate:"max=256"`
	Action   string         `json:"action" validate:"max=128"`
	Resource string         `json:"resource" validate:"max=1024"`
	Details  map[string]any `json:"details,omitempty"`
}

// ReportIncident records a manually reported incident.
func (h *Handler) ReportIncident(w http.ResponseWriter, r *http.Request) {
	var body ReportIncidentRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	inc, err := h.svc.ReportIncident(r.Context(), actorFrom(r), audit.Incident{
		Type:     audit.IncidentType(body.Type),
		Severity: audit.Severity(body.Severity),
		UserID:   body.UserID,
		Action:   body.Action,
		Resource: body.Resource,
		Details:  body.Details,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusCreated, inc)
}

// UpdateIncidentRequest is the body of PUT /api/v1/incidents/{incidentID}/status.
type UpdateIncidentRequest struct {
	Status string `json:"status" validate:"required,oneof=open investigating resolved closed"`
	Note   string `json:"note" validate:"max=2048"`
}

// UpdateIncidentStatus moves an incident along its lifecycle.
func (h *Handler) UpdateIncidentStatus(w http.ResponseWriter, r *http.Request) {
	var body UpdateIncidentRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	inc, err := h.svc.UpdateIncidentStatus(r.Context(), actorFrom(r), chi.URLParam(r, "incidentID"), audit.IncidentStatus(body.Status), body.Note)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondData(w, r, http.StatusOK, inc)
}
