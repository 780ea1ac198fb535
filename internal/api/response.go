// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/bastion/internal/audit"
	"github.com/tomtom215/bastion/internal/authz"
	"github.com/tomtom215/bastion/internal/logging"
	"github.com/tomtom215/bastion/internal/policy"
	"github.com/tomtom215/bastion/internal/rbac"
	"github.com/tomtom215/bastion/internal/session"
	"github.com/tomtom215/bastion/internal/storage"
	"github.com/tomtom215/bastion/internal/validation"
)

// maxBodyBytes caps JSON request bodies. Snapshot imports are the largest.
const maxBodyBytes = 8 << 20

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Status   string    `json:"status"`
	Data     any       `json:"data,omitempty"`
	Metadata Metadata  `json:"metadata"`
	Error    *APIError `json:"error,omitempty"`
}

// Metadata describes the response.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	Count     *int      `json:"count,omitempty"`
}

// APIError is the error body.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// sanitizeLogValue removes control characters from strings to prevent log injection.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// respondJSON sends a JSON response with proper headers
func respondJSON(w http.ResponseWriter, status int, response *APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// respondData sends a success envelope around data.
func respondData(w http.ResponseWriter, r *http.Request, status int, data any) {
	respondJSON(w, status, &APIResponse{
		Status: "success",
		Data:   data,
		Metadata: Metadata{
			Timestamp: time.Now().UTC(),
			RequestID: logging.RequestIDFromContext(r.Context()),
		},
	})
}

// respondList sends a success envelope with an item count.
func respondList[T any](w http.ResponseWriter, r *http.Request, items []T) {
	if items == nil {
		items = []T{}
	}
	n := len(items)
	respondJSON(w, http.StatusOK, &APIResponse{
		Status: "success",
		Data:   items,
		Metadata: Metadata{
			Timestamp: time.Now().UTC(),
			RequestID: logging.RequestIDFromContext(r.Context()),
			Count:     &n,
		},
	})
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", sanitizeLogValue(code)).Str("error", sanitizeLogValue(err.Error())).Msg("API Error")
	}

	respondJSON(w, status, &APIResponse{
		Status: "error",
		Metadata: Metadata{
			Timestamp: time.Now().UTC(),
		},
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}

// respondAPIError sends a prepared error body.
func respondAPIError(w http.ResponseWriter, status int, apiErr *APIError) {
	respondJSON(w, status, &APIResponse{
		Status:   "error",
		Metadata: Metadata{Timestamp: time.Now().UTC()},
		Error:    apiErr,
	})
}

// respondDomainError maps a component error to a status and code. Only
// unexpected errors are logged.
func respondDomainError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		respondError(w, status, code, "internal error", err)
		return
	}
	respondError(w, status, code, err.Error(), nil)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, rbac.ErrRoleNotFound),
		errors.Is(err, rbac.ErrPermissionNotFound),
		errors.Is(err, policy.ErrPolicyNotFound),
		errors.Is(err, audit.ErrIncidentNotFound),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, storage.ErrSnapshotNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, rbac.ErrRoleExists),
		errors.Is(err, rbac.ErrPermissionExists):
		return http.StatusConflict, "ALREADY_EXISTS"
	case errors.Is(err, audit.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, rbac.ErrInvalidInput),
		errors.Is(err, rbac.ErrUnsupportedVersion),
		errors.Is(err, policy.ErrInvalidPolicy),
		errors.Is(err, policy.ErrInvalidCondition),
		errors.Is(err, policy.ErrUnsupportedVersion),
		errors.Is(err, audit.ErrInvalidEntry),
		errors.Is(err, audit.ErrInvalidIncidentArg),
		errors.Is(err, audit.ErrUnsupportedFormat):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, authz.ErrNoSnapshotStore):
		return http.StatusServiceUnavailable, "SNAPSHOTS_DISABLED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// decodeJSON reads a size-limited JSON body into v and validates it.
// It writes the error response itself and reports false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "failed to read request body", err)
		return false
	}
	if len(body) > maxBodyBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body too large", nil)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON", nil)
		return false
	}
	if apiErr := validateRequest(v); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return false
	}
	return true
}

// validateRequest validates a struct using go-playground/validator.
// Returns nil if validation passes.
func validateRequest(v any) *APIError {
	verr := validation.ValidateStruct(v)
	if verr == nil {
		return nil
	}
	apiErr := verr.ToAPIError()
	return &APIError{
		Code:    apiErr.Code,
		Message: apiErr.Message,
		Details: apiErr.Details,
	}
}

// getIntParam extracts an integer query parameter with a default value
func getIntParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// getTimeParam parses an RFC 3339 query parameter. A missing value is nil.
func getTimeParam(r *http.Request, key string) (*time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp", key)
	}
	return &t, nil
}

// getListParam splits a comma-separated query parameter.
func getListParam(r *http.Request, key string) []string {
	value := r.URL.Query().Get(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
