// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

// Package validation provides struct validation using go-playground/validator v10.
//
// One validator instance is shared by the role graph, the policy engine and
// the HTTP API so struct metadata is cached once and custom tags behave the
// same everywhere.
//
// # Custom Tags
//
//	permkey  "resource:action", split at the last colon, no whitespace
//	roleid   no ':' and no whitespace
//
// # Usage
//
//	type grantRequest struct {
//	    Permission string `json:"permission" validate:"required,permkey"`
//	}
//
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    apiErr := verr.ToAPIError()
//	    respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
//	    return
//	}
//
// Error messages are human readable ("Name is required", "Level must be at
// most 1000") and collected per field in RequestValidationError.
package validation
