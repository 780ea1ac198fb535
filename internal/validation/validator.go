// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is one failed field.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

// Error implements error.
func (e FieldError) Error() string {
	return e.Message
}

// RequestValidationError collects every failed field of a struct.
type RequestValidationError struct {
	Fields []FieldError
}

// Error joins the field messages.
func (ve *RequestValidationError) Error() string {
	if len(ve.Fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(ve.Fields))
	for i, f := range ve.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

// APIError mirrors the API error body so handlers can respond directly.
type APIError struct {
	Code    string
	Message string
	Details map[string]any
}

// ToAPIError converts ve to a VALIDATION_ERROR body.
func (ve *RequestValidationError) ToAPIError() *APIError {
	switch len(ve.Fields) {
	case 0:
		return &APIError{Code: "VALIDATION_ERROR", Message: "Validation failed"}
	case 1:
		f := ve.Fields[0]
		return &APIError{
			Code:    "VALIDATION_ERROR",
			Message: f.Message,
			Details: map[string]any{"field": f.Field, "tag": f.Tag, "value": f.Value},
		}
	}

	fields := make([]map[string]any, len(ve.Fields))
	msgs := make([]string, len(ve.Fields))
	for i, f := range ve.Fields {
		fields[i] = map[string]any{"field": f.Field, "tag": f.Tag, "message": f.Message}
		msgs[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return &APIError{
		Code:    "VALIDATION_ERROR",
		Message: strings.Join(msgs, "; "),
		Details: map[string]any{"fields": fields},
	}
}

// IsPermissionKey reports whether key is "resource:action" with both parts
// non-empty and no whitespace. The split is at the last colon so resources
// may contain colons.
func IsPermissionKey(key string) bool {
	if strings.IndexFunc(key, unicode.IsSpace) >= 0 {
		return false
	}
	i := strings.LastIndexByte(key, ':')
	return i > 0 && i < len(key)-1
}

// IsRoleID reports whether id is usable as a role id: no colon and no
// whitespace.
func IsRoleID(id string) bool {
	return !strings.ContainsRune(id, ':') && strings.IndexFunc(id, unicode.IsSpace) < 0
}

// GetValidator returns the shared validator. Besides the built-in tags it
// knows:
//
//	permkey  "resource:action" permission key
//	roleid   role identifier without ':' or whitespace
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		//nolint:errcheck // registration only fails for empty tags
		validate.RegisterValidation("permkey", func(fl validator.FieldLevel) bool {
			return IsPermissionKey(fl.Field().String())
		})
		//nolint:errcheck // registration only fails for empty tags
		validate.RegisterValidation("roleid", func(fl validator.FieldLevel) bool {
			return IsRoleID(fl.Field().String())
		})
	})
	return validate
}

// ValidateStruct validates s with the shared validator.
func ValidateStruct(s any) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &RequestValidationError{Fields: []FieldError{{Field: "unknown", Tag: "unknown", Message: err.Error()}}}
	}

	fields := make([]FieldError, len(verrs))
	for i, fe := range verrs {
		fields[i] = FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Value:   fe.Value(),
			Message: translateError(fe),
		}
	}
	return &RequestValidationError{Fields: fields}
}

var errorMessageTemplates = map[string]string{
	"required": "%s is required",
	"permkey":  "%s must be a permission key of the form resource:action",
	"roleid":   "%s must not contain ':' or whitespace",
	"uuid":     "%s must be a valid UUID",
}

var errorMessageWithParam = map[string]string{
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
	"gt":    "%s must be greater than %s",
	"lt":    "%s must be less than %s",
}

func translateError(fe validator.FieldError) string {
	field, tag, param := fe.Field(), fe.Tag(), fe.Param()

	if t, ok := errorMessageTemplates[tag]; ok {
		return fmt.Sprintf(t, field)
	}
	if t, ok := errorMessageWithParam[tag]; ok {
		return fmt.Sprintf(t, field, param)
	}

	isString := fe.Kind().String() == "string"
	switch tag {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", field, param)
		}
		return fmt.Sprintf("%s must be at most %s", field, param)
	}
	return fmt.Sprintf("%s failed %s validation", field, tag)
}
