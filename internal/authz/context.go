// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package authz

import (
	"context"

	"github.com/tomtom215/bastion/internal/logging"
)

type contextKey string

const decisionKey contextKey = "authz_decision"

// WithPrincipal attaches the authenticated principal to ctx.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return logging.ContextWithPrincipal(ctx, principal)
}

// PrincipalFromContext returns the principal set by the authentication
// middleware, or "".
func PrincipalFromContext(ctx context.Context) string {
	return logging.PrincipalFromContext(ctx)
}

// WithDecision stores the decision that admitted a request.
func WithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionKey, d)
}

// DecisionFromContext returns the decision stored by RequirePermissions.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey).(Decision)
	return d, ok
}
