// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/bastion/internal/logging"
)

// HeaderPrincipal carries the principal id in trusted-header mode.
const HeaderPrincipal = "X-Principal-ID"

var (
	// ErrNoCredentials means the request carried no credentials at all.
	ErrNoCredentials = errors.New("auth: no credentials")

	// ErrInvalidCredentials means credentials were present but rejected.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrExpiredCredentials means the token was well formed but expired.
	ErrExpiredCredentials = errors.New("auth: credentials expired")
)

// Authenticator resolves the principal of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
	Name() string
}

// JWTAuthenticator reads a bearer token from the Authorization header.
type JWTAuthenticator struct {
	manager *JWTManager
}

// NewJWTAuthenticator creates a bearer-token authenticator.
func NewJWTAuthenticator(manager *JWTManager) *JWTAuthenticator {
	return &JWTAuthenticator{manager: manager}
}

// Authenticate returns the token subject.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (string, error) {
	tokenStr := extractBearer(r)
	if tokenStr == "" {
		return "", ErrNoCredentials
	}

	claims, err := a.manager.ValidateToken(tokenStr)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredCredentials
		}
		return "", ErrInvalidCredentials
	}
	return claims.Subject, nil
}

// Name returns the authenticator name.
func (a *JWTAuthenticator) Name() string { return "jwt" }

// HeaderAuthenticator trusts a principal header set by an upstream proxy.
// Use it only behind a gateway that strips client-supplied values.
type HeaderAuthenticator struct {
	header string
}

// NewHeaderAuthenticator creates a trusted-header authenticator. An empty
// header defaults to HeaderPrincipal.
func NewHeaderAuthenticator(header string) *HeaderAuthenticator {
	if header == "" {
		header = HeaderPrincipal
	}
	return &HeaderAuthenticator{header: header}
}

// Authenticate returns the trimmed header value.
func (a *HeaderAuthenticator) Authenticate(r *http.Request) (string, error) {
	p := strings.TrimSpace(r.Header.Get(a.header))
	if p == "" {
		return "", ErrNoCredentials
	}
	return p, nil
}

// Name returns the authenticator name.
func (a *HeaderAuthenticator) Name() string { return "header" }

// extractBearer extracts the bearer token from the Authorization header.
func extractBearer(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// Middleware stores the authenticated principal in the request context.
// Requests without credentials pass through anonymously; downstream
// authorization rejects them where a principal is required. Rejected
// credentials are answered by unauthorized.
func Middleware(a Authenticator, unauthorized func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := a.Authenticate(r)
			switch {
			case errors.Is(err, ErrNoCredentials):
				next.ServeHTTP(w, r)
			case err != nil:
				logging.Ctx(r.Context()).Debug().
					Str("authenticator", a.Name()).
					Err(err).
					Msg("Authentication failed")
				unauthorized(w, r, err)
			default:
				next.ServeHTTP(w, r.WithContext(logging.ContextWithPrincipal(r.Context(), principal)))
			}
		})
	}
}
