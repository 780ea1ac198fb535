// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/bastion/internal/audit"
	"github.com/tomtom215/bastion/internal/auth"
	"github.com/tomtom215/bastion/internal/authz"
	"github.com/tomtom215/bastion/internal/config"
	"github.com/tomtom215/bastion/internal/policy"
	"github.com/tomtom215/bastion/internal/ratelimit"
	"github.com/tomtom215/bastion/internal/rbac"
	"github.com/tomtom215/bastion/internal/risk"
	"github.com/tomtom215/bastion/internal/session"
	"github.com/tomtom215/bastion/internal/storage"
)

const testAdmin = "admin"

type testAPI struct {
	svc     *authz.Service
	handler http.Handler
}

// envelope mirrors APIResponse with the payload left raw.
type envelope struct {
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data"`
	Metadata Metadata        `json:"metadata"`
	Error    *APIError       `json:"error"`
}

func newTestAPI(t *testing.T, authn auth.Authenticator) *testAPI {
	t.Helper()

	store, err := storage.Open(storage.Options{InMemory: true})
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	g, err := rbac.NewGraph()
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}
	scorer := risk.NewScorer(risk.DefaultConfig())
	limCfg := ratelimit.DefaultConfig()
	limCfg.MaxRequests = 10000

	svc, err := authz.NewService(authz.Deps{
		Graph:     g,
		Policies:  policy.NewEngine(g, 0),
		Limiter:   ratelimit.New(limCfg, nil),
		Sessions:  session.NewManager(session.DefaultConfig()),
		Risk:      scorer,
		Audit:     audit.NewLogger(audit.DefaultConfig(), audit.WithAnalyzer(scorer)),
		Snapshots: store,
	}, authz.DefaultConfig())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := Bootstrap(context.Background(), svc, testAdmin); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	mw := DefaultChiMiddlewareConfig()
	mw.RateLimitRequests = 0
	router := NewRouter(svc, RouterConfig{Middleware: mw, Authenticator: authn})
	return &testAPI{svc: svc, handler: router.Setup()}
}

// do sends a request as principal. An empty principal sends no credentials.
func (a *testAPI) do(t *testing.T, principal, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if principal != "" {
		req.Header.Set(auth.HeaderPrincipal, principal)
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

// decode checks the status and unmarshals the envelope payload into out.
func decode(t *testing.T, w *httptest.ResponseRecorder, status int, out any) envelope {
	t.Helper()

	if w.Code != status {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, status, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v; body: %s", err, w.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("decode data: %v; data: %s", err, env.Data)
		}
	}
	return env
}

func TestHealthIsPublic(t *testing.T) {
	a := newTestAPI(t, nil)

	var health HealthResponse
	env := decode(t, a.do(t, "", http.MethodGet, "/api/v1/health", nil), http.StatusOK, &health)
	if env.Status != "success" {
		t.Errorf("status = %q", env.Status)
	}
	if health.Status != "healthy" || health.Roles != 1 || health.Permissions != len(AdminPermissions()) {
		t.Errorf("health = %+v", health)
	}
}

func TestAdminRoutesAreGated(t *testing.T) {
	a := newTestAPI(t, nil)

	tests := []struct {
		name      string
		principal string
		want      int
	}{
		{"anonymous", "", http.StatusUnauthorized},
		{"no roles", "mallory", http.StatusForbidden},
		{"admin", testAdmin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(t, tt.principal, http.MethodGet, "/api/v1/roles", nil)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestDeniedGateIsAudited(t *testing.T) {
	a := newTestAPI(t, nil)

	if w := a.do(t, "mallory", http.MethodDelete, "/api/v1/roles/"+AdminRoleID, nil); w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
	entries := a.svc.Audit().QueryAuditLog(audit.Filter{UserID: "mallory", Types: []audit.EventType{audit.EventAccessDenied}})
	if len(entries) != 1 {
		t.Fatalf("denied entries = %d", len(entries))
	}
	if entries[0].Resource != "/api/v1/roles/"+AdminRoleID || entries[0].Action != "delete" {
		t.Errorf("entry = %+v", entries[0])
	}
	if _, err := a.svc.Graph().GetRole(AdminRoleID); err != nil {
		t.Errorf("admin role removed by unauthorized caller: %v", err)
	}
}

func TestRequestIDHeader(t *testing.T) {
	a := newTestAPI(t, nil)

	w := a.do(t, "", http.MethodGet, "/api/v1/health", nil)
	id := w.Header().Get("X-Request-Id")
	if id == "" {
		t.Fatal("missing X-Request-Id")
	}
	env := decode(t, w, http.StatusOK, nil)
	if env.Metadata.RequestID != id {
		t.Errorf("metadata request id = %q, header = %q", env.Metadata.RequestID, id)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-Id", "caller-supplied")
	w = httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-Id"); got != "caller-supplied" {
		t.Errorf("X-Request-Id = %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	a := newTestAPI(t, nil)

	a.do(t, testAdmin, http.MethodGet, "/api/v1/roles", nil)

	w := a.do(t, "", http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"bastion_api_requests_total", "bastion_authz_decisions_total"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestAdminRateLimit(t *testing.T) {
	a := newTestAPI(t, nil)

	mw := DefaultChiMiddlewareConfig()
	mw.RateLimitRequests = 2
	mw.RateLimitWindow = time.Minute
	h := NewRouter(a.svc, RouterConfig{Middleware: mw}).Setup()

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/roles", nil)
		req.Header.Set(auth.HeaderPrincipal, testAdmin)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", last)
	}

	// Health sits outside the limited group.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
}

func TestJWTAuthentication(t *testing.T) {
	mgr, err := auth.NewJWTManager(&config.SecurityConfig{JWTSecret: strings.Repeat("k", 32)})
	if err != nil {
		t.Fatalf("NewJWTManager: %v", err)
	}
	a := newTestAPI(t, auth.NewJWTAuthenticator(mgr))

	token, err := mgr.GenerateToken(testAdmin, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid token", "Bearer " + token, http.StatusOK},
		{"garbage token", "Bearer not-a-token", http.StatusUnauthorized},
		{"no token", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			// The trusted header is ignored in token mode.
			req.Header.Set(auth.HeaderPrincipal, testAdmin)
			w := httptest.NewRecorder()
			a.handler.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	a := newTestAPI(t, nil)
	before := a.svc.Audit().Len()

	if err := Bootstrap(context.Background(), a.svc, testAdmin); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
	if got := a.svc.Audit().Len(); got != before {
		t.Errorf("second Bootstrap wrote %d audit entries", got-before)
	}

	role, err := a.svc.Graph().GetRole(AdminRoleID)
	if err != nil {
		t.Fatal(err)
	}
	if len(role.Permissions) != len(AdminPermissions()) {
		t.Errorf("admin role holds %d permissions", len(role.Permissions))
	}
}

func TestBootstrapRepairsAdminRole(t *testing.T) {
	a := newTestAPI(t, nil)
	ctx := context.Background()
	actor := authz.Actor{ID: "test"}

	if _, err := a.svc.RevokePermission(ctx, actor, AdminRoleID, PermAuditRead); err != nil {
		t.Fatal(err)
	}
	if err := Bootstrap(ctx, a.svc, "second-admin"); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if !a.svc.Graph().HasPermission("second-admin", PermAuditRead) {
		t.Errorf("second-admin lacks %s after Bootstrap", PermAuditRead)
	}
}

func TestResponsesAreCompressed(t *testing.T) {
	a := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/permissions", nil)
	req.Header.Set(auth.HeaderPrincipal, testAdmin)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Content-Encoding"); got != "gzip" {
		t.Errorf("Content-Encoding = %q, want gzip", got)
	}
}
