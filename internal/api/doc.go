// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

/*
Package api provides the Bastion admin HTTP API using the Chi router.

Every route except /api/v1/health and /metrics needs a principal, resolved
by internal/auth from a bearer token or a trusted header, and is then gated
by the authorization service itself: the admin API is its own first client.
A denied gate answers with the status of the decision reason (401, 403,
429 with Retry-After, or 500).

# Routes

	GET    /api/v1/health                          public
	GET    /metrics                                public, Prometheus
	GET    /api/v1/me                              any principal
	POST   /api/v1/authorize                       authz:check
	POST   /api/v1/sessions                        sessions:manage
	GET    /api/v1/sessions/{id}/validate          sessions:read
	DELETE /api/v1/sessions/{id}                   sessions:manage
	GET    /api/v1/roles[/{id}[/users]]            rbac:read
	POST   /api/v1/roles                           rbac:manage
	PUT    /api/v1/roles/{id}                      rbac:manage
	DELETE /api/v1/roles/{id}                      rbac:manage
	PUT    /api/v1/roles/{id}/permissions/{key}    rbac:manage
	DELETE /api/v1/roles/{id}/permissions/{key}    rbac:manage
	GET    /api/v1/permissions                     rbac:read
	POST   /api/v1/permissions                     rbac:manage
	PUT    /api/v1/permissions/{key}               rbac:manage
	GET    /api/v1/users/{id}/roles|attributes|permissions|scope   rbac:read
	PUT    /api/v1/users/{id}/roles/{role}         rbac:manage
	DELETE /api/v1/users/{id}/roles/{role}         rbac:manage
	PUT    /api/v1/users/{id}/attributes           rbac:manage
	GET    /api/v1/users/{id}/sessions             sessions:read
	DELETE /api/v1/users/{id}/sessions             sessions:manage
	GET    /api/v1/users/{id}/history              audit:read
	GET    /api/v1/users/{id}/risk                 risk:read
	GET    /api/v1/policies[/{id}]                 policies:read
	POST   /api/v1/policies[/conditional]          policies:manage
	DELETE /api/v1/policies/{id}                   policies:manage
	PUT    /api/v1/policies/{id}/enabled           policies:manage
	GET    /api/v1/audit[/report|/compliance|/summary|/export]   audit:read
	POST   /api/v1/audit/auth-events               audit:write
	GET    /api/v1/incidents[/{id}]                audit:read
	POST   /api/v1/incidents                       incidents:manage
	PUT    /api/v1/incidents/{id}/status           incidents:manage
	POST   /api/v1/risk/assess|anomalies           risk:read
	GET    /api/v1/snapshots                       snapshots:manage
	POST   /api/v1/snapshots                       snapshots:manage
	POST   /api/v1/snapshots/{name}/restore        snapshots:manage
	GET    /api/v1/export                          snapshots:manage
	POST   /api/v1/import                          snapshots:manage

Bootstrap creates the permissions above and the bastion-admin role holding
all of them.

# Responses

JSON bodies use one envelope:

	{"status": "success", "data": ..., "metadata": {"timestamp": ..., "request_id": ..., "count": 3}}
	{"status": "error", "error": {"code": "NOT_FOUND", "message": "..."}, "metadata": {...}}

Validation failures use code VALIDATION_ERROR with per-field details.
*/
package api
