// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

// Package authz is the authorization façade. It composes the role graph,
// policy engine, rate limiter, session manager, risk scorer, audit log and
// permission cache behind one Service.
//
// # Request Flow
//
//	Request -> Authn (internal/api) -> RequirePermissions -> Handler
//	                                          |
//	                                 Service.Authorize
//	                                          |
//	    identity -> rate limit -> session -> policy check -> risk -> audit
//
// Every Authorize call produces exactly one audit entry and one
// Prometheus observation, whatever the outcome. Any internal failure,
// including a panic in a component, is converted into a denial with
// reason InternalError.
//
// # Reasons
//
//	Reason                   HTTP
//	NoIdentity               401
//	SessionInvalid           401
//	InsufficientPermissions  403
//	PolicyDenied             403
//	RateLimited              429 (Retry-After set)
//	InternalError            500
//
// # Caching
//
// Effective permissions and scopes are memoized per user in the smart
// cache. The Service subscribes to graph changes: user-scoped changes
// drop that user's keys, role-wide changes clear the cache.
//
// # Administration
//
// Role, permission, policy, session and snapshot mutations go through
// Service methods taking an Actor so each change is audited with its
// before and after state. Failed mutations are audited as failures.
//
// # Usage Example
//
//	svc, err := authz.NewService(authz.Deps{
//	    Graph:    graph,
//	    Policies: policy.NewEngine(graph, 0.7),
//	    Limiter:  limiter,
//	    Sessions: session.NewManager(session.DefaultConfig()),
//	    Risk:     scorer,
//	    Audit:    auditLog,
//	}, authz.DefaultConfig())
//
//	mw := authz.NewMiddleware(svc)
//	r.With(mw.RequirePermissions(policy.StrategyAll, "doc:write")).Post("/docs", h)
package authz
