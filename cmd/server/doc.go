// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

/*
Package main is the entry point for the Bastion server.

Bastion answers "may this principal do this?" for other services. It combines
a role graph, ABAC policies, per-principal rate limits, sessions, behavioral
risk scoring and a tamper-evident audit log with incident detection, and
exposes them through an admin HTTP API.

# Application Architecture

The server runs under a Suture v4 supervision tree:

	RootSupervisor ("bastion")
	├── CoreSupervisor ("core-layer")
	│   └── Expiry sweep (sessions, limiter windows, cache, risk, audit)
	└── APISupervisor ("api-layer")
	    └── HTTP Server (Chi router)

Component initialization order:

 1. Configuration: Koanf v2 with environment variables and config files
 2. Logging: zerolog with JSON/console output modes
 3. Storage: BadgerDB for snapshots and archived audit entries
 4. Rate limit backend: in-memory or Redis behind a circuit breaker
 5. Authorization service: graph, policies, sessions, risk, audit, cache
 6. Startup snapshot restore and admin role bootstrap
 7. Authentication: JWT bearer tokens, or a trusted principal header
 8. Supervisor Tree and HTTP Server

# Configuration

Configuration is loaded via Koanf v2 with layered sources (highest priority wins):

	Priority: Environment variables > Config file > Defaults

Core environment variables:

	HTTP_PORT=8086                # admin API port
	LOG_LEVEL=info                # trace, debug, info, warn, error
	LOG_FORMAT=json               # json or console

	JWT_SECRET=<32+ chars>        # enables bearer token authentication
	ADMIN_PRINCIPAL=alice         # receives the bastion-admin role at start

	RATE_LIMIT_BACKEND=memory     # memory or redis
	REDIS_ADDR=127.0.0.1:6379

	STORAGE_PATH=/data/bastion
	STORAGE_RESTORE_ON_START=baseline

See internal/config for the full list.

# Signal Handling

SIGINT and SIGTERM cancel the root context. The HTTP server drains in-flight
requests within HTTP_SHUTDOWN_TIMEOUT, a last expiry sweep archives what
has aged out, and storage is closed.

# Example Usage

Development with header authentication:

	export ADMIN_PRINCIPAL=admin
	export STORAGE_IN_MEMORY=true
	./bastion

	curl -H 'X-Principal-ID: admin' localhost:8086/api/v1/roles

Production with JWT and shared Redis limits:

	export JWT_SECRET=$(openssl rand -base64 32)
	export ADMIN_PRINCIPAL=ops-lead
	export RATE_LIMIT_BACKEND=redis
	export REDIS_ADDR=redis:6379
	./bastion
*/
package main
