// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

/*
Package services provides suture.Service wrappers for Bastion's long-running
components.

Each wrapper turns a component lifecycle into suture's context-aware
Serve(ctx) error and implements fmt.Stringer so the supervisor can name it
in its event log.

# Available Services

HTTPServerService:
  - runs ListenAndServe in a goroutine
  - calls Shutdown with a bounded timeout when the context ends
  - treats http.ErrServerClosed as a clean exit

SweepService:
  - calls Sweeper.Sweep on a fixed interval
  - logs and counts sweep results; a sweep never fails the service

# Example

	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	tree.AddCoreService(services.NewSweepService(authzService, time.Minute))
*/
package services
