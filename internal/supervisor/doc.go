// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

/*
Package supervisor provides process supervision for Bastion using suture v4.

# Overview

	RootSupervisor ("bastion")
	├── CoreSupervisor ("core-layer")
	│   └── SweepService
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

A crashed service is restarted with suture's failure decay and backoff.
Supervisor events (restarts, backoff, timeouts) are logged through
sutureslog into the zerolog-backed slog handler from internal/logging.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddCoreService(services.NewSweepService(svc, time.Minute))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    return err
	}

# Shutdown

Canceling the context stops every service. Services that do not return
within ShutdownTimeout are reported by UnstoppedServiceReport.
*/
package supervisor
