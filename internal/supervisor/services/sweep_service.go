// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package services

import (
	"context"
	"time"

	"github.com/tomtom215/bastion/internal/logging"
)

// Sweeper runs one expiry pass and reports removals per component.
//
// Satisfied by *authz.Service.
type Sweeper interface {
	Sweep(ctx context.Context) map[string]int
}

// SweepService drives the periodic expiry of sessions, rate limit windows,
// cache entries, risk assessments and audit entries past retention.
type SweepService struct {
	sweeper  Sweeper
	interval time.Duration
	name     string
}

// NewSweepService creates a sweep service. A non-positive interval means 1m.
func NewSweepService(sweeper Sweeper, interval time.Duration) *SweepService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SweepService{sweeper: sweeper, interval: interval, name: "expiry-sweep"}
}

// Serve implements suture.Service.
func (s *SweepService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			removed := s.sweeper.Sweep(ctx)
			total := 0
			for _, n := range removed {
				total += n
			}
			if total > 0 {
				logging.Debug().
					Interface("removed", removed).
					Int("total", total).
					Msg("Expiry sweep completed")
			}
		}
	}
}

// String implements fmt.Stringer for suture's event log.
func (s *SweepService) String() string {
	return s.name
}
