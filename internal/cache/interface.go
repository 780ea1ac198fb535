// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package cache

import "time"

// Cacher is the subset of Cache the authorization service depends on.
type Cacher interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	GetOrCompute(key string, ttl time.Duration, fn func() (any, error)) (any, error)
	Delete(key string)
	DeletePrefix(prefix string) int
	Clear()
	Sweep() int
	Stats() Stats
	HitRate() float64
}

var _ Cacher = (*Cache)(nil)
