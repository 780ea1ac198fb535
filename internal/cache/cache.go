// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

// Package cache provides the smart TTL cache used to memoize effective
// permission sets and scope calculations.
//
// Entries carry their own TTL. An entry is logically absent once
// now - insertedAt > ttl; it is evicted lazily on read, by a sweep that runs
// when the entry count exceeds the configured ceiling, and by the background
// sweep service.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/bastion/internal/metrics"
)

// Entry is a cached value with its insertion time and TTL.
type Entry struct {
	Value      any
	InsertedAt time.Time
	TTL        time.Duration
}

func (e Entry) expired(now time.Time) bool {
	return now.Sub(e.InsertedAt) > e.TTL
}

// KeyStats holds hit/miss counters for one key.
type KeyStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (k KeyStats) HitRate() float64 {
	total := k.Hits + k.Misses
	if total == 0 {
		return 0
	}
	return float64(k.Hits) / float64(total)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64     `json:"hits"`
	Misses    int64     `json:"misses"`
	Evictions int64     `json:"evictions"`
	TotalKeys int       `json:"total_keys"`
	LastSweep time.Time `json:"last_sweep"`
}

// Config configures a Cache.
type Config struct {
	// Name labels the Prometheus series.
	Name string

	// DefaultTTL applies when Set is called with ttl <= 0.
	DefaultTTL time.Duration

	// MaxEntries is the ceiling that triggers an inline sweep.
	MaxEntries int
}

// DefaultConfig returns a 5 minute TTL with a 10k entry ceiling.
func DefaultConfig() Config {
	return Config{
		Name:       "default",
		DefaultTTL: 5 * time.Minute,
		MaxEntries: 10000,
	}
}

// Cache is a thread-safe TTL cache with per-key accounting.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]Entry
	keyStats  map[string]*KeyStats
	hits      int64
	misses    int64
	evictions int64
	lastSweep time.Time
	config    Config
	now       func() time.Time
}

// New creates a cache. Zero config fields take DefaultConfig values.
func New(cfg Config) *Cache {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	return &Cache{
		entries:  make(map[string]Entry),
		keyStats: make(map[string]*KeyStats),
		config:   cfg,
		now:      time.Now,
	}
}

// Get returns the value for key if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	now := c.now()
	ks := c.statsFor(key)

	entry, ok := c.entries[key]
	if ok && entry.expired(now) {
		delete(c.entries, key)
		c.evictions++
		ok = false
	}
	if ok {
		ks.Hits++
		c.hits++
	} else {
		ks.Misses++
		c.misses++
	}
	rate := c.hitRateLocked()
	c.mu.Unlock()

	metrics.RecordCacheLookup(c.config.Name, ok, rate)
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// Set stores value under key. ttl <= 0 uses the default TTL.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = Entry{Value: value, InsertedAt: now, TTL: ttl}
	if len(c.entries) > c.config.MaxEntries {
		c.sweepLocked(now)
	}
}

// GetOrCompute returns the cached value or stores and returns fn's result.
// fn runs without the cache lock held.
func (c *Cache) GetOrCompute(key string, ttl time.Duration, fn func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := fn()
	if err != nil {
		return nil, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.evictions++
	}
	c.mu.Unlock()
}

// DeletePrefix removes every key starting with prefix and returns the count.
func (c *Cache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	c.evictions += int64(n)
	return n
}

// Clear drops all entries. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.evictions += int64(len(c.entries))
	c.entries = make(map[string]Entry)
	c.mu.Unlock()
}

// Sweep removes expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.now())
}

func (c *Cache) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	// Counters for keys that are gone and were never hit are dropped so the
	// per-key table stays bounded.
	for k, ks := range c.keyStats {
		if _, live := c.entries[k]; !live && ks.Hits == 0 {
			delete(c.keyStats, k)
		}
	}
	c.evictions += int64(removed)
	c.lastSweep = now
	return removed
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the aggregate counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		TotalKeys: len(c.entries),
		LastSweep: c.lastSweep,
	}
}

// KeyStats returns the counters for one key.
func (c *Cache) KeyStats(key string) KeyStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ks, ok := c.keyStats[key]; ok {
		return *ks
	}
	return KeyStats{}
}

// HitRate returns the aggregate cacheHitRate in [0,1].
func (c *Cache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hitRateLocked()
}

func (c *Cache) hitRateLocked() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

func (c *Cache) statsFor(key string) *KeyStats {
	ks, ok := c.keyStats[key]
	if !ok {
		ks = &KeyStats{}
		c.keyStats[key] = ks
	}
	return ks
}
