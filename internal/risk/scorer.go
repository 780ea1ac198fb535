// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

// Package risk scores access attempts against per-user behavior profiles.
//
// A score is the sum of the weights of the factors that fire, clamped to
// [0,1]:
//
//	abnormal_behavior    0.30  action is < 10% of a history of >= 5 samples
//	unusual_time         0.20  hour outside [08,20) for non admin/manager
//	unusual_location     0.25  IP not among the last 100 with >= 3 distinct
//	unknown_device       0.15  device id never seen for this user
//	sensitive_operation  0.20  caller flagged the operation
package risk

import (
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/bastion/internal/metrics"
)

// Level buckets a score.
type Level string

const (
	LevelMinimal  Level = "minimal"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

var levelRank = map[Level]int{
	LevelMinimal:  0,
	LevelLow:      1,
	LevelMedium:   2,
	LevelHigh:     3,
	LevelCritical: 4,
}

// AtLeast reports whether l is at or above other.
func (l Level) AtLeast(other Level) bool {
	return levelRank[l] >= levelRank[other]
}

// LevelFor maps a score to its level.
func LevelFor(score float64) Level {
	switch {
	case score >= 0.95:
		return LevelCritical
	case score >= 0.80:
		return LevelHigh
	case score >= 0.60:
		return LevelMedium
	case score >= 0.30:
		return LevelLow
	}
	return LevelMinimal
}

// Factor names a risk signal.
type Factor string

const (
	FactorAbnormalBehavior   Factor = "abnormal_behavior"
	FactorUnusualTime        Factor = "unusual_time"
	FactorUnusualLocation    Factor = "unusual_location"
	FactorUnknownDevice      Factor = "unknown_device"
	FactorSensitiveOperation Factor = "sensitive_operation"
)

var factorWeights = map[Factor]float64{
	FactorAbnormalBehavior:   0.30,
	FactorUnusualTime:        0.20,
	FactorUnusualLocation:    0.25,
	FactorUnknownDevice:      0.15,
	FactorSensitiveOperation: 0.20,
}

// Weight returns the score contribution of f.
func (f Factor) Weight() float64 {
	return factorWeights[f]
}

const (
	minBehaviorSamples    = 5
	rareActionFraction    = 0.10
	minDistinctAddresses  = 3
	businessHourStart     = 8
	businessHourEnd       = 20
	maxAssessmentsPerUser = 100
)

// Context describes one access attempt.
type Context struct {
	Action    string    `json:"action"`
	Resource  string    `json:"resource,omitempty"`
	IP        string    `json:"ip,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	Roles     []string  `json:"roles,omitempty"`
	Sensitive bool      `json:"sensitive,omitempty"`
	Time      time.Time `json:"time,omitempty"`
}

// Assessment is a computed risk score.
type Assessment struct {
	UserID    string    `json:"user_id"`
	Score     float64   `json:"score"`
	Level     Level     `json:"level"`
	Factors   []Factor  `json:"factors"`
	Timestamp time.Time `json:"timestamp"`
}

// Has reports whether factor f fired.
func (a Assessment) Has(f Factor) bool {
	return slices.Contains(a.Factors, f)
}

// Analysis is the temporal and behavioral subset used by the audit detector.
type Analysis struct {
	UnusualTime      bool `json:"unusual_time"`
	AbnormalBehavior bool `json:"abnormal_behavior"`
}

// Observation pairs a user with an access context for batch analysis.
type Observation struct {
	UserID  string  `json:"user_id"`
	Context Context `json:"context"`
}

// Anomaly is an observation that scored medium or above.
type Anomaly struct {
	Observation Observation `json:"observation"`
	Assessment  Assessment  `json:"assessment"`
}

type profile struct {
	actions     map[string]int
	total       int
	addresses   []string
	devices     map[string]struct{}
	assessments []Assessment
}

// Config tunes the scorer.
type Config struct {
	// HighThreshold is the score at which an incident is raised.
	HighThreshold float64

	// AddressHistory bounds the recent IP list per user.
	AddressHistory int

	// AssessmentWindow bounds how long assessments are kept.
	AssessmentWindow time.Duration

	// OffHoursExemptRoles are role ids never flagged for unusual time.
	// Nil takes the default list; an empty slice exempts nobody.
	OffHoursExemptRoles []string
}

// DefaultOffHoursExemptRoles are the roles expected to work around the clock.
var DefaultOffHoursExemptRoles = []string{"admin", "manager", "bastion-admin"}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		HighThreshold:       0.80,
		AddressHistory:      100,
		AssessmentWindow:    24 * time.Hour,
		OffHoursExemptRoles: slices.Clone(DefaultOffHoursExemptRoles),
	}
}

// Scorer holds behavior profiles.
type Scorer struct {
	mu       sync.RWMutex
	profiles map[string]*profile
	cfg      Config
	now      func() time.Time
}

// NewScorer creates a scorer. Zero config fields take defaults.
func NewScorer(cfg Config) *Scorer {
	def := DefaultConfig()
	if cfg.HighThreshold <= 0 {
		cfg.HighThreshold = def.HighThreshold
	}
	if cfg.AddressHistory <= 0 {
		cfg.AddressHistory = def.AddressHistory
	}
	if cfg.AssessmentWindow <= 0 {
		cfg.AssessmentWindow = def.AssessmentWindow
	}
	if cfg.OffHoursExemptRoles == nil {
		cfg.OffHoursExemptRoles = def.OffHoursExemptRoles
	} else {
		cfg.OffHoursExemptRoles = slices.Clone(cfg.OffHoursExemptRoles)
	}
	return &Scorer{profiles: make(map[string]*profile), cfg: cfg, now: time.Now}
}

// ExceedsThreshold reports whether a requires an incident.
func (s *Scorer) ExceedsThreshold(a Assessment) bool {
	return a.Score >= s.cfg.HighThreshold
}

// CalculateRiskScore scores ctx for userID and keeps the assessment.
// It does not update the behavior profile; call RecordAccess for that.
func (s *Scorer) CalculateRiskScore(userID string, ctx Context) Assessment {
	now := s.now()
	s.mu.Lock()
	p := s.profileLocked(userID)
	a := s.assessLocked(userID, p, ctx, now)
	p.assessments = append(p.assessments, a)
	if len(p.assessments) > maxAssessmentsPerUser {
		p.assessments = p.assessments[len(p.assessments)-maxAssessmentsPerUser:]
	}
	s.mu.Unlock()

	metrics.RiskScore.Observe(a.Score)
	return a
}

// AnalyzeAccess reports the temporal and behavioral factors for ctx without
// keeping anything.
func (s *Scorer) AnalyzeAccess(userID string, ctx Context) Analysis {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.profiles[userID]
	return Analysis{
		UnusualTime:      s.unusualTime(ctx, now),
		AbnormalBehavior: p != nil && abnormalBehavior(p, ctx.Action),
	}
}

// RecordAccess folds a successful access into the user's profile.
func (s *Scorer) RecordAccess(userID string, ctx Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profileLocked(userID)
	if ctx.Action != "" {
		p.actions[ctx.Action]++
		p.total++
	}
	if ctx.IP != "" {
		p.addresses = append(p.addresses, ctx.IP)
		if len(p.addresses) > s.cfg.AddressHistory {
			p.addresses = p.addresses[len(p.addresses)-s.cfg.AddressHistory:]
		}
	}
	if ctx.DeviceID != "" {
		p.devices[ctx.DeviceID] = struct{}{}
	}
}

// DetectAnomalies scores each observation against current profiles and
// returns those at medium or above. Profiles are not modified.
func (s *Scorer) DetectAnomalies(obs []Observation) []Anomaly {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Anomaly
	empty := newProfile()
	for _, o := range obs {
		p := s.profiles[o.UserID]
		if p == nil {
			p = empty
		}
		a := s.assessLocked(o.UserID, p, o.Context, now)
		if a.Level.AtLeast(LevelMedium) {
			out = append(out, Anomaly{Observation: o, Assessment: a})
		}
	}
	return out
}

// RecentAssessments returns userID's kept assessments, newest first.
func (s *Scorer) RecentAssessments(userID string) []Assessment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.profiles[userID]
	if p == nil {
		return nil
	}
	out := slices.Clone(p.assessments)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// Sweep drops assessments older than the assessment window and returns
// how many were removed.
func (s *Scorer) Sweep() int {
	cutoff := s.now().Add(-s.cfg.AssessmentWindow)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, p := range s.profiles {
		kept := p.assessments[:0]
		for _, a := range p.assessments {
			if a.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, a)
		}
		p.assessments = kept
	}
	return removed
}

func newProfile() *profile {
	return &profile{actions: make(map[string]int), devices: make(map[string]struct{})}
}

func (s *Scorer) profileLocked(userID string) *profile {
	p, ok := s.profiles[userID]
	if !ok {
		p = newProfile()
		s.profiles[userID] = p
	}
	return p
}

func (s *Scorer) assessLocked(userID string, p *profile, ctx Context, now time.Time) Assessment {
	var factors []Factor
	if abnormalBehavior(p, ctx.Action) {
		factors = append(factors, FactorAbnormalBehavior)
	}
	if s.unusualTime(ctx, now) {
		factors = append(factors, FactorUnusualTime)
	}
	if unusualLocation(p, ctx.IP) {
		factors = append(factors, FactorUnusualLocation)
	}
	if ctx.DeviceID != "" {
		if _, known := p.devices[ctx.DeviceID]; !known {
			factors = append(factors, FactorUnknownDevice)
		}
	}
	if ctx.Sensitive {
		factors = append(factors, FactorSensitiveOperation)
	}

	score := 0.0
	for _, f := range factors {
		score += f.Weight()
	}
	// Rounded so sums like 0.45+0.15 land exactly on level boundaries.
	score = min(max(math.Round(score*1e4)/1e4, 0), 1)

	if factors == nil {
		factors = []Factor{}
	}
	return Assessment{
		UserID:    userID,
		Score:     score,
		Level:     LevelFor(score),
		Factors:   factors,
		Timestamp: now,
	}
}

func abnormalBehavior(p *profile, action string) bool {
	if p.total < minBehaviorSamples {
		return false
	}
	return float64(p.actions[action])/float64(p.total) < rareActionFraction
}

func (s *Scorer) unusualTime(ctx Context, now time.Time) bool {
	for _, r := range ctx.Roles {
		if slices.Contains(s.cfg.OffHoursExemptRoles, r) {
			return false
		}
	}
	t := ctx.Time
	if t.IsZero() {
		t = now
	}
	h := t.Hour()
	return h < businessHourStart || h >= businessHourEnd
}

func unusualLocation(p *profile, ip string) bool {
	if ip == "" {
		return false
	}
	distinct := make(map[string]struct{}, len(p.addresses))
	for _, a := range p.addresses {
		if a == ip {
			return false
		}
		distinct[a] = struct{}{}
	}
	return len(distinct) >= minDistinctAddresses
}
