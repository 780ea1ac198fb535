// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package risk

import (
	"reflect"
	"testing"
	"time"
)

var noon = time.Date(2026, 4, 14, 12, 0, 0, 0, time.UTC)

func newTestScorer(t *testing.T, at time.Time) (*Scorer, *time.Time) {
	t.Helper()
	s := NewScorer(Config{})
	clock := at
	s.now = func() time.Time { return clock }
	return s, &clock
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{0, LevelMinimal},
		{0.29, LevelMinimal},
		{0.30, LevelLow},
		{0.59, LevelLow},
		{0.60, LevelMedium},
		{0.79, LevelMedium},
		{0.80, LevelHigh},
		{0.94, LevelHigh},
		{0.95, LevelCritical},
		{1, LevelCritical},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.score); got != tt.want {
			t.Errorf("LevelFor(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
	if !LevelCritical.AtLeast(LevelHigh) || LevelMedium.AtLeast(LevelHigh) {
		t.Error("AtLeast ordering broken")
	}
}

func TestQuietAccessScoresZero(t *testing.T) {
	s, _ := newTestScorer(t, noon)
	a := s.CalculateRiskScore("alice", Context{Action: "read"})
	if a.Score != 0 || a.Level != LevelMinimal || len(a.Factors) != 0 {
		t.Errorf("assessment = %+v, want zero", a)
	}
}

func TestUnusualTime(t *testing.T) {
	tests := []struct {
		name  string
		hour  int
		roles []string
		want  bool
	}{
		{"07h", 7, nil, true},
		{"08h", 8, nil, false},
		{"19h", 19, nil, false},
		{"20h", 20, nil, true},
		{"admin at night", 2, []string{"admin"}, false},
		{"manager at night", 23, []string{"user", "manager"}, false},
		{"user at night", 23, []string{"user"}, true},
		{"bastion admin at night", 3, []string{"bastion-admin"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := time.Date(2026, 4, 14, tt.hour, 30, 0, 0, time.UTC)
			s, _ := newTestScorer(t, at)
			a := s.CalculateRiskScore("u", Context{Action: "read", Roles: tt.roles})
			if a.Has(FactorUnusualTime) != tt.want {
				t.Errorf("unusual_time = %v, want %v (factors %v)", a.Has(FactorUnusualTime), tt.want, a.Factors)
			}
		})
	}
}

func TestAbnormalBehaviorNeedsHistory(t *testing.T) {
	s, _ := newTestScorer(t, noon)

	for i := 0; i < 4; i++ {
		s.RecordAccess("alice", Context{Action: "read"})
	}
	if a := s.CalculateRiskScore("alice", Context{Action: "delete"}); a.Has(FactorAbnormalBehavior) {
		t.Error("four samples are not enough history")
	}

	for i := 0; i < 6; i++ {
		s.RecordAccess("alice", Context{Action: "read"})
	}
	a := s.CalculateRiskScore("alice", Context{Action: "delete"})
	if !a.Has(FactorAbnormalBehavior) || a.Score != 0.30 || a.Level != LevelLow {
		t.Errorf("rare action assessment = %+v", a)
	}
	if a := s.CalculateRiskScore("alice", Context{Action: "read"}); a.Has(FactorAbnormalBehavior) {
		t.Error("common action flagged")
	}
}

func TestUnusualLocation(t *testing.T) {
	s, _ := newTestScorer(t, noon)

	s.RecordAccess("bob", Context{Action: "read", IP: "10.0.0.1"})
	s.RecordAccess("bob", Context{Action: "read", IP: "10.0.0.2"})
	if a := s.CalculateRiskScore("bob", Context{Action: "read", IP: "203.0.113.9"}); a.Has(FactorUnusualLocation) {
		t.Error("two distinct addresses are not enough history")
	}

	s.RecordAccess("bob", Context{Action: "read", IP: "10.0.0.3"})
	if a := s.CalculateRiskScore("bob", Context{Action: "read", IP: "10.0.0.2"}); a.Has(FactorUnusualLocation) {
		t.Error("known address flagged")
	}
	a := s.CalculateRiskScore("bob", Context{Action: "read", IP: "203.0.113.9"})
	if !a.Has(FactorUnusualLocation) || a.Score != 0.25 {
		t.Errorf("new address assessment = %+v", a)
	}
	if a := s.CalculateRiskScore("bob", Context{Action: "read"}); a.Has(FactorUnusualLocation) {
		t.Error("missing address should not fire")
	}
}

func TestAddressHistoryIsBounded(t *testing.T) {
	s := NewScorer(Config{AddressHistory: 3})
	s.now = func() time.Time { return noon }

	for _, ip := range []string{"a", "b", "c", "d"} {
		s.RecordAccess("u", Context{Action: "read", IP: ip})
	}
	if a := s.CalculateRiskScore("u", Context{Action: "read", IP: "a"}); !a.Has(FactorUnusualLocation) {
		t.Error("address outside the bounded history should be unusual")
	}
}

func TestUnknownDevice(t *testing.T) {
	s, _ := newTestScorer(t, noon)
	if a := s.CalculateRiskScore("u", Context{Action: "read"}); a.Has(FactorUnknownDevice) {
		t.Error("empty device id should not fire")
	}
	if a := s.CalculateRiskScore("u", Context{Action: "read", DeviceID: "phone"}); !a.Has(FactorUnknownDevice) {
		t.Error("new device should fire")
	}
	s.RecordAccess("u", Context{Action: "read", DeviceID: "phone"})
	if a := s.CalculateRiskScore("u", Context{Action: "read", DeviceID: "phone"}); a.Has(FactorUnknownDevice) {
		t.Error("known device flagged")
	}
}

func TestScoreCombinationAndClamp(t *testing.T) {
	night := time.Date(2026, 4, 14, 3, 0, 0, 0, time.UTC)
	s, _ := newTestScorer(t, night)
	for i := 0; i < 10; i++ {
		s.RecordAccess("eve", Context{Action: "read", IP: []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}[i%3], DeviceID: "laptop"})
	}

	a := s.CalculateRiskScore("eve", Context{
		Action:    "export",
		IP:        "198.51.100.7",
		DeviceID:  "unknown-phone",
		Sensitive: true,
	})
	want := []Factor{FactorAbnormalBehavior, FactorUnusualTime, FactorUnusualLocation, FactorUnknownDevice, FactorSensitiveOperation}
	if !reflect.DeepEqual(a.Factors, want) {
		t.Errorf("factors = %v, want %v", a.Factors, want)
	}
	if a.Score != 1 || a.Level != LevelCritical {
		t.Errorf("score = %v level = %s, want clamped 1 critical", a.Score, a.Level)
	}
	if !s.ExceedsThreshold(a) {
		t.Error("critical assessment should exceed threshold")
	}

	b := s.CalculateRiskScore("eve", Context{Action: "read", IP: "198.51.100.7", DeviceID: "unknown-phone", Sensitive: true, Roles: []string{"admin"}})
	if b.Score != 0.6 || b.Level != LevelMedium {
		t.Errorf("score = %v level = %s, want 0.6 medium", b.Score, b.Level)
	}
}

func TestAnalyzeAccessDoesNotStore(t *testing.T) {
	night := time.Date(2026, 4, 14, 22, 0, 0, 0, time.UTC)
	s, _ := newTestScorer(t, night)
	for i := 0; i < 5; i++ {
		s.RecordAccess("u", Context{Action: "read"})
	}
	an := s.AnalyzeAccess("u", Context{Action: "purge"})
	if !an.UnusualTime || !an.AbnormalBehavior {
		t.Errorf("analysis = %+v, want both", an)
	}
	if len(s.RecentAssessments("u")) != 0 {
		t.Error("AnalyzeAccess must not keep assessments")
	}
}

func TestDetectAnomalies(t *testing.T) {
	s, _ := newTestScorer(t, noon)
	for i := 0; i < 5; i++ {
		s.RecordAccess("u", Context{Action: "read", IP: []string{"a", "b", "c"}[i%3], DeviceID: "d1"})
	}
	obs := []Observation{
		{UserID: "u", Context: Context{Action: "read", IP: "a", DeviceID: "d1"}},
		{UserID: "u", Context: Context{Action: "wipe", IP: "z", DeviceID: "d9"}},
	}
	got := s.DetectAnomalies(obs)
	if len(got) != 1 || got[0].Observation.Context.Action != "wipe" {
		t.Fatalf("anomalies = %+v", got)
	}
	if got[0].Assessment.Score != 0.7 {
		t.Errorf("score = %v, want 0.7", got[0].Assessment.Score)
	}
	if _, known := s.profiles["u"].devices["d9"]; known {
		t.Error("DetectAnomalies must not learn devices")
	}
}

func TestRecentAssessmentsAndSweep(t *testing.T) {
	s, clock := newTestScorer(t, noon)
	s.CalculateRiskScore("u", Context{Action: "read"})
	*clock = noon.Add(time.Hour)
	s.CalculateRiskScore("u", Context{Action: "read", Sensitive: true})

	recent := s.RecentAssessments("u")
	if len(recent) != 2 || recent[0].Score != 0.2 {
		t.Fatalf("recent = %+v, want newest first", recent)
	}

	*clock = noon.Add(24*time.Hour + 30*time.Minute)
	if removed := s.Sweep(); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if len(s.RecentAssessments("u")) != 1 {
		t.Error("newer assessment should survive")
	}
}

func TestOffHoursExemptRolesConfigurable(t *testing.T) {
	night := time.Date(2026, 4, 14, 2, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		exempt []string
		roles  []string
		want   bool
	}{
		{"custom role exempt", []string{"oncall"}, []string{"oncall"}, false},
		{"default role no longer exempt", []string{"oncall"}, []string{"admin"}, true},
		{"empty list exempts nobody", []string{}, []string{"bastion-admin"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScorer(Config{OffHoursExemptRoles: tt.exempt})
			s.now = func() time.Time { return night }
			a := s.CalculateRiskScore("u", Context{Action: "read", Roles: tt.roles})
			if a.Has(FactorUnusualTime) != tt.want {
				t.Errorf("unusual_time = %v, want %v", a.Has(FactorUnusualTime), tt.want)
			}
		})
	}
}
