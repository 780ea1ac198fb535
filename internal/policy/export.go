// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package policy

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/bastion/internal/logging"
)

// ExportVersion is the current policy export format version.
const ExportVersion = "1.0"

// PolicySet is the serializable form of all policies, listed in insertion
// order so priority ties survive a round trip.
type PolicySet struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Policies   []Policy  `json:"policies"`
}

// Export returns every policy in insertion order.
func (e *Engine) Export() *PolicySet {
	e.mu.RLock()
	ordered := make([]*Policy, len(e.policies))
	copy(ordered, e.policies)
	e.mu.RUnlock()

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })
	set := &PolicySet{
		Version:    ExportVersion,
		ExportedAt: e.now().UTC(),
		Policies:   make([]Policy, len(ordered)),
	}
	for i, p := range ordered {
		set.Policies[i] = *p.clone()
	}
	return set
}

// Import replaces the policy set. Every policy is validated before any
// state changes.
func (e *Engine) Import(set *PolicySet) error {
	ordered, byID, err := e.prepareSet(set)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.policies = ordered
	e.byID = byID
	e.seq = uint64(len(ordered))
	e.mu.Unlock()

	logging.Info().Int("policies", len(ordered)).Msg("Policies imported")
	return nil
}

// ValidateSet reports whether Import would accept set, without changing
// any state.
func (e *Engine) ValidateSet(set *PolicySet) error {
	_, _, err := e.prepareSet(set)
	return err
}

// prepareSet validates set and builds the ordered list and index Import
// swaps in.
func (e *Engine) prepareSet(set *PolicySet) ([]*Policy, map[string]*Policy, error) {
	if set == nil {
		return nil, nil, fmt.Errorf("%w: nil policy set", ErrInvalidPolicy)
	}
	if set.Version != ExportVersion {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, set.Version)
	}

	byID := make(map[string]*Policy, len(set.Policies))
	ordered := make([]*Policy, 0, len(set.Policies))
	for i := range set.Policies {
		p := set.Policies[i].clone()
		if p.ID == "" {
			return nil, nil, fmt.Errorf("%w: policy without id", ErrInvalidPolicy)
		}
		if _, dup := byID[p.ID]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidPolicy, p.ID)
		}
		if err := e.validatePolicy(p); err != nil {
			return nil, nil, fmt.Errorf("policy %s: %w", p.ID, err)
		}
		p.seq = uint64(i + 1)
		byID[p.ID] = p
		ordered = append(ordered, p)
	}
	sortPolicies(ordered)
	return ordered, byID, nil
}

// EncodePolicySet serializes a policy set as JSON.
func EncodePolicySet(set *PolicySet) ([]byte, error) {
	data, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policies: %w", err)
	}
	return data, nil
}

// DecodePolicySet parses a JSON policy set, keeping numeric condition
// values as json.Number.
func DecodePolicySet(data []byte) (*PolicySet, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var set PolicySet
	if err := dec.Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode policies: %w", err)
	}
	return &set, nil
}
