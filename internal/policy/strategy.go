// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package policy

import (
	"fmt"
	"strings"
)

// Strategy combines the outcome of several required permissions.
type Strategy string

const (
	StrategyAll      Strategy = "all"
	StrategyAny      Strategy = "any"
	StrategyWeighted Strategy = "weighted"
)

// ParseStrategy maps a name to a Strategy. Empty means all.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyAll:
		return StrategyAll, nil
	case StrategyAny:
		return StrategyAny, nil
	case StrategyWeighted:
		return StrategyWeighted, nil
	}
	return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidPolicy, s)
}

// Requirement is a composite permission requirement.
type Requirement struct {
	Permissions []string `json:"permissions"`
	Strategy    Strategy `json:"strategy,omitempty"`

	// Weights overrides the default weight of 1 per permission.
	Weights map[string]float64 `json:"weights,omitempty"`

	// Threshold overrides the engine threshold for the weighted strategy.
	Threshold float64 `json:"threshold,omitempty"`
}

// CheckResult reports how a Requirement was decided.
type CheckResult struct {
	Allowed  bool     `json:"allowed"`
	Strategy Strategy `json:"strategy"`
	Granted  []string `json:"granted"`
	Denied   []string `json:"denied"`

	// Ratio is granted weight over total weight.
	Ratio float64 `json:"ratio"`

	// DeniedByPolicy is set when at least one denial came from an explicit
	// Deny policy rather than a missing grant.
	DeniedByPolicy bool   `json:"denied_by_policy"`
	DenyPolicyID   string `json:"deny_policy_id,omitempty"`
}

// Check evaluates every permission in req for userID and combines the
// results with the requirement's strategy. An empty permission list is
// allowed.
func (e *Engine) Check(userID string, req Requirement, ctx map[string]any) (CheckResult, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = StrategyAll
	}
	res := CheckResult{Strategy: strategy, Granted: []string{}, Denied: []string{}}
	if len(req.Permissions) == 0 {
		res.Allowed = true
		res.Ratio = 1
		return res, nil
	}

	sub, err := e.subject(userID)
	if err != nil {
		return CheckResult{}, err
	}

	var grantedWeight, totalWeight float64
	for _, key := range req.Permissions {
		w := 1.0
		if ow, ok := req.Weights[key]; ok && ow >= 0 {
			w = ow
		}
		totalWeight += w

		resource, action := splitKey(key)
		r := e.evaluate(sub, Request{Action: action, Resource: resource, Context: ctx})
		if r.Allowed {
			res.Granted = append(res.Granted, key)
			grantedWeight += w
			continue
		}
		res.Denied = append(res.Denied, key)
		if r.FromPolicy && !res.DeniedByPolicy {
			res.DeniedByPolicy = true
			res.DenyPolicyID = r.PolicyID
		}
	}
	if totalWeight > 0 {
		res.Ratio = grantedWeight / totalWeight
	}

	switch strategy {
	case StrategyAll:
		res.Allowed = len(res.Denied) == 0
	case StrategyAny:
		res.Allowed = len(res.Granted) > 0
	case StrategyWeighted:
		threshold := req.Threshold
		if threshold <= 0 {
			threshold = e.threshold
		}
		res.Allowed = totalWeight > 0 && res.Ratio >= threshold
	default:
		return CheckResult{}, fmt.Errorf("%w: unknown strategy %q", ErrInvalidPolicy, strategy)
	}
	return res, nil
}

// splitKey splits "resource:action" at the last colon. A key without a colon
// is treated as a resource with an empty action.
func splitKey(key string) (resource, action string) {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return key, ""
	}
	return key[:i], key[i+1:]
}
