// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

// Package policy implements the ABAC policy engine.
//
// Policies are evaluated in descending priority order. At equal priority a
// Deny policy is evaluated before an Allow policy, and remaining ties fall
// back to insertion order. The first applicable policy whose condition holds
// decides; when none does, the decision falls back to the role graph.
package policy

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tomtom215/bastion/internal/logging"
	"github.com/tomtom215/bastion/internal/metrics"
	"github.com/tomtom215/bastion/internal/validation"
)

// Directory is the identity source the engine reads from.
type Directory interface {
	GetUserRoles(userID string) ([]string, error)
	GetUserAttributes(userID string) map[string]any
	HasPermission(userID, permKey string) bool
}

// Result is the outcome of EvaluatePolicies.
type Result struct {
	Allowed bool   `json:"allowed"`
	Effect  Effect `json:"effect"`

	// PolicyID is set when a policy decided.
	PolicyID string `json:"policy_id,omitempty"`

	// FromPolicy is false when the graph fallback decided.
	FromPolicy bool `json:"from_policy"`
}

// Engine holds the policy set.
type Engine struct {
	mu        sync.RWMutex
	policies  []*Policy // kept in evaluation order
	byID      map[string]*Policy
	seq       uint64
	threshold float64

	dir      Directory
	validate *validator.Validate
	now      func() time.Time
}

// DefaultWeightedThreshold is the weighted strategy threshold used when
// neither the engine nor the requirement overrides it.
const DefaultWeightedThreshold = 0.7

// NewEngine creates an engine falling back to dir. threshold <= 0 uses
// DefaultWeightedThreshold.
func NewEngine(dir Directory, threshold float64) *Engine {
	if threshold <= 0 {
		threshold = DefaultWeightedThreshold
	}
	return &Engine{
		byID:      make(map[string]*Policy),
		threshold: threshold,
		dir:       dir,
		validate:  validation.GetValidator(),
		now:       time.Now,
	}
}

func (e *Engine) validatePolicy(p *Policy) error {
	if err := e.validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if err := p.Condition.Validate(); err != nil {
		return err
	}
	for _, c := range p.Principal.Attributes {
		if c == nil {
			return fmt.Errorf("%w: nil principal condition", ErrInvalidCondition)
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// CreatePolicy validates and stores a policy, assigning an id when empty.
func (e *Engine) CreatePolicy(p Policy) (Policy, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := e.validatePolicy(&p); err != nil {
		return Policy{}, err
	}

	e.mu.Lock()
	if _, exists := e.byID[p.ID]; exists {
		e.mu.Unlock()
		return Policy{}, fmt.Errorf("%w: duplicate id %s", ErrInvalidPolicy, p.ID)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = e.now().UTC()
	}
	stored := p.clone()
	e.seq++
	stored.seq = e.seq
	e.insertLocked(stored)
	e.mu.Unlock()

	logging.Info().
		Str("policy_id", p.ID).
		Str("effect", string(p.Effect)).
		Int("priority", p.Priority).
		Msg("Policy created")
	return *stored.clone(), nil
}

func (e *Engine) insertLocked(p *Policy) {
	e.byID[p.ID] = p
	e.policies = append(e.policies, p)
	sortPolicies(e.policies)
}

func sortPolicies(ps []*Policy) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.Effect != b.Effect {
			return a.Effect == EffectDeny
		}
		return a.seq < b.seq
	})
}

// ConditionalRule is shorthand for a policy that applies to everyone holding
// one of Roles (or everyone, when empty) and is gated by Conditions.
type ConditionalRule struct {
	Name       string       `json:"name"`
	Effect     Effect       `json:"effect"`
	Priority   int          `json:"priority"`
	Roles      []string     `json:"roles,omitempty"`
	Actions    []string     `json:"actions"`
	Resources  []string     `json:"resources"`
	Conditions []*Condition `json:"conditions"`

	// MatchAny joins Conditions with OR instead of AND.
	MatchAny bool `json:"match_any,omitempty"`
}

// CreateConditionalRule builds and stores an enabled policy from rule.
func (e *Engine) CreateConditionalRule(rule ConditionalRule) (Policy, error) {
	if len(rule.Conditions) == 0 {
		return Policy{}, fmt.Errorf("%w: conditional rule needs at least one condition", ErrInvalidCondition)
	}
	var cond *Condition
	switch {
	case len(rule.Conditions) == 1:
		cond = rule.Conditions[0]
	case rule.MatchAny:
		cond = Or(rule.Conditions...)
	default:
		cond = And(rule.Conditions...)
	}
	return e.CreatePolicy(Policy{
		Name:      rule.Name,
		Effect:    rule.Effect,
		Priority:  rule.Priority,
		Principal: Principal{Roles: rule.Roles},
		Actions:   rule.Actions,
		Resources: rule.Resources,
		Condition: cond,
		Enabled:   true,
	})
}

// GetPolicy returns a policy by id.
func (e *Engine) GetPolicy(id string) (Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.byID[id]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
	}
	return *p.clone(), nil
}

// GetAllPolicies returns every policy in evaluation order.
func (e *Engine) GetAllPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Policy, len(e.policies))
	for i, p := range e.policies {
		out[i] = *p.clone()
	}
	return out
}

// DeletePolicy removes a policy.
func (e *Engine) DeletePolicy(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
	}
	delete(e.byID, id)
	for i, p := range e.policies {
		if p.ID == id {
			e.policies = append(e.policies[:i], e.policies[i+1:]...)
			break
		}
	}
	logging.Info().Str("policy_id", id).Msg("Policy deleted")
	return nil
}

// SetEnabled toggles a policy without changing its position.
func (e *Engine) SetEnabled(id string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
	}
	p.Enabled = enabled
	return nil
}

// Len returns the number of stored policies.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.policies)
}

func (e *Engine) subject(userID string) (Subject, error) {
	roles, err := e.dir.GetUserRoles(userID)
	if err != nil {
		return Subject{}, fmt.Errorf("failed to resolve roles: %w", err)
	}
	return Subject{UserID: userID, Roles: roles, Attributes: e.dir.GetUserAttributes(userID)}, nil
}

// EvaluatePolicies decides req for userID.
func (e *Engine) EvaluatePolicies(userID string, req Request) (Result, error) {
	sub, err := e.subject(userID)
	if err != nil {
		return Result{}, err
	}
	return e.evaluate(sub, req), nil
}

func (e *Engine) evaluate(sub Subject, req Request) Result {
	ctx := &EvalContext{
		UserID:     sub.UserID,
		Roles:      sub.Roles,
		Attributes: sub.Attributes,
		Action:     req.Action,
		Resource:   req.Resource,
		Context:    req.Context,
	}

	e.mu.RLock()
	for _, p := range e.policies {
		if !p.Enabled || !p.matchesAction(req.Action) || !p.matchesResource(req.Resource) || !p.appliesTo(ctx) {
			continue
		}
		if !p.Condition.Evaluate(ctx) {
			continue
		}
		id, effect := p.ID, p.Effect
		e.mu.RUnlock()

		metrics.RecordPolicyEvaluation(string(effect), true)
		logging.Debug().
			Str("user_id", sub.UserID).
			Str("action", req.Action).
			Str("resource", req.Resource).
			Str("policy_id", id).
			Str("effect", string(effect)).
			Msg("Policy matched")
		return Result{Allowed: effect == EffectAllow, Effect: effect, PolicyID: id, FromPolicy: true}
	}
	e.mu.RUnlock()

	allowed := e.dir.HasPermission(sub.UserID, req.Resource+":"+req.Action)
	effect := EffectDeny
	if allowed {
		effect = EffectAllow
	}
	metrics.RecordPolicyEvaluation(string(effect), false)
	return Result{Allowed: allowed, Effect: effect}
}
