// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package policy

import (
	"errors"
	"path"
	"slices"
	"time"
)

// Effect is the outcome a matching policy produces.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Sentinel errors.
var (
	ErrPolicyNotFound     = errors.New("policy: not found")
	ErrInvalidPolicy      = errors.New("policy: invalid policy")
	ErrInvalidCondition   = errors.New("policy: invalid condition")
	ErrUnsupportedVersion = errors.New("policy: unsupported export version")
)

// Principal selects the users a policy applies to. An empty matcher applies
// to everyone; otherwise any listed user or role matches, and every
// attribute condition must hold.
type Principal struct {
	Users      []string     `json:"users,omitempty"`
	Roles      []string     `json:"roles,omitempty"`
	Attributes []*Condition `json:"attributes,omitempty"`
}

// Policy is an ABAC rule.
type Policy struct {
	ID          string     `json:"id"`
	Name        string     `json:"name" validate:"required,max=128"`
	Description string     `json:"description,omitempty" validate:"max=1024"`
	Effect      Effect     `json:"effect" validate:"required,oneof=allow deny"`
	Priority    int        `json:"priority"`
	Principal   Principal  `json:"principal"`
	Actions     []string   `json:"actions" validate:"required,min=1,dive,required"`
	Resources   []string   `json:"resources" validate:"required,min=1,dive,required"`
	Condition   *Condition `json:"condition,omitempty"`
	Enabled     bool       `json:"enabled"`
	CreatedAt   time.Time  `json:"created_at"`

	// seq is the insertion order used to break priority ties.
	seq uint64
}

// Request is the action/resource pair being evaluated plus caller context.
type Request struct {
	Action   string         `json:"action"`
	Resource string         `json:"resource"`
	Context  map[string]any `json:"context,omitempty"`
}

// Subject is the principal being evaluated.
type Subject struct {
	UserID     string
	Roles      []string
	Attributes map[string]any
}

func (p *Policy) appliesTo(ctx *EvalContext) bool {
	pr := p.Principal
	if len(pr.Users) > 0 || len(pr.Roles) > 0 {
		matched := slices.Contains(pr.Users, ctx.UserID)
		if !matched {
			for _, r := range pr.Roles {
				if slices.Contains(ctx.Roles, r) {
					matched = true
					break
				}
			}
		}
		if !matched {
			return false
		}
	}
	for _, c := range pr.Attributes {
		if !c.Evaluate(ctx) {
			return false
		}
	}
	return true
}

func (p *Policy) matchesAction(action string) bool {
	for _, a := range p.Actions {
		if a == "*" || a == action {
			return true
		}
	}
	return false
}

func (p *Policy) matchesResource(resource string) bool {
	for _, r := range p.Resources {
		if matchResource(r, resource) {
			return true
		}
	}
	return false
}

// matchResource supports exact names, "*" and path.Match globs.
func matchResource(pattern, resource string) bool {
	if pattern == "*" || pattern == resource {
		return true
	}
	ok, err := path.Match(pattern, resource)
	return err == nil && ok
}

func (p *Policy) clone() *Policy {
	cp := *p
	cp.Actions = slices.Clone(p.Actions)
	cp.Resources = slices.Clone(p.Resources)
	cp.Principal.Users = slices.Clone(p.Principal.Users)
	cp.Principal.Roles = slices.Clone(p.Principal.Roles)
	cp.Principal.Attributes = slices.Clone(p.Principal.Attributes)
	return &cp
}
