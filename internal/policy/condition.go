// Bastion - Intelligent Authorization and Audit Core
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bastion

package policy

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// ConditionKind tags a Condition node.
type ConditionKind string

const (
	KindMatch ConditionKind = "match"
	KindAnd   ConditionKind = "and"
	KindOr    ConditionKind = "or"
	KindNot   ConditionKind = "not"
)

// Operator is a leaf comparison.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpExists     Operator = "exists"
)

var validOperators = map[Operator]struct{}{
	OpEq: {}, OpNe: {}, OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {},
	OpIn: {}, OpNotIn: {}, OpContains: {}, OpStartsWith: {}, OpEndsWith: {}, OpExists: {},
}

// Condition is a node of the condition tree. Match nodes carry
// Field/Operator/Value; And and Or nodes carry Children; Not carries exactly
// one child.
type Condition struct {
	Kind     ConditionKind `json:"kind"`
	Field    string        `json:"field,omitempty"`
	Operator Operator      `json:"operator,omitempty"`
	Value    any           `json:"value,omitempty"`
	Children []*Condition  `json:"children,omitempty"`
}

// Match builds a leaf condition.
func Match(field string, op Operator, value any) *Condition {
	return &Condition{Kind: KindMatch, Field: field, Operator: op, Value: value}
}

// And builds a conjunction.
func And(children ...*Condition) *Condition {
	return &Condition{Kind: KindAnd, Children: children}
}

// Or builds a disjunction.
func Or(children ...*Condition) *Condition {
	return &Condition{Kind: KindOr, Children: children}
}

// Not negates a condition.
func Not(child *Condition) *Condition {
	return &Condition{Kind: KindNot, Children: []*Condition{child}}
}

// Validate checks the structure of the tree.
func (c *Condition) Validate() error {
	if c == nil {
		return nil
	}
	switch c.Kind {
	case KindMatch:
		if c.Field == "" {
			return fmt.Errorf("%w: match condition without field", ErrInvalidCondition)
		}
		if _, ok := validOperators[c.Operator]; !ok {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, c.Operator)
		}
		if (c.Operator == OpIn || c.Operator == OpNotIn) && toSlice(c.Value) == nil {
			return fmt.Errorf("%w: %s requires a list value", ErrInvalidCondition, c.Operator)
		}
		if len(c.Children) > 0 {
			return fmt.Errorf("%w: match condition cannot have children", ErrInvalidCondition)
		}
	case KindAnd, KindOr:
		if len(c.Children) == 0 {
			return fmt.Errorf("%w: %s condition without children", ErrInvalidCondition, c.Kind)
		}
		for _, child := range c.Children {
			if child == nil {
				return fmt.Errorf("%w: nil child in %s", ErrInvalidCondition, c.Kind)
			}
			if err := child.Validate(); err != nil {
				return err
			}
		}
	case KindNot:
		if len(c.Children) != 1 || c.Children[0] == nil {
			return fmt.Errorf("%w: not condition needs exactly one child", ErrInvalidCondition)
		}
		return c.Children[0].Validate()
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCondition, c.Kind)
	}
	return nil
}

// Evaluate reports whether the condition holds. A nil condition holds.
// And/Or short-circuit left to right.
func (c *Condition) Evaluate(ctx *EvalContext) bool {
	if c == nil {
		return true
	}
	switch c.Kind {
	case KindAnd:
		for _, child := range c.Children {
			if !child.Evaluate(ctx) {
				return false
			}
		}
		return true
	case KindOr:
		for _, child := range c.Children {
			if child.Evaluate(ctx) {
				return true
			}
		}
		return false
	case KindNot:
		if len(c.Children) != 1 {
			return false
		}
		return !c.Children[0].Evaluate(ctx)
	case KindMatch:
		return evalMatch(c.Operator, ctx.field(c.Field), c.Value)
	}
	return false
}

func (c *Condition) String() string {
	if c == nil {
		return "true"
	}
	switch c.Kind {
	case KindMatch:
		return fmt.Sprintf("%s %s %v", c.Field, c.Operator, c.Value)
	case KindNot:
		if len(c.Children) == 1 {
			return "NOT " + c.Children[0].String()
		}
	case KindAnd, KindOr:
		parts := make([]string, len(c.Children))
		for i, child := range c.Children {
			parts[i] = child.String()
		}
		return "(" + strings.Join(parts, " "+strings.ToUpper(string(c.Kind))+" ") + ")"
	}
	return string(c.Kind)
}

// EvalContext is the data a condition can read.
type EvalContext struct {
	UserID     string
	Roles      []string
	Attributes map[string]any
	Action     string
	Resource   string
	Context    map[string]any
}

// field resolves a dotted field path. Unknown paths resolve to nil.
func (ctx *EvalContext) field(path string) any {
	switch {
	case path == "action":
		return ctx.Action
	case path == "resource":
		return ctx.Resource
	case path == "user.id":
		return ctx.UserID
	case path == "user.roles":
		return ctx.Roles
	case strings.HasPrefix(path, "user.attributes."):
		return lookup(ctx.Attributes, strings.TrimPrefix(path, "user.attributes."))
	case strings.HasPrefix(path, "user."):
		return lookup(ctx.Attributes, strings.TrimPrefix(path, "user."))
	case strings.HasPrefix(path, "context."):
		return lookup(ctx.Context, strings.TrimPrefix(path, "context."))
	}
	return nil
}

func lookup(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

func evalMatch(op Operator, actual, expected any) bool {
	switch op {
	case OpExists:
		return actual != nil
	case OpEq:
		return equal(actual, expected)
	case OpNe:
		return !equal(actual, expected)
	case OpGt:
		c, ok := compare(actual, expected)
		return ok && c > 0
	case OpGte:
		c, ok := compare(actual, expected)
		return ok && c >= 0
	case OpLt:
		c, ok := compare(actual, expected)
		return ok && c < 0
	case OpLte:
		c, ok := compare(actual, expected)
		return ok && c <= 0
	case OpIn:
		return in(actual, expected)
	case OpNotIn:
		return actual != nil && !in(actual, expected)
	case OpContains:
		if s, ok := actual.(string); ok {
			sub, ok := expected.(string)
			return ok && strings.Contains(s, sub)
		}
		for _, item := range toSlice(actual) {
			if equal(item, expected) {
				return true
			}
		}
		return false
	case OpStartsWith:
		s, ok1 := actual.(string)
		p, ok2 := expected.(string)
		return ok1 && ok2 && strings.HasPrefix(s, p)
	case OpEndsWith:
		s, ok1 := actual.(string)
		p, ok2 := expected.(string)
		return ok1 && ok2 && strings.HasSuffix(s, p)
	}
	return false
}

// in reports whether actual (or any element of actual, for lists) is a
// member of the expected list.
func in(actual, expected any) bool {
	set := toSlice(expected)
	if items := toSlice(actual); items != nil {
		for _, item := range items {
			for _, v := range set {
				if equal(item, v) {
					return true
				}
			}
		}
		return false
	}
	for _, v := range set {
		if equal(actual, v) {
			return true
		}
	}
	return false
}

func equal(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		return ok && as == bs
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two numbers or two strings. ok is false for any other pair.
func compare(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	as, ok1 := a.(string)
	bs, ok2 := b.(string)
	if !ok1 || !ok2 {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, !math.IsNaN(n)
	case json.Number:
		f, err := strconv.ParseFloat(string(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out
	case nil:
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
