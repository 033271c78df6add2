// Package alert defines the core rule and condition model shared by the
// registry, the evaluator, and the evaluation engine.
package alert

import (
	"encoding/json"
	"fmt"
	"time"
)

// RuleStatus is the lifecycle state of a rule definition.
type RuleStatus string

const (
	StatusDraft    RuleStatus = "draft"
	StatusEnabled  RuleStatus = "enabled"
	StatusDisabled RuleStatus = "disabled"
)

// Priority is the rule-level base priority (P0 highest).
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpLT  Operator = "lt"
	OpLTE Operator = "lte"
	OpGT  Operator = "gt"
	OpGTE Operator = "gte"
	OpEQ  Operator = "eq"
	OpNEQ Operator = "neq"
)

// Ordered reports whether the operator requires orderable (numeric) operands.
func (op Operator) Ordered() bool {
	switch op {
	case OpLT, OpLTE, OpGT, OpGTE:
		return true
	}
	return false
}

// ActionType identifies a dispatch sink.
type ActionType string

const (
	ActionNotification ActionType = "notification"
	ActionEmail        ActionType = "email"
	ActionWebhook      ActionType = "webhook"
)

// Value is the right-hand side of a condition: either a literal or a
// reference to another field on the same entity snapshot. Exactly one of
// the two is set.
type Value struct {
	Literal  any    `json:"literal,omitempty"`
	FieldRef string `json:"fieldRef,omitempty"`
}

// Lit builds a literal value.
func Lit(v any) Value { return Value{Literal: v} }

// Ref builds a dynamic field reference.
func Ref(path string) Value { return Value{FieldRef: path} }

// IsRef reports whether the value is a dynamic field reference.
func (v Value) IsRef() bool { return v.FieldRef != "" }

func (v Value) String() string {
	if v.IsRef() {
		return "${" + v.FieldRef + "}"
	}
	b, _ := json.Marshal(v.Literal)
	return string(b)
}

// Condition compares one snapshot field against a literal or another field
// on the same entity.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    Value    `json:"value"`
}

// Action describes one side effect of a triggered rule. Template supports
// {{field.path}} placeholders resolved against the exception and its
// originating snapshot.
type Action struct {
	Type     ActionType `json:"type"`
	Template string     `json:"template"`
}

// Rule is a declarative condition-action definition. Conditions are AND-ed
// and evaluated in order.
type Rule struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Description     string      `json:"description,omitempty"`
	Category        string      `json:"category"`
	PriorityBase    Priority    `json:"priorityBase"`
	Status          RuleStatus  `json:"status"`
	Conditions      []Condition `json:"conditions"`
	Actions         []Action    `json:"actions"`
	CooldownSeconds int         `json:"cooldownSeconds"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// Cooldown returns the dispatch suppression window.
func (r *Rule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// FieldPaths returns every field path the rule observes, conditions and
// dynamic references included. Used to build the candidate index.
func (r *Rule) FieldPaths() []string {
	seen := make(map[string]struct{}, len(r.Conditions))
	var paths []string
	add := func(p string) {
		if p == "" {
			return
		}
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			paths = append(paths, p)
		}
	}
	for _, c := range r.Conditions {
		add(c.Field)
		if c.Value.IsRef() {
			add(c.Value.FieldRef)
		}
	}
	return paths
}

// EntityRef identifies one monitored entity instance.
type EntityRef struct {
	Type string `json:"entityType"`
	ID   string `json:"entityId"`
}

func (e EntityRef) String() string { return e.Type + "/" + e.ID }

// Key returns the map key form used by stores and the throttle guard.
func (e EntityRef) Key() string { return e.Type + "\x00" + e.ID }

// DefaultCategories is the built-in category enumeration. Deployments may
// override it via configuration.
var DefaultCategories = []string{"supply", "inventory", "demand", "cost"}

// ParsePriority validates a P0-P3 string.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityP0, PriorityP1, PriorityP2, PriorityP3:
		return Priority(s), nil
	}
	return "", fmt.Errorf("unknown priority %q (want P0-P3)", s)
}
