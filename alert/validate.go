package alert

import (
	"fmt"
	"regexp"
	"strings"
)

// Field path segments follow CEL identifier rules so lowered conditions
// always compile.
var segmentPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const maxPathSegments = 8

// ValidatePath checks a dot-path like "inventory.onHand".
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("field path cannot be empty")
	}
	segments := strings.Split(path, ".")
	if len(segments) < 2 {
		return fmt.Errorf("field path %q must be namespaced, e.g. \"inventory.onHand\"", path)
	}
	if len(segments) > maxPathSegments {
		return fmt.Errorf("field path %q exceeds %d segments", path, maxPathSegments)
	}
	for _, seg := range segments {
		if !segmentPattern.MatchString(seg) {
			return fmt.Errorf("field path %q: segment %q must match %s", path, seg, segmentPattern)
		}
		if isReservedWord(seg) {
			return fmt.Errorf("field path %q: segment %q is a reserved word", path, seg)
		}
	}
	return nil
}

// Namespace returns the first segment of a field path, which names the
// entity object the field belongs to.
func Namespace(path string) string {
	if i := strings.IndexByte(path, '.'); i > 0 {
		return path[:i]
	}
	return path
}

// Validate checks a rule definition. Enabled rules must carry at least one
// condition and one action; a rule with zero conditions never matches, so
// enabling one would create a rule that silently does nothing.
func Validate(r *Rule) error {
	if r.Name == "" {
		return &ValidationError{RuleID: r.ID, Reason: "name is required"}
	}
	if r.Category == "" {
		return &ValidationError{RuleID: r.ID, Reason: "category is required"}
	}
	if _, err := ParsePriority(string(r.PriorityBase)); err != nil {
		return &ValidationError{RuleID: r.ID, Reason: err.Error()}
	}
	switch r.Status {
	case StatusDraft, StatusEnabled, StatusDisabled:
	default:
		return &ValidationError{RuleID: r.ID, Reason: fmt.Sprintf("unknown status %q", r.Status)}
	}
	if r.CooldownSeconds < 0 {
		return &ValidationError{RuleID: r.ID, Reason: "cooldownSeconds cannot be negative"}
	}
	if r.Status == StatusEnabled {
		if len(r.Conditions) == 0 {
			return &ValidationError{RuleID: r.ID, Reason: "enabled rule must have at least one condition"}
		}
		if len(r.Actions) == 0 {
			return &ValidationError{RuleID: r.ID, Reason: "enabled rule must have at least one action"}
		}
	}
	for i, c := range r.Conditions {
		if err := validateCondition(r, i, c); err != nil {
			return err
		}
	}
	for i, a := range r.Actions {
		switch a.Type {
		case ActionNotification, ActionEmail, ActionWebhook:
		default:
			return &ValidationError{RuleID: r.ID, Reason: fmt.Sprintf("action %d: unknown type %q", i, a.Type)}
		}
		if a.Template == "" {
			return &ValidationError{RuleID: r.ID, Reason: fmt.Sprintf("action %d: template is required", i)}
		}
	}
	return nil
}

func validateCondition(r *Rule, idx int, c Condition) error {
	if err := ValidatePath(c.Field); err != nil {
		return &ValidationError{RuleID: r.ID, Field: c.Field, Reason: fmt.Sprintf("condition %d: %v", idx, err)}
	}
	switch c.Operator {
	case OpLT, OpLTE, OpGT, OpGTE, OpEQ, OpNEQ:
	default:
		return &ValidationError{RuleID: r.ID, Field: c.Field,
			Reason: fmt.Sprintf("condition %d: unknown operator %q", idx, c.Operator)}
	}
	if c.Value.IsRef() {
		if c.Value.Literal != nil {
			return &ValidationError{RuleID: r.ID, Field: c.Field,
				Reason: fmt.Sprintf("condition %d: value must be a literal or a field reference, not both", idx)}
		}
		if err := ValidatePath(c.Value.FieldRef); err != nil {
			return &ValidationError{RuleID: r.ID, Field: c.Field, Reason: fmt.Sprintf("condition %d: %v", idx, err)}
		}
		// A rule observes one entity instance at a time; a reference into a
		// different namespace could never resolve on the same snapshot.
		if Namespace(c.Value.FieldRef) != Namespace(c.Field) {
			return &ValidationError{RuleID: r.ID, Field: c.Field,
				Reason: fmt.Sprintf("condition %d: reference %q is outside entity namespace %q",
					idx, c.Value.FieldRef, Namespace(c.Field))}
		}
		return nil
	}
	if c.Operator.Ordered() {
		if !isNumeric(c.Value.Literal) {
			return &ConfigurationError{RuleID: r.ID, Field: c.Field, Operator: c.Operator, Value: c.Value}
		}
		return nil
	}
	switch c.Value.Literal.(type) {
	case nil:
		return &ValidationError{RuleID: r.ID, Field: c.Field,
			Reason: fmt.Sprintf("condition %d: value is required", idx)}
	case string, bool, float64, float32, int, int32, int64:
		return nil
	default:
		return &ValidationError{RuleID: r.ID, Field: c.Field,
			Reason: fmt.Sprintf("condition %d: unsupported literal type %T", idx, c.Value.Literal)}
	}
}

func isNumeric(v any) bool {
	switch v.(type) {
	case float64, float32, int, int32, int64:
		return true
	}
	return false
}

func isReservedWord(name string) bool {
	switch name {
	case "true", "false", "null", "in", "as", "break", "const", "continue",
		"else", "for", "function", "if", "import", "let", "loop", "package",
		"namespace", "return", "var", "void", "while":
		return true
	}
	return false
}
