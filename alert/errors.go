package alert

import "fmt"

// ValidationError rejects a rule at create/update time. It carries enough
// context to be actionable without consulting logs.
type ValidationError struct {
	RuleID string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("rule %s: field %q: %s", e.RuleID, e.Field, e.Reason)
	}
	return fmt.Sprintf("rule %s: %s", e.RuleID, e.Reason)
}

// ConfigurationError marks a type-mismatched operator, caught at rule
// validation time and never at evaluation time.
type ConfigurationError struct {
	RuleID   string
	Field    string
	Operator Operator
	Value    Value
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("rule %s: operator %q on field %q requires orderable operands, got %s",
		e.RuleID, e.Operator, e.Field, e.Value)
}
