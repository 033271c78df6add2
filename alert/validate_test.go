package alert

import (
	"errors"
	"testing"
)

func validRule() *Rule {
	return &Rule{
		ID:           "r-1",
		Name:         "Supplier OTD below target",
		Category:     "supply",
		PriorityBase: PriorityP1,
		Status:       StatusEnabled,
		Conditions: []Condition{
			{Field: "supplier.otd", Operator: OpLT, Value: Lit(0.90)},
		},
		Actions: []Action{
			{Type: ActionNotification, Template: "OTD dropped to {{supplier.otd}}"},
		},
	}
}

func TestValidatePath(t *testing.T) {
	testCases := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"simple namespaced", "supplier.otd", false},
		{"deeper nesting", "warehouse.zone.a1.utilization", false},
		{"underscore segments", "item._internal.on_hand", false},
		{"empty", "", true},
		{"single segment", "otd", true},
		{"empty segment", "supplier..otd", true},
		{"leading digit", "supplier.9lives", true},
		{"hyphen", "supplier.on-time", true},
		{"reserved word", "supplier.true", true},
		{"too many segments", "a.b.c.d.e.f.g.h.i", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePath(tc.path)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidatePath(%q) error = %v, wantErr %v", tc.path, err, tc.wantErr)
			}
		})
	}
}

func TestValidateAcceptsWellFormedRule(t *testing.T) {
	if err := Validate(validRule()); err != nil {
		t.Fatalf("Validate() failed for well-formed rule: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Rule)
	}{
		{"missing name", func(r *Rule) { r.Name = "" }},
		{"missing category", func(r *Rule) { r.Category = "" }},
		{"bad priority", func(r *Rule) { r.PriorityBase = "P9" }},
		{"bad status", func(r *Rule) { r.Status = "paused" }},
		{"negative cooldown", func(r *Rule) { r.CooldownSeconds = -1 }},
		{"enabled without conditions", func(r *Rule) { r.Conditions = nil }},
		{"enabled without actions", func(r *Rule) { r.Actions = nil }},
		{"bad condition field", func(r *Rule) { r.Conditions[0].Field = "otd" }},
		{"unknown operator", func(r *Rule) { r.Conditions[0].Operator = "like" }},
		{"missing value", func(r *Rule) { r.Conditions[0].Value = Value{} }},
		{"unknown action type", func(r *Rule) { r.Actions[0].Type = "sms" }},
		{"empty action template", func(r *Rule) { r.Actions[0].Template = "" }},
		{"both literal and ref", func(r *Rule) {
			r.Conditions[0].Value = Value{Literal: 1.0, FieldRef: "supplier.target"}
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := validRule()
			tc.mutate(r)
			if err := Validate(r); err == nil {
				t.Errorf("Validate() should reject %s", tc.name)
			}
		})
	}
}

func TestValidateDraftMayBeEmpty(t *testing.T) {
	r := &Rule{
		ID:           "r-draft",
		Name:         "Work in progress",
		Category:     "supply",
		PriorityBase: PriorityP3,
		Status:       StatusDraft,
	}
	if err := Validate(r); err != nil {
		t.Fatalf("Validate() should allow a draft without conditions: %v", err)
	}
}

func TestValidateOrderedOperatorRequiresNumericLiteral(t *testing.T) {
	r := validRule()
	r.Conditions[0].Value = Lit("high")

	err := Validate(r)
	var confErr *ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("Validate() = %v, want ConfigurationError", err)
	}
	if confErr.Field != "supplier.otd" {
		t.Errorf("ConfigurationError.Field = %q, want supplier.otd", confErr.Field)
	}
}

func TestValidateOrderedOperatorAcceptsFieldRef(t *testing.T) {
	r := validRule()
	r.Conditions[0].Value = Ref("supplier.otdTarget")
	if err := Validate(r); err != nil {
		t.Fatalf("Validate() should accept a same-namespace reference: %v", err)
	}
}

func TestValidateCrossNamespaceRefRejected(t *testing.T) {
	r := validRule()
	r.Conditions[0].Value = Ref("warehouse.capacity")

	err := Validate(r)
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("Validate() = %v, want ValidationError for cross-namespace reference", err)
	}
}

func TestValidateEqualityAcceptsStringsAndBools(t *testing.T) {
	r := validRule()
	r.Conditions = []Condition{
		{Field: "supplier.region", Operator: OpEQ, Value: Lit("EMEA")},
		{Field: "supplier.active", Operator: OpNEQ, Value: Lit(false)},
	}
	if err := Validate(r); err != nil {
		t.Fatalf("Validate() failed for eq/neq non-numeric literals: %v", err)
	}
}

func TestFieldPaths(t *testing.T) {
	r := validRule()
	r.Conditions = append(r.Conditions,
		Condition{Field: "supplier.onHand", Operator: OpLT, Value: Ref("supplier.safetyStock")},
		Condition{Field: "supplier.otd", Operator: OpGT, Value: Lit(0.1)}, // duplicate field
	)

	paths := r.FieldPaths()
	want := []string{"supplier.otd", "supplier.onHand", "supplier.safetyStock"}
	if len(paths) != len(want) {
		t.Fatalf("FieldPaths() = %v, want %v", paths, want)
	}
	for i, p := range want {
		if paths[i] != p {
			t.Errorf("FieldPaths()[%d] = %q, want %q", i, paths[i], p)
		}
	}
}

func TestEntityRefKeyDistinguishesTypeAndID(t *testing.T) {
	a := EntityRef{Type: "supplier", ID: "x1"}
	b := EntityRef{Type: "supplie", ID: "rx1"}
	if a.Key() == b.Key() {
		t.Error("Key() should not collide across type/ID boundaries")
	}
}
