package rules

import (
	"testing"
	"time"

	"github.com/hjscm/alertengine/alert"
	"github.com/hjscm/alertengine/snapshot"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	ev, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() failed: %v", err)
	}
	return ev
}

func supplierSnap(t *testing.T, fields map[string]any) *snapshot.Snapshot {
	t.Helper()
	snap, err := snapshot.New(alert.EntityRef{Type: "supplier", ID: "SUP-001"}, fields, time.Now())
	if err != nil {
		t.Fatalf("snapshot.New() failed: %v", err)
	}
	return snap
}

func compiledRule(t *testing.T, ev *Evaluator, conds ...alert.Condition) *alert.Rule {
	t.Helper()
	rule := &alert.Rule{
		ID:           "r-eval",
		Name:         "eval test",
		Category:     "supply",
		PriorityBase: alert.PriorityP2,
		Status:       alert.StatusEnabled,
		Conditions:   conds,
		Actions:      []alert.Action{{Type: alert.ActionNotification, Template: "x"}},
	}
	if err := ev.Compile(rule); err != nil {
		t.Fatalf("Compile() failed: %v", err)
	}
	return rule
}

func TestEvaluateNumericComparison(t *testing.T) {
	ev := newTestEvaluator(t)
	rule := compiledRule(t, ev,
		alert.Condition{Field: "supplier.otd", Operator: alert.OpLT, Value: alert.Lit(0.90)})

	testCases := []struct {
		name string
		otd  any
		want bool
	}{
		{"below threshold", 0.85, true},
		{"at threshold", 0.90, false},
		{"above threshold", 0.95, false},
		{"integer input", 0, true}, // normalized to 0.0
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			snap := supplierSnap(t, map[string]any{"supplier.otd": tc.otd})
			if got := ev.Evaluate(rule, snap); got != tc.want {
				t.Errorf("Evaluate() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEvaluateOperators(t *testing.T) {
	ev := newTestEvaluator(t)
	snap := supplierSnap(t, map[string]any{
		"supplier.leadTime": 14,
		"supplier.region":   "EMEA",
		"supplier.active":   true,
	})

	testCases := []struct {
		name string
		cond alert.Condition
		want bool
	}{
		{"lte equal", alert.Condition{Field: "supplier.leadTime", Operator: alert.OpLTE, Value: alert.Lit(14)}, true},
		{"gt", alert.Condition{Field: "supplier.leadTime", Operator: alert.OpGT, Value: alert.Lit(10)}, true},
		{"gte above", alert.Condition{Field: "supplier.leadTime", Operator: alert.OpGTE, Value: alert.Lit(15)}, false},
		{"eq string", alert.Condition{Field: "supplier.region", Operator: alert.OpEQ, Value: alert.Lit("EMEA")}, true},
		{"neq string", alert.Condition{Field: "supplier.region", Operator: alert.OpNEQ, Value: alert.Lit("APAC")}, true},
		{"eq bool", alert.Condition{Field: "supplier.active", Operator: alert.OpEQ, Value: alert.Lit(true)}, true},
	}
	for i, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rule := compiledRule(t, ev, tc.cond)
			rule.ID = rule.ID + "-" + tc.name
			if err := ev.Compile(rule); err != nil {
				t.Fatalf("Compile() failed: %v", err)
			}
			if got := ev.Evaluate(rule, snap); got != tc.want {
				t.Errorf("case %d (%s): Evaluate() = %v, want %v", i, tc.name, got, tc.want)
			}
		})
	}
}

func TestEvaluateFieldReference(t *testing.T) {
	ev := newTestEvaluator(t)
	rule := compiledRule(t, ev, alert.Condition{
		Field: "supplier.onHand", Operator: alert.OpLT, Value: alert.Ref("supplier.safetyStock"),
	})

	below := supplierSnap(t, map[string]any{"supplier.onHand": 40, "supplier.safetyStock": 100})
	if !ev.Evaluate(rule, below) {
		t.Error("Evaluate() should match when onHand < safetyStock")
	}

	above := supplierSnap(t, map[string]any{"supplier.onHand": 150, "supplier.safetyStock": 100})
	if ev.Evaluate(rule, above) {
		t.Error("Evaluate() should not match when onHand >= safetyStock")
	}
}

func TestEvaluateMissingFieldIsFalse(t *testing.T) {
	ev := newTestEvaluator(t)
	rule := compiledRule(t, ev,
		alert.Condition{Field: "supplier.otd", Operator: alert.OpLT, Value: alert.Lit(0.90)})

	snap := supplierSnap(t, map[string]any{"supplier.leadTime": 14})
	if ev.Evaluate(rule, snap) {
		t.Error("Evaluate() must be false when the condition field is absent")
	}
}

func TestEvaluateMissingReferenceIsFalse(t *testing.T) {
	ev := newTestEvaluator(t)
	rule := compiledRule(t, ev, alert.Condition{
		Field: "supplier.onHand", Operator: alert.OpLT, Value: alert.Ref("supplier.safetyStock"),
	})

	snap := supplierSnap(t, map[string]any{"supplier.onHand": 40})
	if ev.Evaluate(rule, snap) {
		t.Error("Evaluate() must be false when the referenced field is absent")
	}
}

func TestEvaluateTypeMismatchIsFalse(t *testing.T) {
	ev := newTestEvaluator(t)
	rule := compiledRule(t, ev,
		alert.Condition{Field: "supplier.otd", Operator: alert.OpLT, Value: alert.Lit(0.90)})

	snap := supplierSnap(t, map[string]any{"supplier.otd": "not a number"})
	if ev.Evaluate(rule, snap) {
		t.Error("Evaluate() must treat a type mismatch as non-match")
	}
}

func TestEvaluateZeroConditionsNeverMatches(t *testing.T) {
	ev := newTestEvaluator(t)
	rule := &alert.Rule{ID: "r-empty", Name: "empty", Category: "supply",
		PriorityBase: alert.PriorityP3, Status: alert.StatusDraft}

	snap := supplierSnap(t, map[string]any{"supplier.otd": 0.5})
	if ev.Evaluate(rule, snap) {
		t.Error("a rule with zero conditions must never match")
	}
}

func TestEvaluateConditionsAreANDed(t *testing.T) {
	ev := newTestEvaluator(t)
	rule := compiledRule(t, ev,
		alert.Condition{Field: "supplier.otd", Operator: alert.OpLT, Value: alert.Lit(0.90)},
		alert.Condition{Field: "supplier.leadTime", Operator: alert.OpGT, Value: alert.Lit(10)},
	)

	both := supplierSnap(t, map[string]any{"supplier.otd": 0.5, "supplier.leadTime": 20})
	if !ev.Evaluate(rule, both) {
		t.Error("Evaluate() should match when all conditions hold")
	}

	firstOnly := supplierSnap(t, map[string]any{"supplier.otd": 0.5, "supplier.leadTime": 5})
	if ev.Evaluate(rule, firstOnly) {
		t.Error("Evaluate() should not match when any condition fails")
	}
}

func TestEvaluateCompilesUncachedRule(t *testing.T) {
	ev := newTestEvaluator(t)
	// Never compiled through the registry, as after a process restart.
	rule := &alert.Rule{
		ID:           "r-lazy",
		Name:         "lazy",
		Category:     "supply",
		PriorityBase: alert.PriorityP2,
		Status:       alert.StatusEnabled,
		Conditions: []alert.Condition{
			{Field: "supplier.otd", Operator: alert.OpLT, Value: alert.Lit(0.90)},
		},
		Actions: []alert.Action{{Type: alert.ActionNotification, Template: "x"}},
	}

	snap := supplierSnap(t, map[string]any{"supplier.otd": 0.5})
	if !ev.Evaluate(rule, snap) {
		t.Error("Evaluate() should lazily compile store-loaded rules")
	}
}

func TestForgetDropsCompiledProgram(t *testing.T) {
	ev := newTestEvaluator(t)
	rule := compiledRule(t, ev,
		alert.Condition{Field: "supplier.otd", Operator: alert.OpLT, Value: alert.Lit(0.90)})

	ev.Forget(rule.ID)

	ev.mu.RLock()
	_, cached := ev.programs[rule.ID]
	ev.mu.RUnlock()
	if cached {
		t.Error("Forget() should drop the compiled programs")
	}
}

func TestLowerLiteralRendersDoubles(t *testing.T) {
	testCases := []struct {
		in   any
		want string
	}{
		{100, "100.0"},
		{0.9, "0.9"},
		{int64(5), "5.0"},
		{"EMEA", `"EMEA"`},
		{true, "true"},
	}
	for _, tc := range testCases {
		if got := lowerLiteral(tc.in); got != tc.want {
			t.Errorf("lowerLiteral(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
