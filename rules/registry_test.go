package rules

import (
	"errors"
	"testing"

	"github.com/hjscm/alertengine/alert"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	ev, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() failed: %v", err)
	}
	reg, err := NewRegistry(NewInMemoryRuleStore(), ev)
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}
	return reg
}

func registryRule() *alert.Rule {
	return &alert.Rule{
		Name:         "Supplier OTD below target",
		Category:     "supply",
		PriorityBase: alert.PriorityP1,
		Status:       alert.StatusEnabled,
		Conditions: []alert.Condition{
			{Field: "supplier.otd", Operator: alert.OpLT, Value: alert.Lit(0.90)},
		},
		Actions: []alert.Action{{Type: alert.ActionNotification, Template: "t"}},
	}
}

func TestRegistryCreateAssignsIDAndDefaults(t *testing.T) {
	reg := newTestRegistry(t)

	rule := registryRule()
	rule.Status = ""
	id, err := reg.Create(rule)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if id == "" {
		t.Fatal("Create() should assign an ID")
	}

	got, err := reg.Get(id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Status != alert.StatusDraft {
		t.Errorf("default status = %s, want draft", got.Status)
	}
}

func TestRegistryCreateRejectsInvalidRule(t *testing.T) {
	reg := newTestRegistry(t)

	rule := registryRule()
	rule.Conditions[0].Operator = "like"
	if _, err := reg.Create(rule); err == nil {
		t.Error("Create() should reject an invalid rule")
	}

	list, err := reg.List(Filter{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 0 {
		t.Error("a rejected rule must not be persisted")
	}
}

func TestRegistryUpdate(t *testing.T) {
	reg := newTestRegistry(t)
	id, err := reg.Create(registryRule())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	rule, _ := reg.Get(id)
	updated := *rule
	updated.Name = "Renamed"
	updated.Conditions = []alert.Condition{
		{Field: "supplier.otd", Operator: alert.OpLT, Value: alert.Lit(0.80)},
	}
	if err := reg.Update(&updated); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	got, _ := reg.Get(id)
	if got.Name != "Renamed" {
		t.Errorf("Update() not applied, name = %s", got.Name)
	}
}

func TestRegistrySetStatusRevalidates(t *testing.T) {
	reg := newTestRegistry(t)

	draft := registryRule()
	draft.Status = alert.StatusDraft
	draft.Conditions = nil
	draft.Actions = nil
	id, err := reg.Create(draft)
	if err != nil {
		t.Fatalf("Create() of empty draft failed: %v", err)
	}

	// An empty draft can never be enabled.
	if err := reg.SetStatus(id, alert.StatusEnabled); err == nil {
		t.Error("SetStatus(enabled) should fail for a rule without conditions")
	}

	got, _ := reg.Get(id)
	if got.Status != alert.StatusDraft {
		t.Errorf("failed enable must not alter status, got %s", got.Status)
	}
}

func TestRegistrySetStatusDisableAndEnable(t *testing.T) {
	reg := newTestRegistry(t)
	id, err := reg.Create(registryRule())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if err := reg.SetStatus(id, alert.StatusDisabled); err != nil {
		t.Fatalf("SetStatus(disabled) failed: %v", err)
	}
	enabled, _ := reg.Enabled()
	if len(enabled) != 0 {
		t.Errorf("Enabled() = %d rules after disable, want 0", len(enabled))
	}

	if err := reg.SetStatus(id, alert.StatusEnabled); err != nil {
		t.Fatalf("SetStatus(enabled) failed: %v", err)
	}
	enabled, _ = reg.Enabled()
	if len(enabled) != 1 {
		t.Errorf("Enabled() = %d rules after enable, want 1", len(enabled))
	}
}

func TestRegistryDelete(t *testing.T) {
	reg := newTestRegistry(t)
	id, err := reg.Create(registryRule())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if err := reg.Delete(id); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	_, err = reg.Get(id)
	var notFound *ErrNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("Get() after Delete() = %v, want ErrNotFound", err)
	}
}

func TestRegistryPublishesChanges(t *testing.T) {
	reg := newTestRegistry(t)

	var events []RuleChanged
	reg.Subscribe(func(ev RuleChanged) { events = append(events, ev) })

	id, err := reg.Create(registryRule())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := reg.SetStatus(id, alert.StatusDisabled); err != nil {
		t.Fatalf("SetStatus() failed: %v", err)
	}
	if err := reg.Delete(id); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	wantKinds := []ChangeKind{RuleCreated, RuleUpdated, RuleDeleted}
	if len(events) != len(wantKinds) {
		t.Fatalf("received %d events, want %d", len(events), len(wantKinds))
	}
	for i, kind := range wantKinds {
		if events[i].Kind != kind {
			t.Errorf("event %d kind = %s, want %s", i, events[i].Kind, kind)
		}
		if events[i].Rule.ID != id {
			t.Errorf("event %d rule ID = %s, want %s", i, events[i].Rule.ID, id)
		}
	}
}

func TestRegistryLoadsEnabledRulesAtStartup(t *testing.T) {
	store := NewInMemoryRuleStore()
	seeded := registryRule()
	seeded.ID = "r-seeded"
	if err := store.Add(seeded); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	ev, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() failed: %v", err)
	}
	reg, err := NewRegistry(store, ev)
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}

	enabled, err := reg.Enabled()
	if err != nil {
		t.Fatalf("Enabled() failed: %v", err)
	}
	if len(enabled) != 1 || enabled[0].ID != "r-seeded" {
		t.Errorf("Enabled() = %v, want the seeded rule", enabled)
	}
}
