package exceptions

import (
	"errors"
	"testing"
	"time"

	"github.com/hjscm/alertengine/alert"
	"github.com/hjscm/alertengine/scoring"
	"github.com/hjscm/alertengine/snapshot"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	scorer, err := scoring.New(scoring.DefaultWeights())
	if err != nil {
		t.Fatalf("scoring.New() failed: %v", err)
	}
	return NewManager(NewInMemoryExceptionStore(), scorer, map[string]time.Duration{
		"supply": 24 * time.Hour,
	})
}

func matchRule(cooldownSeconds int) *alert.Rule {
	return &alert.Rule{
		ID:              "r-otd",
		Name:            "Supplier OTD below target",
		Category:        "supply",
		PriorityBase:    alert.PriorityP1,
		Status:          alert.StatusEnabled,
		CooldownSeconds: cooldownSeconds,
		Conditions: []alert.Condition{
			{Field: "supplier.otd", Operator: alert.OpLT, Value: alert.Lit(0.90)},
		},
		Actions: []alert.Action{{Type: alert.ActionNotification, Template: "t"}},
	}
}

func matchSnap(t *testing.T, fields map[string]any, at time.Time) *snapshot.Snapshot {
	t.Helper()
	snap, err := snapshot.New(alert.EntityRef{Type: "supplier", ID: "SUP-001"}, fields, at)
	if err != nil {
		t.Fatalf("snapshot.New() failed: %v", err)
	}
	return snap
}

func TestRecordMatchOpensException(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	snap := matchSnap(t, map[string]any{
		"supplier.otd":           0.7,
		"supplier.amount":        60000,
		"supplier.customerLevel": "A",
	}, now)

	res, err := m.RecordMatch(matchRule(0), snap, now)
	if err != nil {
		t.Fatalf("RecordMatch() failed: %v", err)
	}
	if !res.Created || !res.Dispatch {
		t.Errorf("first match: Created=%v Dispatch=%v, want true/true", res.Created, res.Dispatch)
	}

	e := res.Exception
	if e.Status != StatusOpen {
		t.Errorf("status = %s, want OPEN", e.Status)
	}
	if e.TriggerCount != 1 {
		t.Errorf("triggerCount = %d, want 1", e.TriggerCount)
	}
	if e.Amount != 60000 {
		t.Errorf("amount = %v, want 60000 from the snapshot convention field", e.Amount)
	}
	if want := now.Add(24 * time.Hour); !e.SLADeadline.Equal(want) {
		t.Errorf("slaDeadline = %v, want %v (category window)", e.SLADeadline, want)
	}
	if e.PriorityScore <= 0 {
		t.Error("priority score should be computed on creation")
	}
	if len(e.History) != 1 || e.History[0].To != StatusOpen || e.History[0].Actor != SystemActor {
		t.Errorf("initial history = %+v", e.History)
	}
}

func TestRecordMatchRetriggersExisting(t *testing.T) {
	m := newTestManager(t)
	rule := matchRule(0)
	t0 := time.Now()
	snap := matchSnap(t, map[string]any{"supplier.otd": 0.7, "supplier.amount": 1000}, t0)

	first, err := m.RecordMatch(rule, snap, t0)
	if err != nil {
		t.Fatalf("first RecordMatch() failed: %v", err)
	}

	t1 := t0.Add(10 * time.Minute)
	snap2 := matchSnap(t, map[string]any{"supplier.otd": 0.6, "supplier.amount": 80000}, t1)
	second, err := m.RecordMatch(rule, snap2, t1)
	if err != nil {
		t.Fatalf("second RecordMatch() failed: %v", err)
	}

	if second.Created {
		t.Error("second match must re-trigger, not create")
	}
	if second.Exception.ID != first.Exception.ID {
		t.Error("re-trigger must target the same exception")
	}
	if second.Exception.TriggerCount != 2 {
		t.Errorf("triggerCount = %d, want 2", second.Exception.TriggerCount)
	}
	if !second.Exception.SLADeadline.Equal(first.Exception.SLADeadline) {
		t.Error("re-trigger must not move the SLA deadline")
	}
	if second.Exception.Amount != 80000 {
		t.Errorf("amount = %v, want refreshed 80000", second.Exception.Amount)
	}
	if second.Exception.Status != StatusOpen {
		t.Errorf("re-trigger must not change status, got %s", second.Exception.Status)
	}
}

func TestRecordMatchCooldownSuppressesDispatchOnly(t *testing.T) {
	m := newTestManager(t)
	rule := matchRule(3600)
	t0 := time.Now()
	snap := matchSnap(t, map[string]any{"supplier.otd": 0.7}, t0)

	first, err := m.RecordMatch(rule, snap, t0)
	if err != nil {
		t.Fatalf("first RecordMatch() failed: %v", err)
	}
	if !first.Dispatch {
		t.Fatal("first match must dispatch")
	}

	inside, err := m.RecordMatch(rule, snap, t0.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("second RecordMatch() failed: %v", err)
	}
	if inside.Dispatch {
		t.Error("match inside cooldown must not dispatch")
	}
	if inside.Exception.TriggerCount != 2 {
		t.Errorf("suppressed match must still count triggers, got %d", inside.Exception.TriggerCount)
	}

	after, err := m.RecordMatch(rule, snap, t0.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("third RecordMatch() failed: %v", err)
	}
	if !after.Dispatch {
		t.Error("match after cooldown expiry must dispatch again")
	}
}

func TestRecordMatchAfterResolutionOpensFreshException(t *testing.T) {
	m := newTestManager(t)
	rule := matchRule(0)
	t0 := time.Now()
	snap := matchSnap(t, map[string]any{"supplier.otd": 0.7}, t0)

	first, err := m.RecordMatch(rule, snap, t0)
	if err != nil {
		t.Fatalf("RecordMatch() failed: %v", err)
	}
	if _, err := m.Transition(first.Exception.ID, ActionResolve, "ops", "fixed", t0.Add(time.Hour)); err != nil {
		t.Fatalf("Transition(resolve) failed: %v", err)
	}

	second, err := m.RecordMatch(rule, snap, t0.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("RecordMatch() after resolve failed: %v", err)
	}
	if !second.Created {
		t.Error("a match after resolution must open a new exception")
	}
	if second.Exception.ID == first.Exception.ID {
		t.Error("resolved exceptions must never reopen")
	}
	if second.Exception.TriggerCount != 1 {
		t.Errorf("fresh exception triggerCount = %d, want 1", second.Exception.TriggerCount)
	}
}

func TestTransitionLifecycle(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	snap := matchSnap(t, map[string]any{"supplier.otd": 0.7}, now)
	res, err := m.RecordMatch(matchRule(0), snap, now)
	if err != nil {
		t.Fatalf("RecordMatch() failed: %v", err)
	}
	id := res.Exception.ID

	e, err := m.Transition(id, ActionStartProcessing, "ops-alice", "", now)
	if err != nil {
		t.Fatalf("startProcessing failed: %v", err)
	}
	if e.Status != StatusProcessing {
		t.Errorf("status = %s, want PROCESSING", e.Status)
	}

	e, err = m.Transition(id, ActionEscalate, "ops-alice", "no response", now)
	if err != nil {
		t.Fatalf("escalate failed: %v", err)
	}
	if e.Status != StatusEscalated {
		t.Errorf("status = %s, want ESCALATED", e.Status)
	}

	// Escalated resolution needs a reason code.
	if _, err := m.Transition(id, ActionResolve, "ops-alice", "", now); err == nil {
		t.Error("resolving an escalated exception without reason must fail")
	}
	e, err = m.Transition(id, ActionResolve, "ops-alice", "supplier recovered", now)
	if err != nil {
		t.Fatalf("resolve with reason failed: %v", err)
	}
	if e.Status != StatusResolved {
		t.Errorf("status = %s, want RESOLVED", e.Status)
	}

	// Terminal: any further transition is rejected.
	_, err = m.Transition(id, ActionStartProcessing, "ops-alice", "", now)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Errorf("transition after RESOLVED = %v, want InvalidTransitionError", err)
	}

	stored, _ := m.Get(id)
	if len(stored.History) < 4 {
		t.Errorf("history should record every move, got %d entries", len(stored.History))
	}
}

func TestTransitionAssign(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	snap := matchSnap(t, map[string]any{"supplier.otd": 0.7}, now)
	res, err := m.RecordMatch(matchRule(0), snap, now)
	if err != nil {
		t.Fatalf("RecordMatch() failed: %v", err)
	}

	e, err := m.Transition(res.Exception.ID, ActionAssign, "ops-lead", "ops-bob", now)
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if e.AssignedTo != "ops-bob" {
		t.Errorf("assignedTo = %s, want ops-bob", e.AssignedTo)
	}
	if e.Status != StatusProcessing {
		t.Errorf("assigning an OPEN exception should move it to PROCESSING, got %s", e.Status)
	}

	if _, err := m.Transition(res.Exception.ID, ActionAssign, "ops-lead", "", now); err == nil {
		t.Error("assign without an assignee must fail")
	}
}

func TestTransitionUnknownException(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Transition("ghost", ActionResolve, "ops", "r", time.Now())
	var notFound *ErrNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("Transition() = %v, want ErrNotFound", err)
	}
}

func TestSweepEscalatesExactlyOnce(t *testing.T) {
	m := newTestManager(t)
	t0 := time.Now()
	snap := matchSnap(t, map[string]any{"supplier.otd": 0.7}, t0)
	res, err := m.RecordMatch(matchRule(0), snap, t0)
	if err != nil {
		t.Fatalf("RecordMatch() failed: %v", err)
	}

	// Before the deadline nothing is due.
	escalated, err := m.Sweep(t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Sweep() failed: %v", err)
	}
	if len(escalated) != 0 {
		t.Errorf("early sweep escalated %d, want 0", len(escalated))
	}

	after := t0.Add(25 * time.Hour)
	escalated, err = m.Sweep(after)
	if err != nil {
		t.Fatalf("Sweep() failed: %v", err)
	}
	if len(escalated) != 1 || escalated[0].ID != res.Exception.ID {
		t.Fatalf("sweep past deadline escalated %v, want the open exception", escalated)
	}
	if escalated[0].Status != StatusEscalated {
		t.Errorf("status = %s, want ESCALATED", escalated[0].Status)
	}

	// Already escalated; the next sweep must not touch it again.
	again, err := m.Sweep(after.Add(time.Hour))
	if err != nil {
		t.Fatalf("second Sweep() failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second sweep escalated %d, want 0", len(again))
	}

	stored, _ := m.Get(res.Exception.ID)
	count := 0
	for _, h := range stored.History {
		if h.To == StatusEscalated {
			count++
		}
	}
	if count != 1 {
		t.Errorf("history records %d escalations, want exactly 1", count)
	}
	if stored.History[len(stored.History)-1].Actor != SweepActor {
		t.Errorf("escalation actor = %s, want %s", stored.History[len(stored.History)-1].Actor, SweepActor)
	}
}

func TestSweepSkipsResolved(t *testing.T) {
	m := newTestManager(t)
	t0 := time.Now()
	snap := matchSnap(t, map[string]any{"supplier.otd": 0.7}, t0)
	res, err := m.RecordMatch(matchRule(0), snap, t0)
	if err != nil {
		t.Fatalf("RecordMatch() failed: %v", err)
	}
	if _, err := m.Transition(res.Exception.ID, ActionResolve, "ops", "fixed", t0.Add(time.Hour)); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	escalated, err := m.Sweep(t0.Add(48 * time.Hour))
	if err != nil {
		t.Fatalf("Sweep() failed: %v", err)
	}
	if len(escalated) != 0 {
		t.Errorf("sweep escalated a resolved exception: %v", escalated)
	}
}

func TestRecordDispatchFailureAddsAuditEntry(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	snap := matchSnap(t, map[string]any{"supplier.otd": 0.7}, now)
	res, err := m.RecordMatch(matchRule(0), snap, now)
	if err != nil {
		t.Fatalf("RecordMatch() failed: %v", err)
	}

	m.RecordDispatchFailure(res.Exception.ID, "webhook returned 404", now.Add(time.Minute))

	stored, _ := m.Get(res.Exception.ID)
	if stored.Status != StatusOpen {
		t.Errorf("dispatch failure must not change status, got %s", stored.Status)
	}
	last := stored.History[len(stored.History)-1]
	if last.From != last.To || last.Reason == "" {
		t.Errorf("expected a same-status audit entry, got %+v", last)
	}
}

func TestSLAWindowFallsBackToDefault(t *testing.T) {
	m := newTestManager(t)
	if got := m.SLAWindow("supply"); got != 24*time.Hour {
		t.Errorf("SLAWindow(supply) = %v, want 24h", got)
	}
	if got := m.SLAWindow("unmapped"); got != DefaultSLAWindow {
		t.Errorf("SLAWindow(unmapped) = %v, want default %v", got, DefaultSLAWindow)
	}
}
