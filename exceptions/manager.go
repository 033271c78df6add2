package exceptions

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hjscm/alertengine/alert"
	"github.com/hjscm/alertengine/internal/logger"
	"github.com/hjscm/alertengine/scoring"
	"github.com/hjscm/alertengine/snapshot"
)

// SystemActor is recorded on transitions the engine performs itself.
const SystemActor = "engine"

// SweepActor is recorded on SLA auto-escalations.
const SweepActor = "sla-sweep"

// DefaultSLAWindow applies to categories without a configured window.
const DefaultSLAWindow = 72 * time.Hour

// TransitionAction is an operator-initiated lifecycle action.
type TransitionAction string

const (
	ActionStartProcessing TransitionAction = "startProcessing"
	ActionEscalate        TransitionAction = "escalate"
	ActionResolve         TransitionAction = "resolve"
	ActionAssign          TransitionAction = "assign"
)

// MatchResult is what one rule match produced.
type MatchResult struct {
	Exception *Exception
	// Created is true when this match opened a new exception rather than
	// re-triggering an existing one.
	Created bool
	// Dispatch is true when the throttle guard allowed actions to fire.
	Dispatch bool
}

// Manager exclusively owns exception state transitions. Writes for a given
// (rule, entity) pair and for a given exception ID serialize through
// per-key locks; unrelated exceptions proceed fully in parallel.
type Manager struct {
	store    ExceptionStore
	scorer   *scoring.Scorer
	throttle *Throttle

	slaWindows map[string]time.Duration // category -> window

	locks sync.Map // lock key -> *sync.Mutex
}

// NewManager creates a lifecycle manager. slaWindows maps rule categories
// to SLA windows; missing categories fall back to DefaultSLAWindow.
func NewManager(store ExceptionStore, scorer *scoring.Scorer, slaWindows map[string]time.Duration) *Manager {
	return &Manager{
		store:      store,
		scorer:     scorer,
		throttle:   NewThrottle(),
		slaWindows: slaWindows,
	}
}

func (m *Manager) lock(key string) func() {
	muIface, _ := m.locks.LoadOrStore(key, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// SLAWindow returns the configured window for a category.
func (m *Manager) SLAWindow(category string) time.Duration {
	if w, ok := m.slaWindows[category]; ok && w > 0 {
		return w
	}
	return DefaultSLAWindow
}

// RecordMatch handles a rule matching a snapshot: it opens a new exception
// for the (rule, entity) pair or re-triggers the open one, re-scoring
// either way, and consults the throttle guard for dispatch permission.
func (m *Manager) RecordMatch(rule *alert.Rule, snap *snapshot.Snapshot, now time.Time) (*MatchResult, error) {
	unlock := m.lock(pairKey(rule.ID, snap.Entity))
	defer unlock()

	existing, err := m.store.GetOpen(rule.ID, snap.Entity)
	if err != nil {
		return nil, err
	}

	window := m.SLAWindow(rule.Category)
	amount := amountFrom(snap)
	tier := customerTierFrom(snap)

	if existing == nil {
		deadline := now.Add(window)
		score, level := m.scorer.Score(scoring.Input{
			Amount:       amount,
			SLADeadline:  deadline,
			SLAWindow:    window,
			Now:          now,
			CustomerTier: tier,
			PriorityBase: rule.PriorityBase,
		})
		e := &Exception{
			ID:              uuid.NewString(),
			RuleID:          rule.ID,
			Entity:          snap.Entity,
			Category:        rule.Category,
			Title:           rule.Name,
			PriorityScore:   score,
			PriorityLevel:   level,
			Status:          StatusOpen,
			Amount:          amount,
			SLADeadline:     deadline,
			CreatedAt:       now,
			LastTriggeredAt: now,
			TriggerCount:    1,
			History: []HistoryEntry{{
				Actor: SystemActor,
				At:    now,
				From:  "",
				To:    StatusOpen,
			}},
		}
		if err := m.store.Insert(e); err != nil {
			return nil, err
		}
		dispatch := m.throttle.ShouldFire(rule.ID, snap.Entity, rule.Cooldown(), now)
		if dispatch {
			m.throttle.RecordFired(rule.ID, snap.Entity, now)
		}
		return &MatchResult{Exception: e, Created: true, Dispatch: dispatch}, nil
	}

	// Re-trigger: counters and score move, status does not. Urgency may
	// have grown since the SLA window has shrunk.
	existing.TriggerCount++
	existing.LastTriggeredAt = now
	if amount > 0 {
		existing.Amount = amount
	}
	score, level := m.scorer.Score(scoring.Input{
		Amount:       existing.Amount,
		SLADeadline:  existing.SLADeadline,
		SLAWindow:    window,
		Now:          now,
		CustomerTier: tier,
		PriorityBase: rule.PriorityBase,
	})
	existing.PriorityScore = score
	existing.PriorityLevel = level

	if err := m.store.Update(existing); err != nil {
		return nil, err
	}
	dispatch := m.throttle.ShouldFire(rule.ID, snap.Entity, rule.Cooldown(), now)
	if dispatch {
		m.throttle.RecordFired(rule.ID, snap.Entity, now)
	}
	return &MatchResult{Exception: existing, Created: false, Dispatch: dispatch}, nil
}

// Transition applies an operator action to an exception.
func (m *Manager) Transition(id string, action TransitionAction, actor, reason string, now time.Time) (*Exception, error) {
	unlock := m.lock("exc\x00" + id)
	defer unlock()

	e, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}

	switch action {
	case ActionStartProcessing:
		if err := transition(e, StatusProcessing, actor, reason, now); err != nil {
			return nil, err
		}
	case ActionEscalate:
		if err := transition(e, StatusEscalated, actor, reason, now); err != nil {
			return nil, err
		}
	case ActionResolve:
		if err := transition(e, StatusResolved, actor, reason, now); err != nil {
			return nil, err
		}
	case ActionAssign:
		if reason == "" {
			return nil, fmt.Errorf("assign requires an assignee in the reason field")
		}
		e.AssignedTo = reason
		if e.Status == StatusOpen {
			if err := transition(e, StatusProcessing, actor, "assigned to "+reason, now); err != nil {
				return nil, err
			}
		} else {
			note(e, actor, "assigned to "+reason, now)
		}
	default:
		return nil, fmt.Errorf("unknown transition action %q", action)
	}

	if err := m.store.Update(e); err != nil {
		return nil, err
	}
	return e, nil
}

// RecordDispatchFailure appends a permanent delivery failure to the audit
// trail without altering status.
func (m *Manager) RecordDispatchFailure(id string, detail string, now time.Time) {
	unlock := m.lock("exc\x00" + id)
	defer unlock()

	e, err := m.store.Get(id)
	if err != nil {
		logger.Warn("dispatch failure for unknown exception", "exception", id, "error", err)
		return
	}
	note(e, SystemActor, "action delivery failed: "+detail, now)
	if err := m.store.Update(e); err != nil {
		logger.Error("failed to record dispatch failure", "exception", id, "error", err)
	}
}

// Sweep auto-escalates OPEN/PROCESSING exceptions whose SLA deadline has
// passed and returns them so the caller can dispatch escalation actions.
// An exception escalates exactly once: after the transition it no longer
// matches the due query.
func (m *Manager) Sweep(now time.Time) ([]*Exception, error) {
	due, err := m.store.ListDue(now)
	if err != nil {
		return nil, err
	}

	var escalated []*Exception
	for _, e := range due {
		unlock := m.lock("exc\x00" + e.ID)

		fresh, err := m.store.Get(e.ID)
		if err != nil {
			unlock()
			continue
		}
		// Re-check under the lock; an operator may have moved it already.
		if fresh.Status != StatusOpen && fresh.Status != StatusProcessing {
			unlock()
			continue
		}
		if err := transition(fresh, StatusEscalated, SweepActor, "SLA deadline breached", now); err != nil {
			unlock()
			continue
		}
		if err := m.store.Update(fresh); err != nil {
			logger.Error("failed to persist SLA escalation", "exception", fresh.ID, "error", err)
			unlock()
			continue
		}
		unlock()
		escalated = append(escalated, fresh)
	}
	return escalated, nil
}

// Get retrieves an exception by ID.
func (m *Manager) Get(id string) (*Exception, error) { return m.store.Get(id) }

// List returns matching exceptions sorted by priority score descending.
func (m *Manager) List(q Query) ([]*Exception, int, error) { return m.store.List(q) }

// Stats returns the dashboard summary.
func (m *Manager) Stats() (*Stats, error) { return m.store.Stats() }

// amountFrom reads the conventional currency-impact field for the
// snapshot's entity type, e.g. "supplier.amount".
func amountFrom(snap *snapshot.Snapshot) float64 {
	if v, ok := snap.Field(snap.Entity.Type + ".amount"); ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return 0
}

// customerTierFrom reads the conventional customer-level field, e.g.
// "supplier.customerLevel".
func customerTierFrom(snap *snapshot.Snapshot) string {
	if v, ok := snap.Field(snap.Entity.Type + ".customerLevel"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
