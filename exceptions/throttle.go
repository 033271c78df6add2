package exceptions

import (
	"sync"
	"time"

	"github.com/hjscm/alertengine/alert"
)

// Throttle suppresses repeated dispatch for the same (rule, entity) pair
// inside a rule's cooldown window. It governs side effects only: the
// exception itself still accumulates trigger counts during cooldown.
//
// Records are derived state, rebuilt empty on restart; the worst case is
// one extra dispatch after a reboot.
type Throttle struct {
	mu        sync.Mutex
	lastFired map[string]time.Time
}

// NewThrottle creates an empty throttle guard.
func NewThrottle() *Throttle {
	return &Throttle{lastFired: make(map[string]time.Time)}
}

// ShouldFire reports whether a dispatch for the pair is outside the
// cooldown window. A zero cooldown never suppresses.
func (t *Throttle) ShouldFire(ruleID string, entity alert.EntityRef, cooldown time.Duration, now time.Time) bool {
	if cooldown <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.lastFired[pairKey(ruleID, entity)]
	if !ok {
		return true
	}
	return now.Sub(last) >= cooldown
}

// RecordFired notes a dispatch for the pair.
func (t *Throttle) RecordFired(ruleID string, entity alert.EntityRef, now time.Time) {
	t.mu.Lock()
	t.lastFired[pairKey(ruleID, entity)] = now
	t.mu.Unlock()
}
