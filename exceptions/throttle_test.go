package exceptions

import (
	"testing"
	"time"

	"github.com/hjscm/alertengine/alert"
)

func TestThrottleZeroCooldownNeverSuppresses(t *testing.T) {
	th := NewThrottle()
	entity := alert.EntityRef{Type: "supplier", ID: "S1"}
	now := time.Now()

	th.RecordFired("r-1", entity, now)
	if !th.ShouldFire("r-1", entity, 0, now) {
		t.Error("zero cooldown must never suppress")
	}
}

func TestThrottleSuppressesInsideWindow(t *testing.T) {
	th := NewThrottle()
	entity := alert.EntityRef{Type: "supplier", ID: "S1"}
	now := time.Now()
	cooldown := time.Hour

	if !th.ShouldFire("r-1", entity, cooldown, now) {
		t.Fatal("first fire must be allowed")
	}
	th.RecordFired("r-1", entity, now)

	if th.ShouldFire("r-1", entity, cooldown, now.Add(30*time.Minute)) {
		t.Error("fire inside the cooldown window must be suppressed")
	}
	if !th.ShouldFire("r-1", entity, cooldown, now.Add(time.Hour)) {
		t.Error("fire at the cooldown boundary must be allowed")
	}
}

func TestThrottleScopesPerPair(t *testing.T) {
	th := NewThrottle()
	e1 := alert.EntityRef{Type: "supplier", ID: "S1"}
	e2 := alert.EntityRef{Type: "supplier", ID: "S2"}
	now := time.Now()
	cooldown := time.Hour

	th.RecordFired("r-1", e1, now)

	if !th.ShouldFire("r-1", e2, cooldown, now) {
		t.Error("a different entity must not share the cooldown")
	}
	if !th.ShouldFire("r-2", e1, cooldown, now) {
		t.Error("a different rule must not share the cooldown")
	}
}
