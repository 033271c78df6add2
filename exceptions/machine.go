package exceptions

import (
	"fmt"
	"time"
)

// InvalidTransitionError reports an illegal state-machine move. It is
// surfaced to the caller, never silently coerced.
type InvalidTransitionError struct {
	ExceptionID string
	From        Status
	To          Status
	Reason      string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("exception %s: cannot transition %s -> %s", e.ExceptionID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// allowed enumerates legal moves. RESOLVED is terminal; a later match for
// the same (rule, entity) creates a new exception instead of reopening.
var allowed = map[Status][]Status{
	StatusOpen:       {StatusProcessing, StatusEscalated, StatusResolved},
	StatusProcessing: {StatusEscalated, StatusResolved},
	StatusEscalated:  {StatusResolved},
	StatusResolved:   {},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition applies a status change in place, appending the history
// entry. Resolving an escalated exception requires a reason code.
func transition(e *Exception, to Status, actor, reason string, now time.Time) error {
	if !CanTransition(e.Status, to) {
		return &InvalidTransitionError{ExceptionID: e.ID, From: e.Status, To: to}
	}
	if e.Status == StatusEscalated && to == StatusResolved && reason == "" {
		return &InvalidTransitionError{ExceptionID: e.ID, From: e.Status, To: to,
			Reason: "resolving an escalated exception requires a reason code"}
	}
	e.History = append(e.History, HistoryEntry{
		Actor:  actor,
		At:     now,
		From:   e.Status,
		To:     to,
		Reason: reason,
	})
	e.Status = to
	return nil
}

// note appends a history entry without changing status, used for audit
// events like assignment and permanent dispatch failures.
func note(e *Exception, actor, reason string, now time.Time) {
	e.History = append(e.History, HistoryEntry{
		Actor:  actor,
		At:     now,
		From:   e.Status,
		To:     e.Status,
		Reason: reason,
	})
}
