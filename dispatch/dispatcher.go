// Package dispatch fans triggered exceptions out to notification, email,
// and webhook sinks with per-action isolation, bounded retries, and
// at-least-once semantics.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hjscm/alertengine/alert"
	"github.com/hjscm/alertengine/exceptions"
	"github.com/hjscm/alertengine/internal/logger"
	"github.com/hjscm/alertengine/snapshot"
)

// Outcome is the result of one action's delivery attempt(s).
type Outcome struct {
	Action   alert.Action
	Attempts int
	Err      error
}

// PartialFailure reports the actions that could not be delivered. Actions
// that succeeded are not listed; one sink's failure never blocks the
// others.
type PartialFailure struct {
	ExceptionID string
	Failed      []Outcome
}

func (e *PartialFailure) Error() string {
	parts := make([]string, len(e.Failed))
	for i, o := range e.Failed {
		parts[i] = fmt.Sprintf("%s: %v", o.Action.Type, o.Err)
	}
	return fmt.Sprintf("exception %s: %d action(s) failed: %s",
		e.ExceptionID, len(e.Failed), strings.Join(parts, "; "))
}

// FailureRecorder receives permanent delivery failures for the audit
// trail. The exception lifecycle manager implements it.
type FailureRecorder interface {
	RecordDispatchFailure(exceptionID, detail string, now time.Time)
}

// Config bounds delivery behavior.
type Config struct {
	// Timeout applies per delivery attempt so one slow sink cannot stall
	// a worker.
	Timeout time.Duration
	// MaxAttempts bounds retries per action (first try included).
	MaxAttempts int
	// InitialBackoff seeds the exponential backoff between attempts.
	InitialBackoff time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:        5 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
	}
}

// Dispatcher routes actions to their sinks.
type Dispatcher struct {
	sinks    map[alert.ActionType]Sink
	config   Config
	recorder FailureRecorder
}

// NewDispatcher creates a dispatcher. recorder may be nil (failures are
// then only logged).
func NewDispatcher(sinks map[alert.ActionType]Sink, config Config, recorder FailureRecorder) *Dispatcher {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = DefaultConfig().InitialBackoff
	}
	return &Dispatcher{sinks: sinks, config: config, recorder: recorder}
}

// Dispatch renders and delivers every action independently. It returns nil
// when all actions succeeded, or a *PartialFailure listing the ones that
// did not. Permanent failures are recorded on the exception's history
// without altering its status.
func (d *Dispatcher) Dispatch(ctx context.Context, e *exceptions.Exception, snap *snapshot.Snapshot, actions []alert.Action) error {
	var failed []Outcome
	for _, action := range actions {
		outcome := d.deliver(ctx, e, snap, action)
		if outcome.Err == nil {
			continue
		}
		failed = append(failed, outcome)
		detail := fmt.Sprintf("%s after %d attempt(s): %v", action.Type, outcome.Attempts, outcome.Err)
		logger.Warn("action delivery failed", "exception", e.ID, "action", string(action.Type),
			"attempts", outcome.Attempts, "error", outcome.Err)
		if d.recorder != nil {
			d.recorder.RecordDispatchFailure(e.ID, detail, time.Now())
		}
	}
	if len(failed) > 0 {
		return &PartialFailure{ExceptionID: e.ID, Failed: failed}
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, e *exceptions.Exception, snap *snapshot.Snapshot, action alert.Action) Outcome {
	outcome := Outcome{Action: action}

	sink, ok := d.sinks[action.Type]
	if !ok {
		outcome.Err = fmt.Errorf("no sink registered for action type %q", action.Type)
		return outcome
	}

	payload := Payload{
		ExceptionID:   e.ID,
		RuleID:        e.RuleID,
		Entity:        e.Entity,
		Category:      e.Category,
		PriorityScore: e.PriorityScore,
		PriorityLevel: e.PriorityLevel,
		Message:       Render(action.Template, e, snap),
		SentAt:        time.Now(),
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.config.InitialBackoff
	policy.MaxInterval = 2 * time.Second

	operation := func() error {
		outcome.Attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
		err := sink.Deliver(attemptCtx, payload)
		if err != nil && IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	outcome.Err = backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.config.MaxAttempts-1)), ctx))
	return outcome
}
