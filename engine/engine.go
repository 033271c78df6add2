// Package engine drives evaluation: snapshot updates fan out through a
// candidate index to a sharded worker pool, matches flow through the
// throttle guard, scorer, and lifecycle manager to the dispatcher, and a
// periodic sweep escalates SLA breaches.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/hjscm/alertengine/alert"
	"github.com/hjscm/alertengine/dispatch"
	"github.com/hjscm/alertengine/exceptions"
	"github.com/hjscm/alertengine/internal/logger"
	"github.com/hjscm/alertengine/metrics"
	"github.com/hjscm/alertengine/rules"
	"github.com/hjscm/alertengine/snapshot"
	"github.com/robfig/cron/v3"
)

// Config tunes the evaluation scheduler.
type Config struct {
	// Workers is the evaluation pool size; defaults to GOMAXPROCS.
	Workers int
	// QueueSize bounds each worker's queue.
	QueueSize int
	// SweepInterval is the SLA sweep cadence.
	SweepInterval time.Duration
	// ShutdownTimeout bounds queue draining on Stop.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:         runtime.GOMAXPROCS(0),
		QueueSize:       1024,
		SweepInterval:   30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Engine wires the registry, snapshot store, lifecycle manager, and
// dispatcher into the evaluation pipeline.
type Engine struct {
	registry   *rules.Registry
	evaluator  *rules.Evaluator
	snapshots  *snapshot.Store
	manager    *exceptions.Manager
	dispatcher *dispatch.Dispatcher

	index  *candidateIndex
	pool   *shardedPool[*snapshot.Snapshot]
	cron   *cron.Cron
	config Config
}

// New builds an engine. The candidate index is seeded from the registry's
// enabled rules and kept current through RuleChanged events.
func New(registry *rules.Registry, snapshots *snapshot.Store, manager *exceptions.Manager,
	dispatcher *dispatch.Dispatcher, config Config) (*Engine, error) {

	if config.Workers <= 0 {
		config.Workers = DefaultConfig().Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultConfig().SweepInterval
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	e := &Engine{
		registry:   registry,
		evaluator:  registry.Evaluator(),
		snapshots:  snapshots,
		manager:    manager,
		dispatcher: dispatcher,
		index:      newCandidateIndex(),
		config:     config,
	}

	enabled, err := registry.Enabled()
	if err != nil {
		return nil, fmt.Errorf("failed to seed candidate index: %w", err)
	}
	e.index.rebuild(enabled)
	registry.Subscribe(e.index.apply)

	e.pool = newShardedPool[*snapshot.Snapshot](config.Workers, config.QueueSize, e.process)
	return e, nil
}

// Start launches the worker pool and the SLA sweep.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.pool.Start(ctx); err != nil {
		return err
	}
	e.cron = cron.New()
	_, err := e.cron.AddFunc(fmt.Sprintf("@every %s", e.config.SweepInterval), func() {
		e.sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule SLA sweep: %w", err)
	}
	e.cron.Start()
	logger.Info("engine started", "workers", e.config.Workers,
		"sweepInterval", e.config.SweepInterval.String())
	return nil
}

// Stop halts the sweep and drains the evaluation queues, logging any
// updates it had to discard.
func (e *Engine) Stop() {
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	discarded, err := e.pool.Stop(e.config.ShutdownTimeout)
	if err != nil {
		logger.Warn("shutdown discarded queued updates", "discarded", discarded, "error", err)
		for i := 0; i < discarded; i++ {
			metrics.UpdatesDropped.Inc()
		}
		return
	}
	logger.Info("engine stopped, queues drained")
}

// Ingest accepts one entity snapshot update. Stale updates (observedAt
// not newer than the stored snapshot) are dropped. The update is routed
// to the worker owning the entity's hash shard, so per-entity order is
// preserved.
func (e *Engine) Ingest(entity alert.EntityRef, fields map[string]any, observedAt time.Time) error {
	snap, err := snapshot.New(entity, fields, observedAt)
	if err != nil {
		return err
	}
	if !e.snapshots.Put(snap) {
		metrics.SnapshotsStale.Inc()
		logger.Debug("dropped stale snapshot", "entity", entity.String(),
			"observedAt", observedAt)
		return nil
	}
	metrics.SnapshotsIngested.WithLabelValues(entity.Type).Inc()

	if err := e.pool.Submit(entity.Key(), snap); err != nil {
		metrics.UpdatesDropped.Inc()
		logger.Warn("evaluation queue full, update dropped", "entity", entity.String())
		return err
	}
	return nil
}

// process evaluates all candidate rules for one snapshot update. Runs on
// a pool worker; updates for the same entity never run concurrently.
func (e *Engine) process(ctx context.Context, snap *snapshot.Snapshot) {
	started := time.Now()
	defer func() {
		metrics.EvaluationDuration.Observe(time.Since(started).Seconds())
	}()

	paths := make([]string, 0, len(snap.Fields))
	for path := range snap.Fields {
		paths = append(paths, path)
	}

	for _, rule := range e.index.candidates(paths) {
		if !e.evaluator.Evaluate(rule, snap) {
			metrics.Evaluations.WithLabelValues("nomatch").Inc()
			continue
		}
		metrics.Evaluations.WithLabelValues("match").Inc()

		res, err := e.manager.RecordMatch(rule, snap, time.Now())
		if err != nil {
			logger.Error("failed to record rule match", "rule", rule.ID,
				"entity", snap.Entity.String(), "error", err)
			continue
		}
		if res.Created {
			metrics.ExceptionsCreated.WithLabelValues(res.Exception.Category,
				string(res.Exception.PriorityLevel)).Inc()
		}
		if !res.Dispatch {
			metrics.ThrottledFires.Inc()
			continue
		}
		e.dispatchActions(ctx, res.Exception, snap, rule.Actions)
	}
}

// sweep escalates SLA breaches and dispatches their escalation actions.
// Runs on the cron goroutine, never on the evaluation pool.
func (e *Engine) sweep(ctx context.Context) {
	escalated, err := e.manager.Sweep(time.Now())
	if err != nil {
		logger.Error("SLA sweep failed", "error", err)
		return
	}
	for _, exc := range escalated {
		metrics.SweepEscalations.Inc()
		logger.Info("exception auto-escalated", "exception", exc.ID,
			"rule", exc.RuleID, "slaDeadline", exc.SLADeadline)

		snap := e.snapshots.Get(exc.Entity)
		e.dispatchActions(ctx, exc, snap, e.escalationActions(exc))
	}
}

// escalationActions returns the owning rule's actions, or a synthesized
// notification when the rule no longer exists.
func (e *Engine) escalationActions(exc *exceptions.Exception) []alert.Action {
	rule, err := e.registry.Get(exc.RuleID)
	if err == nil && len(rule.Actions) > 0 {
		return rule.Actions
	}
	return []alert.Action{{
		Type:     alert.ActionNotification,
		Template: "Exception {{exception.id}} ({{exception.title}}) breached its SLA and was escalated",
	}}
}

func (e *Engine) dispatchActions(ctx context.Context, exc *exceptions.Exception, snap *snapshot.Snapshot, actions []alert.Action) {
	err := e.dispatcher.Dispatch(ctx, exc, snap, actions)
	for _, action := range actions {
		status := "ok"
		if pf, ok := err.(*dispatch.PartialFailure); ok {
			for _, f := range pf.Failed {
				if f.Action == action {
					status = "failed"
				}
			}
		}
		metrics.DispatchOutcomes.WithLabelValues(string(action.Type), status).Inc()
	}
}

// PoolStats exposes worker pool counters for the health endpoint.
func (e *Engine) PoolStats() (submitted, processed, dropped int64) {
	return e.pool.Stats()
}
