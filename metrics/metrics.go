// Package metrics defines Prometheus metrics for the alert engine.
//
// Metric naming follows Prometheus conventions:
//   - alertengine_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// SnapshotsIngested counts accepted snapshot updates by entity type.
	SnapshotsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertengine_snapshots_ingested_total",
			Help: "Total snapshot updates accepted, by entity type.",
		},
		[]string{"entity_type"},
	)

	// SnapshotsStale counts updates dropped for carrying an older
	// observedAt than the stored snapshot.
	SnapshotsStale = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alertengine_snapshots_stale_total",
			Help: "Total snapshot updates dropped as stale.",
		},
	)

	// UpdatesDropped counts updates discarded because a worker queue was
	// full or shutdown discarded the queue.
	UpdatesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alertengine_updates_dropped_total",
			Help: "Total snapshot updates dropped before evaluation.",
		},
	)

	// Evaluations counts rule evaluations by result.
	Evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertengine_evaluations_total",
			Help: "Total rule evaluations, by result (match|nomatch).",
		},
		[]string{"result"},
	)

	// EvaluationDuration is a histogram of per-update evaluation time.
	EvaluationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alertengine_evaluation_duration_seconds",
			Help:    "Time spent evaluating candidate rules for one update.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)

	// ThrottledFires counts dispatches suppressed by the cooldown guard.
	ThrottledFires = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alertengine_throttled_fires_total",
			Help: "Total dispatches suppressed by the cooldown guard.",
		},
	)

	// ExceptionsCreated counts new exceptions by category and level.
	ExceptionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertengine_exceptions_created_total",
			Help: "Total exceptions created, by category and priority level.",
		},
		[]string{"category", "level"},
	)

	// DispatchOutcomes counts action deliveries by type and outcome.
	DispatchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertengine_dispatch_total",
			Help: "Total action dispatch outcomes, by action type and status.",
		},
		[]string{"action", "status"},
	)

	// SweepEscalations counts SLA auto-escalations.
	SweepEscalations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alertengine_sweep_escalations_total",
			Help: "Total exceptions auto-escalated by the SLA sweep.",
		},
	)
)

// Register adds all engine metrics to the given registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		SnapshotsIngested,
		SnapshotsStale,
		UpdatesDropped,
		Evaluations,
		EvaluationDuration,
		ThrottledFires,
		ExceptionsCreated,
		DispatchOutcomes,
		SweepEscalations,
	)
}
