package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Gateway ─────────────────────────────────────────────────────────────────

	GatewaySignalsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cryptofarm",
		Subsystem: "gateway",
		Name:      "signals_submitted_total",
		Help:      "Total signals submitted through the gateway.",
	}, []string{"category"})

	GatewayApprovalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cryptofarm",
		Subsystem: "gateway",
		Name:      "approvals_total",
		Help:      "Total operator decisions, labelled approve or reject.",
	}, []string{"decision"})

	// ─── Ingestor ────────────────────────────────────────────────────────────────

	IngestorSignalsAbsorbed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cryptofarm",
		Subsystem: "ingestor",
		Name:      "signals_absorbed_total",
		Help:      "Total signals folded into opportunities, labelled by category.",
	}, []string{"category"})

	IngestorSignalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cryptofarm",
		Subsystem: "ingestor",
		Name:      "signals_rejected_total",
		Help:      "Total signals dropped before the opportunity store, labelled by reason.",
	}, []string{"reason"})

	// ─── Planner ─────────────────────────────────────────────────────────────────

	PlannerTasksPlanned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cryptofarm",
		Subsystem: "planner",
		Name:      "tasks_planned_total",
		Help:      "Total tasks created by the planning tick, labelled by action.",
	}, []string{"action"})

	PlannerDuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cryptofarm",
		Subsystem: "planner",
		Name:      "duplicates_skipped_total",
		Help:      "Total plan attempts absorbed by an existing idempotency key.",
	})

	PlannerOpportunitiesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cryptofarm",
		Subsystem: "planner",
		Name:      "opportunities_expired_total",
		Help:      "Total opportunities closed by the staleness sweep.",
	})

	// ─── Scheduler ───────────────────────────────────────────────────────────────

	SchedulerTasksExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cryptofarm",
		Subsystem: "scheduler",
		Name:      "tasks_executed_total",
		Help:      "Total execution attempts, labelled by action and terminal state.",
	}, []string{"action", "state"})

	SchedulerTasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cryptofarm",
		Subsystem: "scheduler",
		Name:      "tasks_inflight",
		Help:      "Tasks currently executing.",
	})

	SchedulerTaskDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cryptofarm",
		Subsystem: "scheduler",
		Name:      "task_duration_seconds",
		Help:      "End-to-end task execution time in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"action"})

	SchedulerRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cryptofarm",
		Subsystem: "scheduler",
		Name:      "retries_total",
		Help:      "Total attempts that ended in the retrying state.",
	}, []string{"action"})

	SchedulerQuotaDeferrals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cryptofarm",
		Subsystem: "scheduler",
		Name:      "quota_deferrals_total",
		Help:      "Total dispatches deferred by an exhausted daily quota.",
	}, []string{"counter", "platform"})
)
