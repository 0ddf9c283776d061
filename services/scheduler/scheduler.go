package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cryptofarm/cryptofarm/internal/alerts"
	"github.com/cryptofarm/cryptofarm/internal/domain"
	"github.com/cryptofarm/cryptofarm/internal/executors"
	"github.com/cryptofarm/cryptofarm/internal/postgres"
	redisstore "github.com/cryptofarm/cryptofarm/internal/redis"
	"github.com/cryptofarm/cryptofarm/pkg/retry"
	"github.com/cryptofarm/cryptofarm/pkg/telemetry"
)

// Scheduler pulls dispatchable tasks from the store and executes them
// under the shared safety budgets: a global concurrency cap and per-day
// per-platform action quotas. Tasks blocked by a quota stay queued; only
// execution failures consume attempts.
type Scheduler struct {
	tasks    postgres.TaskRepository
	opps     postgres.OpportunityRepository
	quota    redisstore.QuotaTracker
	registry *executors.Registry
	reporter *alerts.Reporter
	workerID string
	logger   *slog.Logger

	pollInterval  time.Duration
	batchSize     int
	maxConcurrent int
	dailySocial   int
	dailyTx       int
	taskTimeout   time.Duration
	backoffBase   time.Duration
	backoffCap    time.Duration

	wg  sync.WaitGroup
	now func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

func WithPollInterval(d time.Duration) Option { return func(s *Scheduler) { s.pollInterval = d } }

func WithBatchSize(n int) Option { return func(s *Scheduler) { s.batchSize = n } }

func WithMaxConcurrent(n int) Option { return func(s *Scheduler) { s.maxConcurrent = n } }

func WithDailySocialLimit(n int) Option { return func(s *Scheduler) { s.dailySocial = n } }

func WithDailyTransactionLimit(n int) Option { return func(s *Scheduler) { s.dailyTx = n } }

func WithTaskTimeout(d time.Duration) Option { return func(s *Scheduler) { s.taskTimeout = d } }

func WithBackoff(base, cap time.Duration) Option {
	return func(s *Scheduler) { s.backoffBase, s.backoffCap = base, cap }
}

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// New constructs a Scheduler with the given dependencies and options.
func New(
	workerID string,
	tasks postgres.TaskRepository,
	opps postgres.OpportunityRepository,
	quota redisstore.QuotaTracker,
	registry *executors.Registry,
	reporter *alerts.Reporter,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		workerID:      workerID,
		tasks:         tasks,
		opps:          opps,
		quota:         quota,
		registry:      registry,
		reporter:      reporter,
		logger:        slog.Default(),
		pollInterval:  5 * time.Second,
		batchSize:     20,
		maxConcurrent: 5,
		dailySocial:   20,
		dailyTx:       10,
		taskTimeout:   2 * time.Minute,
		backoffBase:   30 * time.Second,
		backoffCap:    time.Hour,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run is the dispatch loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Wait blocks until all in-flight tasks finish. Call after Run returns.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Tick dispatches one batch of ready tasks, best score first.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().UTC()

	// A task claimed by an instance that died mid-attempt stays running in
	// the store with nobody to finish it. Anything running past the
	// execution deadline is fair game to requeue.
	stale, err := s.tasks.RequeueStaleRunning(ctx, now.Add(-(s.taskTimeout + time.Minute)))
	if err != nil {
		s.logger.Error("requeue stale running tasks", slog.String("error", err.Error()))
	}
	for _, key := range stale {
		s.logger.Warn("requeued task abandoned by a dead worker", slog.String("task_key", key))
	}

	tasks, err := s.tasks.ListDispatchable(ctx, now, s.batchSize)
	if err != nil {
		s.logger.Error("list dispatchable", slog.String("error", err.Error()))
		return
	}

	for _, task := range tasks {
		if ctx.Err() != nil {
			return
		}
		if !s.dispatch(ctx, task) {
			// All execution slots are taken; the rest of the batch keeps
			// its place for the next tick.
			return
		}
	}
}

// dispatch reserves budget for one task and hands it to a worker
// goroutine. Returns false when no concurrency slot is available.
func (s *Scheduler) dispatch(ctx context.Context, task *domain.Task) bool {
	log := s.logger.With(
		slog.String("task_key", task.Key),
		slog.String("action", string(task.Action)),
		slog.String("project_id", task.ProjectID),
	)

	// A task whose parent opportunity was rejected or expired is discarded,
	// not executed.
	if done, err := s.cancelIfParentClosed(ctx, task, log); err != nil || done {
		return true
	}

	slot, err := s.quota.AcquireSlot(ctx, s.maxConcurrent)
	if err != nil {
		log.Error("acquire slot", slog.String("error", err.Error()))
		return true
	}
	if !slot {
		return false
	}

	if err := s.reserveDailyQuota(ctx, task); err != nil {
		_ = s.quota.ReleaseSlot(ctx)
		var exhausted *domain.QuotaExhaustedError
		if errors.As(err, &exhausted) {
			// Deferred, not failed: the task stays queued and competes
			// again after the day rolls over.
			telemetry.SchedulerQuotaDeferrals.WithLabelValues(exhausted.Counter, string(exhausted.Platform)).Inc()
			log.Info("task deferred by quota", slog.String("reason", exhausted.Error()))
			s.reporter.Deferral(ctx, task, exhausted.Error())
			return true
		}
		log.Error("reserve quota", slog.String("error", err.Error()))
		return true
	}

	claimed, err := s.tasks.ClaimRunning(ctx, task.Key)
	if err != nil || !claimed {
		// Another scheduler instance won the claim; give the budget back.
		s.releaseDailyQuota(ctx, task)
		_ = s.quota.ReleaseSlot(ctx)
		if err != nil {
			log.Error("claim task", slog.String("error", err.Error()))
		}
		return true
	}
	task.Attempts++

	s.wg.Add(1)
	telemetry.SchedulerTasksInFlight.Inc()
	go func() {
		defer func() {
			telemetry.SchedulerTasksInFlight.Dec()
			_ = s.quota.ReleaseSlot(context.Background())
			s.wg.Done()
		}()
		// The claim is already persisted; once the attempt runs, its outcome
		// must be recorded even if the dispatch loop shut down mid-flight,
		// or the task stays running forever.
		s.execute(context.WithoutCancel(ctx), task, log)
	}()
	return true
}

// execute runs one attempt and records the resulting state transition.
func (s *Scheduler) execute(ctx context.Context, task *domain.Task, log *slog.Logger) {
	ctx, span := otel.Tracer("scheduler").Start(ctx, "scheduler.execute_task")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.key", task.Key),
		attribute.String("task.action", string(task.Action)),
		attribute.Int("task.attempt", task.Attempts),
		attribute.String("worker.id", s.workerID),
	)

	exec, err := s.registry.Get(task.Action)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no executor registered")
		log.Error("no executor for action", slog.String("error", err.Error()))
		s.finish(ctx, task, domain.TaskFailed, err, 0)
		return
	}

	start := s.now()
	// A fresh context bounds the attempt independently of consumer
	// shutdown while keeping the span parentage.
	execCtx, cancel := context.WithTimeout(
		trace.ContextWithSpan(context.Background(), span),
		s.taskTimeout,
	)
	execErr := exec.Execute(execCtx, task)
	cancel()

	durationSec := s.now().Sub(start).Seconds()
	durationMs := int64(durationSec * 1000)
	telemetry.SchedulerTaskDurationSeconds.WithLabelValues(string(task.Action)).Observe(durationSec)

	if execErr == nil {
		log.Info("task succeeded",
			slog.Int64("duration_ms", durationMs),
			slog.Int("attempts", task.Attempts),
		)
		s.finish(ctx, task, domain.TaskSucceeded, nil, durationMs)
		return
	}

	span.RecordError(execErr)
	if task.Attempts < task.MaxAttempts {
		next := s.now().UTC().Add(retry.Backoff(s.backoffBase, s.backoffCap, task.Attempts))
		log.Warn("attempt failed, scheduling retry",
			slog.Int("attempt", task.Attempts),
			slog.Time("next_attempt_at", next),
			slog.String("error", execErr.Error()),
		)
		telemetry.SchedulerRetriesTotal.WithLabelValues(string(task.Action)).Inc()
		task.State = domain.TaskRetrying
		if err := s.tasks.Finish(ctx, task.Key, domain.TaskRetrying, execErr.Error(), &next); err != nil {
			log.Error("record retry", slog.String("error", err.Error()))
		}
		s.recordOutcome(ctx, task, domain.TaskRetrying, execErr, durationMs)
		return
	}

	span.SetStatus(codes.Error, "task exhausted all attempts")
	log.Error("task failed after all attempts",
		slog.Int("attempts", task.Attempts),
		slog.String("error", execErr.Error()),
	)
	s.finish(ctx, task, domain.TaskFailed, execErr, durationMs)
}

// finish records a terminal state, the outcome row, the operator alert,
// and settles the parent opportunity once its last live task ends.
func (s *Scheduler) finish(ctx context.Context, task *domain.Task, state domain.TaskState, execErr error, durationMs int64) {
	errMsg := ""
	if execErr != nil {
		errMsg = execErr.Error()
	}
	task.State = state

	if err := s.tasks.Finish(ctx, task.Key, state, errMsg, nil); err != nil {
		s.logger.Error("record terminal state",
			slog.String("task_key", task.Key),
			slog.String("error", err.Error()),
		)
	}
	s.recordOutcome(ctx, task, state, execErr, durationMs)
	telemetry.SchedulerTasksExecuted.WithLabelValues(string(task.Action), string(state)).Inc()
	s.reporter.Outcome(ctx, task, errMsg)

	// The last terminal task decides the opportunity's fate: success closes
	// it as completed, exhausted attempts surface it as expired. Cancelled
	// tasks leave the parent alone; its own lifecycle closed it already.
	var next domain.OpportunityState
	switch state {
	case domain.TaskSucceeded:
		next = domain.OpportunityCompleted
	case domain.TaskFailed:
		next = domain.OpportunityExpired
	default:
		return
	}

	live, err := s.tasks.HasLiveTasks(ctx, task.OpportunityID)
	if err != nil {
		s.logger.Error("check live tasks",
			slog.String("opportunity_id", task.OpportunityID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !live {
		if err := s.opps.Transition(ctx, task.OpportunityID, next); err != nil {
			var notFound *domain.OpportunityNotFoundError
			if !errors.As(err, &notFound) {
				s.logger.Error("complete opportunity",
					slog.String("opportunity_id", task.OpportunityID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (s *Scheduler) recordOutcome(ctx context.Context, task *domain.Task, state domain.TaskState, execErr error, durationMs int64) {
	errMsg := ""
	if execErr != nil {
		errMsg = execErr.Error()
	}
	outcome := &domain.TaskOutcome{
		TaskKey:    task.Key,
		WorkerID:   s.workerID,
		Attempt:    task.Attempts,
		State:      state,
		DurationMs: durationMs,
		Error:      errMsg,
		ExecutedAt: s.now().UTC(),
	}
	if err := s.tasks.RecordOutcome(ctx, outcome); err != nil {
		s.logger.Error("record outcome",
			slog.String("task_key", task.Key),
			slog.String("error", err.Error()),
		)
	}
}

// cancelIfParentClosed discards tasks whose opportunity already reached a
// terminal state. Returns true when the task was handled here.
func (s *Scheduler) cancelIfParentClosed(ctx context.Context, task *domain.Task, log *slog.Logger) (bool, error) {
	opp, err := s.opps.GetByID(ctx, task.OpportunityID)
	if err != nil {
		var notFound *domain.OpportunityNotFoundError
		if errors.As(err, &notFound) {
			_ = s.tasks.Finish(ctx, task.Key, domain.TaskCancelled, "opportunity missing", nil)
			return true, nil
		}
		log.Error("load opportunity", slog.String("error", err.Error()))
		return false, err
	}
	if !opp.State.IsTerminal() {
		return false, nil
	}

	log.Info("parent opportunity closed, cancelling task",
		slog.String("opportunity_state", string(opp.State)),
	)
	if err := s.tasks.Finish(ctx, task.Key, domain.TaskCancelled, "opportunity "+string(opp.State), nil); err != nil {
		log.Error("cancel task", slog.String("error", err.Error()))
	}
	task.State = domain.TaskCancelled
	s.reporter.Outcome(ctx, task, "opportunity "+string(opp.State))
	return true, nil
}

func (s *Scheduler) reserveDailyQuota(ctx context.Context, task *domain.Task) error {
	switch task.Action {
	case domain.ActionSocialPost:
		return s.quota.ReserveDaily(ctx, redisstore.CounterSocial, task.Platform, s.dailySocial)
	case domain.ActionTransaction:
		return s.quota.ReserveDaily(ctx, redisstore.CounterTransaction, task.Platform, s.dailyTx)
	default:
		// Node actions are bounded by the concurrency cap only.
		return nil
	}
}

func (s *Scheduler) releaseDailyQuota(ctx context.Context, task *domain.Task) {
	switch task.Action {
	case domain.ActionSocialPost:
		_ = s.quota.ReleaseDaily(ctx, redisstore.CounterSocial, task.Platform)
	case domain.ActionTransaction:
		_ = s.quota.ReleaseDaily(ctx, redisstore.CounterTransaction, task.Platform)
	}
}
