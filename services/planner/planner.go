package planner

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cryptofarm/cryptofarm/internal/alerts"
	"github.com/cryptofarm/cryptofarm/internal/domain"
	"github.com/cryptofarm/cryptofarm/internal/postgres"
	"github.com/cryptofarm/cryptofarm/internal/projects"
	redisstore "github.com/cryptofarm/cryptofarm/internal/redis"
	"github.com/cryptofarm/cryptofarm/internal/scoring"
	"github.com/cryptofarm/cryptofarm/pkg/telemetry"
)

const (
	// LeaderKey is the Redis key planner instances compete for.
	LeaderKey = "planner:leader"
	// LeaderTTL bounds how long a dead leader blocks a standby.
	LeaderTTL = 30 * time.Second
)

// Planner turns eligible opportunities into idempotent tasks. Exactly one
// instance plans at a time via leader election; planning itself is
// idempotent, so a brief leadership overlap only produces key collisions.
type Planner struct {
	opps     postgres.OpportunityRepository
	tasks    postgres.TaskRepository
	registry *projects.Registry
	scorer   *scoring.Scorer
	elector  *redisstore.Elector
	reporter *alerts.Reporter
	logger   *slog.Logger

	tickInterval     time.Duration
	planLimit        int
	maxAttempts      int
	approvalRequired bool
	stalenessWindow  time.Duration
	approvalTimeout  time.Duration

	sweep     cron.Schedule
	nextSweep time.Time
	now       func() time.Time
}

// Option configures a Planner.
type Option func(*Planner)

func WithLogger(l *slog.Logger) Option { return func(p *Planner) { p.logger = l } }

func WithTickInterval(d time.Duration) Option { return func(p *Planner) { p.tickInterval = d } }

func WithPlanLimit(n int) Option { return func(p *Planner) { p.planLimit = n } }

func WithMaxAttempts(n int) Option { return func(p *Planner) { p.maxAttempts = n } }

func WithApprovalRequired(b bool) Option { return func(p *Planner) { p.approvalRequired = b } }

func WithStalenessWindow(d time.Duration) Option { return func(p *Planner) { p.stalenessWindow = d } }

func WithApprovalTimeout(d time.Duration) Option { return func(p *Planner) { p.approvalTimeout = d } }

func WithSweepSchedule(s cron.Schedule) Option { return func(p *Planner) { p.sweep = s } }

func WithClock(now func() time.Time) Option { return func(p *Planner) { p.now = now } }

// New constructs a Planner with the given dependencies and options.
func New(
	opps postgres.OpportunityRepository,
	tasks postgres.TaskRepository,
	registry *projects.Registry,
	scorer *scoring.Scorer,
	elector *redisstore.Elector,
	reporter *alerts.Reporter,
	opts ...Option,
) *Planner {
	sweep, _ := cron.ParseStandard("*/15 * * * *")
	p := &Planner{
		opps:             opps,
		tasks:            tasks,
		registry:         registry,
		scorer:           scorer,
		elector:          elector,
		reporter:         reporter,
		logger:           slog.Default(),
		tickInterval:     15 * time.Second,
		planLimit:        100,
		maxAttempts:      3,
		approvalRequired: true,
		stalenessWindow:  72 * time.Hour,
		approvalTimeout:  24 * time.Hour,
		sweep:            sweep,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.nextSweep = p.sweep.Next(p.now().UTC())
	return p
}

// Run is the main loop: tries to become leader, then plans and sweeps.
// Blocks until ctx is cancelled.
func (p *Planner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tickInterval)
	defer ticker.Stop()

	p.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			p.elector.Resign(context.Background())
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one planning round if this instance holds leadership.
func (p *Planner) Tick(ctx context.Context) {
	if !p.elector.AcquireOrRenew(ctx) {
		return
	}
	if err := p.Plan(ctx); err != nil {
		p.logger.Error("planning round failed", slog.String("error", err.Error()))
	}
	if now := p.now().UTC(); !now.Before(p.nextSweep) {
		if err := p.Sweep(ctx); err != nil {
			p.logger.Error("sweep failed", slog.String("error", err.Error()))
		}
		p.nextSweep = p.sweep.Next(now)
	}
}

// Plan creates tasks for every eligible opportunity. Task keys embed the
// UTC day, so re-planning the same opportunity within a day is a no-op.
func (p *Planner) Plan(ctx context.Context) error {
	opps, err := p.opps.ListEligible(ctx, p.scorer.MinScore(), p.planLimit)
	if err != nil {
		return err
	}

	now := p.now().UTC()
	for _, opp := range opps {
		project, ok := p.registry.Get(opp.ProjectID)
		if !ok {
			continue
		}

		planned := 0
		for _, action := range p.registry.Actions(opp.Category) {
			platform := actionPlatform(action, opp, project)
			gated := p.approvalRequired && action.RequiresApproval()
			state := domain.TaskQueued
			if gated {
				// Holds in pending until an operator approves.
				state = domain.TaskPending
			}
			task := &domain.Task{
				Key:              domain.TaskKey(opp.ProjectID, opp.Category, action, now),
				OpportunityID:    opp.ID,
				ProjectID:        opp.ProjectID,
				Category:         opp.Category,
				Action:           action,
				Platform:         platform,
				ApprovalRequired: gated,
				State:            state,
				MaxAttempts:      p.maxAttempts,
				Score:            opp.Score,
				CreatedAt:        now,
			}

			created, err := p.tasks.CreateIfAbsent(ctx, task)
			if err != nil {
				p.logger.Error("task creation failed",
					slog.String("opportunity_id", opp.ID),
					slog.String("action", string(action)),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !created {
				telemetry.PlannerDuplicatesSkipped.Inc()
				continue
			}

			planned++
			telemetry.PlannerTasksPlanned.WithLabelValues(string(action)).Inc()
			p.logger.Info("task planned",
				slog.String("task_key", task.Key),
				slog.String("project_id", task.ProjectID),
				slog.String("action", string(action)),
				slog.Bool("approval_required", task.ApprovalRequired),
				slog.Float64("score", task.Score),
			)
		}

		if planned > 0 && opp.State == domain.OpportunityOpen {
			if err := p.opps.Transition(ctx, opp.ID, domain.OpportunityScheduled); err != nil {
				p.logger.Error("opportunity transition failed",
					slog.String("opportunity_id", opp.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return nil
}

// Sweep is the periodic maintenance pass: re-score decaying opportunities,
// expire stale ones, and cancel approval-gated tasks nobody approved.
func (p *Planner) Sweep(ctx context.Context) error {
	now := p.now().UTC()

	for _, state := range []domain.OpportunityState{
		domain.OpportunityOpen, domain.OpportunityScheduled,
	} {
		opps, err := p.opps.ListByState(ctx, state, p.planLimit)
		if err != nil {
			return err
		}
		for _, opp := range opps {
			tier := p.registry.Tier(opp.ProjectID)
			score := p.scorer.Score(opp, tier, now)
			if score == opp.Score {
				continue
			}
			if err := p.opps.UpdateScore(ctx, opp.ID, score, now); err != nil {
				p.logger.Error("rescore failed",
					slog.String("opportunity_id", opp.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	expired, err := p.opps.ExpireStale(ctx, now.Add(-p.stalenessWindow))
	if err != nil {
		return err
	}
	for _, e := range expired {
		telemetry.PlannerOpportunitiesExpired.Inc()
		keys, err := p.tasks.CancelForOpportunity(ctx, e.ID)
		if err != nil {
			p.logger.Error("cancel tasks for expired opportunity",
				slog.String("opportunity_id", e.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.logger.Info("opportunity expired",
			slog.String("opportunity_id", e.ID),
			slog.String("project_id", e.ProjectID),
			slog.Int("cancelled_tasks", len(keys)),
		)
	}

	cancelled, err := p.tasks.CancelUnapprovedBefore(ctx, now.Add(-p.approvalTimeout))
	if err != nil {
		return err
	}
	for _, key := range cancelled {
		p.logger.Info("unapproved task timed out", slog.String("task_key", key))
		task, err := p.tasks.GetByKey(ctx, key)
		if err != nil {
			continue
		}
		p.reporter.Outcome(ctx, task, "approval window elapsed")

		// An opportunity whose last task died waiting for approval would
		// otherwise sit in scheduled forever; its moment has passed.
		live, err := p.tasks.HasLiveTasks(ctx, task.OpportunityID)
		if err != nil || live {
			continue
		}
		if err := p.opps.Transition(ctx, task.OpportunityID, domain.OpportunityExpired); err != nil {
			p.logger.Error("expire unapproved opportunity",
				slog.String("opportunity_id", task.OpportunityID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// actionPlatform decides where an action lands: the project's explicit
// mapping wins, transactions default to on-chain, and everything else
// follows the platform the signals came from.
func actionPlatform(action domain.ActionType, opp *domain.Opportunity, project *domain.Project) domain.Platform {
	if platform, ok := project.ActionPlatforms[string(action)]; ok {
		return domain.Platform(platform)
	}
	if action == domain.ActionTransaction {
		return domain.PlatformOnChain
	}
	return opp.Platform
}
