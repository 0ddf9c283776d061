//go:build integration

// Package integration contains end-to-end integration tests that require
// real infrastructure (Kafka, Redis, PostgreSQL) provided by testcontainers-go.
//
// Run with: go test -tags=integration -v ./tests/integration/
package integration

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptofarm/cryptofarm/internal/alerts"
	"github.com/cryptofarm/cryptofarm/internal/domain"
	"github.com/cryptofarm/cryptofarm/internal/executors"
	"github.com/cryptofarm/cryptofarm/internal/kafka"
	"github.com/cryptofarm/cryptofarm/internal/postgres"
	"github.com/cryptofarm/cryptofarm/internal/projects"
	redisstore "github.com/cryptofarm/cryptofarm/internal/redis"
	"github.com/cryptofarm/cryptofarm/internal/scoring"
	"github.com/cryptofarm/cryptofarm/services/ingestor"
	"github.com/cryptofarm/cryptofarm/services/planner"
	"github.com/cryptofarm/cryptofarm/services/scheduler"
)

func plannerForTest(
	opps postgres.OpportunityRepository,
	tasks postgres.TaskRepository,
	registry *projects.Registry,
	scorer *scoring.Scorer,
	redisClient *redis.Client,
	reporter *alerts.Reporter,
	logger *slog.Logger,
) *planner.Planner {
	elector := redisstore.NewElector(redisClient, planner.LeaderKey, planner.LeaderTTL, "e2e-planner", logger)
	return planner.New(opps, tasks, registry, scorer, elector, reporter, planner.WithLogger(logger))
}

// recordingExecutor stands in for a real posting bridge.
type recordingExecutor struct {
	action domain.ActionType
	keys   chan string
}

func (e *recordingExecutor) Action() domain.ActionType { return e.action }
func (e *recordingExecutor) Execute(_ context.Context, task *domain.Task) error {
	e.keys <- task.Key
	return nil
}

// TestE2E_SignalToExecutedTask drives one signal through the whole pipeline
// against real infrastructure: Kafka publish → ingestor absorbs and scores →
// planner derives a task → scheduler executes it under quota budgets.
func TestE2E_SignalToExecutedTask(t *testing.T) {
	ctx := context.Background()

	// ── Infrastructure setup ─────────────────────────────────────────────────
	redisClient := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	t.Cleanup(func() {
		redisClient.FlushDB(ctx) //nolint:errcheck
		redisClient.Close()      //nolint:errcheck
	})

	pool, err := pgxpool.New(ctx, testPostgresDSN)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Exec(ctx, "TRUNCATE task_outcomes, tasks, opportunities CASCADE") //nolint:errcheck
		pool.Close()
	})

	oppRepo := postgres.NewOpportunityRepository(pool)
	taskRepo := postgres.NewTaskRepository(pool)
	quota := redisstore.NewQuotaTracker(redisClient)
	logger := slog.Default()

	producer := kafka.NewProducer(testKafkaBrokers)
	t.Cleanup(func() { producer.Close() }) //nolint:errcheck
	reporter := alerts.NewReporter(producer, logger)

	registry, err := projects.NewRegistry(projects.File{
		HighPriority: []domain.Project{{
			ID: "celestia", Name: "Celestia", Symbol: "TIA",
			OfficialChans: []string{"@CelestiaCommunity"},
		}},
		ActionPolicy: map[domain.Category][]domain.ActionType{
			domain.CategoryTestnet: {domain.ActionSocialPost},
		},
		SourceWeights: projects.DefaultSourceWeights(),
	})
	require.NoError(t, err)

	scorer, err := scoring.New(scoring.DefaultConfig())
	require.NoError(t, err)

	signalsTopic := uniqueTopic("e2e-signals")
	createTopic(t, signalsTopic)
	createTopic(t, kafka.TopicAlerts)

	// ── Step 1: a scraper publishes one classified signal ────────────────────
	payload, err := kafka.EncodeSignal(kafka.SignalEnvelope{
		Signal: domain.Signal{
			ProjectID:  "celestia",
			Category:   domain.CategoryTestnet,
			Source:     domain.PlatformTelegram,
			SourceTier: domain.SourceOfficial,
			Confidence: 0.95,
			Timestamp:  time.Now().UTC(),
			RawRef:     "tg/CelestiaCommunity/1042",
		},
		ReceivedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, producer.Publish(ctx, signalsTopic, "celestia", payload))

	// ── Step 2: the ingestor absorbs it into a scored opportunity ────────────
	consumer := kafka.NewConsumer(testKafkaBrokers, signalsTopic, "e2e-ingestor", logger)
	t.Cleanup(func() { consumer.Close() }) //nolint:errcheck

	ing := ingestor.New(consumer, oppRepo, registry, scorer, reporter,
		ingestor.WithLogger(logger))

	ingCtx, ingCancel := context.WithTimeout(ctx, 30*time.Second)
	ingDone := make(chan struct{})
	go func() {
		defer close(ingDone)
		ing.Run(ingCtx) //nolint:errcheck
	}()

	var opp *domain.Opportunity
	require.Eventually(t, func() bool {
		opps, err := oppRepo.ListByState(ctx, domain.OpportunityOpen, 10)
		if err != nil || len(opps) == 0 {
			return false
		}
		opp = opps[0]
		return true
	}, 30*time.Second, 250*time.Millisecond, "opportunity never materialized")
	ingCancel()
	<-ingDone

	assert.Equal(t, "celestia", opp.ProjectID)
	assert.GreaterOrEqual(t, opp.Score, scorer.MinScore(),
		"a high-tier official signal must clear the planning floor")

	// ── Step 3: a planning round derives the idempotent task ─────────────────
	p := plannerForTest(oppRepo, taskRepo, registry, scorer, redisClient, reporter, logger)
	require.NoError(t, p.Plan(ctx))

	key := domain.TaskKey("celestia", domain.CategoryTestnet, domain.ActionSocialPost, time.Now().UTC())
	task, err := taskRepo.GetByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskQueued, task.State)
	assert.False(t, task.ApprovalRequired, "social posts dispatch without approval")

	// Re-planning the same day must not duplicate the task.
	require.NoError(t, p.Plan(ctx))
	dispatchable, err := taskRepo.ListDispatchable(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, dispatchable, 1)

	// ── Step 4: the scheduler executes it under the shared budgets ───────────
	exec := &recordingExecutor{action: domain.ActionSocialPost, keys: make(chan string, 1)}
	execRegistry := executors.NewRegistry()
	execRegistry.Register(exec)

	s := scheduler.New("e2e-sched", taskRepo, oppRepo, quota, execRegistry, reporter,
		scheduler.WithLogger(logger))
	s.Tick(ctx)
	s.Wait()

	select {
	case got := <-exec.keys:
		assert.Equal(t, key, got)
	default:
		t.Fatal("executor was never invoked")
	}

	// ── Assertions ────────────────────────────────────────────────────────────
	final, err := taskRepo.GetByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskSucceeded, final.State)
	assert.Equal(t, 1, final.Attempts)

	finalOpp, err := oppRepo.GetByID(ctx, opp.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OpportunityCompleted, finalOpp.State,
		"the last finished task closes the opportunity")

	used, err := quota.DailyUsage(ctx, redisstore.CounterSocial, final.Platform)
	require.NoError(t, err)
	assert.Equal(t, 1, used, "the execution consumed one unit of today's social budget")
}
