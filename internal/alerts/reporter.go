package alerts

import (
	"context"
	"log/slog"
	"time"

	"github.com/cryptofarm/cryptofarm/internal/domain"
	"github.com/cryptofarm/cryptofarm/internal/kafka"
	"github.com/cryptofarm/cryptofarm/pkg/retry"
)

// Reporter publishes operator notifications to the alerts topic. Publishing
// is best-effort with a short retry: a lost alert never blocks the pipeline.
type Reporter struct {
	producer kafka.Producer
	logger   *slog.Logger
}

// NewReporter creates a Reporter on the given producer.
func NewReporter(producer kafka.Producer, logger *slog.Logger) *Reporter {
	return &Reporter{producer: producer, logger: logger}
}

// Opportunity announces a new or re-tiered opportunity.
func (r *Reporter) Opportunity(ctx context.Context, opp *domain.Opportunity, tier domain.ReportTier) {
	r.publish(ctx, opp.ProjectID, kafka.AlertEnvelope{
		Kind:      kafka.AlertOpportunity,
		Tier:      tier,
		ProjectID: opp.ProjectID,
		Category:  opp.Category,
		Score:     opp.Score,
		State:     string(opp.State),
		EmittedAt: time.Now().UTC(),
	})
}

// Outcome announces a task reaching a terminal state.
func (r *Reporter) Outcome(ctx context.Context, task *domain.Task, detail string) {
	r.publish(ctx, task.ProjectID, kafka.AlertEnvelope{
		Kind:      kafka.AlertOutcome,
		ProjectID: task.ProjectID,
		Category:  task.Category,
		TaskKey:   task.Key,
		State:     string(task.State),
		Score:     task.Score,
		Detail:    detail,
		EmittedAt: time.Now().UTC(),
	})
}

// Deferral announces a task held back by an exhausted quota. The task is
// still queued, not failed; operators see why nothing is running.
func (r *Reporter) Deferral(ctx context.Context, task *domain.Task, reason string) {
	r.publish(ctx, task.ProjectID, kafka.AlertEnvelope{
		Kind:      kafka.AlertDeferral,
		ProjectID: task.ProjectID,
		Category:  task.Category,
		TaskKey:   task.Key,
		State:     string(task.State),
		Detail:    reason,
		EmittedAt: time.Now().UTC(),
	})
}

func (r *Reporter) publish(ctx context.Context, key string, env kafka.AlertEnvelope) {
	payload, err := kafka.EncodeAlert(env)
	if err != nil {
		r.logger.Error("encode alert", slog.String("error", err.Error()))
		return
	}

	err = retry.Do(ctx, retry.Config{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		OnRetry: func(attempt int, err error) {
			r.logger.Warn("alert publish retry",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		},
	}, func() error {
		return r.producer.Publish(ctx, kafka.TopicAlerts, key, payload)
	})
	if err != nil {
		r.logger.Error("alert dropped",
			slog.String("kind", string(env.Kind)),
			slog.String("project_id", env.ProjectID),
			slog.String("error", err.Error()),
		)
	}
}
