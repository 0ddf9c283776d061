package ingestor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/cryptofarm/cryptofarm/internal/alerts"
	"github.com/cryptofarm/cryptofarm/internal/domain"
	"github.com/cryptofarm/cryptofarm/internal/kafka"
	"github.com/cryptofarm/cryptofarm/internal/postgres"
	"github.com/cryptofarm/cryptofarm/internal/projects"
	"github.com/cryptofarm/cryptofarm/internal/scoring"
	"github.com/cryptofarm/cryptofarm/pkg/telemetry"
)

// Ingestor consumes classified signals and folds them into scored
// opportunities. Replayed messages are absorbed by the idempotent upsert,
// so the consumer can safely re-deliver.
type Ingestor struct {
	consumer        kafka.Consumer
	opps            postgres.OpportunityRepository
	registry        *projects.Registry
	scorer          *scoring.Scorer
	reporter        *alerts.Reporter
	confidenceFloor float64
	logger          *slog.Logger
	now             func() time.Time
}

// Option configures an Ingestor.
type Option func(*Ingestor)

func WithLogger(l *slog.Logger) Option { return func(i *Ingestor) { i.logger = l } }

func WithConfidenceFloor(f float64) Option { return func(i *Ingestor) { i.confidenceFloor = f } }

func WithClock(now func() time.Time) Option { return func(i *Ingestor) { i.now = now } }

// New constructs an Ingestor with the given dependencies and options.
func New(
	consumer kafka.Consumer,
	opps postgres.OpportunityRepository,
	registry *projects.Registry,
	scorer *scoring.Scorer,
	reporter *alerts.Reporter,
	opts ...Option,
) *Ingestor {
	i := &Ingestor{
		consumer:        consumer,
		opps:            opps,
		registry:        registry,
		scorer:          scorer,
		reporter:        reporter,
		confidenceFloor: 0.5,
		logger:          slog.Default(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run starts consuming signals. Blocks until ctx is cancelled.
func (i *Ingestor) Run(ctx context.Context) error {
	return i.consumer.Subscribe(ctx, i.processMessage)
}

// processMessage is the Kafka HandlerFunc. Rejected signals return nil so
// their offsets commit; only infrastructure failures withhold the commit.
func (i *Ingestor) processMessage(consumerCtx context.Context, msg kafka.Message) error {
	env, err := kafka.DecodeSignal(msg.Value)
	if err != nil {
		i.logger.Error("malformed signal message, discarding",
			slog.String("error", err.Error()),
			slog.Int64("offset", msg.Offset),
		)
		telemetry.IngestorSignalsRejected.WithLabelValues("malformed").Inc()
		return nil
	}

	ctx, span := otel.Tracer("ingestor").Start(consumerCtx, "ingestor.process_signal")
	defer span.End()
	span.SetAttributes(
		attribute.String("signal.project_id", env.Signal.ProjectID),
		attribute.String("signal.category", string(env.Signal.Category)),
	)

	if err := i.Absorb(ctx, &env.Signal); err != nil {
		var rejected *domain.SignalRejectedError
		if errors.As(err, &rejected) {
			i.logger.Info("signal rejected",
				slog.String("project_id", rejected.ProjectID),
				slog.String("reason", rejected.Reason),
			)
			telemetry.IngestorSignalsRejected.WithLabelValues(rejected.Reason).Inc()
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "absorb failed")
		return err
	}
	return nil
}

// Absorb validates one signal and applies it to the opportunity store,
// rescoring and alerting as needed.
func (i *Ingestor) Absorb(ctx context.Context, sig *domain.Signal) error {
	if err := i.validate(sig); err != nil {
		return err
	}

	opp, created, err := i.opps.Absorb(ctx, sig)
	if err != nil {
		return err
	}

	now := i.now().UTC()
	tier := i.registry.Tier(sig.ProjectID)
	prevTier := i.scorer.ReportTier(opp.Score)

	score := i.scorer.Score(opp, tier, now)
	if err := i.opps.UpdateScore(ctx, opp.ID, score, now); err != nil {
		return err
	}
	opp.Score = score

	telemetry.IngestorSignalsAbsorbed.WithLabelValues(string(sig.Category)).Inc()
	i.logger.Info("signal absorbed",
		slog.String("project_id", sig.ProjectID),
		slog.String("category", string(sig.Category)),
		slog.Bool("created", created),
		slog.Int("signal_count", opp.SignalCount),
		slog.Float64("score", score),
	)

	// Alert on a brand-new opportunity or a tier upgrade, never on every
	// signal, to keep the alert channel readable.
	newTier := i.scorer.ReportTier(score)
	if newTier != domain.TierLow && (created || tierRank(newTier) > tierRank(prevTier)) {
		i.reporter.Opportunity(ctx, opp, newTier)
	}
	return nil
}

func (i *Ingestor) validate(sig *domain.Signal) error {
	switch {
	case sig.ProjectID == "":
		return &domain.SignalRejectedError{ProjectID: sig.ProjectID, Reason: "missing_project"}
	case i.registry.Blacklisted(sig.ProjectID):
		return &domain.SignalRejectedError{ProjectID: sig.ProjectID, Reason: "blacklisted"}
	case sig.Category == "":
		return &domain.SignalRejectedError{ProjectID: sig.ProjectID, Reason: "missing_category"}
	// Channel trust discounts the reported confidence: a community rumor
	// needs a higher raw confidence than an official announcement.
	case sig.Confidence*i.registry.SourceWeight(sig.SourceTier) < i.confidenceFloor:
		return &domain.SignalRejectedError{ProjectID: sig.ProjectID, Reason: "low_confidence"}
	}
	if _, tracked := i.registry.Get(sig.ProjectID); !tracked {
		return &domain.SignalRejectedError{ProjectID: sig.ProjectID, Reason: "untracked"}
	}
	return nil
}

func tierRank(t domain.ReportTier) int {
	switch t {
	case domain.TierHigh:
		return 2
	case domain.TierMedium:
		return 1
	default:
		return 0
	}
}
