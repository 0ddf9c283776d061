package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cryptofarm/cryptofarm/internal/domain"
)

// ExpiredOpportunity identifies an opportunity closed by the staleness sweep.
type ExpiredOpportunity struct {
	ID        string
	ProjectID string
	Category  domain.Category
}

// OpportunityRepository abstracts all database access for opportunities.
type OpportunityRepository interface {
	// Absorb applies one qualifying signal: it creates the open opportunity
	// for (project, category) or folds the signal into the existing one.
	// Returns the post-absorb row and whether it was newly created.
	Absorb(ctx context.Context, sig *domain.Signal) (*domain.Opportunity, bool, error)
	GetByID(ctx context.Context, id string) (*domain.Opportunity, error)
	UpdateScore(ctx context.Context, id string, score float64, at time.Time) error
	// Transition moves an opportunity between states. Moving out of a
	// terminal state is refused.
	Transition(ctx context.Context, id string, to domain.OpportunityState) error
	ListByState(ctx context.Context, state domain.OpportunityState, limit int) ([]*domain.Opportunity, error)
	// ListEligible returns open opportunities at or above the score floor,
	// best first. Scheduled opportunities already have their tasks and are
	// not re-planned.
	ListEligible(ctx context.Context, minScore float64, limit int) ([]*domain.Opportunity, error)
	// ExpireStale closes open opportunities whose last signal predates the
	// cutoff and reports which ones were closed.
	ExpireStale(ctx context.Context, cutoff time.Time) ([]ExpiredOpportunity, error)
}

type opportunityRepo struct {
	pool *pgxpool.Pool
}

// NewOpportunityRepository wraps a pgxpool with the OpportunityRepository
// interface.
func NewOpportunityRepository(pool *pgxpool.Pool) OpportunityRepository {
	return &opportunityRepo{pool: pool}
}

const opportunityColumns = `id, project_id, category, platform, source_ref, state,
	score, signal_count, first_seen, last_signal, updated_at`

func (r *opportunityRepo) Absorb(ctx context.Context, sig *domain.Signal) (*domain.Opportunity, bool, error) {
	now := time.Now().UTC()
	ts := sig.Timestamp
	if ts.IsZero() {
		ts = now
	}

	// The conflict target matches the partial unique index on open rows, so
	// a replayed or concurrent signal folds into the same opportunity.
	row := r.pool.QueryRow(ctx, `
		INSERT INTO opportunities
			(id, project_id, category, platform, source_ref, state,
			 score, signal_count, first_seen, last_signal, updated_at)
		VALUES
			($1, $2, $3, $4, $5, 'open', 0, 1, $6, $6, $7)
		ON CONFLICT (project_id, category) WHERE state = 'open' DO UPDATE SET
			signal_count = opportunities.signal_count + 1,
			platform     = EXCLUDED.platform,
			source_ref   = EXCLUDED.source_ref,
			last_signal  = GREATEST(opportunities.last_signal, EXCLUDED.last_signal),
			updated_at   = EXCLUDED.updated_at
		RETURNING `+opportunityColumns,
		uuid.New().String(), sig.ProjectID, string(sig.Category),
		string(sig.Source), sig.RawRef, ts, now,
	)

	opp, err := scanOpportunity(row)
	if err != nil {
		return nil, false, fmt.Errorf("absorb signal for %s/%s: %w", sig.ProjectID, sig.Category, err)
	}
	return opp, opp.SignalCount == 1, nil
}

func (r *opportunityRepo) GetByID(ctx context.Context, id string) (*domain.Opportunity, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+opportunityColumns+` FROM opportunities WHERE id = $1`, id)
	opp, err := scanOpportunity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.OpportunityNotFoundError{ID: id}
	}
	return opp, err
}

func (r *opportunityRepo) UpdateScore(ctx context.Context, id string, score float64, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE opportunities SET score = $1, updated_at = $2 WHERE id = $3
	`, score, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("update score for opportunity %s: %w", id, err)
	}
	return nil
}

func (r *opportunityRepo) Transition(ctx context.Context, id string, to domain.OpportunityState) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE opportunities
		SET state = $1, updated_at = $2
		WHERE id = $3 AND state NOT IN ('completed', 'expired', 'rejected')
	`, string(to), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("transition opportunity %s to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.OpportunityNotFoundError{ID: id}
	}
	return nil
}

func (r *opportunityRepo) ListByState(ctx context.Context, state domain.OpportunityState, limit int) ([]*domain.Opportunity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+opportunityColumns+`
		FROM opportunities
		WHERE state = $1
		ORDER BY score DESC, first_seen ASC
		LIMIT $2
	`, string(state), limit)
	if err != nil {
		return nil, fmt.Errorf("list opportunities by state %s: %w", state, err)
	}
	return collectOpportunities(rows)
}

func (r *opportunityRepo) ListEligible(ctx context.Context, minScore float64, limit int) ([]*domain.Opportunity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+opportunityColumns+`
		FROM opportunities
		WHERE state = 'open' AND score >= $1
		ORDER BY score DESC, first_seen ASC
		LIMIT $2
	`, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("list eligible opportunities: %w", err)
	}
	return collectOpportunities(rows)
}

func (r *opportunityRepo) ExpireStale(ctx context.Context, cutoff time.Time) ([]ExpiredOpportunity, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE opportunities
		SET state = 'expired', updated_at = $1
		WHERE state = 'open' AND last_signal < $2
		RETURNING id, project_id, category
	`, time.Now().UTC(), cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("expire stale opportunities: %w", err)
	}
	defer rows.Close()

	var expired []ExpiredOpportunity
	for rows.Next() {
		var e ExpiredOpportunity
		var cat string
		if err := rows.Scan(&e.ID, &e.ProjectID, &cat); err != nil {
			return nil, fmt.Errorf("scan expired opportunity: %w", err)
		}
		e.Category = domain.Category(cat)
		expired = append(expired, e)
	}
	return expired, rows.Err()
}

func collectOpportunities(rows pgx.Rows) ([]*domain.Opportunity, error) {
	defer rows.Close()
	var opps []*domain.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		opps = append(opps, opp)
	}
	return opps, rows.Err()
}

// scanOpportunity reads an opportunity row from any pgx row type.
func scanOpportunity(row interface {
	Scan(...any) error
}) (*domain.Opportunity, error) {
	var opp domain.Opportunity
	var category, platform, state string
	err := row.Scan(
		&opp.ID, &opp.ProjectID, &category, &platform, &opp.SourceRef, &state,
		&opp.Score, &opp.SignalCount, &opp.FirstSeen, &opp.LastSignal, &opp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan opportunity: %w", err)
	}
	opp.Category = domain.Category(category)
	opp.Platform = domain.Platform(platform)
	opp.State = domain.OpportunityState(state)
	return &opp, nil
}
