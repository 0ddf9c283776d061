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

// TaskRepository abstracts all database access for tasks and their
// execution outcomes.
type TaskRepository interface {
	// CreateIfAbsent inserts a planned task keyed by its idempotency key.
	// Returns false without error when a task with the same key already
	// exists, which makes re-planning a no-op.
	CreateIfAbsent(ctx context.Context, task *domain.Task) (bool, error)
	GetByKey(ctx context.Context, key string) (*domain.Task, error)
	// ListDispatchable returns tasks ready to run at the given instant,
	// highest score first: pending, queued or retrying, past any backoff
	// deadline, and not blocked on approval.
	ListDispatchable(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error)
	// ClaimRunning atomically moves a ready task to running and bumps its
	// attempt counter. Returns false if another worker claimed it first or
	// the task left the ready states.
	ClaimRunning(ctx context.Context, key string) (bool, error)
	// Finish records the post-attempt state. nextAttemptAt is set only for
	// the retrying state.
	Finish(ctx context.Context, key string, state domain.TaskState, lastError string, nextAttemptAt *time.Time) error
	// Approve marks an approval-gated task as approved by an operator.
	Approve(ctx context.Context, key string) error
	// CancelForOpportunity cancels every non-terminal task of an
	// opportunity and returns the affected keys.
	CancelForOpportunity(ctx context.Context, opportunityID string) ([]string, error)
	// CancelUnapprovedBefore cancels approval-gated tasks still waiting
	// after the approval window and returns the affected keys.
	CancelUnapprovedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	// RequeueStaleRunning returns running tasks last touched before the
	// cutoff to retrying, recovering rows stranded by a crashed worker.
	RequeueStaleRunning(ctx context.Context, cutoff time.Time) ([]string, error)
	// HasLiveTasks reports whether an opportunity still has non-terminal
	// tasks.
	HasLiveTasks(ctx context.Context, opportunityID string) (bool, error)
	RecordOutcome(ctx context.Context, outcome *domain.TaskOutcome) error
}

type taskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepository wraps a pgxpool with the TaskRepository interface.
func NewTaskRepository(pool *pgxpool.Pool) TaskRepository {
	return &taskRepo{pool: pool}
}

const taskColumns = `key, opportunity_id, project_id, category, action, platform,
	approval_required, approved, state, attempts, max_attempts,
	next_attempt_at, last_error, score, created_at, updated_at`

func (r *taskRepo) CreateIfAbsent(ctx context.Context, task *domain.Task) (bool, error) {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO tasks
			(key, opportunity_id, project_id, category, action, platform,
			 approval_required, approved, state, attempts, max_attempts,
			 next_attempt_at, last_error, score, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (key) DO NOTHING
	`,
		task.Key, task.OpportunityID, task.ProjectID, string(task.Category),
		string(task.Action), string(task.Platform),
		task.ApprovalRequired, task.Approved, string(task.State),
		task.Attempts, task.MaxAttempts, task.NextAttemptAt,
		task.LastError, task.Score, task.CreatedAt, now,
	)
	if err != nil {
		return false, fmt.Errorf("create task %s: %w", task.Key, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *taskRepo) GetByKey(ctx context.Context, key string) (*domain.Task, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE key = $1`, key)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.TaskNotFoundError{Key: key}
	}
	return task, err
}

func (r *taskRepo) ListDispatchable(ctx context.Context, now time.Time, limit int) ([]*domain.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE state IN ('pending', 'queued', 'retrying')
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		  AND (NOT approval_required OR approved)
		ORDER BY score DESC, created_at ASC
		LIMIT $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list dispatchable tasks: %w", err)
	}
	return collectTasks(rows)
}

func (r *taskRepo) ClaimRunning(ctx context.Context, key string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET state = 'running', attempts = attempts + 1, updated_at = $1
		WHERE key = $2 AND state IN ('pending', 'queued', 'retrying')
	`, time.Now().UTC(), key)
	if err != nil {
		return false, fmt.Errorf("claim task %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *taskRepo) Finish(ctx context.Context, key string, state domain.TaskState, lastError string, nextAttemptAt *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET state = $1, last_error = $2, next_attempt_at = $3, updated_at = $4
		WHERE key = $5
	`, string(state), lastError, nextAttemptAt, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("finish task %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.TaskNotFoundError{Key: key}
	}
	return nil
}

func (r *taskRepo) Approve(ctx context.Context, key string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET approved = TRUE, updated_at = $1
		WHERE key = $2 AND approval_required
		  AND state NOT IN ('succeeded', 'failed', 'cancelled')
	`, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("approve task %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.TaskNotFoundError{Key: key}
	}
	return nil
}

func (r *taskRepo) CancelForOpportunity(ctx context.Context, opportunityID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE tasks
		SET state = 'cancelled', updated_at = $1
		WHERE opportunity_id = $2
		  AND state NOT IN ('succeeded', 'failed', 'cancelled')
		RETURNING key
	`, time.Now().UTC(), opportunityID)
	if err != nil {
		return nil, fmt.Errorf("cancel tasks for opportunity %s: %w", opportunityID, err)
	}
	return collectKeys(rows)
}

func (r *taskRepo) CancelUnapprovedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE tasks
		SET state = 'cancelled', updated_at = $1
		WHERE approval_required AND NOT approved
		  AND state NOT IN ('succeeded', 'failed', 'cancelled')
		  AND created_at < $2
		RETURNING key
	`, time.Now().UTC(), cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("cancel unapproved tasks: %w", err)
	}
	return collectKeys(rows)
}

func (r *taskRepo) RequeueStaleRunning(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE tasks
		SET state = 'retrying', updated_at = $1
		WHERE state = 'running' AND updated_at < $2
		RETURNING key
	`, time.Now().UTC(), cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("requeue stale running tasks: %w", err)
	}
	return collectKeys(rows)
}

func (r *taskRepo) HasLiveTasks(ctx context.Context, opportunityID string) (bool, error) {
	var live bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tasks
			WHERE opportunity_id = $1
			  AND state NOT IN ('succeeded', 'failed', 'cancelled')
		)
	`, opportunityID).Scan(&live)
	if err != nil {
		return false, fmt.Errorf("check live tasks for opportunity %s: %w", opportunityID, err)
	}
	return live, nil
}

func (r *taskRepo) RecordOutcome(ctx context.Context, outcome *domain.TaskOutcome) error {
	if outcome.ID == "" {
		outcome.ID = uuid.New().String()
	}
	if outcome.ExecutedAt.IsZero() {
		outcome.ExecutedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO task_outcomes
			(id, task_key, worker_id, attempt, state, duration_ms, error, executed_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		outcome.ID, outcome.TaskKey, outcome.WorkerID, outcome.Attempt,
		string(outcome.State), outcome.DurationMs, outcome.Error, outcome.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("record outcome for task %s: %w", outcome.TaskKey, err)
	}
	return nil
}

func collectKeys(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan task key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func collectTasks(rows pgx.Rows) ([]*domain.Task, error) {
	defer rows.Close()
	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// scanTask reads a task row from any pgx row type.
func scanTask(row interface {
	Scan(...any) error
}) (*domain.Task, error) {
	var task domain.Task
	var category, action, platform, state string
	err := row.Scan(
		&task.Key, &task.OpportunityID, &task.ProjectID, &category, &action, &platform,
		&task.ApprovalRequired, &task.Approved, &state, &task.Attempts, &task.MaxAttempts,
		&task.NextAttemptAt, &task.LastError, &task.Score, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task.Category = domain.Category(category)
	task.Action = domain.ActionType(action)
	task.Platform = domain.Platform(platform)
	task.State = domain.TaskState(state)
	return &task, nil
}
