package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ActionType is the kind of automation work a task performs.
type ActionType string

const (
	ActionSocialPost  ActionType = "social-post"
	ActionTransaction ActionType = "transaction"
	ActionNodeAction  ActionType = "node-action"
)

// RequiresApproval reports whether an action moves funds and therefore
// needs an explicit approval signal before it may be dispatched.
func (a ActionType) RequiresApproval() bool {
	return a == ActionTransaction
}

// TaskState represents the states a task can be in.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskRetrying  TaskState = "retrying"
	TaskCancelled TaskState = "cancelled"
)

// IsTerminal returns true if no further state transitions are possible.
func (s TaskState) IsTerminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskCancelled
}

// Task is one unit of automation work derived from an opportunity.
// It is created by the planner and owned exclusively by the scheduler
// afterwards; the idempotency key guarantees at most one task per
// (project, category, action, UTC day).
type Task struct {
	Key              string     `json:"key"`
	OpportunityID    string     `json:"opportunity_id"`
	ProjectID        string     `json:"project_id"`
	Category         Category   `json:"category"`
	Action           ActionType `json:"action"`
	Platform         Platform   `json:"platform"`
	ApprovalRequired bool       `json:"approval_required"`
	Approved         bool       `json:"approved"`
	State            TaskState  `json:"state"`
	Attempts         int        `json:"attempts"`
	MaxAttempts      int        `json:"max_attempts"`
	NextAttemptAt    *time.Time `json:"next_attempt_at,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	Score            float64    `json:"score"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TaskKey computes the deterministic idempotency key for a planned action.
// The key includes the UTC calendar day so re-planning within the same day
// collides, while the same action becomes plannable again the next day.
func TaskKey(projectID string, category Category, action ActionType, day time.Time) string {
	h := sha256.Sum256([]byte(
		projectID + "|" + string(category) + "|" + string(action) + "|" + day.UTC().Format("2006-01-02"),
	))
	return hex.EncodeToString(h[:])
}

// TaskOutcome records a single execution attempt of a task.
type TaskOutcome struct {
	ID         string    `json:"id"`
	TaskKey    string    `json:"task_key"`
	WorkerID   string    `json:"worker_id"`
	Attempt    int       `json:"attempt"`
	State      TaskState `json:"state"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}
