package domain

import "fmt"

// SignalRejectedError is returned when an incoming signal is dropped
// before it reaches the opportunity store. Non-fatal: the ingestor logs
// it and moves on.
type SignalRejectedError struct {
	ProjectID string
	Reason    string
}

func (e *SignalRejectedError) Error() string {
	return fmt.Sprintf("signal for project %q rejected: %s", e.ProjectID, e.Reason)
}

// QuotaExhaustedError is returned when a quota reservation fails. This is
// an expected steady-state condition: the task stays queued and is retried
// on the next scheduling tick.
type QuotaExhaustedError struct {
	Counter  string
	Platform Platform
	Limit    int
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("quota %s exhausted for platform %q: limit is %d", e.Counter, e.Platform, e.Limit)
}

// OpportunityNotFoundError is returned when an opportunity ID does not exist.
type OpportunityNotFoundError struct {
	ID string
}

func (e *OpportunityNotFoundError) Error() string {
	return fmt.Sprintf("opportunity not found: %s", e.ID)
}

// TaskNotFoundError is returned when a task key does not exist.
type TaskNotFoundError struct {
	Key string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.Key)
}

// UnknownActionError is returned when no executor is registered for an
// action type.
type UnknownActionError struct {
	Action ActionType
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("no executor registered for action %q", e.Action)
}

// ConfigError is returned for missing or invalid configuration. It is
// fatal at startup: the system refuses to schedule until fixed.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %q: %s", e.Field, e.Reason)
}
