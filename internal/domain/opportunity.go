package domain

import "time"

// Category classifies what kind of opportunity a signal points at.
type Category string

const (
	CategoryAirdrop    Category = "airdrop"
	CategoryTestnet    Category = "testnet"
	CategoryDeFi       Category = "defi"
	CategoryLayer2     Category = "layer2"
	CategoryGovernance Category = "governance"
)

// OpportunityState represents the lifecycle states of an opportunity.
type OpportunityState string

const (
	OpportunityOpen       OpportunityState = "open"
	OpportunityScheduled  OpportunityState = "scheduled"
	OpportunityInProgress OpportunityState = "in_progress"
	OpportunityCompleted  OpportunityState = "completed"
	OpportunityExpired    OpportunityState = "expired"
	OpportunityRejected   OpportunityState = "rejected"
)

// IsTerminal returns true if no further state transitions are possible.
func (s OpportunityState) IsTerminal() bool {
	return s == OpportunityCompleted || s == OpportunityExpired || s == OpportunityRejected
}

// Opportunity is a scored, deduplicated actionable signal tied to one
// project and category. At most one open opportunity exists per
// (project, category) pair; new signals for the pair update the existing
// record instead of creating duplicates.
type Opportunity struct {
	ID          string           `json:"id"`
	ProjectID   string           `json:"project_id"`
	Category    Category         `json:"category"`
	Platform    Platform         `json:"platform"`
	SourceRef   string           `json:"source_ref"`
	State       OpportunityState `json:"state"`
	Score       float64          `json:"score"`
	SignalCount int              `json:"signal_count"`
	FirstSeen   time.Time        `json:"first_seen"`
	LastSignal  time.Time        `json:"last_signal"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// ReportTier is the alerting tier an opportunity's score maps to.
type ReportTier string

const (
	TierHigh   ReportTier = "high"
	TierMedium ReportTier = "medium"
	TierLow    ReportTier = "low"
)
