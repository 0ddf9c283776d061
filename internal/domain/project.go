package domain

import "time"

// Tier is a tracked project's priority tier.
type Tier string

const (
	TierProjectHigh   Tier = "high"
	TierProjectMedium Tier = "medium"
)

// Project is a tracked blockchain project. Projects are loaded from
// configuration at startup and immutable at runtime.
type Project struct {
	ID              string            `yaml:"id" json:"id"`
	Name            string            `yaml:"name" json:"name"`
	Symbol          string            `yaml:"symbol" json:"symbol"`
	Tier            Tier              `yaml:"tier" json:"tier"`
	Keywords        []string          `yaml:"keywords" json:"keywords"`
	OfficialChans   []string          `yaml:"official_channels" json:"official_channels"`
	PartnerChans    []string          `yaml:"partner_channels" json:"partner_channels"`
	Contracts       map[string]string `yaml:"contracts" json:"contracts"` // chain → address
	EntryDate       time.Time         `yaml:"entry_date" json:"entry_date"`
	TargetEvents    []string          `yaml:"target_events" json:"target_events"`
	TrackingReason  string            `yaml:"tracking_reason" json:"tracking_reason"`
	ActionPlatforms map[string]string `yaml:"action_platforms,omitempty" json:"action_platforms,omitempty"`
}
