package domain

import "time"

// Platform identifies the social platform a signal or action targets.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformTwitter  Platform = "twitter"
	PlatformDiscord  Platform = "discord"
	PlatformOnChain  Platform = "onchain"
)

// SourceTier is the trust tier of the channel a signal came from.
type SourceTier string

const (
	SourceOfficial  SourceTier = "official"
	SourcePartner   SourceTier = "partner"
	SourceCommunity SourceTier = "community"
	SourceGeneral   SourceTier = "general"
)

// Signal is one classified message emitted by the upstream classifier.
// Ordering is not guaranteed and duplicates are possible; the ingestor
// must tolerate replays.
type Signal struct {
	ProjectID  string     `json:"project_id"`
	Category   Category   `json:"category"`
	Source     Platform   `json:"source"`
	SourceTier SourceTier `json:"source_tier,omitempty"`
	Confidence float64    `json:"confidence"`
	Timestamp  time.Time  `json:"timestamp"`
	RawRef     string     `json:"raw_ref"`
}
