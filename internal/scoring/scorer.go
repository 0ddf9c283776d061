package scoring

import (
	"math"
	"time"

	"github.com/cryptofarm/cryptofarm/internal/domain"
)

// Config holds the weight tables and thresholds driving priority scores.
// The concrete values are configurable defaults, not a contract; only the
// ordering they induce matters.
type Config struct {
	CategoryWeights  map[domain.Category]float64
	TierWeights      map[domain.Tier]float64
	DecayHalfLife    time.Duration
	DecayFloor       float64
	MinPriorityScore float64
	HighThreshold    float64
	MedThreshold     float64
}

// DefaultConfig returns the stock weight tables.
func DefaultConfig() Config {
	return Config{
		CategoryWeights: map[domain.Category]float64{
			domain.CategoryAirdrop:    1.5,
			domain.CategoryTestnet:    1.3,
			domain.CategoryLayer2:     1.2,
			domain.CategoryDeFi:       1.0,
			domain.CategoryGovernance: 0.9,
		},
		TierWeights: map[domain.Tier]float64{
			domain.TierProjectHigh:   1.5,
			domain.TierProjectMedium: 1.0,
		},
		DecayHalfLife:    24 * time.Hour,
		DecayFloor:       0.25,
		MinPriorityScore: 0.7,
		HighThreshold:    1.5,
		MedThreshold:     1.0,
	}
}

// Validate rejects weight tables that cannot produce meaningful scores.
// A ConfigError here is fatal at startup.
func (c Config) Validate() error {
	if len(c.CategoryWeights) == 0 {
		return &domain.ConfigError{Field: "category_weights", Reason: "must not be empty"}
	}
	for cat, w := range c.CategoryWeights {
		if w <= 0 {
			return &domain.ConfigError{Field: "category_weights." + string(cat), Reason: "must be positive"}
		}
	}
	if len(c.TierWeights) == 0 {
		return &domain.ConfigError{Field: "tier_weights", Reason: "must not be empty"}
	}
	for tier, w := range c.TierWeights {
		if w <= 0 {
			return &domain.ConfigError{Field: "tier_weights." + string(tier), Reason: "must be positive"}
		}
	}
	if c.DecayHalfLife <= 0 {
		return &domain.ConfigError{Field: "decay_half_life", Reason: "must be positive"}
	}
	if c.DecayFloor <= 0 || c.DecayFloor > 1 {
		return &domain.ConfigError{Field: "decay_floor", Reason: "must be in (0, 1]"}
	}
	if c.MinPriorityScore < 0 {
		return &domain.ConfigError{Field: "min_priority_score", Reason: "must not be negative"}
	}
	if c.HighThreshold < c.MedThreshold {
		return &domain.ConfigError{Field: "high_priority_threshold", Reason: "must be >= med_priority_threshold"}
	}
	return nil
}

// Scorer computes priority scores for opportunities.
type Scorer struct {
	cfg Config
}

// New validates cfg and returns a Scorer.
func New(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

// Score computes the priority score of an opportunity at the given instant:
//
//	category_weight × project_tier_weight × decay(age) × ln(1 + signal_count)
//
// Decay is a pure function of elapsed time since the last signal, so the
// score can be recomputed on demand without a background mutation loop.
func (s *Scorer) Score(opp *domain.Opportunity, tier domain.Tier, now time.Time) float64 {
	catW, ok := s.cfg.CategoryWeights[opp.Category]
	if !ok {
		catW = 1.0
	}
	tierW, ok := s.cfg.TierWeights[tier]
	if !ok {
		tierW = s.cfg.TierWeights[domain.TierProjectMedium]
	}
	return catW * tierW * s.Decay(now.Sub(opp.LastSignal)) * math.Log1p(float64(opp.SignalCount))
}

// Decay returns the exponential recency multiplier for a signal of the
// given age, floored so an open opportunity never fully decays to zero.
func (s *Scorer) Decay(age time.Duration) float64 {
	if age <= 0 {
		return 1.0
	}
	d := math.Exp(-math.Ln2 * age.Hours() / s.cfg.DecayHalfLife.Hours())
	return math.Max(s.cfg.DecayFloor, d)
}

// MinScore returns the planning eligibility floor.
func (s *Scorer) MinScore() float64 {
	return s.cfg.MinPriorityScore
}

// Eligible reports whether a score qualifies the opportunity for planning.
func (s *Scorer) Eligible(score float64) bool {
	return score >= s.cfg.MinPriorityScore
}

// Threshold returns the minimum score for a report tier. TierLow falls
// back to the planning floor.
func (s *Scorer) Threshold(tier domain.ReportTier) float64 {
	switch tier {
	case domain.TierHigh:
		return s.cfg.HighThreshold
	case domain.TierMedium:
		return s.cfg.MedThreshold
	default:
		return s.cfg.MinPriorityScore
	}
}

// ReportTier maps a score to the alerting tier consumed by the reporting
// collaborator.
func (s *Scorer) ReportTier(score float64) domain.ReportTier {
	switch {
	case score >= s.cfg.HighThreshold:
		return domain.TierHigh
	case score >= s.cfg.MedThreshold:
		return domain.TierMedium
	default:
		return domain.TierLow
	}
}
