package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptofarm/cryptofarm/internal/domain"
)

func newScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := New(DefaultConfig())
	require.NoError(t, err)
	return s
}

func opp(category domain.Category, signals int, lastSignal time.Time) *domain.Opportunity {
	return &domain.Opportunity{
		ProjectID:   "celestia",
		Category:    category,
		State:       domain.OpportunityOpen,
		SignalCount: signals,
		LastSignal:  lastSignal,
	}
}

func TestScore_CelestiaTestnetScenario(t *testing.T) {
	// Two fresh signals for a high-tier testnet:
	// 1.3 × 1.5 × decay(~0) × ln(1+2) ≈ 2.14
	s := newScorer(t)
	now := time.Now().UTC()

	got := s.Score(opp(domain.CategoryTestnet, 2, now), domain.TierProjectHigh, now)
	assert.InDelta(t, 2.14, got, 0.01)

	assert.True(t, s.Eligible(got), "2.14 must clear min_priority_score 0.7")
	assert.Equal(t, domain.TierHigh, s.ReportTier(got), "2.14 must clear high threshold 1.5")
}

func TestScore_DecaysBetweenSignals(t *testing.T) {
	// With no new signals, score is monotonically non-increasing over time.
	s := newScorer(t)
	base := time.Now().UTC()
	o := opp(domain.CategoryAirdrop, 3, base)

	prev := s.Score(o, domain.TierProjectHigh, base)
	for _, elapsed := range []time.Duration{
		time.Hour, 6 * time.Hour, 24 * time.Hour, 48 * time.Hour, 168 * time.Hour,
	} {
		cur := s.Score(o, domain.TierProjectHigh, base.Add(elapsed))
		assert.LessOrEqual(t, cur, prev, "score rose with pure time decay at %s", elapsed)
		prev = cur
	}
}

func TestScore_RisesOnFreshSignal(t *testing.T) {
	// A new qualifying signal resets recency and bumps the signal count,
	// so the score immediately after must not be lower than just before.
	s := newScorer(t)
	base := time.Now().UTC()

	stale := opp(domain.CategoryTestnet, 2, base.Add(-36*time.Hour))
	before := s.Score(stale, domain.TierProjectMedium, base)

	refreshed := opp(domain.CategoryTestnet, 3, base)
	after := s.Score(refreshed, domain.TierProjectMedium, base)

	assert.GreaterOrEqual(t, after, before)
}

func TestDecay_FlooredWhileOpen(t *testing.T) {
	s := newScorer(t)
	assert.Equal(t, 0.25, s.Decay(365*24*time.Hour), "decay must bottom out at the configured floor")
	assert.Equal(t, 1.0, s.Decay(0))
	assert.InDelta(t, 0.5, s.Decay(24*time.Hour), 1e-9, "one half-life halves the multiplier")
}

func TestReportTier_Boundaries(t *testing.T) {
	s := newScorer(t)
	tests := []struct {
		score float64
		want  domain.ReportTier
	}{
		{2.0, domain.TierHigh},
		{1.5, domain.TierHigh},
		{1.49, domain.TierMedium},
		{1.0, domain.TierMedium},
		{0.99, domain.TierLow},
		{0.0, domain.TierLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.ReportTier(tt.score), "score %.2f", tt.score)
	}
}

func TestScore_ZeroSignalsScoresZero(t *testing.T) {
	s := newScorer(t)
	now := time.Now().UTC()
	assert.Zero(t, s.Score(opp(domain.CategoryDeFi, 0, now), domain.TierProjectHigh, now))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty category weights", func(c *Config) { c.CategoryWeights = nil }, "category_weights"},
		{"negative category weight", func(c *Config) { c.CategoryWeights[domain.CategoryDeFi] = -1 }, "category_weights.defi"},
		{"empty tier weights", func(c *Config) { c.TierWeights = nil }, "tier_weights"},
		{"zero half life", func(c *Config) { c.DecayHalfLife = 0 }, "decay_half_life"},
		{"decay floor above one", func(c *Config) { c.DecayFloor = 1.5 }, "decay_floor"},
		{"inverted thresholds", func(c *Config) { c.HighThreshold = 0.5 }, "high_priority_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			_, err := New(cfg)
			require.Error(t, err)

			var cfgErr *domain.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}
