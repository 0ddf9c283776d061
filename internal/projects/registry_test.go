package projects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptofarm/cryptofarm/internal/domain"
)

func baseFile() File {
	return File{
		HighPriority: []domain.Project{{ID: "celestia", Name: "Celestia"}},
		ActionPolicy: map[domain.Category][]domain.ActionType{
			domain.CategoryTestnet: {domain.ActionSocialPost},
		},
	}
}

func TestNewRegistry_PartialSourceWeightsKeepDefaults(t *testing.T) {
	f := baseFile()
	f.SourceWeights = map[domain.SourceTier]float64{domain.SourceOfficial: 0.9}

	reg, err := NewRegistry(f)
	require.NoError(t, err)

	assert.Equal(t, 0.9, reg.SourceWeight(domain.SourceOfficial))
	assert.Equal(t, 0.4, reg.SourceWeight(domain.SourceGeneral),
		"tiers absent from the file keep their stock weight")
	assert.Equal(t, 0.4, reg.SourceWeight(domain.SourceTier("carrier-pigeon")),
		"unknown tiers fall back to the general weight")
}

func TestNewRegistry_RejectsInvalidSourceWeight(t *testing.T) {
	f := baseFile()
	f.SourceWeights = map[domain.SourceTier]float64{domain.SourceCommunity: 1.2}

	_, err := NewRegistry(f)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestNewRegistry_RejectsDuplicateProjectID(t *testing.T) {
	f := baseFile()
	f.MediumPriority = []domain.Project{{ID: "celestia", Name: "Celestia again"}}

	_, err := NewRegistry(f)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}
