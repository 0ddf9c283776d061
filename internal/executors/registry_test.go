package executors_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptofarm/cryptofarm/internal/domain"
	"github.com/cryptofarm/cryptofarm/internal/executors"
)

// stub is a minimal Executor implementation for registry tests.
type stub struct{ action domain.ActionType }

func (s *stub) Action() domain.ActionType                       { return s.action }
func (s *stub) Execute(_ context.Context, _ *domain.Task) error { return nil }

func TestRegistry_Get_KnownAction(t *testing.T) {
	reg := executors.NewRegistry()
	reg.Register(&stub{action: domain.ActionSocialPost})

	e, err := reg.Get(domain.ActionSocialPost)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSocialPost, e.Action())
}

func TestRegistry_Get_UnknownAction(t *testing.T) {
	reg := executors.NewRegistry()

	_, err := reg.Get(domain.ActionTransaction)
	require.Error(t, err)

	var unknown *domain.UnknownActionError
	assert.True(t, errors.As(err, &unknown),
		"expected UnknownActionError, got %T", err)
	assert.Equal(t, domain.ActionTransaction, unknown.Action)
}

func TestRegistry_Register_Overwrites(t *testing.T) {
	reg := executors.NewRegistry()
	reg.Register(&stub{action: domain.ActionNodeAction})
	reg.Register(&stub{action: domain.ActionNodeAction}) // second registration replaces

	e, err := reg.Get(domain.ActionNodeAction)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionNodeAction, e.Action())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := executors.NewRegistry()
	reg.Register(&stub{action: domain.ActionSocialPost})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); reg.Register(&stub{action: domain.ActionTransaction}) }()
		go func() { defer wg.Done(); _, _ = reg.Get(domain.ActionSocialPost) }()
	}
	wg.Wait()
}
