package executors_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptofarm/cryptofarm/internal/domain"
	"github.com/cryptofarm/cryptofarm/internal/executors"
)

func socialTask(platform domain.Platform) *domain.Task {
	return &domain.Task{
		Key:       "k-social",
		ProjectID: "celestia",
		Category:  domain.CategoryTestnet,
		Action:    domain.ActionSocialPost,
		Platform:  platform,
	}
}

func TestSocialExecutor_Action(t *testing.T) {
	e := executors.NewSocialExecutor(executors.SocialConfig{})
	assert.Equal(t, domain.ActionSocialPost, e.Action())
}

func TestSocialExecutor_UnconfiguredPlatform(t *testing.T) {
	e := executors.NewSocialExecutor(executors.SocialConfig{
		Endpoints: map[domain.Platform]string{domain.PlatformTwitter: "http://example"},
	})

	err := e.Execute(context.Background(), socialTask(domain.PlatformDiscord))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord")
}

func TestSocialExecutor_PostsToBridge(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := executors.NewSocialExecutor(executors.SocialConfig{
		Endpoints: map[domain.Platform]string{domain.PlatformTelegram: srv.URL},
	})

	err := e.Execute(context.Background(), socialTask(domain.PlatformTelegram))
	require.NoError(t, err)
	assert.Equal(t, "celestia", got["project_id"])
	assert.Equal(t, "testnet", got["category"])
	assert.Equal(t, "k-social", got["task_key"])
}

func TestSocialExecutor_SendsAuthToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e := executors.NewSocialExecutor(executors.SocialConfig{
		Endpoints: map[domain.Platform]string{domain.PlatformTwitter: srv.URL},
		AuthToken: "token123",
	})

	require.NoError(t, e.Execute(context.Background(), socialTask(domain.PlatformTwitter)))
	assert.Equal(t, "Bearer token123", auth)
}

func TestSocialExecutor_BridgeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := executors.NewSocialExecutor(executors.SocialConfig{
		Endpoints: map[domain.Platform]string{domain.PlatformTelegram: srv.URL},
	})

	err := e.Execute(context.Background(), socialTask(domain.PlatformTelegram))
	require.Error(t, err, "status 500 should produce an error")
}
