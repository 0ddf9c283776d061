package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/cryptofarm/cryptofarm/internal/domain"
)

// SocialConfig maps each platform to the webhook endpoint of its posting
// bridge (the bot or relay that owns the actual platform credentials).
type SocialConfig struct {
	Endpoints map[domain.Platform]string
	AuthToken string
}

// socialRequest is the JSON body sent to a posting bridge.
type socialRequest struct {
	ProjectID string `json:"project_id"`
	Category  string `json:"category"`
	TaskKey   string `json:"task_key"`
}

// SocialExecutor performs social-post actions by calling the platform's
// posting bridge over HTTP.
type SocialExecutor struct {
	cfg    SocialConfig
	client *http.Client
}

// NewSocialExecutor creates a SocialExecutor from config.
func NewSocialExecutor(cfg SocialConfig) *SocialExecutor {
	return &SocialExecutor{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (e *SocialExecutor) Action() domain.ActionType { return domain.ActionSocialPost }

func (e *SocialExecutor) Execute(ctx context.Context, task *domain.Task) error {
	ctx, span := otel.Tracer("scheduler").Start(ctx, "executor.social")
	defer span.End()

	endpoint, ok := e.cfg.Endpoints[task.Platform]
	if !ok {
		err := fmt.Errorf("no posting endpoint configured for platform %q", task.Platform)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unconfigured platform")
		return err
	}

	span.SetAttributes(
		attribute.String("social.platform", string(task.Platform)),
		attribute.String("social.project", task.ProjectID),
	)

	body, err := json.Marshal(socialRequest{
		ProjectID: task.ProjectID,
		Category:  string(task.Category),
		TaskKey:   task.Key,
	})
	if err != nil {
		return fmt.Errorf("encode social request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request failed")
		return fmt.Errorf("build social request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.AuthToken)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "http call failed")
		return fmt.Errorf("social post to %s: %w", task.Platform, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("posting bridge for %s returned status %d", task.Platform, resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad status code")
		return err
	}
	return nil
}
