package executors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/cryptofarm/cryptofarm/internal/domain"
)

// TransactionConfig points at the wallet service that signs and submits
// on-chain transactions. Tasks only ever name the project and category;
// the wallet service resolves those to concrete contract calls, so signing
// keys never reach this process.
type TransactionConfig struct {
	WalletURL string
	AuthToken string
	DryRun    bool
}

// transactionRequest is the JSON body sent to the wallet service.
type transactionRequest struct {
	ProjectID string `json:"project_id"`
	Category  string `json:"category"`
	TaskKey   string `json:"task_key"`
	DryRun    bool   `json:"dry_run"`
}

type transactionResponse struct {
	TxHash string `json:"tx_hash"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// TransactionExecutor performs transaction actions through the wallet
// service. Transactions are approval-gated upstream; by the time a task
// reaches this executor the approval has already been verified.
type TransactionExecutor struct {
	cfg    TransactionConfig
	client *http.Client
}

// NewTransactionExecutor creates a TransactionExecutor from config.
func NewTransactionExecutor(cfg TransactionConfig) *TransactionExecutor {
	return &TransactionExecutor{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (e *TransactionExecutor) Action() domain.ActionType { return domain.ActionTransaction }

func (e *TransactionExecutor) Execute(ctx context.Context, task *domain.Task) error {
	ctx, span := otel.Tracer("scheduler").Start(ctx, "executor.transaction")
	defer span.End()

	if e.cfg.WalletURL == "" {
		err := errors.New("wallet service URL is not configured")
		span.RecordError(err)
		span.SetStatus(codes.Error, "unconfigured wallet")
		return err
	}

	span.SetAttributes(
		attribute.String("tx.project", task.ProjectID),
		attribute.Bool("tx.dry_run", e.cfg.DryRun),
	)

	body, err := json.Marshal(transactionRequest{
		ProjectID: task.ProjectID,
		Category:  string(task.Category),
		TaskKey:   task.Key,
		DryRun:    e.cfg.DryRun,
	})
	if err != nil {
		return fmt.Errorf("encode transaction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.WalletURL+"/v1/submit", bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request failed")
		return fmt.Errorf("build transaction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.AuthToken)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "http call failed")
		return fmt.Errorf("submit transaction for %s: %w", task.ProjectID, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("wallet service returned status %d", resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad status code")
		return err
	}

	var txResp transactionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&txResp); err != nil {
		return fmt.Errorf("decode wallet response: %w", err)
	}
	if txResp.Status == "rejected" {
		err := fmt.Errorf("wallet rejected transaction: %s", txResp.Reason)
		span.RecordError(err)
		span.SetStatus(codes.Error, "wallet rejected")
		return err
	}

	span.SetAttributes(attribute.String("tx.hash", txResp.TxHash))
	return nil
}
