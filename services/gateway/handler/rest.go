package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/cryptofarm/cryptofarm/internal/domain"
	"github.com/cryptofarm/cryptofarm/internal/kafka"
	"github.com/cryptofarm/cryptofarm/internal/postgres"
	"github.com/cryptofarm/cryptofarm/internal/scoring"
	"github.com/cryptofarm/cryptofarm/pkg/telemetry"
)

// Pinger reports backing-store liveness for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// REST handles HTTP requests for the gateway: manual signal submission,
// opportunity browsing, and the operator approval surface.
type REST struct {
	producer kafka.Producer
	opps     postgres.OpportunityRepository
	tasks    postgres.TaskRepository
	scorer   *scoring.Scorer
	db       Pinger
	logger   *slog.Logger
}

// NewREST creates a new REST handler.
func NewREST(producer kafka.Producer, opps postgres.OpportunityRepository, tasks postgres.TaskRepository, scorer *scoring.Scorer, db Pinger, logger *slog.Logger) *REST {
	return &REST{producer: producer, opps: opps, tasks: tasks, scorer: scorer, db: db, logger: logger}
}

// SubmitSignalRequest is the JSON body for POST /api/v1/signals.
type SubmitSignalRequest struct {
	ProjectID  string     `json:"project_id"`
	Category   string     `json:"category"`
	Source     string     `json:"source"`
	SourceTier string     `json:"source_tier,omitempty"`
	Confidence float64    `json:"confidence"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	RawRef     string     `json:"raw_ref,omitempty"`
}

// SubmitSignalResponse is the 202 response body.
type SubmitSignalResponse struct {
	ProjectID  string    `json:"project_id"`
	Category   string    `json:"category"`
	ReceivedAt time.Time `json:"received_at"`
}

// RejectResponse lists what a rejection cancelled.
type RejectResponse struct {
	OpportunityID  string   `json:"opportunity_id"`
	State          string   `json:"state"`
	CancelledTasks []string `json:"cancelled_tasks"`
}

var validCategories = map[domain.Category]bool{
	domain.CategoryAirdrop:    true,
	domain.CategoryTestnet:    true,
	domain.CategoryDeFi:       true,
	domain.CategoryLayer2:     true,
	domain.CategoryGovernance: true,
}

var validStates = map[domain.OpportunityState]bool{
	domain.OpportunityOpen:       true,
	domain.OpportunityScheduled:  true,
	domain.OpportunityInProgress: true,
	domain.OpportunityCompleted:  true,
	domain.OpportunityExpired:    true,
	domain.OpportunityRejected:   true,
}

// SubmitSignal handles POST /api/v1/signals. It feeds a manually sourced
// signal into the same bus the scrapers publish to, so the ingestor treats
// both identically.
func (h *REST) SubmitSignal(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("gateway").Start(r.Context(), "gateway.submit_signal")
	defer span.End()

	var req SubmitSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.ProjectID) == "" {
		writeError(w, http.StatusBadRequest, "field 'project_id' is required")
		return
	}
	if !validCategories[domain.Category(req.Category)] {
		writeError(w, http.StatusBadRequest, "field 'category' is missing or unknown")
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		writeError(w, http.StatusBadRequest, "field 'source' is required")
		return
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		writeError(w, http.StatusBadRequest, "field 'confidence' must be between 0 and 1")
		return
	}

	now := time.Now().UTC()
	ts := now
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}

	span.SetAttributes(
		attribute.String("signal.project_id", req.ProjectID),
		attribute.String("signal.category", req.Category),
	)

	env := kafka.SignalEnvelope{
		Signal: domain.Signal{
			ProjectID:  req.ProjectID,
			Category:   domain.Category(req.Category),
			Source:     domain.Platform(req.Source),
			SourceTier: domain.SourceTier(req.SourceTier),
			Confidence: req.Confidence,
			Timestamp:  ts,
			RawRef:     req.RawRef,
		},
		ReceivedAt: now,
	}
	payload, err := kafka.EncodeSignal(env)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to serialize signal")
		return
	}

	// Keyed by project id so the ingestor sees each project's signals in order.
	if err := h.producer.Publish(ctx, kafka.TopicSignals, req.ProjectID, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "kafka publish failed")
		h.logger.Error("failed to publish signal",
			slog.String("project_id", req.ProjectID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to enqueue signal")
		return
	}

	telemetry.GatewaySignalsSubmitted.WithLabelValues(req.Category).Inc()
	h.logger.Info("signal submitted",
		slog.String("project_id", req.ProjectID),
		slog.String("category", req.Category),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitSignalResponse{
		ProjectID:  req.ProjectID,
		Category:   req.Category,
		ReceivedAt: now,
	})
}

// ListOpportunities handles GET /api/v1/opportunities?state=&tier=&limit=.
// A tier filter returns live opportunities at or above that tier's score
// threshold, which is the read surface notification channels poll.
func (h *REST) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	if raw := r.URL.Query().Get("tier"); raw != "" {
		tier := domain.ReportTier(raw)
		if tier != domain.TierHigh && tier != domain.TierMedium && tier != domain.TierLow {
			writeError(w, http.StatusBadRequest, "unknown tier")
			return
		}
		opps, err := h.opps.ListEligible(r.Context(), h.scorer.Threshold(tier), limit)
		if err != nil {
			h.logger.Error("list opportunities by tier", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list opportunities")
			return
		}
		if opps == nil {
			opps = []*domain.Opportunity{}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(opps)
		return
	}

	state := domain.OpportunityState(r.URL.Query().Get("state"))
	if state == "" {
		state = domain.OpportunityOpen
	}
	if !validStates[state] {
		writeError(w, http.StatusBadRequest, "unknown state")
		return
	}

	opps, err := h.opps.ListByState(r.Context(), state, limit)
	if err != nil {
		h.logger.Error("list opportunities", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	if opps == nil {
		opps = []*domain.Opportunity{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(opps)
}

// GetOpportunity handles GET /api/v1/opportunities/{id}.
func (h *REST) GetOpportunity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	opp, err := h.opps.GetByID(r.Context(), id)
	if err != nil {
		var notFound *domain.OpportunityNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "opportunity not found")
			return
		}
		h.logger.Error("get opportunity", slog.String("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve opportunity")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(opp)
}

// RejectOpportunity handles POST /api/v1/opportunities/{id}/reject. The
// opportunity is closed and every task it spawned that has not finished
// yet is cancelled.
func (h *REST) RejectOpportunity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	if err := h.opps.Transition(ctx, id, domain.OpportunityRejected); err != nil {
		var notFound *domain.OpportunityNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "opportunity not found or already closed")
			return
		}
		h.logger.Error("reject opportunity", slog.String("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to reject opportunity")
		return
	}

	cancelled, err := h.tasks.CancelForOpportunity(ctx, id)
	if err != nil {
		// The rejection itself stuck; the planner's sweep picks up stragglers.
		h.logger.Error("cancel tasks of rejected opportunity",
			slog.String("id", id), slog.String("error", err.Error()))
	}
	if cancelled == nil {
		cancelled = []string{}
	}

	telemetry.GatewayApprovalsTotal.WithLabelValues("reject").Inc()
	h.logger.Info("opportunity rejected",
		slog.String("id", id),
		slog.Int("cancelled_tasks", len(cancelled)),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(RejectResponse{
		OpportunityID:  id,
		State:          string(domain.OpportunityRejected),
		CancelledTasks: cancelled,
	})
}

// GetTask handles GET /api/v1/tasks/{key}.
func (h *REST) GetTask(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	task, err := h.tasks.GetByKey(r.Context(), key)
	if err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("get task", slog.String("key", key), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to retrieve task")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(task)
}

// ApproveTask handles POST /api/v1/tasks/{key}/approve. Only
// approval-gated tasks that have not reached a terminal state can be
// approved; everything else is a 404.
func (h *REST) ApproveTask(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if err := h.tasks.Approve(r.Context(), key); err != nil {
		var notFound *domain.TaskNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "no approvable task with that key")
			return
		}
		h.logger.Error("approve task", slog.String("key", key), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to approve task")
		return
	}

	telemetry.GatewayApprovalsTotal.WithLabelValues("approve").Inc()
	h.logger.Info("task approved", slog.String("key", key))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"key": key, "approved": "true"})
}

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// Readyz handles GET /readyz — checks database connectivity.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database not ready")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
