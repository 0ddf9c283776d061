package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryptofarm/cryptofarm/internal/domain"
	"github.com/cryptofarm/cryptofarm/internal/kafka"
	"github.com/cryptofarm/cryptofarm/internal/postgres"
	"github.com/cryptofarm/cryptofarm/internal/scoring"
)

// ── mocks ────────────────────────────────────────────────────────────────────

type fakeProducer struct {
	topics []string
	keys   []string
	values [][]byte
	fail   bool
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, value []byte) error {
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return nil
}
func (p *fakeProducer) Close() error { return nil }

type fakeOppRepo struct {
	opps map[string]*domain.Opportunity
}

func (r *fakeOppRepo) Absorb(_ context.Context, _ *domain.Signal) (*domain.Opportunity, bool, error) {
	panic("not used")
}
func (r *fakeOppRepo) GetByID(_ context.Context, id string) (*domain.Opportunity, error) {
	opp, ok := r.opps[id]
	if !ok {
		return nil, &domain.OpportunityNotFoundError{ID: id}
	}
	return opp, nil
}
func (r *fakeOppRepo) UpdateScore(_ context.Context, _ string, _ float64, _ time.Time) error {
	return nil
}
func (r *fakeOppRepo) Transition(_ context.Context, id string, to domain.OpportunityState) error {
	opp, ok := r.opps[id]
	if !ok || opp.State.IsTerminal() {
		return &domain.OpportunityNotFoundError{ID: id}
	}
	opp.State = to
	return nil
}
func (r *fakeOppRepo) ListByState(_ context.Context, state domain.OpportunityState, limit int) ([]*domain.Opportunity, error) {
	var out []*domain.Opportunity
	for _, opp := range r.opps {
		if opp.State == state && len(out) < limit {
			out = append(out, opp)
		}
	}
	return out, nil
}
func (r *fakeOppRepo) ListEligible(_ context.Context, minScore float64, limit int) ([]*domain.Opportunity, error) {
	var out []*domain.Opportunity
	for _, opp := range r.opps {
		if opp.State == domain.OpportunityOpen && opp.Score >= minScore && len(out) < limit {
			out = append(out, opp)
		}
	}
	return out, nil
}
func (r *fakeOppRepo) ExpireStale(_ context.Context, _ time.Time) ([]postgres.ExpiredOpportunity, error) {
	return nil, nil
}

type fakeTaskRepo struct {
	tasks     map[string]*domain.Task
	cancelled []string
}

func (r *fakeTaskRepo) CreateIfAbsent(_ context.Context, _ *domain.Task) (bool, error) {
	panic("not used")
}
func (r *fakeTaskRepo) GetByKey(_ context.Context, key string) (*domain.Task, error) {
	task, ok := r.tasks[key]
	if !ok {
		return nil, &domain.TaskNotFoundError{Key: key}
	}
	return task, nil
}
func (r *fakeTaskRepo) ListDispatchable(_ context.Context, _ time.Time, _ int) ([]*domain.Task, error) {
	return nil, nil
}
func (r *fakeTaskRepo) ClaimRunning(_ context.Context, _ string) (bool, error) { return false, nil }
func (r *fakeTaskRepo) Finish(_ context.Context, _ string, _ domain.TaskState, _ string, _ *time.Time) error {
	return nil
}
func (r *fakeTaskRepo) Approve(_ context.Context, key string) error {
	task, ok := r.tasks[key]
	if !ok || !task.ApprovalRequired || task.State.IsTerminal() {
		return &domain.TaskNotFoundError{Key: key}
	}
	task.Approved = true
	return nil
}
func (r *fakeTaskRepo) CancelForOpportunity(_ context.Context, oppID string) ([]string, error) {
	var keys []string
	for _, task := range r.tasks {
		if task.OpportunityID == oppID && !task.State.IsTerminal() {
			task.State = domain.TaskCancelled
			keys = append(keys, task.Key)
		}
	}
	r.cancelled = append(r.cancelled, keys...)
	return keys, nil
}
func (r *fakeTaskRepo) CancelUnapprovedBefore(_ context.Context, _ time.Time) ([]string, error) {
	return nil, nil
}
func (r *fakeTaskRepo) RequeueStaleRunning(_ context.Context, _ time.Time) ([]string, error) {
	return nil, nil
}
func (r *fakeTaskRepo) HasLiveTasks(_ context.Context, _ string) (bool, error) { return false, nil }
func (r *fakeTaskRepo) RecordOutcome(_ context.Context, _ *domain.TaskOutcome) error {
	return nil
}

type fakePinger struct{ err error }

func (p *fakePinger) Ping(_ context.Context) error { return p.err }

// ── helpers ──────────────────────────────────────────────────────────────────

func newTestRouter(producer kafka.Producer, opps *fakeOppRepo, tasks *fakeTaskRepo, db Pinger) http.Handler {
	scorer, err := scoring.New(scoring.DefaultConfig())
	if err != nil {
		panic(err)
	}
	h := NewREST(producer, opps, tasks, scorer, db, slog.Default())

	r := chi.NewRouter()
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/signals", h.SubmitSignal)
		r.Get("/opportunities", h.ListOpportunities)
		r.Get("/opportunities/{id}", h.GetOpportunity)
		r.Post("/opportunities/{id}/reject", h.RejectOpportunity)
		r.Get("/tasks/{key}", h.GetTask)
		r.Post("/tasks/{key}/approve", h.ApproveTask)
	})
	return r
}

func emptyRepos() (*fakeOppRepo, *fakeTaskRepo) {
	return &fakeOppRepo{opps: map[string]*domain.Opportunity{}},
		&fakeTaskRepo{tasks: map[string]*domain.Task{}}
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestSubmitSignal_PublishesKeyedByProject(t *testing.T) {
	producer := &fakeProducer{}
	opps, tasks := emptyRepos()
	router := newTestRouter(producer, opps, tasks, &fakePinger{})

	body := `{"project_id":"celestia","category":"testnet","source":"telegram","source_tier":"official","confidence":0.9,"raw_ref":"msg-42"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/signals", bytes.NewBufferString(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, producer.topics, 1)
	assert.Equal(t, kafka.TopicSignals, producer.topics[0])
	assert.Equal(t, "celestia", producer.keys[0])

	env, err := kafka.DecodeSignal(producer.values[0])
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryTestnet, env.Signal.Category)
	assert.Equal(t, domain.SourceOfficial, env.Signal.SourceTier)
	assert.False(t, env.Signal.Timestamp.IsZero(), "omitted timestamp defaults to receipt time")
}

func TestSubmitSignal_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing project", `{"category":"testnet","source":"telegram","confidence":0.9}`},
		{"unknown category", `{"project_id":"celestia","category":"yield","source":"telegram","confidence":0.9}`},
		{"missing source", `{"project_id":"celestia","category":"testnet","confidence":0.9}`},
		{"confidence above one", `{"project_id":"celestia","category":"testnet","source":"telegram","confidence":1.5}`},
		{"garbage body", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			producer := &fakeProducer{}
			opps, tasks := emptyRepos()
			router := newTestRouter(producer, opps, tasks, &fakePinger{})

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/signals", bytes.NewBufferString(tt.body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, producer.topics, "rejected signals must not reach the bus")
		})
	}
}

func TestSubmitSignal_PublishFailure(t *testing.T) {
	opps, tasks := emptyRepos()
	router := newTestRouter(&fakeProducer{fail: true}, opps, tasks, &fakePinger{})

	body := `{"project_id":"celestia","category":"testnet","source":"telegram","confidence":0.9}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/signals", bytes.NewBufferString(body)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestApproveTask(t *testing.T) {
	opps, tasks := emptyRepos()
	tasks.tasks["k1"] = &domain.Task{
		Key: "k1", Action: domain.ActionTransaction,
		ApprovalRequired: true, State: domain.TaskPending,
	}
	router := newTestRouter(&fakeProducer{}, opps, tasks, &fakePinger{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tasks/k1/approve", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, tasks.tasks["k1"].Approved)
}

func TestApproveTask_UnknownOrTerminal(t *testing.T) {
	opps, tasks := emptyRepos()
	tasks.tasks["done"] = &domain.Task{
		Key: "done", ApprovalRequired: true, State: domain.TaskSucceeded,
	}
	router := newTestRouter(&fakeProducer{}, opps, tasks, &fakePinger{})

	for _, key := range []string{"missing", "done"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tasks/"+key+"/approve", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, "key %s", key)
	}
}

func TestRejectOpportunity_CancelsTasks(t *testing.T) {
	opps, tasks := emptyRepos()
	opps.opps["opp-1"] = &domain.Opportunity{ID: "opp-1", State: domain.OpportunityScheduled}
	tasks.tasks["k1"] = &domain.Task{Key: "k1", OpportunityID: "opp-1", State: domain.TaskPending}
	tasks.tasks["k2"] = &domain.Task{Key: "k2", OpportunityID: "opp-1", State: domain.TaskSucceeded}
	router := newTestRouter(&fakeProducer{}, opps, tasks, &fakePinger{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/opportunities/opp-1/reject", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OpportunityRejected, opps.opps["opp-1"].State)
	assert.Equal(t, domain.TaskCancelled, tasks.tasks["k1"].State)
	assert.Equal(t, domain.TaskSucceeded, tasks.tasks["k2"].State, "finished tasks are left alone")

	var resp RejectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"k1"}, resp.CancelledTasks)
}

func TestRejectOpportunity_AlreadyClosed(t *testing.T) {
	opps, tasks := emptyRepos()
	opps.opps["opp-1"] = &domain.Opportunity{ID: "opp-1", State: domain.OpportunityCompleted}
	router := newTestRouter(&fakeProducer{}, opps, tasks, &fakePinger{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/opportunities/opp-1/reject", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListOpportunities(t *testing.T) {
	opps, tasks := emptyRepos()
	opps.opps["a"] = &domain.Opportunity{ID: "a", State: domain.OpportunityOpen}
	opps.opps["b"] = &domain.Opportunity{ID: "b", State: domain.OpportunityExpired}
	router := newTestRouter(&fakeProducer{}, opps, tasks, &fakePinger{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/opportunities", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []*domain.Opportunity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1, "defaults to open opportunities")
	assert.Equal(t, "a", got[0].ID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/opportunities?state=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOpportunities_ByTier(t *testing.T) {
	opps, tasks := emptyRepos()
	opps.opps["hot"] = &domain.Opportunity{ID: "hot", State: domain.OpportunityOpen, Score: 2.1}
	opps.opps["warm"] = &domain.Opportunity{ID: "warm", State: domain.OpportunityOpen, Score: 1.1}
	router := newTestRouter(&fakeProducer{}, opps, tasks, &fakePinger{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/opportunities?tier=high", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []*domain.Opportunity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "hot", got[0].ID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/opportunities?tier=medium", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	got = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/opportunities?tier=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOpportunity_NotFound(t *testing.T) {
	opps, tasks := emptyRepos()
	router := newTestRouter(&fakeProducer{}, opps, tasks, &fakePinger{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/opportunities/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTask(t *testing.T) {
	opps, tasks := emptyRepos()
	tasks.tasks["k1"] = &domain.Task{Key: "k1", ProjectID: "celestia", State: domain.TaskRetrying}
	router := newTestRouter(&fakeProducer{}, opps, tasks, &fakePinger{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/k1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, domain.TaskRetrying, got.State)
}

func TestReadyz(t *testing.T) {
	opps, tasks := emptyRepos()

	router := newTestRouter(&fakeProducer{}, opps, tasks, &fakePinger{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	router = newTestRouter(&fakeProducer{}, opps, tasks, &fakePinger{err: errors.New("down")})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
