package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firstcontact-eis/coordinator/internal/approval"
	"github.com/firstcontact-eis/coordinator/internal/brain"
	"github.com/firstcontact-eis/coordinator/internal/hands"
	"github.com/firstcontact-eis/coordinator/internal/model"
	"github.com/firstcontact-eis/coordinator/internal/sensors"
)

// testPipeline is the in-process decision pipeline used by the tests:
// orchestrate, store, publish.
type testPipeline struct {
	orchestrator *brain.Orchestrator
	store        *approval.Store
	broker       *approval.Broker
}

func (p *testPipeline) ProcessEvent(ctx context.Context, event model.Event) *model.Recommendation {
	rec := p.orchestrator.HandleEvent(ctx, event)
	if rec == nil {
		return nil
	}
	p.store.Put(*rec)
	p.broker.Publish("recommendation_created", *rec)
	return rec
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWithArchive(t, nil)
}

func newTestServerWithArchive(t *testing.T, recArchive RecommendationArchive) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	provider := brain.NewDemoProvider(model.DefaultBusinessRules(), logger)
	orchestrator := brain.NewOrchestrator(provider, brain.DefaultRules(), nil, logger)
	store := approval.NewStore()
	broker := approval.NewBroker(logger)
	executor := hands.New(hands.NewDemoRegistry(logger), nil, logger,
		hands.Config{MaxRetries: 3, RetryDelay: time.Millisecond})
	pipeline := &testPipeline{orchestrator: orchestrator, store: store, broker: broker}
	listener := sensors.NewListener(pipeline.ProcessEvent, logger)

	handlers := NewHandlers(HandlersDeps{
		Listener:     listener,
		Orchestrator: orchestrator,
		Executor:     executor,
		Pipeline:     pipeline,
		Store:        store,
		Executions:   approval.NewExecutions(),
		Broker:       broker,
		RecArchive:   recArchive,
		Logger:       logger,
		Version:      "test",
	})
	return New(Config{Handlers: handlers, Logger: logger, Port: 0})
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	return envelope.Data
}

func triggerCancellation(t *testing.T, srv *Server) string {
	t.Helper()
	rr := doJSON(t, srv, http.MethodPost, "/v1/events/trigger", model.TriggerEventRequest{
		EventType:  model.EventAppointmentCancelled,
		ProviderID: strPtr("provider-1"),
		Metadata:   map[string]any{"appointment_id": "appt-1", "slot_time": "2026-09-01T10:00:00Z"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	data := decodeData(t, rr)
	id, _ := data["recommendation_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func strPtr(s string) *string { return &s }

func TestTriggerEventProducesRecommendation(t *testing.T) {
	srv := newTestServer(t)
	rr := doJSON(t, srv, http.MethodPost, "/v1/events/trigger", model.TriggerEventRequest{
		EventType:  model.EventAppointmentCancelled,
		ProviderID: strPtr("provider-1"),
		Metadata:   map[string]any{"appointment_id": "appt-1", "slot_time": "2026-09-01T10:00:00Z"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	data := decodeData(t, rr)
	assert.Equal(t, string(model.StatusPendingApproval), data["status"])
	assert.InDelta(t, 0.92, data["confidence_score"].(float64), 1e-9)
	assert.EqualValues(t, 6, data["actions_count"])
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestTriggerEventNoRecommendation(t *testing.T) {
	srv := newTestServer(t)
	clientID := "client-001"
	rr := doJSON(t, srv, http.MethodPost, "/v1/events/trigger", model.TriggerEventRequest{
		EventType: model.EventClientUpdate,
		ClientID:  &clientID,
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	// Declined decisions count as ignored, not processed.
	rr = doJSON(t, srv, http.MethodGet, "/v1/statistics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	listener := decodeData(t, rr)["event_listener"].(map[string]any)
	assert.EqualValues(t, 1, listener["events_detected"])
	assert.EqualValues(t, 1, listener["events_ignored"])
	assert.EqualValues(t, 0, listener["events_processed"])
}

func TestTriggerEventValidation(t *testing.T) {
	srv := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/v1/events/trigger", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, srv, http.MethodPost, "/v1/events/trigger", model.TriggerEventRequest{
		EventType: model.EventType("coffee_break"),
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWebhookIntake(t *testing.T) {
	srv := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/webhooks/appointment-cancelled", sensors.WebhookPayload{
		ProviderID: "provider-1",
		Metadata:   map[string]any{"appointment_id": "appt-5"},
	})
	require.Equal(t, http.StatusAccepted, rr.Code)
	data := decodeData(t, rr)
	assert.Equal(t, true, data["accepted"])
	assert.NotEmpty(t, data["event_id"])
}

func TestWebhookUnknownPathStillAccepted(t *testing.T) {
	srv := newTestServer(t)

	rr := doJSON(t, srv, http.MethodPost, "/webhooks/some-legacy-system", nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	data := decodeData(t, rr)
	assert.Equal(t, true, data["ignored"])
}

func TestApprovalExecutesPlan(t *testing.T) {
	srv := newTestServer(t)
	recID := triggerCancellation(t, srv)

	rr := doJSON(t, srv, http.MethodPost, "/v1/recommendations/"+recID+"/approve",
		model.ApproveRequest{ApprovedBy: "caseworker-7"})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	data := decodeData(t, rr)
	planID, _ := data["plan_id"].(string)
	require.NotEmpty(t, planID)
	assert.Equal(t, string(model.StatusExecuting), data["status"])

	// Poll the supervised execution until it settles.
	deadline := time.Now().Add(5 * time.Second)
	var result map[string]any
	for time.Now().Before(deadline) {
		rr = doJSON(t, srv, http.MethodGet, "/v1/executions/"+planID, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		result = decodeData(t, rr)
		if result["status"] != string(model.PlanExecuting) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, string(model.PlanSuccess), result["status"])
	assert.EqualValues(t, 6, result["actions_completed"])

	// The recommendation eventually reflects the terminal outcome.
	deadline = time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rr = doJSON(t, srv, http.MethodGet, "/v1/recommendations/"+recID, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		rec := decodeData(t, rr)["recommendation"].(map[string]any)
		if rec["status"] == string(model.StatusCompleted) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("recommendation never reached completed")
}

func TestApproveTwiceConflicts(t *testing.T) {
	srv := newTestServer(t)
	recID := triggerCancellation(t, srv)

	rr := doJSON(t, srv, http.MethodPost, "/v1/recommendations/"+recID+"/approve",
		model.ApproveRequest{ApprovedBy: "first"})
	require.Equal(t, http.StatusAccepted, rr.Code)

	rr = doJSON(t, srv, http.MethodPost, "/v1/recommendations/"+recID+"/approve",
		model.ApproveRequest{ApprovedBy: "second"})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestApproveUnknownRecommendation(t *testing.T) {
	srv := newTestServer(t)
	rr := doJSON(t, srv, http.MethodPost,
		"/v1/recommendations/00000000-0000-0000-0000-000000000001/approve",
		model.ApproveRequest{ApprovedBy: "caseworker"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestApproveRequiresApprover(t *testing.T) {
	srv := newTestServer(t)
	recID := triggerCancellation(t, srv)

	rr := doJSON(t, srv, http.MethodPost, "/v1/recommendations/"+recID+"/approve",
		model.ApproveRequest{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRejectRecommendation(t *testing.T) {
	srv := newTestServer(t)
	recID := triggerCancellation(t, srv)

	rr := doJSON(t, srv, http.MethodPost, "/v1/recommendations/"+recID+"/reject", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, string(model.StatusRejected), decodeData(t, rr)["status"])

	// Rejected is terminal: approval now conflicts.
	rr = doJSON(t, srv, http.MethodPost, "/v1/recommendations/"+recID+"/approve",
		model.ApproveRequest{ApprovedBy: "late"})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestListRecommendations(t *testing.T) {
	srv := newTestServer(t)
	triggerCancellation(t, srv)

	rr := doJSON(t, srv, http.MethodGet, "/v1/recommendations", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	data := decodeData(t, rr)
	assert.EqualValues(t, 1, data["count"])
}

// stubRecArchive is an in-memory RecommendationArchive for handler tests.
type stubRecArchive struct {
	mu      sync.Mutex
	pending []model.Recommendation
}

func (a *stubRecArchive) RecordRecommendation(ctx context.Context, rec model.Recommendation) error {
	return nil
}

func (a *stubRecArchive) PendingRecommendations(ctx context.Context) ([]model.Recommendation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.Recommendation(nil), a.pending...), nil
}

func TestListRecommendationsMergesArchivedPending(t *testing.T) {
	// A pending item recorded before a restart lives only in the archive;
	// the list must still offer it for approval, without duplicating items
	// the store already has.
	archived := model.Recommendation{
		ID:               uuid.New(),
		Summary:          "reserve freed housing unit for client-003",
		Status:           model.StatusPendingApproval,
		RequiresApproval: true,
		EventType:        model.EventHousingAvailable,
		CreatedAt:        time.Now().UTC().Add(-time.Hour),
		UpdatedAt:        time.Now().UTC().Add(-time.Hour),
	}
	archive := &stubRecArchive{pending: []model.Recommendation{archived}}
	srv := newTestServerWithArchive(t, archive)

	liveID := triggerCancellation(t, srv)

	rr := doJSON(t, srv, http.MethodGet, "/v1/recommendations", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	data := decodeData(t, rr)
	assert.EqualValues(t, 2, data["count"])

	recs := data["recommendations"].([]any)
	require.Len(t, recs, 2)
	first := recs[0].(map[string]any)
	second := recs[1].(map[string]any)
	assert.Equal(t, liveID, first["recommendation_id"]) // newest first
	assert.Equal(t, archived.ID.String(), second["recommendation_id"])

	// An archived copy of a live item must not appear twice.
	live := uuid.MustParse(liveID)
	archive.mu.Lock()
	archive.pending = append(archive.pending, model.Recommendation{
		ID:        live,
		Status:    model.StatusPendingApproval,
		CreatedAt: time.Now().UTC(),
	})
	archive.mu.Unlock()

	rr = doJSON(t, srv, http.MethodGet, "/v1/recommendations", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 2, decodeData(t, rr)["count"])
}

func TestGetExecutionUnknownPlan(t *testing.T) {
	srv := newTestServer(t)
	rr := doJSON(t, srv, http.MethodGet,
		"/v1/executions/00000000-0000-0000-0000-000000000002", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStatisticsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	triggerCancellation(t, srv)

	rr := doJSON(t, srv, http.MethodGet, "/v1/statistics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	data := decodeData(t, rr)

	listener := data["event_listener"].(map[string]any)
	assert.EqualValues(t, 1, listener["events_detected"])
	assert.EqualValues(t, 1, listener["events_processed"])
	orchestrator := data["orchestrator"].(map[string]any)
	assert.EqualValues(t, 1, orchestrator["decisions_made"])
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rr := doJSON(t, srv, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "test", health["version"])
}
