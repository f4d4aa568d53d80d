package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/firstcontact-eis/coordinator/internal/approval"
	"github.com/firstcontact-eis/coordinator/internal/brain"
	"github.com/firstcontact-eis/coordinator/internal/hands"
	"github.com/firstcontact-eis/coordinator/internal/model"
	"github.com/firstcontact-eis/coordinator/internal/sensors"
)

// EventPipeline runs one event through the decision pipeline synchronously:
// orchestrate, register the recommendation, publish it. Returns nil when the
// event yields no recommendation.
type EventPipeline interface {
	ProcessEvent(ctx context.Context, event model.Event) *model.Recommendation
}

// Pinger is the storage health probe. Nil when running in-memory.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ExecutionArchive is the fallback for execution lookups after a process
// restart, when the supervised registry no longer has the handle.
type ExecutionArchive interface {
	Execution(ctx context.Context, planID string) (model.ExecutionResult, error)
}

// RecommendationArchive mirrors recommendation status changes into durable
// storage and serves archived pending items back after a restart. Write
// failures are logged, never surfaced to the caller.
type RecommendationArchive interface {
	RecordRecommendation(ctx context.Context, rec model.Recommendation) error
	PendingRecommendations(ctx context.Context) ([]model.Recommendation, error)
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	listener     *sensors.Listener
	orchestrator *brain.Orchestrator
	executor     *hands.Executor
	pipeline     EventPipeline
	store        *approval.Store
	executions   *approval.Executions
	broker       *approval.Broker
	pinger       Pinger
	archive      ExecutionArchive
	recArchive   RecommendationArchive
	logger       *slog.Logger

	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Pinger, Archive, RecArchive.
type HandlersDeps struct {
	Listener            *sensors.Listener
	Orchestrator        *brain.Orchestrator
	Executor            *hands.Executor
	Pipeline            EventPipeline
	Store               *approval.Store
	Executions          *approval.Executions
	Broker              *approval.Broker
	Pinger              Pinger
	Archive             ExecutionArchive
	RecArchive          RecommendationArchive
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		listener:            d.Listener,
		orchestrator:        d.Orchestrator,
		executor:            d.Executor,
		pipeline:            d.Pipeline,
		store:               d.Store,
		executions:          d.Executions,
		broker:              d.Broker,
		pinger:              d.Pinger,
		archive:             d.Archive,
		recArchive:          d.RecArchive,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleWebhook handles POST /webhooks/{path...}.
// Always 202: external systems only need to know we took delivery, and an
// unknown path is their configuration problem, not a failure of ours.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")

	var payload sensors.WebhookPayload
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(w, r, &payload, h.maxRequestBodyBytes); err != nil {
			handleDecodeError(w, r, err)
			return
		}
	}

	event := h.listener.HandleWebhook(r.Context(), path, payload)
	resp := map[string]any{"accepted": true}
	if event.Type != "" {
		resp["event_id"] = event.ID.String()
		resp["event_type"] = event.Type
	} else {
		resp["ignored"] = true
	}
	writeJSON(w, r, http.StatusAccepted, resp)
}

// HandleTriggerEvent handles POST /v1/events/trigger.
// The manual path is synchronous: operators demoing or testing the engine
// want the recommendation in the response, not a ticket to poll.
func (h *Handlers) HandleTriggerEvent(w http.ResponseWriter, r *http.Request) {
	var req model.TriggerEventRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	event, ok := h.listener.ObserveManual(r.Context(), req.EventType, req.ClientID, req.ProviderID, req.Metadata)
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"event type is not orchestrable: "+string(req.EventType))
		return
	}

	rec := h.pipeline.ProcessEvent(r.Context(), event)
	h.listener.RecordOutcome(r.Context(), event, rec != nil)
	if rec == nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no recommendation generated")
		return
	}
	writeJSON(w, r, http.StatusOK, model.ViewOf(*rec))
}

// HandleListRecommendations handles GET /v1/recommendations. When an archive
// is configured, pending items recorded before the last restart are merged in
// so approvals survive a process bounce.
func (h *Handlers) HandleListRecommendations(w http.ResponseWriter, r *http.Request) {
	pending := h.store.ListPending()
	if h.recArchive != nil {
		seen := make(map[uuid.UUID]struct{}, len(pending))
		for _, rec := range pending {
			seen[rec.ID] = struct{}{}
		}
		archived, err := h.recArchive.PendingRecommendations(r.Context())
		if err != nil {
			h.logger.Warn("pending archive read failed", "error", err)
		}
		for _, rec := range archived {
			if _, ok := seen[rec.ID]; !ok {
				pending = append(pending, rec)
			}
		}
		sort.Slice(pending, func(i, j int) bool {
			return pending[i].CreatedAt.After(pending[j].CreatedAt)
		})
	}
	views := make([]model.RecommendationView, 0, len(pending))
	for _, rec := range pending {
		views = append(views, model.ViewOf(rec))
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"recommendations": views,
		"count":           len(views),
	})
}

// HandleGetRecommendation handles GET /v1/recommendations/{id}.
func (h *Handlers) HandleGetRecommendation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid recommendation id")
		return
	}
	rec, err := h.store.Get(id)
	if err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "recommendation not found")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"recommendation": model.ViewOf(rec),
		"execution_plan": rec.Plan,
	})
}

// HandleApproveRecommendation handles POST /v1/recommendations/{id}/approve.
// Approval flips the recommendation to executing and launches a supervised
// execution; the 202 carries the plan id to poll under /v1/executions.
func (h *Handlers) HandleApproveRecommendation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid recommendation id")
		return
	}

	var req model.ApproveRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.ApprovedBy == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "approved_by is required")
		return
	}

	rec, err := h.store.Approve(id, req.ApprovedBy)
	switch {
	case errors.Is(err, approval.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "recommendation not found")
		return
	case errors.Is(err, approval.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "approve failed")
		return
	}

	h.broker.Publish("recommendation_updated", rec)
	h.mirrorRecommendation(r.Context(), rec)

	// The execution outlives the approval request.
	execCtx := context.WithoutCancel(r.Context())
	exec := h.executions.Launch(execCtx, rec.Plan.ID, rec.ID, func(ctx context.Context) model.ExecutionResult {
		return h.executor.ExecutePlan(ctx, rec.Plan, rec.ApprovedBy)
	})
	go h.settleExecution(execCtx, exec)

	writeJSON(w, r, http.StatusAccepted, map[string]any{
		"recommendation_id": rec.ID.String(),
		"plan_id":           rec.Plan.ID.String(),
		"status":            rec.Status,
		"approved_by":       rec.ApprovedBy,
	})
}

// settleExecution waits for a supervised execution and records its terminal
// status on the recommendation.
func (h *Handlers) settleExecution(ctx context.Context, exec *approval.Execution) {
	<-exec.Done()
	result := exec.Result()

	var status model.RecommendationStatus
	switch result.Status {
	case model.PlanSuccess:
		status = model.StatusCompleted
	case model.PlanPartialSuccess:
		status = model.StatusPartialSuccess
	default:
		status = model.StatusFailed
	}

	rec, err := h.store.SetOutcome(exec.RecommendationID, status)
	if err != nil {
		h.logger.Error("recording execution outcome failed",
			"recommendation_id", exec.RecommendationID, "plan_id", exec.PlanID, "error", err)
		return
	}
	h.broker.Publish("recommendation_updated", rec)
	h.mirrorRecommendation(ctx, rec)
}

// mirrorRecommendation writes a status change to the archive, when one is
// configured. Audit only.
func (h *Handlers) mirrorRecommendation(ctx context.Context, rec model.Recommendation) {
	if h.recArchive == nil {
		return
	}
	if err := h.recArchive.RecordRecommendation(context.WithoutCancel(ctx), rec); err != nil {
		h.logger.Warn("recommendation archive write failed", "recommendation_id", rec.ID, "error", err)
	}
}

// HandleRejectRecommendation handles POST /v1/recommendations/{id}/reject.
func (h *Handlers) HandleRejectRecommendation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid recommendation id")
		return
	}

	rec, err := h.store.Reject(id)
	switch {
	case errors.Is(err, approval.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "recommendation not found")
		return
	case errors.Is(err, approval.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
		return
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "reject failed")
		return
	}

	h.broker.Publish("recommendation_updated", rec)
	h.mirrorRecommendation(r.Context(), rec)
	writeJSON(w, r, http.StatusOK, model.ViewOf(rec))
}

// HandleGetExecution handles GET /v1/executions/{plan_id}.
// The supervised handle is the live truth; the archive covers plans that
// finished before a restart.
func (h *Handlers) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	planID, err := uuid.Parse(r.PathValue("plan_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid plan id")
		return
	}

	exec, err := h.executions.Get(planID)
	if err == nil {
		writeJSON(w, r, http.StatusOK, exec.Result())
		return
	}

	if h.archive != nil {
		result, archErr := h.archive.Execution(r.Context(), planID.String())
		if archErr == nil {
			writeJSON(w, r, http.StatusOK, result)
			return
		}
	}
	writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "execution not found")
}

// HandleStatistics handles GET /v1/statistics.
func (h *Handlers) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, model.Statistics{
		Listener:     h.listener.Statistics(),
		Orchestrator: h.orchestrator.Statistics(),
		Executor:     h.executor.Statistics(),
		Timestamp:    time.Now().UTC(),
	})
}

// HandleSubscribe handles GET /v1/subscribe (SSE recommendation feed).
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":         "ok",
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	}
	status := http.StatusOK
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			health["status"] = "degraded"
			health["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			health["database"] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(health)
}
