package model

import (
	"fmt"
	"time"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// TriggerEventRequest is the request body for POST /v1/events/trigger.
type TriggerEventRequest struct {
	EventType  EventType      `json:"event_type"`
	ClientID   *string        `json:"client_id,omitempty"`
	ProviderID *string        `json:"provider_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Validate checks the manual trigger request for obvious misuse.
func (r TriggerEventRequest) Validate() error {
	if r.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	return nil
}

// ApproveRequest is the request body for POST /v1/recommendations/{id}/approve.
type ApproveRequest struct {
	ApprovedBy string `json:"approved_by"`
}

// RecommendationView is the approval-card projection of a recommendation
// returned by the HTTP API.
type RecommendationView struct {
	ID                string               `json:"recommendation_id"`
	Summary           string               `json:"summary"`
	Reasoning         []string             `json:"reasoning"`
	Impact            Impact               `json:"impact"`
	Confidence        float64              `json:"confidence_score"`
	Status            RecommendationStatus `json:"status"`
	ActionsCount      int                  `json:"actions_count"`
	EstimatedDuration string               `json:"estimated_duration"`
	AffectedSystems   []TargetSystem       `json:"affected_systems"`
	ViaAI             bool                 `json:"via_ai"`
	CreatedAt         time.Time            `json:"created_at"`
}

// ViewOf projects a recommendation into its API shape.
func ViewOf(rec Recommendation) RecommendationView {
	return RecommendationView{
		ID:                rec.ID.String(),
		Summary:           rec.Summary,
		Reasoning:         rec.Reasoning,
		Impact:            rec.Impact,
		Confidence:        rec.Confidence,
		Status:            rec.Status,
		ActionsCount:      len(rec.Plan.Actions),
		EstimatedDuration: rec.Plan.EstimatedDuration.String(),
		AffectedSystems:   rec.Plan.AffectedSystems,
		ViaAI:             rec.ViaAI,
		CreatedAt:         rec.CreatedAt,
	}
}

// Statistics aggregates the counters of all three engine components for the
// observability endpoint.
type Statistics struct {
	Listener     ListenerStats     `json:"event_listener"`
	Orchestrator OrchestratorStats `json:"orchestrator"`
	Executor     ExecutorStats     `json:"executor"`
	Timestamp    time.Time         `json:"timestamp"`
}

// ListenerStats reports event intake counters.
type ListenerStats struct {
	EventsDetected  int64   `json:"events_detected"`
	EventsProcessed int64   `json:"events_processed"`
	EventsIgnored   int64   `json:"events_ignored"`
	ActiveSources   int     `json:"active_sources"`
	WebhookPaths    int     `json:"webhook_paths"`
	ProcessingRate  float64 `json:"processing_rate"` // processed / detected, in percent
}

// OrchestratorStats reports decision counters.
type OrchestratorStats struct {
	DecisionsMade int64   `json:"decisions_made"`
	RuleDecisions int64   `json:"rule_decisions"`
	AIDecisions   int64   `json:"ai_decisions"`
	AIPercentage  float64 `json:"ai_percentage"` // target ≤5%, monitored not enforced
}

// ExecutorStats reports plan execution counters.
type ExecutorStats struct {
	TotalExecutions      int64   `json:"total_executions"`
	SuccessfulExecutions int64   `json:"successful_executions"`
	FailedExecutions     int64   `json:"failed_executions"`
	SuccessRate          float64 `json:"success_rate"` // successful / total, in percent
}
