package model

import (
	"time"

	"github.com/google/uuid"
)

// RecommendationStatus is the lifecycle state of a recommendation.
type RecommendationStatus string

const (
	StatusPendingApproval RecommendationStatus = "pending_approval"
	StatusExecuting       RecommendationStatus = "executing"
	StatusCompleted       RecommendationStatus = "completed"
	StatusPartialSuccess  RecommendationStatus = "partial_success"
	StatusFailed          RecommendationStatus = "failed"
	StatusRejected        RecommendationStatus = "rejected"
)

// transitions encodes the recommendation state machine:
// pending_approval → executing → {completed | partial_success | failed},
// or pending_approval → rejected. No transition skips executing.
var transitions = map[RecommendationStatus][]RecommendationStatus{
	StatusPendingApproval: {StatusExecuting, StatusRejected},
	StatusExecuting:       {StatusCompleted, StatusPartialSuccess, StatusFailed},
}

// CanTransition reports whether moving from s to next is a legal step.
func (s RecommendationStatus) CanTransition(next RecommendationStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s RecommendationStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// Impact estimates the value of acting on a recommendation, surfaced on the
// caseworker's approval card.
type Impact struct {
	CostSavings        float64 `json:"cost_savings"`
	UrgencyImprovement string  `json:"urgency_improvement,omitempty"`
	EfficiencyGain     string  `json:"efficiency_gain,omitempty"`
}

// Recommendation packages a decision and its execution plan for human
// approval. The core never self-executes: RequiresApproval is always true.
type Recommendation struct {
	ID               uuid.UUID            `json:"recommendation_id"`
	Summary          string               `json:"summary"`
	Reasoning        []string             `json:"reasoning"`
	Impact           Impact               `json:"impact"`
	Plan             ExecutionPlan        `json:"execution_plan"`
	Confidence       float64              `json:"confidence_score"`
	Status           RecommendationStatus `json:"status"`
	RequiresApproval bool                 `json:"requires_approval"`
	ViaAI            bool                 `json:"via_ai"`
	EventID          uuid.UUID            `json:"event_id"`
	EventType        EventType            `json:"event_type"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
	ApprovedBy       string               `json:"approved_by,omitempty"`
}
