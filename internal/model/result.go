package model

import (
	"time"

	"github.com/google/uuid"
)

// ActionStatus tracks one action through execution.
type ActionStatus string

const (
	ActionPending    ActionStatus = "pending"
	ActionRunning    ActionStatus = "running"
	ActionCompleted  ActionStatus = "completed"
	ActionFailed     ActionStatus = "failed"
	ActionRolledBack ActionStatus = "rolled_back"
)

// ActionResult records the outcome of executing one action, including
// retries and the last error when the action failed.
type ActionResult struct {
	ActionID     string         `json:"action_id"`
	Type         ActionType     `json:"action_type"`
	Status       ActionStatus   `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	ResultData   map[string]any `json:"result_data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	RetryCount   int            `json:"retry_count"`
}

// PlanStatus is the aggregate outcome of one ExecutePlan call.
type PlanStatus string

const (
	PlanExecuting      PlanStatus = "executing"
	PlanSuccess        PlanStatus = "success"
	PlanPartialSuccess PlanStatus = "partial_success"
	PlanFailed         PlanStatus = "failed"
)

// ExecutionResult is the full, auditable record of one plan execution.
// Invariant: ActionsCompleted + ActionsFailed never exceeds the plan's
// action count (skipped actions appear in neither tally).
type ExecutionResult struct {
	PlanID            uuid.UUID      `json:"plan_id"`
	Status            PlanStatus     `json:"status"`
	ActionsCompleted  int            `json:"actions_completed"`
	ActionsFailed     int            `json:"actions_failed"`
	TotalDuration     time.Duration  `json:"total_duration"`
	ActionResults     []ActionResult `json:"action_results"`
	RollbackPerformed bool           `json:"rollback_performed"`
	ApprovedBy        string         `json:"approved_by,omitempty"`
}
