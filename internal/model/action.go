package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TargetSystem identifies the external system an action touches.
type TargetSystem string

const (
	SystemProviderScheduling TargetSystem = "provider_scheduling"
	SystemTransportation     TargetSystem = "transportation"
	SystemNotifications      TargetSystem = "notifications"
	SystemProviderAPI        TargetSystem = "provider_api"
	SystemCaseManagement     TargetSystem = "case_management"
	SystemHousing            TargetSystem = "housing"
)

// ActionType is the closed set of action kinds the Hands can execute.
// Criticality and cost are properties of the type, not a separately
// maintained set, so classification cannot drift from dispatch.
type ActionType string

const (
	ActionCancelAppointment ActionType = "cancel_appointment"
	ActionBookAppointment   ActionType = "book_appointment"
	ActionUpdateTransport   ActionType = "update_transport"
	ActionSendSMS           ActionType = "send_sms"
	ActionNotifyProvider    ActionType = "notify_provider"
	ActionUpdateCase        ActionType = "update_case"
	ActionSendReminder      ActionType = "send_reminder"
	ActionReserveHousing    ActionType = "reserve_housing"
	ActionScheduleIntake    ActionType = "schedule_intake"
)

// actionTraits binds each action kind to its target system, per-action cost
// estimate, and criticality. A failed critical action mandates rollback of the
// plan's completed prefix.
var actionTraits = map[ActionType]struct {
	system   TargetSystem
	cost     time.Duration
	critical bool
}{
	ActionCancelAppointment: {SystemProviderScheduling, 2 * time.Second, true},
	ActionBookAppointment:   {SystemProviderScheduling, 2 * time.Second, true},
	ActionUpdateTransport:   {SystemTransportation, 2 * time.Second, false},
	ActionSendSMS:           {SystemNotifications, 1 * time.Second, false},
	ActionNotifyProvider:    {SystemProviderAPI, 2 * time.Second, false},
	ActionUpdateCase:        {SystemCaseManagement, 2 * time.Second, true},
	ActionSendReminder:      {SystemNotifications, 1 * time.Second, false},
	ActionReserveHousing:    {SystemHousing, 2 * time.Second, false},
	ActionScheduleIntake:    {SystemProviderScheduling, 2 * time.Second, false},
}

// Known reports whether t is one of the closed action kinds.
func (t ActionType) Known() bool {
	_, ok := actionTraits[t]
	return ok
}

// System returns the external system this action kind targets.
func (t ActionType) System() TargetSystem {
	return actionTraits[t].system
}

// Cost is the planner's duration estimate for one execution of this kind.
func (t ActionType) Cost() time.Duration {
	return actionTraits[t].cost
}

// Critical reports whether a terminal failure of this kind forces rollback.
func (t ActionType) Critical() bool {
	return actionTraits[t].critical
}

// Action is one unit of cross-system work with declared dependencies.
// DependsOn entries must name action types that appear earlier in the
// enclosing plan's action list; the planner guarantees that order.
type Action struct {
	Type       ActionType     `json:"action_type"`
	Target     TargetSystem   `json:"target_system"`
	Parameters map[string]any `json:"parameters,omitempty"`
	DependsOn  []ActionType   `json:"depends_on,omitempty"`
}

// NewAction builds an Action for the given kind, deriving the target system
// from the type.
func NewAction(t ActionType, params map[string]any, deps ...ActionType) Action {
	return Action{
		Type:       t,
		Target:     t.System(),
		Parameters: params,
		DependsOn:  deps,
	}
}

// ExecutionPlan is an ordered, dependency-respecting set of actions.
// Immutable once created; consumed by the Execution Service.
type ExecutionPlan struct {
	ID                uuid.UUID      `json:"plan_id"`
	Actions           []Action       `json:"actions"`
	EstimatedDuration time.Duration  `json:"estimated_duration"`
	AffectedSystems   []TargetSystem `json:"affected_systems"`
}

// NewExecutionPlan assembles a plan from the given actions, computing the
// affected-system set and summing per-action cost estimates.
func NewExecutionPlan(actions []Action) ExecutionPlan {
	var total time.Duration
	seen := make(map[TargetSystem]bool, len(actions))
	var systems []TargetSystem
	for _, a := range actions {
		total += a.Type.Cost()
		if !seen[a.Target] {
			seen[a.Target] = true
			systems = append(systems, a.Target)
		}
	}
	return ExecutionPlan{
		ID:                uuid.New(),
		Actions:           actions,
		EstimatedDuration: total,
		AffectedSystems:   systems,
	}
}

// Validate checks the planner invariant: every DependsOn entry references an
// action type that appears earlier in the action list. The executor performs
// a single forward pass and relies on this; an action depending on a later
// action would never run.
func (p ExecutionPlan) Validate() error {
	earlier := make(map[ActionType]bool, len(p.Actions))
	for i, a := range p.Actions {
		if !a.Type.Known() {
			return fmt.Errorf("plan %s: action %d: unknown action type %q", p.ID, i, a.Type)
		}
		for _, dep := range a.DependsOn {
			if !earlier[dep] {
				return fmt.Errorf("plan %s: action %d (%s) depends on %q which does not appear earlier", p.ID, i, a.Type, dep)
			}
		}
		earlier[a.Type] = true
	}
	return nil
}
