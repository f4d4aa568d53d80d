package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionTypeTraits(t *testing.T) {
	tests := []struct {
		actionType ActionType
		system     TargetSystem
		critical   bool
	}{
		{ActionCancelAppointment, SystemProviderScheduling, true},
		{ActionBookAppointment, SystemProviderScheduling, true},
		{ActionUpdateCase, SystemCaseManagement, true},
		{ActionUpdateTransport, SystemTransportation, false},
		{ActionSendSMS, SystemNotifications, false},
		{ActionNotifyProvider, SystemProviderAPI, false},
		{ActionSendReminder, SystemNotifications, false},
		{ActionReserveHousing, SystemHousing, false},
		{ActionScheduleIntake, SystemProviderScheduling, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.actionType), func(t *testing.T) {
			assert.True(t, tt.actionType.Known())
			assert.Equal(t, tt.system, tt.actionType.System())
			assert.Equal(t, tt.critical, tt.actionType.Critical())
			assert.Greater(t, tt.actionType.Cost(), time.Duration(0))
		})
	}

	assert.False(t, ActionType("launch_rocket").Known())
}

func TestNewExecutionPlan(t *testing.T) {
	plan := NewExecutionPlan([]Action{
		NewAction(ActionCancelAppointment, nil),
		NewAction(ActionBookAppointment, nil, ActionCancelAppointment),
		NewAction(ActionSendSMS, nil),
	})

	require.NotEqual(t, "00000000-0000-0000-0000-000000000000", plan.ID.String())
	assert.Equal(t,
		ActionCancelAppointment.Cost()+ActionBookAppointment.Cost()+ActionSendSMS.Cost(),
		plan.EstimatedDuration)
	// Two distinct target systems, deduplicated in first-seen order.
	assert.Equal(t, []TargetSystem{SystemProviderScheduling, SystemNotifications}, plan.AffectedSystems)
}

func TestExecutionPlanValidate(t *testing.T) {
	t.Run("ordered dependencies pass", func(t *testing.T) {
		plan := NewExecutionPlan([]Action{
			NewAction(ActionCancelAppointment, nil),
			NewAction(ActionBookAppointment, nil, ActionCancelAppointment),
			NewAction(ActionUpdateCase, nil, ActionBookAppointment),
		})
		require.NoError(t, plan.Validate())
	})

	t.Run("forward dependency fails", func(t *testing.T) {
		plan := NewExecutionPlan([]Action{
			NewAction(ActionBookAppointment, nil, ActionCancelAppointment),
			NewAction(ActionCancelAppointment, nil),
		})
		err := plan.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not appear earlier")
	})

	t.Run("self dependency fails", func(t *testing.T) {
		plan := NewExecutionPlan([]Action{
			NewAction(ActionSendSMS, nil, ActionSendSMS),
		})
		require.Error(t, plan.Validate())
	})

	t.Run("unknown action type fails", func(t *testing.T) {
		plan := NewExecutionPlan([]Action{{Type: "teleport_client"}})
		require.Error(t, plan.Validate())
	})
}

func TestEventTypeOrchestrable(t *testing.T) {
	assert.True(t, EventAppointmentCancelled.Orchestrable())
	assert.True(t, EventHousingAvailable.Orchestrable())
	assert.False(t, EventType("coffee_machine_empty").Orchestrable())
}
