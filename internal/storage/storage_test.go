package storage_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firstcontact-eis/coordinator/internal/model"
	"github.com/firstcontact-eis/coordinator/internal/storage"
	"github.com/firstcontact-eis/coordinator/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close(ctx)
	tc.Terminate()
	os.Exit(code)
}

func sampleRecommendation() model.Recommendation {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return model.Recommendation{
		ID:      uuid.New(),
		Summary: "move client-1 into the freed 10:00 slot",
		Reasoning: []string{
			"slot freed by appointment_cancelled",
			"client-1 scored 0.92 across 3 waitlisted candidates (threshold 0.70)",
		},
		Impact: model.Impact{CostSavings: 120},
		Plan: model.NewExecutionPlan([]model.Action{
			model.NewAction(model.ActionCancelAppointment, map[string]any{"appointment_id": "appt-1"}),
			model.NewAction(model.ActionBookAppointment, map[string]any{"client_id": "client-1"},
				model.ActionCancelAppointment),
		}),
		Confidence:       0.92,
		Status:           model.StatusPendingApproval,
		RequiresApproval: true,
		EventID:          uuid.New(),
		EventType:        model.EventAppointmentCancelled,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestRecordAndListRecommendations(t *testing.T) {
	ctx := context.Background()
	rec := sampleRecommendation()

	require.NoError(t, testDB.RecordRecommendation(ctx, rec))

	pending, err := testDB.PendingRecommendations(ctx)
	require.NoError(t, err)

	var got *model.Recommendation
	for i := range pending {
		if pending[i].ID == rec.ID {
			got = &pending[i]
			break
		}
	}
	require.NotNil(t, got, "recorded recommendation missing from pending list")
	assert.Equal(t, rec.Summary, got.Summary)
	assert.Equal(t, rec.Reasoning, got.Reasoning)
	assert.InDelta(t, 120, got.Impact.CostSavings, 1e-9)
	assert.Len(t, got.Plan.Actions, 2)
}

func TestRecordRecommendationStatusUpsert(t *testing.T) {
	ctx := context.Background()
	rec := sampleRecommendation()
	require.NoError(t, testDB.RecordRecommendation(ctx, rec))

	rec.Status = model.StatusExecuting
	rec.ApprovedBy = "caseworker-7"
	rec.UpdatedAt = time.Now().UTC()
	require.NoError(t, testDB.RecordRecommendation(ctx, rec))

	pending, err := testDB.PendingRecommendations(ctx)
	require.NoError(t, err)
	for _, p := range pending {
		assert.NotEqual(t, rec.ID, p.ID, "executing recommendation still listed as pending")
	}
}

func TestRecordAndGetExecution(t *testing.T) {
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Microsecond)
	completed := started.Add(2 * time.Second)
	planID := uuid.New()

	result := model.ExecutionResult{
		PlanID:           planID,
		Status:           model.PlanPartialSuccess,
		ActionsCompleted: 1,
		ActionsFailed:    1,
		TotalDuration:    8 * time.Second,
		ApprovedBy:       "caseworker-7",
		ActionResults: []model.ActionResult{
			{
				ActionID:    "cancel_appointment_abc12345",
				Type:        model.ActionCancelAppointment,
				Status:      model.ActionCompleted,
				StartedAt:   started,
				CompletedAt: &completed,
				ResultData:  map[string]any{"confirmation": "DEMO-12345"},
			},
			{
				ActionID:     "book_appointment_def67890",
				Type:         model.ActionBookAppointment,
				Status:       model.ActionFailed,
				StartedAt:    started.Add(time.Second),
				CompletedAt:  &completed,
				ErrorMessage: "scheduling system unavailable",
				RetryCount:   3,
			},
		},
	}
	require.NoError(t, testDB.RecordExecution(ctx, result))

	got, err := testDB.Execution(ctx, planID.String())
	require.NoError(t, err)
	assert.Equal(t, model.PlanPartialSuccess, got.Status)
	assert.Equal(t, 1, got.ActionsCompleted)
	assert.Equal(t, 1, got.ActionsFailed)
	assert.Equal(t, 8*time.Second, got.TotalDuration)
	assert.Equal(t, "caseworker-7", got.ApprovedBy)
	require.Len(t, got.ActionResults, 2)
	assert.Equal(t, "DEMO-12345", got.ActionResults[0].ResultData["confirmation"])
	assert.Equal(t, 3, got.ActionResults[1].RetryCount)
}

func TestExecutionNotFound(t *testing.T) {
	_, err := testDB.Execution(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNotifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.Listen(ctx, storage.ChannelRecommendations))
	require.NoError(t, testDB.Notify(ctx, storage.ChannelRecommendations, `{"ping":true}`))

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	channel, payload, err := testDB.WaitForNotification(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, storage.ChannelRecommendations, channel)
	assert.JSONEq(t, `{"ping":true}`, payload)
}
