package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/firstcontact-eis/coordinator/internal/model"
)

// RecordRecommendation upserts a recommendation snapshot. Called on creation
// and on every status change so the archive tracks the lifecycle.
func (db *DB) RecordRecommendation(ctx context.Context, rec model.Recommendation) error {
	plan, err := json.Marshal(rec.Plan)
	if err != nil {
		return fmt.Errorf("storage: marshal plan: %w", err)
	}
	reasoning, err := json.Marshal(rec.Reasoning)
	if err != nil {
		return fmt.Errorf("storage: marshal reasoning: %w", err)
	}
	impact, err := json.Marshal(rec.Impact)
	if err != nil {
		return fmt.Errorf("storage: marshal impact: %w", err)
	}

	_, err = db.pool.Exec(ctx, `
		INSERT INTO recommendations (
			id, summary, reasoning, impact, plan, confidence, status,
			via_ai, event_id, event_type, approved_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			approved_by = EXCLUDED.approved_by,
			updated_at = EXCLUDED.updated_at
	`, rec.ID, rec.Summary, reasoning, impact, plan, rec.Confidence, rec.Status,
		rec.ViaAI, rec.EventID, rec.EventType, nullable(rec.ApprovedBy), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: record recommendation %s: %w", rec.ID, err)
	}
	return nil
}

// RecordExecution writes an execution outcome and its per-action results in
// one transaction.
func (db *DB) RecordExecution(ctx context.Context, result model.ExecutionResult) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin execution tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO executions (
			plan_id, status, actions_completed, actions_failed,
			total_duration_ms, rollback_performed, approved_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (plan_id) DO UPDATE SET
			status = EXCLUDED.status,
			actions_completed = EXCLUDED.actions_completed,
			actions_failed = EXCLUDED.actions_failed,
			total_duration_ms = EXCLUDED.total_duration_ms,
			rollback_performed = EXCLUDED.rollback_performed
	`, result.PlanID, result.Status, result.ActionsCompleted, result.ActionsFailed,
		result.TotalDuration.Milliseconds(), result.RollbackPerformed, nullable(result.ApprovedBy))
	if err != nil {
		return fmt.Errorf("storage: record execution %s: %w", result.PlanID, err)
	}

	if len(result.ActionResults) > 0 {
		rows := make([][]any, 0, len(result.ActionResults))
		for _, ar := range result.ActionResults {
			data, err := json.Marshal(ar.ResultData)
			if err != nil {
				return fmt.Errorf("storage: marshal action result %s: %w", ar.ActionID, err)
			}
			rows = append(rows, []any{
				ar.ActionID, result.PlanID, ar.Type, ar.Status,
				ar.StartedAt, ar.CompletedAt, data, nullable(ar.ErrorMessage), ar.RetryCount,
			})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"action_results"},
			[]string{"action_id", "plan_id", "action_type", "status",
				"started_at", "completed_at", "result_data", "error_message", "retry_count"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("storage: copy action results for %s: %w", result.PlanID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit execution %s: %w", result.PlanID, err)
	}
	return nil
}

// PendingRecommendations returns archived pending recommendations, newest
// first, for restart visibility and dashboards.
func (db *DB) PendingRecommendations(ctx context.Context) ([]model.Recommendation, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, summary, reasoning, impact, plan, confidence, status,
		       via_ai, event_id, event_type, COALESCE(approved_by, ''),
		       created_at, updated_at
		FROM recommendations
		WHERE status = $1
		ORDER BY created_at DESC
	`, model.StatusPendingApproval)
	if err != nil {
		return nil, fmt.Errorf("storage: query pending recommendations: %w", err)
	}
	defer rows.Close()

	var out []model.Recommendation
	for rows.Next() {
		var (
			rec       model.Recommendation
			reasoning []byte
			impact    []byte
			plan      []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Summary, &reasoning, &impact, &plan,
			&rec.Confidence, &rec.Status, &rec.ViaAI, &rec.EventID, &rec.EventType,
			&rec.ApprovedBy, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan recommendation: %w", err)
		}
		if err := json.Unmarshal(reasoning, &rec.Reasoning); err != nil {
			return nil, fmt.Errorf("storage: decode reasoning for %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal(impact, &rec.Impact); err != nil {
			return nil, fmt.Errorf("storage: decode impact for %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal(plan, &rec.Plan); err != nil {
			return nil, fmt.Errorf("storage: decode plan for %s: %w", rec.ID, err)
		}
		rec.RequiresApproval = true
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Execution returns one archived execution outcome with its action results.
func (db *DB) Execution(ctx context.Context, planID string) (model.ExecutionResult, error) {
	var (
		result model.ExecutionResult
		ms     int64
	)
	err := db.pool.QueryRow(ctx, `
		SELECT plan_id, status, actions_completed, actions_failed,
		       total_duration_ms, rollback_performed, COALESCE(approved_by, '')
		FROM executions WHERE plan_id = $1
	`, planID).Scan(&result.PlanID, &result.Status, &result.ActionsCompleted,
		&result.ActionsFailed, &ms, &result.RollbackPerformed, &result.ApprovedBy)
	if err != nil {
		if err == pgx.ErrNoRows {
			return model.ExecutionResult{}, fmt.Errorf("%w: execution %s", ErrNotFound, planID)
		}
		return model.ExecutionResult{}, fmt.Errorf("storage: query execution %s: %w", planID, err)
	}
	result.TotalDuration = time.Duration(ms) * time.Millisecond

	rows, err := db.pool.Query(ctx, `
		SELECT action_id, action_type, status, started_at, completed_at,
		       result_data, COALESCE(error_message, ''), retry_count
		FROM action_results WHERE plan_id = $1 ORDER BY started_at
	`, planID)
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("storage: query action results %s: %w", planID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ar   model.ActionResult
			data []byte
		)
		if err := rows.Scan(&ar.ActionID, &ar.Type, &ar.Status, &ar.StartedAt,
			&ar.CompletedAt, &data, &ar.ErrorMessage, &ar.RetryCount); err != nil {
			return model.ExecutionResult{}, fmt.Errorf("storage: scan action result: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ar.ResultData); err != nil {
				return model.ExecutionResult{}, fmt.Errorf("storage: decode action result %s: %w", ar.ActionID, err)
			}
		}
		result.ActionResults = append(result.ActionResults, ar)
	}
	return result, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
