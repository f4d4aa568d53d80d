package hands

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/firstcontact-eis/coordinator/internal/model"
	"github.com/firstcontact-eis/coordinator/internal/telemetry"
)

// Archive receives execution outcomes for the audit trail. Implementations
// must tolerate being called from concurrent ExecutePlan calls.
type Archive interface {
	RecordExecution(ctx context.Context, result model.ExecutionResult) error
}

// Config tunes the executor's retry behavior.
type Config struct {
	MaxRetries  int           // total attempts per action (default 3)
	RetryDelay  time.Duration // delay between attempts (default 2s)
	Exponential bool          // exponential instead of fixed-delay backoff
}

// Executor is the Hands: it runs approved execution plans, one action at a
// time, in plan order. Actions within a plan never run in parallel, which
// bounds latency to the per-action sum and keeps rollback a strict prefix
// undo. Distinct plans may execute concurrently.
type Executor struct {
	registry *Registry
	archive  Archive // nil disables the audit trail
	logger   *slog.Logger
	cfg      Config

	executions atomic.Int64
	successes  atomic.Int64
	failures   atomic.Int64

	planDuration  metric.Float64Histogram
	actionCounter metric.Int64Counter
}

// New creates an Executor. archive may be nil.
func New(registry *Registry, archive Archive, logger *slog.Logger, cfg Config) *Executor {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	meter := telemetry.Meter("coordinator/hands")
	planDur, _ := meter.Float64Histogram("coordinator.plan.duration",
		metric.WithDescription("Wall-clock time to execute a plan (ms)"),
		metric.WithUnit("ms"),
	)
	actions, _ := meter.Int64Counter("coordinator.actions.executed",
		metric.WithDescription("Actions executed, by type and status"),
	)
	return &Executor{
		registry:      registry,
		archive:       archive,
		logger:        logger,
		cfg:           cfg,
		planDuration:  planDur,
		actionCounter: actions,
	}
}

// ExecutePlan runs an approved plan to completion, failure, or rollback.
// It never returns an error: every per-action outcome is captured in the
// result so partial failure stays representable and auditable.
//
// The plan's action list must already be in topological order (a planner
// guarantee); an action whose dependency has not completed is skipped, and
// one depending on a later action would never run.
func (e *Executor) ExecutePlan(ctx context.Context, plan model.ExecutionPlan, approvedBy string) model.ExecutionResult {
	e.logger.Info("executing plan", "plan_id", plan.ID, "actions", len(plan.Actions), "approved_by", approvedBy)
	start := time.Now()

	var (
		results   []model.ActionResult
		completed int
		failed    int
		rolledBck bool
		cancelled bool
	)
	completedTypes := make(map[model.ActionType]bool, len(plan.Actions))

	for _, action := range plan.Actions {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if !dependenciesMet(action, completedTypes) {
			e.logger.Warn("skipping action with unmet dependencies",
				"plan_id", plan.ID, "action_type", action.Type, "depends_on", action.DependsOn)
			continue
		}

		res := e.executeAction(ctx, action)
		results = append(results, res)
		e.actionCounter.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("action_type", string(action.Type)),
				attribute.String("status", string(res.Status)),
			))

		switch res.Status {
		case model.ActionCompleted:
			completed++
			completedTypes[action.Type] = true
		case model.ActionFailed:
			failed++
			if action.Type.Critical() {
				e.logger.Error("critical action failed, rolling back completed prefix",
					"plan_id", plan.ID, "action_type", action.Type, "error", res.ErrorMessage)
				e.rollback(ctx, results)
				rolledBck = true
			}
		}
		if rolledBck {
			break
		}
	}

	status := planStatus(completed, failed, cancelled)
	e.executions.Add(1)
	switch status {
	case model.PlanSuccess:
		e.successes.Add(1)
	case model.PlanFailed:
		e.failures.Add(1)
	}

	duration := time.Since(start)
	e.planDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.String("status", string(status))))

	result := model.ExecutionResult{
		PlanID:            plan.ID,
		Status:            status,
		ActionsCompleted:  completed,
		ActionsFailed:     failed,
		TotalDuration:     duration,
		ActionResults:     results,
		RollbackPerformed: rolledBck,
		ApprovedBy:        approvedBy,
	}

	if e.archive != nil {
		// Audit only: archive failures never alter the execution outcome.
		if err := e.archive.RecordExecution(context.WithoutCancel(ctx), result); err != nil {
			e.logger.Warn("execution audit write failed", "plan_id", plan.ID, "error", err)
		}
	}

	e.logger.Info("plan execution finished",
		"plan_id", plan.ID, "status", status,
		"completed", completed, "failed", failed,
		"rollback", rolledBck, "duration_ms", duration.Milliseconds())
	return result
}

// executeAction runs one action with bounded retries. The returned result is
// COMPLETED or FAILED; retry waits are ctx-aware.
func (e *Executor) executeAction(ctx context.Context, action model.Action) model.ActionResult {
	actionID := fmt.Sprintf("%s_%s", action.Type, uuid.New().String()[:8])
	started := time.Now().UTC()

	adapter, ok := e.registry.Adapter(action.Type)
	if !ok {
		now := time.Now().UTC()
		return model.ActionResult{
			ActionID:     actionID,
			Type:         action.Type,
			Status:       model.ActionFailed,
			StartedAt:    started,
			CompletedAt:  &now,
			ErrorMessage: fmt.Sprintf("no adapter registered for %s", action.Type),
		}
	}

	var (
		attempts int
		data     map[string]any
	)
	op := func() error {
		attempts++
		var err error
		data, err = adapter.Execute(ctx, action.Parameters)
		if err != nil {
			e.logger.Warn("action attempt failed",
				"action_id", actionID, "action_type", action.Type,
				"attempt", attempts, "max", e.cfg.MaxRetries, "error", err)
		}
		return err
	}

	var policy backoff.BackOff
	if e.cfg.Exponential {
		policy = backoff.NewExponentialBackOff(backoff.WithInitialInterval(e.cfg.RetryDelay))
	} else {
		policy = backoff.NewConstantBackOff(e.cfg.RetryDelay)
	}
	policy = backoff.WithMaxRetries(policy, uint64(e.cfg.MaxRetries-1))
	err := backoff.Retry(op, backoff.WithContext(policy, ctx))

	now := time.Now().UTC()
	if err != nil {
		return model.ActionResult{
			ActionID:     actionID,
			Type:         action.Type,
			Status:       model.ActionFailed,
			StartedAt:    started,
			CompletedAt:  &now,
			ErrorMessage: err.Error(),
			RetryCount:   attempts,
		}
	}
	return model.ActionResult{
		ActionID:    actionID,
		Type:        action.Type,
		Status:      model.ActionCompleted,
		StartedAt:   started,
		CompletedAt: &now,
		ResultData:  data,
		RetryCount:  attempts - 1,
	}
}

// rollback compensates the completed prefix in reverse order. Results whose
// compensating call succeeds flip to rolled_back; compensation failures are
// logged and the original status kept so the audit trail stays truthful.
func (e *Executor) rollback(ctx context.Context, results []model.ActionResult) {
	// Rollback must proceed even when the plan's context is already done.
	ctx = context.WithoutCancel(ctx)
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Status != model.ActionCompleted {
			continue
		}
		adapter, ok := e.registry.Adapter(results[i].Type)
		if !ok {
			continue
		}
		if err := adapter.Rollback(ctx, results[i].ResultData); err != nil {
			e.logger.Error("rollback failed", "action_id", results[i].ActionID, "error", err)
			continue
		}
		results[i].Status = model.ActionRolledBack
	}
}

// planStatus derives the aggregate outcome: success means zero failures and
// a complete pass, partial_success means some work landed, failed means none.
func planStatus(completed, failed int, cancelled bool) model.PlanStatus {
	switch {
	case failed == 0 && !cancelled:
		return model.PlanSuccess
	case completed > 0:
		return model.PlanPartialSuccess
	default:
		return model.PlanFailed
	}
}

func dependenciesMet(action model.Action, completedTypes map[model.ActionType]bool) bool {
	for _, dep := range action.DependsOn {
		if !completedTypes[dep] {
			return false
		}
	}
	return true
}

// Statistics reports aggregate execution counters.
func (e *Executor) Statistics() model.ExecutorStats {
	total := e.executions.Load()
	success := e.successes.Load()
	stats := model.ExecutorStats{
		TotalExecutions:      total,
		SuccessfulExecutions: success,
		FailedExecutions:     e.failures.Load(),
	}
	if total > 0 {
		stats.SuccessRate = float64(success) / float64(total) * 100
	}
	return stats
}
