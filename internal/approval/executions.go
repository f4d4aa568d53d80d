package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/firstcontact-eis/coordinator/internal/model"
)

// ErrPlanNotFound means no execution, live or finished, is tracked under the
// given plan id.
var ErrPlanNotFound = errors.New("approval: plan not found")

// Execution is a supervised run of one approved plan. Status queries go
// through the handle, so "executing" is the live truth rather than a stored
// guess; the result becomes available once Done is closed.
type Execution struct {
	PlanID           uuid.UUID
	RecommendationID uuid.UUID

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result model.ExecutionResult
}

// Done is closed when the execution has finished.
func (e *Execution) Done() <-chan struct{} { return e.done }

// Result returns the outcome. Before Done is closed it reports a live
// "executing" placeholder.
func (e *Execution) Result() model.ExecutionResult {
	select {
	case <-e.done:
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.result
	default:
		return model.ExecutionResult{PlanID: e.PlanID, Status: model.PlanExecuting}
	}
}

// Cancel requests a best-effort stop. The executor honors it between
// actions; an in-flight adapter call still completes.
func (e *Execution) Cancel() { e.cancel() }

// Executions tracks supervised executions by plan id. Finished executions
// stay queryable; the registry is process-lifetime state like the store.
type Executions struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*Execution
}

// NewExecutions creates an empty registry.
func NewExecutions() *Executions {
	return &Executions{byID: make(map[uuid.UUID]*Execution)}
}

// Launch starts run on its own goroutine under a cancellable context derived
// from ctx and returns the tracking handle.
func (x *Executions) Launch(ctx context.Context, planID, recommendationID uuid.UUID, run func(ctx context.Context) model.ExecutionResult) *Execution {
	runCtx, cancel := context.WithCancel(ctx)
	e := &Execution{
		PlanID:           planID,
		RecommendationID: recommendationID,
		cancel:           cancel,
		done:             make(chan struct{}),
	}

	x.mu.Lock()
	x.byID[planID] = e
	x.mu.Unlock()

	go func() {
		defer cancel()
		result := run(runCtx)
		e.mu.Lock()
		e.result = result
		e.mu.Unlock()
		close(e.done)
	}()
	return e
}

// Get returns the execution for a plan id.
func (x *Executions) Get(planID uuid.UUID) (*Execution, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	e, ok := x.byID[planID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	return e, nil
}
