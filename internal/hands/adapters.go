// Package hands executes approved coordination plans across external systems.
//
// Each action kind is bound to an Adapter for its target system. The executor
// walks an approved plan sequentially, retries transient failures, and rolls
// back the completed prefix when a critical action fails terminally.
package hands

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/firstcontact-eis/coordinator/internal/model"
)

// Adapter executes one kind of action against its target system and can
// compensate for it after the fact. Implementations are external
// collaborators; the engine ships only the demo no-op mode.
type Adapter interface {
	// Execute performs the action and returns system-specific result data.
	Execute(ctx context.Context, params map[string]any) (map[string]any, error)
	// Rollback compensates for a previously completed Execute call.
	Rollback(ctx context.Context, params map[string]any) error
}

// Registry resolves action types to adapters. Registration is expected at
// wiring time but is safe under concurrent lookup either way.
type Registry struct {
	mu       sync.RWMutex
	adapters map[model.ActionType]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[model.ActionType]Adapter)}
}

// Register binds an adapter to an action type, replacing any previous binding.
// Unknown action types are rejected so wiring typos fail fast.
func (r *Registry) Register(t model.ActionType, a Adapter) error {
	if !t.Known() {
		return fmt.Errorf("hands: register: unknown action type %q", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[t] = a
	return nil
}

// Adapter returns the adapter bound to t, if any.
func (r *Registry) Adapter(t model.ActionType) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[t]
	return a, ok
}

// demoResults are the canned confirmations returned by the demo adapters,
// one per action kind, so demo executions look like real system responses.
var demoResults = map[model.ActionType]map[string]any{
	model.ActionCancelAppointment: {"status": "cancelled", "confirmation": "DEMO-12345"},
	model.ActionBookAppointment:   {"status": "booked", "confirmation": "DEMO-67890"},
	model.ActionUpdateTransport:   {"status": "updated", "route_id": "DEMO-ROUTE-001"},
	model.ActionSendSMS:           {"status": "sent", "message_id": "DEMO-SMS-001"},
	model.ActionNotifyProvider:    {"status": "notified"},
	model.ActionUpdateCase:        {"status": "updated"},
	model.ActionSendReminder:      {"status": "sent", "message_id": "DEMO-SMS-002"},
	model.ActionReserveHousing:    {"status": "reserved", "unit_hold": "DEMO-HOLD-001"},
	model.ActionScheduleIntake:    {"status": "scheduled", "confirmation": "DEMO-INTAKE-001"},
}

// DemoAdapter is the no-op adapter used when live integrations are not
// configured. It logs what a real adapter would have done and returns a
// canned confirmation.
type DemoAdapter struct {
	Kind   model.ActionType
	Logger *slog.Logger
}

func (d DemoAdapter) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.Logger.Info("demo adapter executing", "action_type", d.Kind, "target_system", d.Kind.System(), "params", params)
	result := make(map[string]any, len(demoResults[d.Kind]))
	for k, v := range demoResults[d.Kind] {
		result[k] = v
	}
	return result, nil
}

func (d DemoAdapter) Rollback(ctx context.Context, params map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.Logger.Info("demo adapter rolling back", "action_type", d.Kind, "target_system", d.Kind.System())
	return nil
}

// NewDemoRegistry returns a registry with a demo adapter bound to every
// known action kind.
func NewDemoRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry()
	for t := range demoResults {
		_ = r.Register(t, DemoAdapter{Kind: t, Logger: logger})
	}
	return r
}
