package brain

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/firstcontact-eis/coordinator/internal/model"
	"github.com/firstcontact-eis/coordinator/internal/telemetry"
)

// Orchestrator is the Brain: given a normalized event it gathers a read-only
// context snapshot, runs the ordered rule set, optionally consults the
// generative fallback, and emits a recommendation that always requires human
// approval. It performs no writes to external systems.
type Orchestrator struct {
	provider ContextProvider
	rules    []Rule
	decider  Decider
	planner  *Planner
	logger   *slog.Logger

	decisionsMade atomic.Int64
	ruleDecisions atomic.Int64
	aiDecisions   atomic.Int64

	decisionCounter metric.Int64Counter
}

// NewOrchestrator wires the Brain. decider may be nil, which disables the
// generative fallback entirely.
func NewOrchestrator(provider ContextProvider, rules []Rule, decider Decider, logger *slog.Logger) *Orchestrator {
	if decider == nil {
		decider = NoopDecider{}
	}
	meter := telemetry.Meter("coordinator/brain")
	decisions, _ := meter.Int64Counter("coordinator.decisions.made",
		metric.WithDescription("Decisions made, by kind and origin"),
	)
	return &Orchestrator{
		provider:        provider,
		rules:           rules,
		decider:         decider,
		planner:         NewPlanner(provider.BusinessRules()),
		logger:          logger,
		decisionCounter: decisions,
	}
}

// HandleEvent runs one event through the decision pipeline and returns the
// resulting recommendation, or nil when the event yields none. It never
// fails: context-gathering and rule errors degrade to "no recommendation",
// since a skipped optimization is recoverable and a bad action is not.
func (o *Orchestrator) HandleEvent(ctx context.Context, event model.Event) *model.Recommendation {
	if !event.Type.Orchestrable() {
		return nil
	}

	snapshot := o.gatherContext(ctx, event)
	decision := o.decide(ctx, event, snapshot)
	if decision == nil {
		o.logger.Debug("no decision for event", "event_id", event.ID, "event_type", event.Type)
		return nil
	}

	plan, summary, impact, err := o.planner.Build(*decision)
	if err != nil {
		o.logger.Error("planning failed", "event_id", event.ID, "decision_kind", decision.Kind, "error", err)
		return nil
	}
	if err := plan.Validate(); err != nil {
		o.logger.Error("planner produced an invalid plan", "event_id", event.ID, "decision_kind", decision.Kind, "error", err)
		return nil
	}

	o.decisionsMade.Add(1)
	if decision.ViaAI {
		o.aiDecisions.Add(1)
	} else {
		o.ruleDecisions.Add(1)
	}
	o.decisionCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("decision_kind", string(decision.Kind)),
			attribute.Bool("via_ai", decision.ViaAI),
		))

	now := time.Now().UTC()
	rec := &model.Recommendation{
		ID:               uuid.New(),
		Summary:          summary,
		Reasoning:        decision.Reasoning,
		Impact:           impact,
		Plan:             plan,
		Confidence:       decision.Confidence,
		Status:           model.StatusPendingApproval,
		RequiresApproval: true,
		ViaAI:            decision.ViaAI,
		EventID:          event.ID,
		EventType:        event.Type,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	o.logger.Info("recommendation created",
		"recommendation_id", rec.ID, "event_id", event.ID, "event_type", event.Type,
		"decision_kind", decision.Kind, "confidence", decision.Confidence,
		"actions", len(plan.Actions), "via_ai", decision.ViaAI)
	return rec
}

// gatherContext assembles the snapshot, degrading per collaborator: a failed
// lookup leaves its field zero-valued and is logged, never fatal.
func (o *Orchestrator) gatherContext(ctx context.Context, event model.Event) model.Context {
	snapshot := model.Context{BusinessRules: o.provider.BusinessRules()}

	if event.ClientID != nil {
		client, err := o.provider.Client(ctx, *event.ClientID)
		if err != nil {
			o.logger.Warn("client lookup failed", "event_id", event.ID, "client_id", *event.ClientID, "error", err)
		} else {
			snapshot.AffectedClient = client
		}
	}

	candidates, err := o.provider.Candidates(ctx, event)
	if err != nil {
		o.logger.Warn("candidate lookup failed", "event_id", event.ID, "error", err)
	} else {
		snapshot.Candidates = candidates
	}

	capacity, err := o.provider.ProviderCapacity(ctx, event)
	if err != nil {
		o.logger.Warn("provider capacity lookup failed", "event_id", event.ID, "error", err)
	} else {
		snapshot.ProviderCapacity = capacity
	}

	state, err := o.provider.SystemState(ctx)
	if err != nil {
		o.logger.Warn("system state lookup failed", "event_id", event.ID, "error", err)
	} else {
		snapshot.SystemState = state
	}

	patterns, err := o.provider.HistoricalPatterns(ctx, event)
	if err != nil {
		o.logger.Warn("historical pattern lookup failed", "event_id", event.ID, "error", err)
	} else {
		snapshot.HistoricalPatterns = patterns
	}

	return snapshot
}

// decide runs the ordered rules; the generative fallback is consulted only
// for events explicitly flagged ambiguous that no rule claimed.
func (o *Orchestrator) decide(ctx context.Context, event model.Event, snapshot model.Context) *model.Decision {
	for _, rule := range o.rules {
		if !rule.Matches(event) {
			continue
		}
		decision, err := rule.Decide(event, snapshot)
		if err != nil {
			o.logger.Warn("rule failed", "rule", rule.Name(), "event_id", event.ID, "error", err)
			continue
		}
		if decision != nil {
			o.logger.Debug("rule matched", "rule", rule.Name(), "event_id", event.ID)
			return decision
		}
	}

	if !event.MetaBool("ambiguous") {
		return nil
	}
	decision, err := o.decider.Decide(ctx, event, snapshot)
	if err != nil {
		o.logger.Warn("fallback decider failed", "event_id", event.ID, "error", err)
		return nil
	}
	if decision != nil {
		decision.ViaAI = true
	}
	return decision
}

// Statistics reports decision counters.
func (o *Orchestrator) Statistics() model.OrchestratorStats {
	total := o.decisionsMade.Load()
	ai := o.aiDecisions.Load()
	stats := model.OrchestratorStats{
		DecisionsMade: total,
		RuleDecisions: o.ruleDecisions.Load(),
		AIDecisions:   ai,
	}
	if total > 0 {
		stats.AIPercentage = float64(ai) / float64(total) * 100
	}
	return stats
}
