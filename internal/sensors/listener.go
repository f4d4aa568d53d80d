package sensors

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/firstcontact-eis/coordinator/internal/model"
	"github.com/firstcontact-eis/coordinator/internal/telemetry"
)

// Handler consumes a detected, orchestrable event and reports the decision
// outcome: the recommendation produced, or nil when the Brain declined. The
// listener calls it on a fresh goroutine per event so one slow decision never
// blocks detection, and folds the result into the processed/ignored counters.
type Handler func(ctx context.Context, event model.Event) *model.Recommendation

// Listener is the Sensors layer: it owns the detection sources, normalizes
// raw signals into model.Event records, filters out non-orchestrable noise
// and hands the rest to the handler.
type Listener struct {
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	sources []Source
	paths   map[string]model.EventType
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	detected  atomic.Int64
	processed atomic.Int64
	ignored   atomic.Int64

	eventCounter metric.Int64Counter
}

// NewListener builds a listener with the default webhook path table.
func NewListener(handler Handler, logger *slog.Logger) *Listener {
	paths := make(map[string]model.EventType, len(defaultWebhookPaths))
	for p, t := range defaultWebhookPaths {
		paths[p] = t
	}
	meter := telemetry.Meter("coordinator/sensors")
	events, _ := meter.Int64Counter("coordinator.events.detected",
		metric.WithDescription("Events detected, by type, source and disposition"),
	)
	return &Listener{
		handler:      handler,
		logger:       logger,
		paths:        paths,
		eventCounter: events,
	}
}

// AddSource registers a detection source. Sources added after Start are
// picked up on the next Start.
func (l *Listener) AddSource(s Source) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources = append(l.sources, s)
}

// RegisterWebhookPath maps an additional webhook suffix to an event type.
func (l *Listener) RegisterWebhookPath(path string, t model.EventType) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paths[path] = t
}

// Start launches all registered sources. Calling Start on a running listener
// is a no-op.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.running = true

	for _, s := range l.sources {
		l.wg.Add(1)
		go func(s Source) {
			defer l.wg.Done()
			l.logger.Info("source started", "source", s.Name())
			if err := s.Run(ctx, func(e model.Event) { l.dispatch(ctx, e) }); err != nil {
				l.logger.Error("source failed", "source", s.Name(), "error", err)
				return
			}
			l.logger.Info("source stopped", "source", s.Name())
		}(s)
	}
	l.logger.Info("event listener started", "sources", len(l.sources), "webhook_paths", len(l.paths))
}

// Stop cancels all sources and waits for them to unwind. Idempotent.
func (l *Listener) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel := l.cancel
	l.mu.Unlock()

	cancel()
	l.wg.Wait()
	l.logger.Info("event listener stopped")
}

// HandleWebhook ingests one webhook delivery. Unknown paths are counted and
// dropped without error: external systems get a 202 either way, and noisy
// senders must not be able to surface failures out of the intake path.
func (l *Listener) HandleWebhook(ctx context.Context, path string, payload WebhookPayload) model.Event {
	l.mu.Lock()
	eventType, known := l.paths[path]
	l.mu.Unlock()

	if !known {
		l.detected.Add(1)
		l.ignored.Add(1)
		l.logger.Debug("webhook for unknown path ignored", "path", path)
		l.count(ctx, model.EventType("unknown"), model.SourceWebhook, "ignored")
		return model.Event{}
	}

	var clientID, providerID *string
	if payload.ClientID != "" {
		clientID = &payload.ClientID
	}
	if payload.ProviderID != "" {
		providerID = &payload.ProviderID
	}
	event := model.NewEvent(eventType, model.SourceWebhook, clientID, providerID, payload.Metadata)
	l.dispatch(ctx, event)
	return event
}

// TriggerManual injects an event as if detected, for demos and operator use.
func (l *Listener) TriggerManual(ctx context.Context, t model.EventType, clientID, providerID *string, metadata map[string]any) model.Event {
	event := model.NewEvent(t, model.SourceManual, clientID, providerID, metadata)
	l.dispatch(ctx, event)
	return event
}

// ObserveManual records a manual event in the intake counters without
// dispatching it, for callers that run the decision pipeline synchronously.
// ok is false when the event type is not orchestrable. The caller reports the
// pipeline result via RecordOutcome; until then the event counts only as
// detected.
func (l *Listener) ObserveManual(ctx context.Context, t model.EventType, clientID, providerID *string, metadata map[string]any) (model.Event, bool) {
	event := model.NewEvent(t, model.SourceManual, clientID, providerID, metadata)
	l.detected.Add(1)
	if !event.Type.Orchestrable() {
		l.ignored.Add(1)
		l.count(ctx, event.Type, event.Source, "ignored")
		return event, false
	}
	l.logger.Info("event detected", "event_id", event.ID, "event_type", event.Type, "source", event.Source)
	return event, true
}

// RecordOutcome folds a decision result back into the intake counters for an
// event observed via ObserveManual.
func (l *Listener) RecordOutcome(ctx context.Context, event model.Event, produced bool) {
	l.recordOutcome(ctx, event, produced)
}

// recordOutcome counts an orchestrable event as processed only when a
// recommendation came out of it. Events the Brain declined are ignored, the
// same as non-orchestrable noise.
func (l *Listener) recordOutcome(ctx context.Context, event model.Event, produced bool) {
	if produced {
		l.processed.Add(1)
		l.count(ctx, event.Type, event.Source, "processed")
		return
	}
	l.ignored.Add(1)
	l.logger.Debug("event produced no recommendation", "event_id", event.ID, "event_type", event.Type)
	l.count(ctx, event.Type, event.Source, "ignored")
}

// dispatch counts the event and, when orchestrable, hands it to the handler
// on its own goroutine. processed/ignored are settled after the handler
// returns, from its result.
func (l *Listener) dispatch(ctx context.Context, event model.Event) {
	l.detected.Add(1)
	if !event.Type.Orchestrable() {
		l.ignored.Add(1)
		l.logger.Debug("event ignored", "event_id", event.ID, "event_type", event.Type, "source", event.Source)
		l.count(ctx, event.Type, event.Source, "ignored")
		return
	}
	l.logger.Info("event detected", "event_id", event.ID, "event_type", event.Type, "source", event.Source)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		// Detached from the request context: the caller's 202 must not
		// cancel the decision pipeline.
		ctx := context.WithoutCancel(ctx)
		rec := l.handler(ctx, event)
		l.recordOutcome(ctx, event, rec != nil)
	}()
}

func (l *Listener) count(ctx context.Context, t model.EventType, source model.EventSource, disposition string) {
	l.eventCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event_type", string(t)),
			attribute.String("source", string(source)),
			attribute.String("disposition", disposition),
		))
}

// Statistics reports intake counters.
func (l *Listener) Statistics() model.ListenerStats {
	l.mu.Lock()
	sources := len(l.sources)
	paths := len(l.paths)
	l.mu.Unlock()

	detected := l.detected.Load()
	processed := l.processed.Load()
	stats := model.ListenerStats{
		EventsDetected:  detected,
		EventsProcessed: processed,
		EventsIgnored:   l.ignored.Load(),
		ActiveSources:   sources,
		WebhookPaths:    paths,
	}
	if detected > 0 {
		stats.ProcessingRate = float64(processed) / float64(detected) * 100
	}
	return stats
}
