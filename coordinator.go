// Package coordinator is the public API for embedding the FirstContact
// coordination engine: the event-driven layer that watches civic-services
// case activity, turns coordination opportunities into recommendations, and
// executes approved plans across external systems.
//
//	app, err := coordinator.New(
//	    coordinator.WithVersion(version),
//	    coordinator.WithLogger(logger),
//	    coordinator.WithAdapter("send_sms", smsAdapter),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: coordinator (root)
// imports internal/*, but internal/* never imports the root. Public types
// (Event, Decision) are standalone structs; the conversion helpers live here
// because this is the only file that sees both sides of the boundary.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/firstcontact-eis/coordinator/internal/approval"
	"github.com/firstcontact-eis/coordinator/internal/brain"
	"github.com/firstcontact-eis/coordinator/internal/config"
	"github.com/firstcontact-eis/coordinator/internal/hands"
	"github.com/firstcontact-eis/coordinator/internal/model"
	"github.com/firstcontact-eis/coordinator/internal/sensors"
	"github.com/firstcontact-eis/coordinator/internal/server"
	"github.com/firstcontact-eis/coordinator/internal/storage"
	"github.com/firstcontact-eis/coordinator/internal/telemetry"
	"github.com/firstcontact-eis/coordinator/migrations"
)

// App is the coordination engine lifecycle. Construct with New(), run with
// Run(). App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB // nil when running in-memory
	listener     *sensors.Listener
	orchestrator *brain.Orchestrator
	executor     *hands.Executor
	store        *approval.Store
	executions   *approval.Executions
	broker       *approval.Broker
	srv          *server.Server
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the engine: configuration, telemetry, the optional Postgres
// archive (with migrations), and all three layers wired together. It does NOT
// start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("coordinator starting", "version", version, "port", cfg.Port, "demo_mode", cfg.DemoMode)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Optional archive. Without it the engine is fully in-memory.
	var db *storage.DB
	if cfg.DatabaseURL != "" {
		db, err = storage.New(context.Background(), cfg.DatabaseURL, cfg.DatabaseURL, logger)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("storage: %w", err)
		}
		if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("migrations: %w", err)
		}
	}

	rules := model.DefaultBusinessRules()
	rules.ScoreThreshold = cfg.ScoreThreshold
	rules.SlotCostSavings = cfg.SlotCostSavings
	rules.MaxCandidates = cfg.MaxCandidates

	provider := brain.NewDemoProvider(rules, logger)

	var decider brain.Decider
	if o.decider != nil {
		decider = &deciderBridge{inner: o.decider}
	}
	orchestrator := brain.NewOrchestrator(provider, brain.DefaultRules(), decider, logger)

	// Demo mode pre-seeds simulated adapters for every action type. With it
	// off, only explicitly registered adapters can execute.
	registry := hands.NewRegistry()
	if cfg.DemoMode {
		registry = hands.NewDemoRegistry(logger)
	}
	for actionType, adapter := range o.adapters {
		if err := registry.Register(model.ActionType(actionType), adapter); err != nil {
			if db != nil {
				db.Close(context.Background())
			}
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("adapter %s: %w", actionType, err)
		}
	}

	var archive hands.Archive
	if db != nil {
		archive = db
	}
	executor := hands.New(registry, archive, logger, hands.Config{
		MaxRetries:  cfg.MaxRetries,
		RetryDelay:  cfg.RetryDelay,
		Exponential: cfg.RetryBackoff == "exponential",
	})

	store := approval.NewStore()
	executions := approval.NewExecutions()
	broker := approval.NewBroker(logger)

	pipe := &pipeline{
		orchestrator: orchestrator,
		store:        store,
		broker:       broker,
		db:           db,
		logger:       logger,
	}

	listener := sensors.NewListener(func(ctx context.Context, event model.Event) *model.Recommendation {
		return pipe.ProcessEvent(ctx, event)
	}, logger)

	for path, eventType := range o.webhookPaths {
		t := model.EventType(eventType)
		if !t.Orchestrable() {
			if db != nil {
				db.Close(context.Background())
			}
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("webhook path %s: event type %q is not orchestrable", path, eventType)
		}
		listener.RegisterWebhookPath(path, t)
	}
	for name, check := range o.scheduledChecks {
		listener.AddSource(&sensors.ScheduledSource{
			CheckName: name,
			Interval:  cfg.ScheduleInterval,
			Cooldown:  cfg.SourceCooldown,
			Check:     bridgeCheck(check),
			Logger:    logger,
		})
	}
	if db != nil {
		feed, err := storage.NewCaseChangeFeed(context.Background(), db)
		if err != nil {
			db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("case change feed: %w", err)
		}
		listener.AddSource(&sensors.FeedSource{FeedName: "case_changes", Feed: feed, Logger: logger})
	}

	handlers := server.NewHandlers(server.HandlersDeps{
		Listener:            listener,
		Orchestrator:        orchestrator,
		Executor:            executor,
		Pipeline:            pipe,
		Store:               store,
		Executions:          executions,
		Broker:              broker,
		Pinger:              pingerOrNil(db),
		Archive:             execArchiveOrNil(db),
		RecArchive:          recArchiveOrNil(db),
		Logger:              logger,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})
	srv := server.New(server.Config{
		Handlers:     handlers,
		Logger:       logger,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	return &App{
		cfg:          cfg,
		db:           db,
		listener:     listener,
		orchestrator: orchestrator,
		executor:     executor,
		store:        store,
		executions:   executions,
		broker:       broker,
		srv:          srv,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the detection sources and the HTTP server, then blocks until ctx
// is cancelled or a fatal server error occurs. On return, Shutdown has been
// called — callers should not call it separately.
func (a *App) Run(ctx context.Context) error {
	a.listener.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.cleanup()
	return err
}

// Shutdown stops the engine outside of Run's own teardown, for embedders that
// manage the HTTP lifecycle themselves.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.srv.Shutdown(ctx)
	a.cleanup()
	return err
}

func (a *App) cleanup() {
	a.listener.Stop()
	if a.db != nil {
		a.db.Close(context.Background())
	}
	_ = a.otelShutdown(context.Background())
	a.logger.Info("coordinator stopped")
}

// pipeline is the synchronous decision path shared by every intake route:
// orchestrate, register for approval, publish to subscribers, mirror to the
// archive when configured.
type pipeline struct {
	orchestrator *brain.Orchestrator
	store        *approval.Store
	broker       *approval.Broker
	db           *storage.DB
	logger       *slog.Logger
}

func (p *pipeline) ProcessEvent(ctx context.Context, event model.Event) *model.Recommendation {
	rec := p.orchestrator.HandleEvent(ctx, event)
	if rec == nil {
		return nil
	}
	p.store.Put(*rec)
	p.broker.Publish("recommendation_created", *rec)

	if p.db != nil {
		// Audit only: archive failures never block the recommendation.
		archiveCtx := context.WithoutCancel(ctx)
		if err := p.db.RecordRecommendation(archiveCtx, *rec); err != nil {
			p.logger.Warn("recommendation archive write failed", "recommendation_id", rec.ID, "error", err)
		}
		if payload, err := json.Marshal(model.ViewOf(*rec)); err == nil {
			if err := p.db.Notify(archiveCtx, storage.ChannelRecommendations, string(payload)); err != nil {
				p.logger.Warn("recommendation notify failed", "recommendation_id", rec.ID, "error", err)
			}
		}
	}
	return rec
}

// deciderBridge adapts a public Decider to the orchestrator's interface.
type deciderBridge struct {
	inner Decider
}

func (b *deciderBridge) Decide(ctx context.Context, event model.Event, snapshot model.Context) (*model.Decision, error) {
	decision, err := b.inner.Decide(ctx, publicEvent(event))
	if err != nil || decision == nil {
		return nil, err
	}
	return &model.Decision{
		Kind:       model.DecisionKind(decision.Kind),
		ClientID:   decision.ClientID,
		ProviderID: decision.ProviderID,
		Parameters: decision.Parameters,
		Confidence: decision.Confidence,
		Reasoning:  decision.Reasoning,
	}, nil
}

func publicEvent(e model.Event) Event {
	out := Event{
		ID:       e.ID.String(),
		Type:     string(e.Type),
		Source:   string(e.Source),
		Metadata: e.Metadata,
	}
	if e.ClientID != nil {
		out.ClientID = *e.ClientID
	}
	if e.ProviderID != nil {
		out.ProviderID = *e.ProviderID
	}
	return out
}

// bridgeCheck adapts a public ScheduledCheck to the sensors package. Events
// coming back keep their declared type but get fresh IDs and the scheduled
// source attribution.
func bridgeCheck(check ScheduledCheck) sensors.ScheduledCheck {
	return func(ctx context.Context) ([]model.Event, error) {
		found, err := check(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]model.Event, 0, len(found))
		for _, e := range found {
			var clientID, providerID *string
			if e.ClientID != "" {
				clientID = &e.ClientID
			}
			if e.ProviderID != "" {
				providerID = &e.ProviderID
			}
			out = append(out, model.NewEvent(
				model.EventType(e.Type), model.SourceScheduled, clientID, providerID, e.Metadata,
			))
		}
		return out, nil
	}
}

// The nil-safe dependency helpers exist because a nil *storage.DB stored in a
// non-nil interface would defeat the handlers' nil checks.

func pingerOrNil(db *storage.DB) server.Pinger {
	if db == nil {
		return nil
	}
	return db
}

func execArchiveOrNil(db *storage.DB) server.ExecutionArchive {
	if db == nil {
		return nil
	}
	return db
}

func recArchiveOrNil(db *storage.DB) server.RecommendationArchive {
	if db == nil {
		return nil
	}
	return db
}

// Version reports the configured version string.
func (a *App) Version() string { return a.version }
