package coordinator

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port            int
	databaseURL     string
	logger          *slog.Logger
	version         string
	decider         Decider
	adapters        map[string]Adapter
	scheduledChecks map[string]ScheduledCheck
	webhookPaths    map[string]string
}

// WithPort overrides the TCP port from config (COORD_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the Postgres connection string from config
// (COORD_DATABASE_URL env var). Empty means fully in-memory.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithDecider sets the generative fallback consulted for ambiguous events no
// rule claims. Without it, such events produce no recommendation.
func WithDecider(d Decider) Option {
	return func(o *resolvedOptions) { o.decider = d }
}

// WithAdapter binds a real adapter to an action type, replacing the demo
// adapter for that type. actionType must be one of the engine's action kinds
// (cancel_appointment, book_appointment, ...); unknown types fail New.
func WithAdapter(actionType string, a Adapter) Option {
	return func(o *resolvedOptions) {
		if o.adapters == nil {
			o.adapters = make(map[string]Adapter)
		}
		o.adapters[actionType] = a
	}
}

// WithScheduledCheck registers a periodic detection pass under the given
// name, run on the configured schedule interval.
func WithScheduledCheck(name string, check ScheduledCheck) Option {
	return func(o *resolvedOptions) {
		if o.scheduledChecks == nil {
			o.scheduledChecks = make(map[string]ScheduledCheck)
		}
		o.scheduledChecks[name] = check
	}
}

// WithWebhookPath maps an additional webhook suffix to an event type, for
// external systems whose paths are not in the default table.
func WithWebhookPath(path, eventType string) Option {
	return func(o *resolvedOptions) {
		if o.webhookPaths == nil {
			o.webhookPaths = make(map[string]string)
		}
		o.webhookPaths[path] = eventType
	}
}
