package coordinator

import "context"

// Event is the public projection of a detected trigger record, passed to
// custom deciders and returned by scheduled checks. Uses plain strings so
// consumers never import internal packages.
type Event struct {
	ID         string
	Type       string
	Source     string
	ClientID   string
	ProviderID string
	Metadata   map[string]any
}

// Decision is a coordination decision produced by a custom Decider.
// Kind must be one of the engine's decision kinds (bump_appointment,
// housing_match, fast_track_intake, send_reminders); anything else fails
// planning and degrades to "no recommendation".
type Decision struct {
	Kind       string
	ClientID   string
	ProviderID string
	Parameters map[string]any
	Confidence float64
	Reasoning  []string
}

// Decider is the generative fallback consulted for events no rule claims
// that are flagged ambiguous. Return (nil, nil) for "no opinion"; errors are
// logged and degrade to "no recommendation".
type Decider interface {
	Decide(ctx context.Context, event Event) (*Decision, error)
}

// Adapter executes one kind of action against an external system.
// Execute's returned map is stored on the action result and handed back to
// Rollback verbatim, so put whatever compensation needs in it.
type Adapter interface {
	Execute(ctx context.Context, params map[string]any) (map[string]any, error)
	Rollback(ctx context.Context, params map[string]any) error
}

// ScheduledCheck is a periodic detection pass registered with
// WithScheduledCheck. It runs on the configured schedule interval; errors put
// the check on cooldown, panics are recovered.
type ScheduledCheck func(ctx context.Context) ([]Event, error)
