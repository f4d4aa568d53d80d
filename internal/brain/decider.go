package brain

import (
	"context"

	"github.com/firstcontact-eis/coordinator/internal/model"
)

// Decider is the generative fallback consulted only when no rule matches an
// event flagged as ambiguous. Returning (nil, nil) means no opinion; returning
// an error degrades to "no recommendation" like any other decision failure.
type Decider interface {
	Decide(ctx context.Context, event model.Event, snapshot model.Context) (*model.Decision, error)
}

// NoopDecider never has an opinion. It is the default: the engine runs on
// rules alone unless a real generative collaborator is wired in.
type NoopDecider struct{}

func (NoopDecider) Decide(ctx context.Context, event model.Event, snapshot model.Context) (*model.Decision, error) {
	return nil, nil
}
