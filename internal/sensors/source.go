package sensors

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firstcontact-eis/coordinator/internal/model"
)

// Source is one channel of event detection. Run blocks until ctx is done,
// calling emit for each detected event; returning a non-nil error before that
// marks the source failed (the listener logs it and carries on with the rest).
type Source interface {
	Name() string
	Run(ctx context.Context, emit func(model.Event)) error
}

// defaultWebhookPaths maps webhook URL suffixes to event types. External
// systems are registered against these paths; anything else is ignored.
var defaultWebhookPaths = map[string]model.EventType{
	"appointment-cancelled":    model.EventAppointmentCancelled,
	"appointment-no-show":      model.EventAppointmentNoShow,
	"housing-available":        model.EventHousingAvailable,
	"documents-complete":       model.EventDocumentsComplete,
	"client-update":            model.EventClientUpdate,
	"provider-capacity-change": model.EventProviderCapacityChange,
}

// WebhookPayload is the body external systems POST to /webhooks/{path}.
// Unknown fields land in Metadata untouched.
type WebhookPayload struct {
	ClientID   string         `json:"client_id,omitempty"`
	ProviderID string         `json:"provider_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ScheduledCheck is one periodic detection pass, e.g. the deadline scan.
// It returns the events found in this pass.
type ScheduledCheck func(ctx context.Context) ([]model.Event, error)

// ScheduledSource runs a check on a fixed interval. A panicking or failing
// check never takes the source down: panics are recovered per iteration and
// errors put the source on cooldown before the next attempt.
type ScheduledSource struct {
	CheckName string
	Interval  time.Duration
	Cooldown  time.Duration
	Check     ScheduledCheck
	Logger    *slog.Logger
}

func (s *ScheduledSource) Name() string { return s.CheckName }

func (s *ScheduledSource) Run(ctx context.Context, emit func(model.Event)) error {
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var coolUntil time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if time.Now().Before(coolUntil) {
				continue
			}
			events, err := s.runCheck(ctx)
			if err != nil {
				s.Logger.Warn("scheduled check failed", "source", s.CheckName, "cooldown", s.Cooldown, "error", err)
				coolUntil = time.Now().Add(s.Cooldown)
				continue
			}
			for _, e := range events {
				emit(e)
			}
		}
	}
}

func (s *ScheduledSource) runCheck(ctx context.Context) (events []model.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sensors: check %s panicked: %v", s.CheckName, r)
		}
	}()
	return s.Check(ctx)
}

// DeadlineCheck builds the periodic deadline scan over a ContextProvider-like
// lookup. lookup returns clients with a deadline inside the lead window,
// keyed by deadline date string.
func DeadlineCheck(lookup func(ctx context.Context) (map[string][]string, error)) ScheduledCheck {
	return func(ctx context.Context) ([]model.Event, error) {
		atRisk, err := lookup(ctx)
		if err != nil {
			return nil, err
		}
		var events []model.Event
		for deadline, clientIDs := range atRisk {
			for _, id := range clientIDs {
				clientID := id
				events = append(events, model.NewEvent(
					model.EventDeadlineApproaching, model.SourceScheduled, &clientID, nil,
					map[string]any{"deadline": deadline, "deadline_type": "recertification"},
				))
			}
		}
		return events, nil
	}
}

// ChangeFeed is a blocking stream of events from an external change log,
// e.g. Postgres LISTEN/NOTIFY on case-record updates.
type ChangeFeed interface {
	// WaitForEvent blocks until the next event or ctx cancellation.
	WaitForEvent(ctx context.Context) (model.Event, error)
}

// FeedSource adapts a ChangeFeed into a Source.
type FeedSource struct {
	FeedName string
	Feed     ChangeFeed
	Logger   *slog.Logger
}

func (f *FeedSource) Name() string { return f.FeedName }

func (f *FeedSource) Run(ctx context.Context, emit func(model.Event)) error {
	for {
		event, err := f.Feed.WaitForEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sensors: feed %s: %w", f.FeedName, err)
		}
		emit(event)
	}
}
