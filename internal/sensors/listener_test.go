package sensors

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firstcontact-eis/coordinator/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// collector is a Handler that records every event it receives and answers
// with a fixed decision outcome (rec, nil by default).
type collector struct {
	mu     sync.Mutex
	events []model.Event
	seen   chan struct{}
	rec    *model.Recommendation
}

func newCollector() *collector {
	return &collector{seen: make(chan struct{}, 64)}
}

func (c *collector) handle(ctx context.Context, event model.Event) *model.Recommendation {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	c.seen <- struct{}{}
	return c.rec
}

func (c *collector) wait(t *testing.T, n int) []model.Event {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Event(nil), c.events...)
}

func TestHandleWebhookKnownPath(t *testing.T) {
	c := newCollector()
	c.rec = &model.Recommendation{}
	l := NewListener(c.handle, testLogger())

	event := l.HandleWebhook(context.Background(), "appointment-cancelled", WebhookPayload{
		ClientID:   "client-1",
		ProviderID: "provider-1",
		Metadata:   map[string]any{"appointment_id": "appt-9"},
	})

	assert.Equal(t, model.EventAppointmentCancelled, event.Type)
	assert.Equal(t, model.SourceWebhook, event.Source)
	require.NotNil(t, event.ClientID)
	assert.Equal(t, "client-1", *event.ClientID)

	got := c.wait(t, 1)
	require.Len(t, got, 1)
	assert.Equal(t, event.ID, got[0].ID)

	// processed settles after the handler returns.
	require.Eventually(t, func() bool {
		return l.Statistics().EventsProcessed == 1
	}, 2*time.Second, 5*time.Millisecond)

	stats := l.Statistics()
	assert.Equal(t, int64(1), stats.EventsDetected)
	assert.Zero(t, stats.EventsIgnored)
	assert.InDelta(t, 100, stats.ProcessingRate, 1e-9)
}

func TestHandleWebhookNoRecommendationCountsIgnored(t *testing.T) {
	// An orchestrable event that yields no recommendation is ignored, not
	// processed, so processing_rate reflects real decisions.
	c := newCollector() // c.rec stays nil
	l := NewListener(c.handle, testLogger())

	l.HandleWebhook(context.Background(), "client-update", WebhookPayload{ClientID: "client-1"})
	c.wait(t, 1)

	require.Eventually(t, func() bool {
		return l.Statistics().EventsIgnored == 1
	}, 2*time.Second, 5*time.Millisecond)

	stats := l.Statistics()
	assert.Equal(t, int64(1), stats.EventsDetected)
	assert.Zero(t, stats.EventsProcessed)
	assert.Zero(t, stats.ProcessingRate)
}

func TestHandleWebhookUnknownPathIgnored(t *testing.T) {
	// Unknown senders still get detected+ignored counters, no orchestration,
	// no error.
	c := newCollector()
	l := NewListener(c.handle, testLogger())

	event := l.HandleWebhook(context.Background(), "espresso-machine-empty", WebhookPayload{})
	assert.Empty(t, event.Type)

	stats := l.Statistics()
	assert.Equal(t, int64(1), stats.EventsDetected)
	assert.Equal(t, int64(1), stats.EventsIgnored)
	assert.Zero(t, stats.EventsProcessed)
	assert.Empty(t, c.events)
}

func TestTriggerManual(t *testing.T) {
	c := newCollector()
	l := NewListener(c.handle, testLogger())
	clientID := "client-2"

	event := l.TriggerManual(context.Background(), model.EventDocumentsComplete, &clientID, nil, nil)
	assert.Equal(t, model.SourceManual, event.Source)

	got := c.wait(t, 1)
	assert.Equal(t, model.EventDocumentsComplete, got[0].Type)
}

func TestObserveManualOutcomeFeedsCounters(t *testing.T) {
	l := NewListener(newCollector().handle, testLogger())
	ctx := context.Background()
	clientID := "client-6"

	declined, ok := l.ObserveManual(ctx, model.EventClientUpdate, &clientID, nil, nil)
	require.True(t, ok)
	l.RecordOutcome(ctx, declined, false)

	acted, ok := l.ObserveManual(ctx, model.EventAppointmentCancelled, &clientID, nil, nil)
	require.True(t, ok)
	l.RecordOutcome(ctx, acted, true)

	stats := l.Statistics()
	assert.Equal(t, int64(2), stats.EventsDetected)
	assert.Equal(t, int64(1), stats.EventsProcessed)
	assert.Equal(t, int64(1), stats.EventsIgnored)
	assert.InDelta(t, 50, stats.ProcessingRate, 1e-9)
}

func TestTriggerManualNonOrchestrableIgnored(t *testing.T) {
	c := newCollector()
	l := NewListener(c.handle, testLogger())

	l.TriggerManual(context.Background(), model.EventType("reboot_universe"), nil, nil, nil)

	stats := l.Statistics()
	assert.Equal(t, int64(1), stats.EventsIgnored)
	assert.Empty(t, c.events)
}

func TestRegisterWebhookPath(t *testing.T) {
	c := newCollector()
	l := NewListener(c.handle, testLogger())
	l.RegisterWebhookPath("deadline-alert", model.EventDeadlineApproaching)

	event := l.HandleWebhook(context.Background(), "deadline-alert", WebhookPayload{ClientID: "client-3"})
	assert.Equal(t, model.EventDeadlineApproaching, event.Type)
	c.wait(t, 1)
}

func TestScheduledSourceEmits(t *testing.T) {
	c := newCollector()
	l := NewListener(c.handle, testLogger())
	clientID := "client-4"
	l.AddSource(&ScheduledSource{
		CheckName: "deadline_scan",
		Interval:  10 * time.Millisecond,
		Cooldown:  time.Minute,
		Logger:    testLogger(),
		Check: func(ctx context.Context) ([]model.Event, error) {
			return []model.Event{
				model.NewEvent(model.EventDeadlineApproaching, model.SourceScheduled, &clientID, nil, nil),
			}, nil
		},
	})

	l.Start(context.Background())
	defer l.Stop()

	got := c.wait(t, 1)
	assert.Equal(t, model.EventDeadlineApproaching, got[0].Type)
	assert.Equal(t, 1, l.Statistics().ActiveSources)
}

func TestScheduledSourceRecoversFromPanic(t *testing.T) {
	// One panicking iteration must not kill the source; later iterations
	// still run once the cooldown passes.
	c := newCollector()
	l := NewListener(c.handle, testLogger())
	var calls int
	var mu sync.Mutex
	l.AddSource(&ScheduledSource{
		CheckName: "flaky_scan",
		Interval:  5 * time.Millisecond,
		Cooldown:  5 * time.Millisecond,
		Logger:    testLogger(),
		Check: func(ctx context.Context) ([]model.Event, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 1 {
				panic("scan exploded")
			}
			if n == 2 {
				return nil, errors.New("transient scan failure")
			}
			return []model.Event{
				model.NewEvent(model.EventProviderCapacityChange, model.SourceScheduled, nil, nil, nil),
			}, nil
		},
	})

	l.Start(context.Background())
	defer l.Stop()

	got := c.wait(t, 1)
	assert.Equal(t, model.EventProviderCapacityChange, got[0].Type)
	mu.Lock()
	assert.GreaterOrEqual(t, calls, 3)
	mu.Unlock()
}

func TestStartStopIdempotent(t *testing.T) {
	l := NewListener(newCollector().handle, testLogger())
	ctx := context.Background()

	l.Start(ctx)
	l.Start(ctx) // second start is a no-op
	l.Stop()
	l.Stop() // second stop is a no-op
}

type stubFeed struct {
	events chan model.Event
}

func (f *stubFeed) WaitForEvent(ctx context.Context) (model.Event, error) {
	select {
	case <-ctx.Done():
		return model.Event{}, ctx.Err()
	case e := <-f.events:
		return e, nil
	}
}

func TestFeedSource(t *testing.T) {
	c := newCollector()
	l := NewListener(c.handle, testLogger())
	feed := &stubFeed{events: make(chan model.Event, 1)}
	l.AddSource(&FeedSource{FeedName: "case_changes", Feed: feed, Logger: testLogger()})

	l.Start(context.Background())
	defer l.Stop()

	clientID := "client-5"
	feed.events <- model.NewEvent(model.EventClientUpdate, model.SourceDatabase, &clientID, nil, nil)

	got := c.wait(t, 1)
	assert.Equal(t, model.EventClientUpdate, got[0].Type)
	assert.Equal(t, model.SourceDatabase, got[0].Source)
}
