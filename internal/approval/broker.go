package approval

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/firstcontact-eis/coordinator/internal/model"
)

// Broker fans recommendation lifecycle events out to SSE subscribers.
// Publishing is in-process: the orchestration pipeline calls Publish directly,
// so subscribers see a recommendation the moment it needs eyes on it.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]struct{}
}

// NewBroker creates a broker with no subscribers.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Subscribe returns a channel that receives SSE-formatted events.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64) // Buffer to avoid blocking the publish path.
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// Publish broadcasts a recommendation snapshot under the given event name,
// e.g. "recommendation_created" or "recommendation_updated".
func (b *Broker) Publish(eventName string, rec model.Recommendation) {
	payload, err := json.Marshal(model.ViewOf(rec))
	if err != nil {
		b.logger.Error("broker: marshal recommendation", "recommendation_id", rec.ID, "error", err)
		return
	}
	b.broadcast(formatSSE(eventName, string(payload)))
}

// broadcast sends an event to all subscribers. A subscriber with a full
// buffer is skipped so one slow client cannot stall the rest.
func (b *Broker) broadcast(event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// formatSSE renders one Server-Sent Events message:
// "event: <type>\ndata: <payload>\n\n".
func formatSSE(eventType, data string) []byte {
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
