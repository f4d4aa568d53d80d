package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies a normalized trigger record.
type EventType string

const (
	// Appointment events.
	EventAppointmentCancelled EventType = "appointment_cancelled"
	EventAppointmentNoShow    EventType = "appointment_no_show"

	// Housing events.
	EventHousingAvailable EventType = "housing_available"

	// Client progress events.
	EventDocumentsComplete EventType = "documents_complete"
	EventClientUpdate      EventType = "client_update"

	// Scheduled / capacity events.
	EventDeadlineApproaching    EventType = "deadline_approaching"
	EventProviderCapacityChange EventType = "provider_capacity_change"
)

// orchestrable is the closed set of event types the Brain acts on.
// Anything outside this set is counted as ignored, never an error.
var orchestrable = map[EventType]bool{
	EventAppointmentCancelled:   true,
	EventAppointmentNoShow:      true,
	EventHousingAvailable:       true,
	EventDocumentsComplete:      true,
	EventDeadlineApproaching:    true,
	EventClientUpdate:           true,
	EventProviderCapacityChange: true,
}

// Orchestrable reports whether events of this type can produce a recommendation.
func (t EventType) Orchestrable() bool {
	return orchestrable[t]
}

// EventSource identifies where an event was detected.
type EventSource string

const (
	SourceWebhook   EventSource = "webhook"
	SourceDatabase  EventSource = "database"
	SourceScheduled EventSource = "scheduled"
	SourceManual    EventSource = "manual"
)

// Event is a normalized trigger record. Immutable once created and transient:
// the coordination core never persists events itself.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       EventType      `json:"event_type"`
	Source     EventSource    `json:"source"`
	Timestamp  time.Time      `json:"timestamp"`
	ClientID   *string        `json:"client_id,omitempty"`
	ProviderID *string        `json:"provider_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewEvent builds an Event with a fresh ID and the current timestamp.
func NewEvent(t EventType, source EventSource, clientID, providerID *string, metadata map[string]any) Event {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return Event{
		ID:         uuid.New(),
		Type:       t,
		Source:     source,
		Timestamp:  time.Now().UTC(),
		ClientID:   clientID,
		ProviderID: providerID,
		Metadata:   metadata,
	}
}

// MetaString returns a string metadata field, or "" when absent or mistyped.
func (e Event) MetaString(key string) string {
	if v, ok := e.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MetaBool returns a boolean metadata field, false when absent or mistyped.
func (e Event) MetaBool(key string) bool {
	v, _ := e.Metadata[key].(bool)
	return v
}
