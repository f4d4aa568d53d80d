package model

import "time"

// Client is the slice of a client record the Brain needs for scoring.
// It is a read-only projection of the case-management data model, which is
// owned by an external collaborator.
type Client struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name,omitempty"`
	UrgencyScore        int        `json:"urgency_score"` // 0-10 scale from intake triage.
	DocumentsComplete   bool       `json:"documents_complete"`
	TransportCompatible bool       `json:"transport_compatible"`
	HasConflict         bool       `json:"has_conflict"`
	WaitlistedSince     *time.Time `json:"waitlisted_since,omitempty"`
	HousingReady        bool       `json:"housing_ready"`
}

// ProviderCapacity is a coarse availability snapshot for one provider.
type ProviderCapacity struct {
	ProviderID     string    `json:"provider_id"`
	OpenSlots      int       `json:"open_slots"`
	NextAvailable  time.Time `json:"next_available,omitzero"`
	AcceptsWalkIns bool      `json:"accepts_walk_ins"`
}

// SystemState is a coarse snapshot of the surrounding systems.
type SystemState struct {
	TransportOnline     bool `json:"transport_online"`
	NotificationsOnline bool `json:"notifications_online"`
	PendingExecutions   int  `json:"pending_executions"`
}

// HistoricalPattern summarizes a past coordination outcome relevant to the
// current event, used as advisory input only.
type HistoricalPattern struct {
	EventType   EventType `json:"event_type"`
	Description string    `json:"description"`
	SuccessRate float64   `json:"success_rate"`
	SampleSize  int       `json:"sample_size"`
}

// BusinessRules carries tunable rule thresholds loaded from configuration.
type BusinessRules struct {
	ScoreThreshold     float64       `json:"score_threshold"`      // minimum candidate score to act on
	SlotCostSavings    float64       `json:"slot_cost_savings"`    // dollar value of an avoided empty slot
	ReminderLeadTime   time.Duration `json:"reminder_lead_time"`   // how far ahead deadline reminders fire
	MaxCandidates      int           `json:"max_candidates"`       // bound on the related-client query
	TransportLeadTime  time.Duration `json:"transport_lead_time"`  // pickup scheduled this long before the slot
	IntakeFastTrackCap int           `json:"intake_fast_track_cap"` // max fast-track intakes per event
}

// DefaultBusinessRules returns the thresholds used when no configuration
// overrides them.
func DefaultBusinessRules() BusinessRules {
	return BusinessRules{
		ScoreThreshold:     0.7,
		SlotCostSavings:    120, // average appointment cost
		ReminderLeadTime:   72 * time.Hour,
		MaxCandidates:      25,
		TransportLeadTime:  30 * time.Minute,
		IntakeFastTrackCap: 1,
	}
}

// Context is the read-only snapshot assembled to make one decision.
// It is owned exclusively by the HandleEvent call that built it and is never
// shared across concurrent decisions.
type Context struct {
	AffectedClient     *Client             `json:"affected_client,omitempty"`
	Candidates         []Client            `json:"candidates,omitempty"`
	ProviderCapacity   ProviderCapacity    `json:"provider_capacity"`
	SystemState        SystemState         `json:"system_state"`
	HistoricalPatterns []HistoricalPattern `json:"historical_patterns,omitempty"`
	BusinessRules      BusinessRules       `json:"business_rules"`
}
