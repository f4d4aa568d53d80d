package model

// DecisionKind identifies the coordination opportunity a decision acts on.
type DecisionKind string

const (
	DecisionBumpAppointment DecisionKind = "bump_appointment"
	DecisionHousingMatch    DecisionKind = "housing_match"
	DecisionFastTrackIntake DecisionKind = "fast_track_intake"
	DecisionSendReminders   DecisionKind = "send_reminders"
)

// Decision is the orchestrator's chosen action with reasoning and confidence.
// Produced by exactly one rule (or the generative fallback) per handled event.
type Decision struct {
	Kind       DecisionKind   `json:"decision_type"`
	ClientID   string         `json:"client_id,omitempty"`
	ProviderID string         `json:"provider_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Confidence float64        `json:"confidence"`
	Reasoning  []string       `json:"reasoning"`
	ViaAI      bool           `json:"via_ai"` // true when the generative fallback produced it
}
