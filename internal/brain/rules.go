package brain

import (
	"fmt"
	"math"
	"time"

	"github.com/firstcontact-eis/coordinator/internal/model"
)

// Rule is one deterministic coordination policy. Rules are evaluated in
// order; the first rule that both Matches the event and returns a non-nil
// decision wins. A rule returning (nil, nil) passes the event to the next.
type Rule interface {
	Name() string
	Matches(event model.Event) bool
	Decide(event model.Event, snapshot model.Context) (*model.Decision, error)
}

// DefaultRules returns the shipped rule set in priority order.
func DefaultRules() []Rule {
	return []Rule{
		slotReoptimizationRule{},
		housingMatchRule{},
		documentsFastTrackRule{},
		deadlineReminderRule{},
	}
}

// candidateScore ranks how well a waitlisted client fits a freed slot.
// Urgency dominates at 40%; documentation readiness, transport compatibility
// and schedule availability carry 20% each. The result is clamped to [0, 1].
func candidateScore(c model.Client) float64 {
	score := 0.4 * math.Min(float64(c.UrgencyScore)/10, 1)
	if c.DocumentsComplete {
		score += 0.2
	}
	if c.TransportCompatible {
		score += 0.2
	}
	if !c.HasConflict {
		score += 0.2
	}
	return math.Max(0, math.Min(score, 1))
}

// bestCandidate returns the highest-scoring candidate, keeping the first seen
// on ties so ranking is deterministic for a given candidate order.
func bestCandidate(candidates []model.Client) (model.Client, float64, bool) {
	var (
		best  model.Client
		top   float64
		found bool
	)
	for _, c := range candidates {
		s := candidateScore(c)
		if !found || s > top {
			best, top, found = c, s, true
		}
	}
	return best, top, found
}

// slotReoptimizationRule backfills a freed appointment slot with the
// best-scoring waitlisted client.
type slotReoptimizationRule struct{}

func (slotReoptimizationRule) Name() string { return "slot_reoptimization" }

func (slotReoptimizationRule) Matches(event model.Event) bool {
	return event.Type == model.EventAppointmentCancelled || event.Type == model.EventAppointmentNoShow
}

func (slotReoptimizationRule) Decide(event model.Event, snapshot model.Context) (*model.Decision, error) {
	if len(snapshot.Candidates) == 0 {
		return nil, nil
	}
	best, score, ok := bestCandidate(snapshot.Candidates)
	if !ok || score <= snapshot.BusinessRules.ScoreThreshold {
		return nil, nil
	}

	providerID := ""
	if event.ProviderID != nil {
		providerID = *event.ProviderID
	}
	slotTime := event.MetaString("slot_time")
	if slotTime == "" {
		slotTime = time.Now().UTC().Add(24 * time.Hour).Format(time.RFC3339)
	}

	reasoning := []string{
		fmt.Sprintf("slot freed by %s", event.Type),
		fmt.Sprintf("%s scored %.2f across %d waitlisted candidates (threshold %.2f)",
			best.ID, score, len(snapshot.Candidates), snapshot.BusinessRules.ScoreThreshold),
		fmt.Sprintf("urgency %d/10, documents complete: %t, transport compatible: %t, schedule conflict: %t",
			best.UrgencyScore, best.DocumentsComplete, best.TransportCompatible, best.HasConflict),
	}
	return &model.Decision{
		Kind:       model.DecisionBumpAppointment,
		ClientID:   best.ID,
		ProviderID: providerID,
		Parameters: map[string]any{
			"appointment_id": event.MetaString("appointment_id"),
			"slot_time":      slotTime,
			"client_name":    best.Name,
		},
		Confidence: score,
		Reasoning:  reasoning,
	}, nil
}

// housingMatchRule places the longest-waiting housing-ready client into a
// newly available unit.
type housingMatchRule struct{}

func (housingMatchRule) Name() string { return "housing_match" }

func (housingMatchRule) Matches(event model.Event) bool {
	return event.Type == model.EventHousingAvailable
}

func (housingMatchRule) Decide(event model.Event, snapshot model.Context) (*model.Decision, error) {
	var (
		best  *model.Client
		since time.Time
	)
	for i, c := range snapshot.Candidates {
		if !c.HousingReady || c.WaitlistedSince == nil {
			continue
		}
		if best == nil || c.WaitlistedSince.Before(since) {
			best = &snapshot.Candidates[i]
			since = *c.WaitlistedSince
		}
	}
	if best == nil {
		return nil, nil
	}
	waited := time.Since(since).Truncate(24 * time.Hour)
	return &model.Decision{
		Kind:     model.DecisionHousingMatch,
		ClientID: best.ID,
		Parameters: map[string]any{
			"unit_id":     event.MetaString("unit_id"),
			"client_name": best.Name,
		},
		Confidence: 0.85,
		Reasoning: []string{
			"housing unit became available",
			fmt.Sprintf("%s is housing-ready and has waited longest (%s)", best.ID, waited),
		},
	}, nil
}

// documentsFastTrackRule schedules the earliest available intake once a
// client's documentation is complete.
type documentsFastTrackRule struct{}

func (documentsFastTrackRule) Name() string { return "documents_fast_track" }

func (documentsFastTrackRule) Matches(event model.Event) bool {
	return event.Type == model.EventDocumentsComplete
}

func (documentsFastTrackRule) Decide(event model.Event, snapshot model.Context) (*model.Decision, error) {
	if snapshot.AffectedClient == nil {
		return nil, nil
	}
	if snapshot.ProviderCapacity.OpenSlots == 0 && !snapshot.ProviderCapacity.AcceptsWalkIns {
		return nil, nil
	}
	intake := snapshot.ProviderCapacity.NextAvailable
	if intake.IsZero() {
		intake = time.Now().UTC().Add(24 * time.Hour)
	}
	return &model.Decision{
		Kind:       model.DecisionFastTrackIntake,
		ClientID:   snapshot.AffectedClient.ID,
		ProviderID: snapshot.ProviderCapacity.ProviderID,
		Parameters: map[string]any{
			"intake_time": intake.Format(time.RFC3339),
		},
		Confidence: 0.9,
		Reasoning: []string{
			fmt.Sprintf("%s completed required documentation", snapshot.AffectedClient.ID),
			fmt.Sprintf("next intake slot with %s at %s",
				snapshot.ProviderCapacity.ProviderID, intake.Format(time.RFC3339)),
		},
	}, nil
}

// deadlineReminderRule nudges the affected client ahead of an approaching
// compliance deadline.
type deadlineReminderRule struct{}

func (deadlineReminderRule) Name() string { return "deadline_reminder" }

func (deadlineReminderRule) Matches(event model.Event) bool {
	return event.Type == model.EventDeadlineApproaching
}

func (deadlineReminderRule) Decide(event model.Event, snapshot model.Context) (*model.Decision, error) {
	if event.ClientID == nil {
		return nil, nil
	}
	deadline := event.MetaString("deadline")
	return &model.Decision{
		Kind:     model.DecisionSendReminders,
		ClientID: *event.ClientID,
		Parameters: map[string]any{
			"deadline":      deadline,
			"deadline_type": event.MetaString("deadline_type"),
		},
		Confidence: 0.95,
		Reasoning: []string{
			fmt.Sprintf("deadline %q approaching within the reminder window", deadline),
		},
	}, nil
}
