package brain

import (
	"fmt"
	"time"

	"github.com/firstcontact-eis/coordinator/internal/model"
)

// Planner turns a decision into an execution plan plus the human-facing
// summary and impact estimate shown on the approval card. Plans come out in
// dependency order; the executor relies on that.
type Planner struct {
	rules model.BusinessRules
}

// NewPlanner builds a planner with the given thresholds.
func NewPlanner(rules model.BusinessRules) *Planner {
	return &Planner{rules: rules}
}

// Build returns the plan, summary and impact for a decision. Unknown decision
// kinds are a programming error and reported as such.
func (p *Planner) Build(decision model.Decision) (model.ExecutionPlan, string, model.Impact, error) {
	switch decision.Kind {
	case model.DecisionBumpAppointment:
		return p.bumpAppointment(decision)
	case model.DecisionHousingMatch:
		return p.housingMatch(decision)
	case model.DecisionFastTrackIntake:
		return p.fastTrackIntake(decision)
	case model.DecisionSendReminders:
		return p.sendReminders(decision)
	default:
		return model.ExecutionPlan{}, "", model.Impact{},
			fmt.Errorf("brain: no plan template for decision kind %q", decision.Kind)
	}
}

func param(d model.Decision, key string) string {
	if v, ok := d.Parameters[key].(string); ok {
		return v
	}
	return ""
}

// bumpAppointment builds the six-action slot backfill: release the old
// booking, book the candidate into it, line up transport, then notify
// everyone and record the change.
func (p *Planner) bumpAppointment(d model.Decision) (model.ExecutionPlan, string, model.Impact, error) {
	slotTime := param(d, "slot_time")
	pickupTime := slotTime
	if t, err := time.Parse(time.RFC3339, slotTime); err == nil {
		pickupTime = t.Add(-p.rules.TransportLeadTime).Format(time.RFC3339)
	}

	plan := model.NewExecutionPlan([]model.Action{
		model.NewAction(model.ActionCancelAppointment, map[string]any{
			"appointment_id": param(d, "appointment_id"),
		}),
		model.NewAction(model.ActionBookAppointment, map[string]any{
			"client_id":   d.ClientID,
			"provider_id": d.ProviderID,
			"slot_time":   slotTime,
		}, model.ActionCancelAppointment),
		model.NewAction(model.ActionUpdateTransport, map[string]any{
			"client_id":   d.ClientID,
			"pickup_time": pickupTime,
		}),
		model.NewAction(model.ActionSendSMS, map[string]any{
			"client_id": d.ClientID,
			"message":   fmt.Sprintf("An earlier appointment opened up for you at %s. We have booked you in and arranged transport.", slotTime),
		}),
		model.NewAction(model.ActionNotifyProvider, map[string]any{
			"provider_id": d.ProviderID,
			"client_id":   d.ClientID,
		}),
		model.NewAction(model.ActionUpdateCase, map[string]any{
			"client_id": d.ClientID,
			"note":      "appointment moved up via automated slot re-optimization",
		}),
	})

	summary := fmt.Sprintf("Move %s into the freed %s slot", d.ClientID, slotTime)
	impact := model.Impact{
		CostSavings:        p.rules.SlotCostSavings,
		UrgencyImprovement: fmt.Sprintf("%s seen sooner instead of the slot going unused", d.ClientID),
		EfficiencyGain:     "freed slot backfilled the same day",
	}
	return plan, summary, impact, nil
}

func (p *Planner) housingMatch(d model.Decision) (model.ExecutionPlan, string, model.Impact, error) {
	plan := model.NewExecutionPlan([]model.Action{
		model.NewAction(model.ActionReserveHousing, map[string]any{
			"unit_id":   param(d, "unit_id"),
			"client_id": d.ClientID,
		}),
		model.NewAction(model.ActionSendSMS, map[string]any{
			"client_id": d.ClientID,
			"message":   "A housing unit matching your needs is available. Your caseworker will contact you today.",
		}, model.ActionReserveHousing),
		model.NewAction(model.ActionUpdateCase, map[string]any{
			"client_id": d.ClientID,
			"note":      fmt.Sprintf("housing unit %s reserved pending placement", param(d, "unit_id")),
		}, model.ActionReserveHousing),
	})
	summary := fmt.Sprintf("Reserve housing unit %s for %s", param(d, "unit_id"), d.ClientID)
	impact := model.Impact{
		UrgencyImprovement: "housing-ready client placed without another waitlist cycle",
	}
	return plan, summary, impact, nil
}

func (p *Planner) fastTrackIntake(d model.Decision) (model.ExecutionPlan, string, model.Impact, error) {
	plan := model.NewExecutionPlan([]model.Action{
		model.NewAction(model.ActionScheduleIntake, map[string]any{
			"client_id":   d.ClientID,
			"provider_id": d.ProviderID,
			"intake_time": param(d, "intake_time"),
		}),
		model.NewAction(model.ActionSendSMS, map[string]any{
			"client_id": d.ClientID,
			"message":   fmt.Sprintf("Your documents are complete. Your intake appointment is confirmed for %s.", param(d, "intake_time")),
		}, model.ActionScheduleIntake),
		model.NewAction(model.ActionUpdateCase, map[string]any{
			"client_id": d.ClientID,
			"note":      "intake fast-tracked after document completion",
		}, model.ActionScheduleIntake),
	})
	summary := fmt.Sprintf("Fast-track intake for %s at %s", d.ClientID, param(d, "intake_time"))
	impact := model.Impact{
		EfficiencyGain: "intake scheduled immediately instead of waiting for weekly review",
	}
	return plan, summary, impact, nil
}

func (p *Planner) sendReminders(d model.Decision) (model.ExecutionPlan, string, model.Impact, error) {
	plan := model.NewExecutionPlan([]model.Action{
		model.NewAction(model.ActionSendReminder, map[string]any{
			"client_id":     d.ClientID,
			"deadline":      param(d, "deadline"),
			"deadline_type": param(d, "deadline_type"),
		}),
		model.NewAction(model.ActionUpdateCase, map[string]any{
			"client_id": d.ClientID,
			"note":      fmt.Sprintf("reminder sent for %s deadline", param(d, "deadline_type")),
		}, model.ActionSendReminder),
	})
	summary := fmt.Sprintf("Remind %s about the %s deadline", d.ClientID, param(d, "deadline_type"))
	impact := model.Impact{
		EfficiencyGain: "deadline surfaced before it becomes a compliance incident",
	}
	return plan, summary, impact, nil
}
