// Package scheduling decides, per lead, which bump fires next and
// when. It is pure computation: campaign capacity and send spacing are
// cross-lead concerns enforced by the dispatch loop.
package scheduling

import (
	"time"

	"leadflow_backend/internal/campaigns"
	"leadflow_backend/internal/leads/domain"
)

// Plan is the scheduler's decision for a single lead
type Plan struct {
	// Stage to send next; 0 is the first message, 1..3 are bumps
	Stage int
	// FireAt is when the stage becomes due, clamped to active hours
	FireAt time.Time
	// Terminal means no further automated action; the state machine
	// must complete the lead.
	Terminal bool
	// Reason explains a terminal plan for the automation log
	Reason string
}

// PlanNext computes the next action for a lead under its campaign
func PlanNext(lead *domain.Lead, campaign *campaigns.Campaign, now time.Time) Plan {
	if lead.ConversionStatus.IsTerminal() {
		return Plan{Terminal: true, Reason: "funnel status is terminal"}
	}

	if campaign.StopOnResponse && respondedSinceLastSend(lead) {
		return Plan{Terminal: true, Reason: "lead responded"}
	}

	if lead.CurrentBumpStage >= campaign.MaxBumps {
		return Plan{Terminal: true, Reason: "bump sequence exhausted"}
	}

	if lead.FirstMessageSentAt == nil {
		return Plan{
			Stage:  0,
			FireAt: clampToActiveHours(now, lead, campaign),
		}
	}

	nextStage := lead.CurrentBumpStage + 1
	anchor := lead.FirstMessageSentAt
	if lead.CurrentBumpStage > 0 {
		anchor = lead.BumpSentAt(lead.CurrentBumpStage)
	}
	if anchor == nil {
		// Stage counter ran ahead of its timestamp; replan from now
		anchor = &now
	}

	fireAt := anchor.Add(campaign.BumpDelay(nextStage))
	return Plan{
		Stage:  nextStage,
		FireAt: clampToActiveHours(fireAt, lead, campaign),
	}
}

// PlanResume replans a paused lead for reactivation. The bump delay is
// anchored at now, not at the historical send timestamp, so a lead
// paused for a week does not fire the moment it resumes.
func PlanResume(lead *domain.Lead, campaign *campaigns.Campaign, now time.Time) Plan {
	plan := PlanNext(lead, campaign, now)
	if plan.Terminal || plan.Stage == 0 {
		return plan
	}

	fireAt := now.Add(campaign.BumpDelay(plan.Stage))
	plan.FireAt = clampToActiveHours(fireAt, lead, campaign)
	return plan
}

// respondedSinceLastSend reports an inbound message after the last
// outbound one.
func respondedSinceLastSend(lead *domain.Lead) bool {
	if lead.MessageCountReceived == 0 || lead.LastMessageReceivedAt == nil {
		return false
	}
	if lead.LastMessageSentAt == nil {
		return true
	}
	return lead.LastMessageReceivedAt.After(*lead.LastMessageSentAt)
}

// clampToActiveHours pushes t forward to the campaign's next
// active_hours_start when it falls outside the send window, evaluated
// in the lead's timezone.
func clampToActiveHours(t time.Time, lead *domain.Lead, campaign *campaigns.Campaign) time.Time {
	start, end := campaign.ActiveHoursStart, campaign.ActiveHoursEnd
	if start == 0 && end == 0 {
		return t
	}
	if start >= end {
		return t
	}

	loc := leadLocation(lead, campaign)
	local := t.In(loc)

	switch {
	case local.Hour() < start:
		return time.Date(local.Year(), local.Month(), local.Day(), start, 0, 0, 0, loc)
	case local.Hour() >= end:
		next := local.AddDate(0, 0, 1)
		return time.Date(next.Year(), next.Month(), next.Day(), start, 0, 0, 0, loc)
	default:
		return t
	}
}

func leadLocation(lead *domain.Lead, campaign *campaigns.Campaign) *time.Location {
	for _, name := range []string{lead.Timezone, campaign.Timezone} {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}
