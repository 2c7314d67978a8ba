// Package scoring computes the derived engagement score used to rank
// leads for human attention. Scoring is display-only: it never gates
// automation eligibility.
package scoring

import (
	"time"

	"leadflow_backend/internal/leads/domain"
)

// Point bands. Empirically chosen, tunable; not invariants.
const (
	statusScoreNew       = 5
	statusScoreContacted = 15
	statusScoreResponded = 25
	statusScoreMultiple  = 30
	statusScoreQualified = 35
	statusScoreBooked    = 40

	receivedPointsPer = 5
	receivedPointsCap = 15
	sentPointsPer     = 2
	sentPointsCap     = 5

	bumpPointsPer = 5
	bumpPointsCap = 15

	recencyUnderDay      = 15
	recencyUnder3Days    = 12
	recencyUnderWeek     = 8
	recencyUnder2Weeks   = 4
	recencyUnderMonth    = 2

	priorityUrgentPoints = 10
	priorityHighPoints   = 7
	priorityMediumPoints = 4
	priorityLowPoints    = 1

	maxScore = 100
)

// Score computes the 0..100 engagement score for a lead snapshot.
// Deterministic for a fixed now; an authoritative positive lead_score
// overrides the heuristic entirely.
func Score(lead *domain.Lead, now time.Time) int {
	if lead.LeadScore > 0 {
		return min(lead.LeadScore, maxScore)
	}

	score := statusScore(lead.ConversionStatus) +
		activityScore(lead) +
		bumpScore(lead.CurrentBumpStage) +
		recencyScore(lead, now) +
		priorityScore(lead.Priority)

	if score > maxScore {
		return maxScore
	}
	if score < 0 {
		return 0
	}
	return score
}

func statusScore(status domain.ConversionStatus) int {
	switch status {
	case domain.ConversionNew:
		return statusScoreNew
	case domain.ConversionContacted:
		return statusScoreContacted
	case domain.ConversionResponded:
		return statusScoreResponded
	case domain.ConversionMultipleResponses:
		return statusScoreMultiple
	case domain.ConversionQualified:
		return statusScoreQualified
	case domain.ConversionBooked:
		return statusScoreBooked
	default:
		// Lost, DND, unknown
		return 0
	}
}

func activityScore(lead *domain.Lead) int {
	sent := min(lead.MessageCountSent*sentPointsPer, sentPointsCap)
	if lead.MessageCountReceived <= 0 {
		return sent
	}
	received := min(lead.MessageCountReceived*receivedPointsPer, receivedPointsCap)
	return received + sent
}

func bumpScore(stage int) int {
	if stage <= 0 {
		return 0
	}
	return min(stage*bumpPointsPer, bumpPointsCap)
}

// recencyScore scores the last interaction, falling back through
// received -> sent -> updated_at when unset.
func recencyScore(lead *domain.Lead, now time.Time) int {
	last := lead.LastInteractionAt
	if last == nil {
		last = lead.LastMessageReceivedAt
	}
	if last == nil {
		last = lead.LastMessageSentAt
	}
	if last == nil {
		if lead.UpdatedAt.IsZero() {
			return 0
		}
		last = &lead.UpdatedAt
	}

	age := now.Sub(*last)
	switch {
	case age < 24*time.Hour:
		return recencyUnderDay
	case age < 3*24*time.Hour:
		return recencyUnder3Days
	case age < 7*24*time.Hour:
		return recencyUnderWeek
	case age < 14*24*time.Hour:
		return recencyUnder2Weeks
	case age < 30*24*time.Hour:
		return recencyUnderMonth
	default:
		return 0
	}
}

func priorityScore(p domain.Priority) int {
	switch p {
	case domain.PriorityUrgent:
		return priorityUrgentPoints
	case domain.PriorityHigh:
		return priorityHighPoints
	case domain.PriorityMedium:
		return priorityMediumPoints
	case domain.PriorityLow:
		return priorityLowPoints
	default:
		return 0
	}
}
