package scoring

import (
	"testing"
	"time"

	"leadflow_backend/internal/leads/domain"
)

var scoreNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func hoursAgo(h int) *time.Time {
	t := scoreNow.Add(-time.Duration(h) * time.Hour)
	return &t
}

func TestScoreBands(t *testing.T) {
	tests := []struct {
		name string
		lead domain.Lead
		want int
	}{
		{
			name: "zero value lead scores zero",
			lead: domain.Lead{},
			want: 0,
		},
		{
			name: "fresh new lead",
			lead: domain.Lead{
				ConversionStatus:  domain.ConversionNew,
				Priority:          domain.PriorityMedium,
				LastInteractionAt: hoursAgo(2),
			},
			// 5 status + 15 recency + 4 priority
			want: 24,
		},
		{
			name: "engaged responder",
			lead: domain.Lead{
				ConversionStatus:     domain.ConversionResponded,
				MessageCountReceived: 2,
				MessageCountSent:     3,
				CurrentBumpStage:     1,
				Priority:             domain.PriorityHigh,
				LastInteractionAt:    hoursAgo(30),
			},
			// 25 status + (10 recv + 5 sent capped) + 5 bump + 12 recency + 7 priority
			want: 64,
		},
		{
			name: "activity bands cap",
			lead: domain.Lead{
				ConversionStatus:     domain.ConversionMultipleResponses,
				MessageCountReceived: 50,
				MessageCountSent:     50,
				CurrentBumpStage:     3,
				Priority:             domain.PriorityUrgent,
				LastInteractionAt:    hoursAgo(1),
			},
			// 30 + (15 + 5) + 15 + 15 + 10 = 90
			want: 90,
		},
		{
			name: "sent messages alone without replies",
			lead: domain.Lead{
				ConversionStatus:  domain.ConversionContacted,
				MessageCountSent:  4,
				Priority:          domain.PriorityLow,
				LastInteractionAt: hoursAgo(24 * 10),
			},
			// 15 status + 5 sent (capped) + 4 recency + 1 priority
			want: 25,
		},
		{
			name: "lost lead keeps only activity and recency",
			lead: domain.Lead{
				ConversionStatus:     domain.ConversionLost,
				MessageCountReceived: 1,
				MessageCountSent:     1,
				Priority:             domain.PriorityMedium,
				LastInteractionAt:    hoursAgo(24 * 40),
			},
			// 0 status + (5 + 2) activity + 0 recency + 4 priority
			want: 11,
		},
		{
			name: "opted out lead still receives a score",
			lead: domain.Lead{
				ConversionStatus:  domain.ConversionDND,
				OptedOut:          true,
				MessageCountSent:  2,
				Priority:          domain.PriorityMedium,
				LastInteractionAt: hoursAgo(2),
			},
			// 0 status + 4 sent + 15 recency + 4 priority
			want: 23,
		},
		{
			name: "authoritative lead_score overrides heuristic",
			lead: domain.Lead{
				ConversionStatus: domain.ConversionNew,
				LeadScore:        72,
			},
			want: 72,
		},
		{
			name: "authoritative lead_score capped at 100",
			lead: domain.Lead{
				LeadScore: 250,
			},
			want: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(&tt.lead, scoreNow)
			if got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
			if got < 0 || got > 100 {
				t.Errorf("score %d out of [0,100]", got)
			}
		})
	}
}

func TestScoreIsIdempotent(t *testing.T) {
	lead := domain.Lead{
		ConversionStatus:     domain.ConversionQualified,
		MessageCountReceived: 3,
		MessageCountSent:     2,
		CurrentBumpStage:     2,
		Priority:             domain.PriorityUrgent,
		LastInteractionAt:    hoursAgo(5),
	}

	first := Score(&lead, scoreNow)
	second := Score(&lead, scoreNow)
	if first != second {
		t.Errorf("score not idempotent: %d then %d", first, second)
	}
}

func TestRecencyFallbackChain(t *testing.T) {
	updated := scoreNow.Add(-20 * 24 * time.Hour)

	tests := []struct {
		name string
		lead domain.Lead
		want int
	}{
		{
			name: "falls back to last received",
			lead: domain.Lead{LastMessageReceivedAt: hoursAgo(2), UpdatedAt: updated},
			want: recencyUnderDay,
		},
		{
			name: "falls back to last sent",
			lead: domain.Lead{LastMessageSentAt: hoursAgo(24 * 5), UpdatedAt: updated},
			want: recencyUnderWeek,
		},
		{
			name: "falls back to updated_at",
			lead: domain.Lead{UpdatedAt: updated},
			want: recencyUnderMonth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := recencyScore(&tt.lead, scoreNow)
			if got != tt.want {
				t.Errorf("recencyScore() = %d, want %d", got, tt.want)
			}
		})
	}
}
