// Package campaigns holds the campaign aggregate: bump templates and
// timing configuration consumed by the scheduling and dispatch layers.
package campaigns

import (
	"time"

	"github.com/google/uuid"
)

// Status is the campaign lifecycle status
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

// Campaign owns the bump cadence configuration for its leads
type Campaign struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`

	BumpDelay1Hours int  `json:"bump_1_delay_hours"`
	BumpDelay2Hours int  `json:"bump_2_delay_hours"`
	BumpDelay3Hours int  `json:"bump_3_delay_hours"`
	MaxBumps        int  `json:"max_bumps"`
	StopOnResponse  bool `json:"stop_on_response"`

	DailyLeadLimit         int    `json:"daily_lead_limit"`
	ActiveHoursStart       int    `json:"active_hours_start"`
	ActiveHoursEnd         int    `json:"active_hours_end"`
	MessageIntervalMinutes int    `json:"message_interval_minutes"`
	Timezone               string `json:"timezone"`

	FirstMessageTemplate string `json:"first_message_template"`
	Bump1Template        string `json:"bump_1_template"`
	Bump2Template        string `json:"bump_2_template"`
	Bump3Template        string `json:"bump_3_template"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BumpDelay returns the configured delay before the given bump stage
// fires, counted from the previous outbound message.
func (c *Campaign) BumpDelay(stage int) time.Duration {
	switch stage {
	case 1:
		return time.Duration(c.BumpDelay1Hours) * time.Hour
	case 2:
		return time.Duration(c.BumpDelay2Hours) * time.Hour
	case 3:
		return time.Duration(c.BumpDelay3Hours) * time.Hour
	default:
		return 0
	}
}

// TemplateFor returns the message template for the given stage, where
// stage 0 is the first message.
func (c *Campaign) TemplateFor(stage int) string {
	switch stage {
	case 0:
		return c.FirstMessageTemplate
	case 1:
		return c.Bump1Template
	case 2:
		return c.Bump2Template
	case 3:
		return c.Bump3Template
	default:
		return ""
	}
}

// IsActive reports whether the dispatch loop may act on this campaign
func (c *Campaign) IsActive() bool {
	return c.Status == StatusActive
}
