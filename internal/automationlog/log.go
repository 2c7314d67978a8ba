// Package automationlog records every engine action against a lead so
// operators can audit what the automation did and why.
package automationlog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the engine
const (
	ActionAdmitted   = "admitted"
	ActionSent       = "sent"
	ActionCompleted  = "completed"
	ActionPaused     = "paused"
	ActionResumed    = "resumed"
	ActionOptedOut   = "opted_out"
	ActionErrored    = "errored"
	ActionCompliance = "compliance_rejected"
	ActionRequeued   = "requeued"
	ActionResponded  = "responded"
	ActionQualified  = "qualified"
	ActionBooked     = "booked"
	ActionLost       = "lost"
)

// Entry is one automation log row
type Entry struct {
	ID         uuid.UUID `json:"id"`
	LeadID     uuid.UUID `json:"lead_id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	Action     string    `json:"action"`
	Stage      int       `json:"stage"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Recorder appends entries to the log
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Filter narrows log queries
type Filter struct {
	LeadID     *uuid.UUID
	CampaignID *uuid.UUID
	Action     string
	Limit      int
	Offset     int
}
