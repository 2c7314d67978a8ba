// Package events defines the domain events the engine publishes and
// re-exports the platform bus types so modules import a single package.
package events

import (
	"leadflow_backend/platform/events"
)

// Re-export platform types
type (
	Event       = events.Event
	BaseEvent   = events.BaseEvent
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	Bus         = events.Bus
	InMemoryBus = events.InMemoryBus
)

var (
	NewBaseEvent   = events.NewBaseEvent
	NewInMemoryBus = events.NewInMemoryBus
)

// Event names
const (
	LeadAdvancedName  = "leads.advanced"
	LeadCompletedName = "leads.completed"
	LeadOptedOutName  = "leads.opted_out"
	LeadBookedName    = "leads.booked"
	LeadErroredName   = "leads.errored"
	LeadRespondedName = "leads.responded"
)

// LeadAdvanced fires after a successful bump send
type LeadAdvanced struct {
	BaseEvent
	LeadID     string
	CampaignID string
	Stage      int
}

func (e LeadAdvanced) EventName() string { return LeadAdvancedName }

// LeadCompleted fires when a lead exhausts its bump sequence or the
// funnel reaches a terminal status.
type LeadCompleted struct {
	BaseEvent
	LeadID     string
	CampaignID string
	Reason     string
}

func (e LeadCompleted) EventName() string { return LeadCompletedName }

// LeadOptedOut fires when a lead enters DND
type LeadOptedOut struct {
	BaseEvent
	LeadID     string
	CampaignID string
	Reason     string
}

func (e LeadOptedOut) EventName() string { return LeadOptedOutName }

// LeadBooked fires on a booking confirmation
type LeadBooked struct {
	BaseEvent
	LeadID     string
	CampaignID string
}

func (e LeadBooked) EventName() string { return LeadBookedName }

// LeadErrored fires when dispatch exhausts retries for a lead
type LeadErrored struct {
	BaseEvent
	LeadID     string
	CampaignID string
	Stage      int
	Detail     string
}

func (e LeadErrored) EventName() string { return LeadErroredName }

// LeadResponded fires on an inbound message from the lead
type LeadResponded struct {
	BaseEvent
	LeadID     string
	CampaignID string
	Body       string
}

func (e LeadResponded) EventName() string { return LeadRespondedName }
