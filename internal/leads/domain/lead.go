// Package domain holds the lead aggregate and its lifecycle rules.
// The lead carries two independent status axes: the conversion funnel
// (sales progress) and the automation status (whether the engine may
// act). Every mutation ends with a reconciliation pass that enforces
// the invariants tying the two together.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConversionStatus is the sales funnel position
type ConversionStatus string

const (
	ConversionNew               ConversionStatus = "New"
	ConversionContacted         ConversionStatus = "Contacted"
	ConversionResponded         ConversionStatus = "Responded"
	ConversionMultipleResponses ConversionStatus = "Multiple Responses"
	ConversionQualified         ConversionStatus = "Qualified"
	ConversionBooked            ConversionStatus = "Booked"
	ConversionLost              ConversionStatus = "Lost"
	ConversionDND               ConversionStatus = "DND"
)

// IsTerminal reports whether the funnel status ends automation
func (s ConversionStatus) IsTerminal() bool {
	return s == ConversionBooked || s == ConversionLost || s == ConversionDND
}

// AutomationStatus controls whether the engine may act on the lead
type AutomationStatus string

const (
	AutomationQueued    AutomationStatus = "queued"
	AutomationActive    AutomationStatus = "active"
	AutomationPaused    AutomationStatus = "paused"
	AutomationCompleted AutomationStatus = "completed"
	AutomationDND       AutomationStatus = "dnd"
	AutomationError     AutomationStatus = "error"
)

// Priority is the operator-assigned lead priority
type Priority string

const (
	PriorityUrgent Priority = "Urgent"
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// Typed rejection errors. Invalid transitions are rejected, never
// silently corrected.
var (
	ErrInvalidTransition   = errors.New("invalid lead transition")
	ErrComplianceViolation = errors.New("lead has opted out of automated contact")
	ErrManualTakeover      = errors.New("lead is under manual takeover")
)

// TransitionError describes a rejected automation transition
type TransitionError struct {
	From   AutomationStatus
	To     AutomationStatus
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition %s -> %s: %s", e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func rejected(from, to AutomationStatus, reason string) error {
	return &TransitionError{From: from, To: to, Reason: reason}
}

// Lead is the aggregate root of the automation engine
type Lead struct {
	ID         uuid.UUID `json:"id"`
	AccountID  uuid.UUID `json:"account_id"`
	CampaignID uuid.UUID `json:"campaign_id"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`

	ConversionStatus ConversionStatus `json:"conversion_status"`
	AutomationStatus AutomationStatus `json:"automation_status"`

	CurrentBumpStage   int        `json:"current_bump_stage"`
	FirstMessageSentAt *time.Time `json:"first_message_sent_at"`
	Bump1SentAt        *time.Time `json:"bump_1_sent_at"`
	Bump2SentAt        *time.Time `json:"bump_2_sent_at"`
	Bump3SentAt        *time.Time `json:"bump_3_sent_at"`

	NextActionAt *time.Time `json:"next_action_at"`

	MessageCountSent      int        `json:"message_count_sent"`
	MessageCountReceived  int        `json:"message_count_received"`
	LastMessageSentAt     *time.Time `json:"last_message_sent_at"`
	LastMessageReceivedAt *time.Time `json:"last_message_received_at"`
	LastInteractionAt     *time.Time `json:"last_interaction_at"`

	OptedOut       bool   `json:"opted_out"`
	DNCReason      string `json:"dnc_reason,omitempty"`
	ManualTakeover bool   `json:"manual_takeover"`

	Priority  Priority `json:"priority"`
	LeadScore int      `json:"lead_score"`
	Timezone  string   `json:"timezone"`

	// DispatchLeasedUntil guards against two workers sending the same
	// bump; only the worker holding an unexpired lease may send.
	DispatchLeasedUntil *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewLead creates a lead in its initial state
func NewLead(accountID, campaignID uuid.UUID, firstName, lastName, phone, email string, now time.Time) *Lead {
	return &Lead{
		ID:               uuid.New(),
		AccountID:        accountID,
		CampaignID:       campaignID,
		FirstName:        firstName,
		LastName:         lastName,
		Phone:            phone,
		Email:            email,
		ConversionStatus: ConversionNew,
		AutomationStatus: AutomationQueued,
		Priority:         PriorityMedium,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// BumpSentAt returns the timestamp of the given bump stage, nil when
// that bump has not been sent.
func (l *Lead) BumpSentAt(stage int) *time.Time {
	switch stage {
	case 1:
		return l.Bump1SentAt
	case 2:
		return l.Bump2SentAt
	case 3:
		return l.Bump3SentAt
	default:
		return nil
	}
}

// IsAutomationTerminal reports whether the engine will never schedule
// this lead again without external intervention.
func (l *Lead) IsAutomationTerminal() bool {
	switch l.AutomationStatus {
	case AutomationCompleted, AutomationDND, AutomationError:
		return true
	}
	return false
}
