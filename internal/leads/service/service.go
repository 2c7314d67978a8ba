// Package service orchestrates lead lifecycle operations: it combines
// the domain state machine, the scheduler, and the scorer, and keeps
// the automation log and event bus informed.
package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/automationlog"
	"leadflow_backend/internal/campaigns"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/scheduling"
	"leadflow_backend/internal/leads/scoring"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/phone"
)

// LeadStore is the persistence surface the service needs
type LeadStore interface {
	Create(ctx context.Context, lead *domain.Lead) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Lead, error)
	List(ctx context.Context, filter repository.ListFilter) ([]*domain.Lead, error)
	Mutate(ctx context.Context, id uuid.UUID, fn func(*domain.Lead) error) (*domain.Lead, error)
}

// CampaignStore resolves campaign configuration
type CampaignStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*campaigns.Campaign, error)
}

// Service exposes the lead lifecycle operations
type Service struct {
	store     LeadStore
	campaigns CampaignStore
	log       *logger.Logger
	bus       events.Bus
	audit     automationlog.Recorder
}

// New creates the lead service
func New(store LeadStore, campaignStore CampaignStore, log *logger.Logger, bus events.Bus, audit automationlog.Recorder) *Service {
	return &Service{
		store:     store,
		campaigns: campaignStore,
		log:       log,
		bus:       bus,
		audit:     audit,
	}
}

// View is a lead enriched with its derived engagement score
type View struct {
	*domain.Lead
	EngagementScore int `json:"engagement_score"`
}

func (s *Service) view(lead *domain.Lead, now time.Time) *View {
	return &View{Lead: lead, EngagementScore: scoring.Score(lead, now)}
}

// CreateInput is the lead-ingestion payload
type CreateInput struct {
	AccountID  uuid.UUID
	CampaignID uuid.UUID
	FirstName  string
	LastName   string
	Phone      string
	Email      string
	Priority   string
	Timezone   string
}

// Create ingests a new lead into the campaign's queue
func (s *Service) Create(ctx context.Context, input CreateInput) (*View, error) {
	normalized, err := phone.NormalizeE164(input.Phone)
	if err != nil {
		return nil, apperr.Validation("phone number is not valid: " + err.Error())
	}

	if _, err := s.campaigns.GetByID(ctx, input.CampaignID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	lead := domain.NewLead(input.AccountID, input.CampaignID, input.FirstName, input.LastName, normalized, input.Email, now)
	if input.Priority != "" {
		lead.Priority = domain.Priority(input.Priority)
	}
	lead.Timezone = input.Timezone

	if err := s.store.Create(ctx, lead); err != nil {
		return nil, err
	}

	s.record(ctx, lead, automationlog.ActionAdmitted, "lead created and queued")
	return s.view(lead, now), nil
}

// Get returns one lead with its score
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	lead, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(lead, time.Now().UTC()), nil
}

// ListFilter narrows List results, including the Hot Leads view
type ListFilter struct {
	CampaignID       *uuid.UUID
	ConversionStatus *domain.ConversionStatus
	AutomationStatus *domain.AutomationStatus
	MinScore         int
	Limit            int
	Offset           int
}

// List returns leads scored and ordered for prioritization: score
// descending, ties broken by most recent interaction.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*View, error) {
	leads, err := s.store.List(ctx, repository.ListFilter{
		CampaignID:       filter.CampaignID,
		ConversionStatus: filter.ConversionStatus,
		AutomationStatus: filter.AutomationStatus,
		Limit:            filter.Limit,
		Offset:           filter.Offset,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	views := make([]*View, 0, len(leads))
	for _, lead := range leads {
		v := s.view(lead, now)
		if v.EngagementScore < filter.MinScore {
			continue
		}
		views = append(views, v)
	}

	sortViews(views)
	return views, nil
}

func sortViews(views []*View) {
	// The repository orders by last_interaction_at descending; a
	// stable sort on score keeps that as the tiebreak.
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].EngagementScore > views[j].EngagementScore
	})
}

// UpdateInput carries the CRM-user mutable fields. Nil means leave as
// is.
type UpdateInput struct {
	FirstName *string
	LastName  *string
	Email     *string
	Priority  *string
	LeadScore *int
}

// Update applies CRM-user edits to contact and prioritization fields
func (s *Service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*View, error) {
	now := time.Now().UTC()
	lead, err := s.store.Mutate(ctx, id, func(l *domain.Lead) error {
		if input.FirstName != nil {
			l.FirstName = *input.FirstName
		}
		if input.LastName != nil {
			l.LastName = *input.LastName
		}
		if input.Email != nil {
			l.Email = *input.Email
		}
		if input.Priority != nil {
			l.Priority = domain.Priority(*input.Priority)
		}
		if input.LeadScore != nil {
			l.LeadScore = *input.LeadScore
		}
		l.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.view(lead, now), nil
}

// Pause suspends automation for a lead
func (s *Service) Pause(ctx context.Context, id uuid.UUID) (*View, error) {
	now := time.Now().UTC()
	lead, err := s.store.Mutate(ctx, id, func(l *domain.Lead) error {
		return l.Pause(now)
	})
	if err != nil {
		return nil, mapDomainError(err)
	}

	s.record(ctx, lead, automationlog.ActionPaused, "automation paused")
	return s.view(lead, now), nil
}

// Resume reactivates a paused lead, replanning anchored at now
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*View, error) {
	now := time.Now().UTC()

	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	campaign, err := s.campaigns.GetByID(ctx, current.CampaignID)
	if err != nil {
		return nil, err
	}

	var completed bool
	lead, err := s.store.Mutate(ctx, id, func(l *domain.Lead) error {
		plan := scheduling.PlanResume(l, campaign, now)
		if plan.Terminal {
			if err := l.Resume(now, now); err != nil {
				return err
			}
			l.Complete(now)
			completed = true
			return nil
		}
		return l.Resume(plan.FireAt, now)
	})
	if err != nil {
		return nil, mapDomainError(err)
	}

	if completed {
		s.record(ctx, lead, automationlog.ActionCompleted, "nothing left to schedule on resume")
		s.bus.Publish(ctx, events.LeadCompleted{
			BaseEvent:  events.NewBaseEvent(),
			LeadID:     lead.ID.String(),
			CampaignID: lead.CampaignID.String(),
			Reason:     "resumed with no remaining bumps",
		})
	} else {
		s.record(ctx, lead, automationlog.ActionResumed, "automation resumed")
	}
	return s.view(lead, now), nil
}

// SetTakeover claims or releases the conversation for a human operator
func (s *Service) SetTakeover(ctx context.Context, id uuid.UUID, on bool) (*View, error) {
	now := time.Now().UTC()
	lead, err := s.store.Mutate(ctx, id, func(l *domain.Lead) error {
		l.SetManualTakeover(on, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	detail := "manual takeover released"
	if on {
		detail = "manual takeover claimed"
	}
	s.record(ctx, lead, automationlog.ActionPaused, detail)
	return s.view(lead, now), nil
}

// OptOut flags the lead do-not-contact and halts automation
func (s *Service) OptOut(ctx context.Context, id uuid.UUID, reason string) (*View, error) {
	now := time.Now().UTC()
	lead, err := s.store.Mutate(ctx, id, func(l *domain.Lead) error {
		l.OptOut(reason, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, lead, automationlog.ActionOptedOut, reason)
	s.bus.Publish(ctx, events.LeadOptedOut{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     lead.ID.String(),
		CampaignID: lead.CampaignID.String(),
		Reason:     reason,
	})
	return s.view(lead, now), nil
}

// Qualify applies the external qualification signal
func (s *Service) Qualify(ctx context.Context, id uuid.UUID) (*View, error) {
	now := time.Now().UTC()
	lead, err := s.store.Mutate(ctx, id, func(l *domain.Lead) error {
		return l.Qualify(now)
	})
	if err != nil {
		return nil, mapDomainError(err)
	}

	s.record(ctx, lead, automationlog.ActionQualified, "qualification signal received")
	return s.view(lead, now), nil
}

// Book applies a booking confirmation; automation completes
func (s *Service) Book(ctx context.Context, id uuid.UUID) (*View, error) {
	now := time.Now().UTC()
	lead, err := s.store.Mutate(ctx, id, func(l *domain.Lead) error {
		return l.Book(now)
	})
	if err != nil {
		return nil, mapDomainError(err)
	}

	s.record(ctx, lead, automationlog.ActionBooked, "booking confirmed")
	s.bus.Publish(ctx, events.LeadBooked{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     lead.ID.String(),
		CampaignID: lead.CampaignID.String(),
	})
	return s.view(lead, now), nil
}

// MarkLost marks the lead lost; automation completes
func (s *Service) MarkLost(ctx context.Context, id uuid.UUID) (*View, error) {
	now := time.Now().UTC()
	lead, err := s.store.Mutate(ctx, id, func(l *domain.Lead) error {
		return l.MarkLost(now)
	})
	if err != nil {
		return nil, mapDomainError(err)
	}

	s.record(ctx, lead, automationlog.ActionLost, "marked lost")
	return s.view(lead, now), nil
}

// Requeue returns an errored lead to the admission queue
func (s *Service) Requeue(ctx context.Context, id uuid.UUID) (*View, error) {
	now := time.Now().UTC()
	lead, err := s.store.Mutate(ctx, id, func(l *domain.Lead) error {
		return l.Requeue(now)
	})
	if err != nil {
		return nil, mapDomainError(err)
	}

	s.record(ctx, lead, automationlog.ActionRequeued, "operator requeued lead")
	return s.view(lead, now), nil
}

// HandleInbound applies an inbound message from the messaging
// collaborator. STOP keywords flip the compliance flag before any
// funnel bookkeeping.
func (s *Service) HandleInbound(ctx context.Context, id uuid.UUID, body string, receivedAt time.Time) (*View, error) {
	now := time.Now().UTC()
	if receivedAt.IsZero() {
		receivedAt = now
	}

	optOut := isStopMessage(body)
	lead, err := s.store.Mutate(ctx, id, func(l *domain.Lead) error {
		l.RecordInbound(receivedAt, now)
		if optOut {
			l.OptOut("STOP keyword received", now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if optOut {
		s.record(ctx, lead, automationlog.ActionOptedOut, "STOP keyword received")
		s.bus.Publish(ctx, events.LeadOptedOut{
			BaseEvent:  events.NewBaseEvent(),
			LeadID:     lead.ID.String(),
			CampaignID: lead.CampaignID.String(),
			Reason:     "STOP keyword received",
		})
	} else {
		s.record(ctx, lead, automationlog.ActionResponded, "inbound message received")
		s.bus.Publish(ctx, events.LeadResponded{
			BaseEvent:  events.NewBaseEvent(),
			LeadID:     lead.ID.String(),
			CampaignID: lead.CampaignID.String(),
			Body:       body,
		})
	}
	return s.view(lead, now), nil
}

// RecordDelivered logs a delivery receipt from the provider
func (s *Service) RecordDelivered(ctx context.Context, id uuid.UUID, messageID string) error {
	lead, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	s.record(ctx, lead, automationlog.ActionSent, "delivery confirmed: "+messageID)
	return nil
}

var stopKeywords = []string{"stop", "unsubscribe", "stopp", "afmelden"}

func isStopMessage(body string) bool {
	normalized := strings.ToLower(strings.TrimSpace(body))
	for _, kw := range stopKeywords {
		if normalized == kw {
			return true
		}
	}
	return false
}

func (s *Service) record(ctx context.Context, lead *domain.Lead, action, detail string) {
	err := s.audit.Record(ctx, automationlog.Entry{
		LeadID:     lead.ID,
		CampaignID: lead.CampaignID,
		Action:     action,
		Stage:      lead.CurrentBumpStage,
		Detail:     detail,
	})
	if err != nil {
		s.log.Error("automation log write failed", "lead_id", lead.ID.String(), "action", action, "error", err.Error())
	}
}

// mapDomainError translates state machine rejections into transport
// error kinds.
func mapDomainError(err error) error {
	switch {
	case errors.Is(err, domain.ErrComplianceViolation):
		return apperr.Wrap(apperr.KindForbidden, "lead has opted out of automated contact", err)
	case errors.Is(err, domain.ErrManualTakeover):
		return apperr.Wrap(apperr.KindConflict, "lead is under manual takeover", err)
	case errors.Is(err, domain.ErrInvalidTransition):
		return apperr.Wrap(apperr.KindConflict, err.Error(), err)
	default:
		return err
	}
}
