package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"leadflow_backend/internal/automationlog"
	"leadflow_backend/internal/campaigns"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/scheduling"
	"leadflow_backend/platform/logger"
)

// LeadStore is the lead persistence surface the dispatch loop needs
type LeadStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Lead, error)
	ListQueued(ctx context.Context, campaignID uuid.UUID, limit int) ([]*domain.Lead, error)
	CampaignsWithQueuedLeads(ctx context.Context) ([]uuid.UUID, error)
	Mutate(ctx context.Context, id uuid.UUID, fn func(*domain.Lead) error) (*domain.Lead, error)
	ClaimForSend(ctx context.Context, leadID uuid.UUID, stage int, now, leaseUntil time.Time) (*domain.Lead, bool, error)
	ReleaseLease(ctx context.Context, leadID uuid.UUID) error
}

// CampaignStore resolves campaign configuration at dispatch time
type CampaignStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*campaigns.Campaign, error)
}

// Limiter enforces the cross-lead campaign limits
type Limiter interface {
	AdmitLead(ctx context.Context, campaignID string, limit int, now time.Time) (bool, error)
	ReserveSendSlot(ctx context.Context, campaignID string, interval time.Duration) (bool, error)
}

// Poller is the periodic scan: it admits queued leads under campaign
// capacity and turns due active leads into bump tasks.
type Poller struct {
	leads     LeadStore
	campaigns CampaignStore
	limiter   Limiter
	enqueuer  Enqueuer
	bus       events.Bus
	audit     automationlog.Recorder
	log       *logger.Logger

	interval  time.Duration
	batchSize int
}

// NewPoller creates the dispatch poller
func NewPoller(leads LeadStore, campaignStore CampaignStore, limiter Limiter, enqueuer Enqueuer, bus events.Bus, audit automationlog.Recorder, log *logger.Logger, interval time.Duration, batchSize int) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Poller{
		leads:     leads,
		campaigns: campaignStore,
		limiter:   limiter,
		enqueuer:  enqueuer,
		bus:       bus,
		audit:     audit,
		log:       log,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run polls until ctx is cancelled
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("dispatch poller started", "interval", p.interval.String())

	// One pass at startup so a restart never waits a full interval
	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("dispatch poller stopping")
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	now := time.Now().UTC()

	if err := p.admitQueued(ctx, now); err != nil {
		p.log.Error("admission pass failed", "error", err.Error())
	}
	if err := p.enqueueDue(ctx, now); err != nil {
		p.log.Error("due pass failed", "error", err.Error())
	}
}

// admitQueued promotes queued leads to active, campaign by campaign,
// while the daily lead limit has room.
func (p *Poller) admitQueued(ctx context.Context, now time.Time) error {
	campaignIDs, err := p.leads.CampaignsWithQueuedLeads(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, campaignID := range campaignIDs {
		g.Go(func() error {
			p.admitCampaign(gctx, campaignID, now)
			return nil
		})
	}
	return g.Wait()
}

func (p *Poller) admitCampaign(ctx context.Context, campaignID uuid.UUID, now time.Time) {
	campaign, err := p.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		p.log.Error("campaign lookup failed", "campaign_id", campaignID.String(), "error", err.Error())
		return
	}
	if !campaign.IsActive() {
		return
	}

	queued, err := p.leads.ListQueued(ctx, campaignID, p.batchSize)
	if err != nil {
		p.log.Error("queued lead scan failed", "campaign_id", campaignID.String(), "error", err.Error())
		return
	}

	for _, lead := range queued {
		ok, err := p.limiter.AdmitLead(ctx, campaignID.String(), campaign.DailyLeadLimit, now)
		if err != nil {
			p.log.Error("admission counter failed", "campaign_id", campaignID.String(), "error", err.Error())
			return
		}
		if !ok {
			// Daily limit reached; the rest stay queued without penalty
			return
		}

		plan := scheduling.PlanNext(lead, campaign, now)
		if plan.Terminal {
			p.completeLead(ctx, lead.ID, plan.Reason)
			continue
		}

		admitted, err := p.leads.Mutate(ctx, lead.ID, func(l *domain.Lead) error {
			return l.Admit(plan.FireAt, now)
		})
		if err != nil {
			if errors.Is(err, domain.ErrComplianceViolation) {
				p.log.ComplianceAlert(lead.ID.String(), "queued lead opted out before admission")
				p.recordAudit(ctx, lead, automationlog.ActionCompliance, "opted out before admission")
				continue
			}
			p.log.Error("admission failed", "lead_id", lead.ID.String(), "error", err.Error())
			continue
		}

		p.log.DispatchEvent("lead_admitted", admitted.ID.String(), campaignID.String(), plan.Stage)
		p.recordAudit(ctx, admitted, automationlog.ActionAdmitted, "admitted to active automation")
		// The due pass picks the lead up once its fire time arrives
	}
}

// enqueueDue turns due active leads into bump tasks. Terminal plans
// complete the lead instead.
func (p *Poller) enqueueDue(ctx context.Context, now time.Time) error {
	due, err := p.leads.ListDue(ctx, now, p.batchSize)
	if err != nil {
		return err
	}

	campaignCache := make(map[uuid.UUID]*campaigns.Campaign)
	for _, lead := range due {
		campaign, ok := campaignCache[lead.CampaignID]
		if !ok {
			campaign, err = p.campaigns.GetByID(ctx, lead.CampaignID)
			if err != nil {
				p.log.Error("campaign lookup failed", "campaign_id", lead.CampaignID.String(), "error", err.Error())
				continue
			}
			campaignCache[lead.CampaignID] = campaign
		}

		// Paused campaigns are simply skipped; the loop observes a
		// resume on a later poll.
		if !campaign.IsActive() {
			continue
		}

		plan := scheduling.PlanNext(lead, campaign, now)
		if plan.Terminal {
			p.completeLead(ctx, lead.ID, plan.Reason)
			continue
		}

		if plan.FireAt.After(now) {
			// Not actually due yet, e.g. pushed by the active-hours
			// clamp; move the schedule instead of enqueueing.
			if _, err := p.leads.Mutate(ctx, lead.ID, func(l *domain.Lead) error {
				return l.Replan(plan.FireAt, now)
			}); err != nil {
				p.log.Error("replan failed", "lead_id", lead.ID.String(), "error", err.Error())
			}
			continue
		}

		if err := p.enqueuer.EnqueueBump(ctx, lead.ID, lead.CampaignID, plan.Stage, plan.FireAt); err != nil {
			p.log.Error("bump enqueue failed", "lead_id", lead.ID.String(), "error", err.Error())
		}
	}
	return nil
}

func (p *Poller) completeLead(ctx context.Context, id uuid.UUID, reason string) {
	lead, err := p.leads.Mutate(ctx, id, func(l *domain.Lead) error {
		l.Complete(time.Now().UTC())
		return nil
	})
	if err != nil {
		p.log.Error("completion failed", "lead_id", id.String(), "error", err.Error())
		return
	}

	p.log.DispatchEvent("lead_completed", lead.ID.String(), lead.CampaignID.String(), lead.CurrentBumpStage)
	p.recordAudit(ctx, lead, automationlog.ActionCompleted, reason)
	p.bus.Publish(ctx, events.LeadCompleted{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     lead.ID.String(),
		CampaignID: lead.CampaignID.String(),
		Reason:     reason,
	})
}

func (p *Poller) recordAudit(ctx context.Context, lead *domain.Lead, action, detail string) {
	err := p.audit.Record(ctx, automationlog.Entry{
		LeadID:     lead.ID,
		CampaignID: lead.CampaignID,
		Action:     action,
		Stage:      lead.CurrentBumpStage,
		Detail:     detail,
	})
	if err != nil {
		p.log.Error("automation log write failed", "lead_id", lead.ID.String(), "error", err.Error())
	}
}
