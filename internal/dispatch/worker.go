package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"leadflow_backend/internal/automationlog"
	"leadflow_backend/internal/campaigns"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/scheduling"
	"leadflow_backend/internal/messaging"
	"leadflow_backend/platform/logger"
)

// Worker executes bump send tasks. It is the only component allowed
// to emit outbound messages, and it holds the at-most-one-send
// invariant through the atomic lease claim.
type Worker struct {
	leads     LeadStore
	campaigns CampaignStore
	limiter   Limiter
	sender    messaging.Sender
	enqueuer  Enqueuer
	bus       events.Bus
	audit     automationlog.Recorder
	log       *logger.Logger

	leaseTTL   time.Duration
	maxRetries int
	backoff    func(attempt int) time.Duration
}

// NewWorker creates the bump send worker
func NewWorker(leads LeadStore, campaignStore CampaignStore, limiter Limiter, sender messaging.Sender, enqueuer Enqueuer, bus events.Bus, audit automationlog.Recorder, log *logger.Logger, leaseTTL time.Duration, maxRetries int) *Worker {
	if leaseTTL <= 0 {
		leaseTTL = 2 * time.Minute
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Worker{
		leads:      leads,
		campaigns:  campaignStore,
		limiter:    limiter,
		sender:     sender,
		enqueuer:   enqueuer,
		bus:        bus,
		audit:      audit,
		log:        log,
		leaseTTL:   leaseTTL,
		maxRetries: maxRetries,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * time.Second
		},
	}
}

// HandleBumpSend processes one bump task
func (w *Worker) HandleBumpSend(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseBumpPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	now := time.Now().UTC()

	campaign, err := w.campaigns.GetByID(ctx, payload.CampaignID)
	if err != nil {
		return fmt.Errorf("campaign lookup: %w", err)
	}
	if !campaign.IsActive() {
		// Campaign paused since the task was enqueued; the poller
		// re-enqueues once it resumes.
		return nil
	}

	// The claim is the final eligibility check before the external
	// call: still active, still due, not opted out, not taken over,
	// still at the expected stage, and unleased.
	lead, claimed, err := w.leads.ClaimForSend(ctx, payload.LeadID, payload.Stage, now, now.Add(w.leaseTTL))
	if err != nil {
		return fmt.Errorf("claim lead: %w", err)
	}
	if !claimed {
		return nil
	}

	plan := scheduling.PlanNext(lead, campaign, now)
	if plan.Terminal {
		w.releaseLease(ctx, payload)
		w.completeLead(ctx, lead, plan.Reason)
		return nil
	}
	if plan.Stage != payload.Stage {
		// Stale task from before an out-of-band state change
		w.releaseLease(ctx, payload)
		return nil
	}

	spacing := time.Duration(campaign.MessageIntervalMinutes) * time.Minute
	slotOK, err := w.limiter.ReserveSendSlot(ctx, campaign.ID.String(), spacing)
	if err != nil {
		w.releaseLease(ctx, payload)
		return fmt.Errorf("reserve send slot: %w", err)
	}
	if !slotOK {
		// Campaign spacing in effect; push the schedule and let the
		// poller retry without penalty.
		w.releaseLease(ctx, payload)
		retryAt := now.Add(spacing)
		if _, err := w.leads.Mutate(ctx, lead.ID, func(l *domain.Lead) error {
			return l.Replan(retryAt, now)
		}); err != nil {
			w.log.Error("spacing replan failed", "lead_id", lead.ID.String(), "error", err.Error())
		}
		return nil
	}

	result, sendErr := w.sendWithRetry(ctx, lead, campaign, payload.Stage)
	if sendErr != nil {
		w.failLead(ctx, lead, payload.Stage, sendErr)
		return nil
	}

	w.finalize(ctx, lead, campaign, payload.Stage, result.MessageID, now)
	return nil
}

// sendWithRetry applies the capped backoff retry policy. Terminal
// failures never retry.
func (w *Worker) sendWithRetry(ctx context.Context, lead *domain.Lead, campaign *campaigns.Campaign, stage int) (*messaging.SendResult, error) {
	req := messaging.SendRequest{
		LeadID: lead.ID.String(),
		Phone:  lead.Phone,
		Body:   renderTemplate(campaign.TemplateFor(stage), lead),
		Stage:  stage,
	}

	var lastErr error
	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		result, err := w.sender.Send(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, messaging.ErrTerminal) {
			return nil, err
		}

		w.log.Warn("send attempt failed",
			"lead_id", lead.ID.String(),
			"stage", stage,
			"attempt", attempt,
			"error", err.Error(),
		)

		if attempt < w.maxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(w.backoff(attempt)):
			}
		}
	}
	return nil, lastErr
}

// finalize records the send against the freshly locked row, so a
// reply landing between claim and finalize keeps its funnel
// transition. The send acknowledgment and the schedule update commit
// in one atomic write.
func (w *Worker) finalize(ctx context.Context, lead *domain.Lead, campaign *campaigns.Campaign, stage int, messageID string, sentAt time.Time) {
	var (
		next    scheduling.Plan
		applied bool
	)
	updated, err := w.leads.Mutate(ctx, lead.ID, func(l *domain.Lead) error {
		l.DispatchLeasedUntil = nil
		if err := l.RecordOutboundSend(stage, sentAt); err != nil {
			// The lead left the active state while the send was in
			// flight (opt-out, takeover); its new state wins and only
			// the counters are reconciled.
			l.MessageCountSent++
			l.LastMessageSentAt = &sentAt
			applied = false
			return nil
		}
		applied = true

		next = scheduling.PlanNext(l, campaign, sentAt)
		if next.Terminal {
			l.Complete(sentAt)
			return nil
		}
		return l.Replan(next.FireAt, sentAt)
	})
	if err != nil {
		w.log.Error("finalize failed", "lead_id", lead.ID.String(), "error", err.Error())
		return
	}
	if !applied {
		w.log.Warn("send finalized against a changed lead", "lead_id", updated.ID.String(), "stage", stage)
		if updated.OptedOut {
			w.log.ComplianceAlert(updated.ID.String(), "lead opted out while a send was in flight")
			w.recordAudit(ctx, updated, automationlog.ActionCompliance, "opted out while a send was in flight")
		}
		return
	}

	w.log.DispatchEvent("bump_sent", updated.ID.String(), updated.CampaignID.String(), stage)
	w.recordAudit(ctx, updated, automationlog.ActionSent, "message sent: "+messageID)
	w.bus.Publish(ctx, events.LeadAdvanced{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     updated.ID.String(),
		CampaignID: updated.CampaignID.String(),
		Stage:      stage,
	})

	if next.Terminal {
		w.recordAudit(ctx, updated, automationlog.ActionCompleted, next.Reason)
		w.bus.Publish(ctx, events.LeadCompleted{
			BaseEvent:  events.NewBaseEvent(),
			LeadID:     updated.ID.String(),
			CampaignID: updated.CampaignID.String(),
			Reason:     next.Reason,
		})
		return
	}

	if err := w.enqueuer.EnqueueBump(ctx, updated.ID, updated.CampaignID, next.Stage, next.FireAt); err != nil {
		// The poller picks the lead up from next_action_at anyway
		w.log.Warn("next bump enqueue failed", "lead_id", updated.ID.String(), "error", err.Error())
	}
}

// failLead quarantines the lead after retries are exhausted or a
// terminal send failure. Errored leads are never auto-retried.
func (w *Worker) failLead(ctx context.Context, lead *domain.Lead, stage int, sendErr error) {
	now := time.Now().UTC()
	errored, err := w.leads.Mutate(ctx, lead.ID, func(l *domain.Lead) error {
		l.MarkError(now)
		return nil
	})
	if err != nil {
		w.log.Error("error quarantine failed", "lead_id", lead.ID.String(), "error", err.Error())
		return
	}

	w.log.DispatchEvent("lead_errored", errored.ID.String(), errored.CampaignID.String(), stage)
	w.recordAudit(ctx, errored, automationlog.ActionErrored, sendErr.Error())
	w.bus.Publish(ctx, events.LeadErrored{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     errored.ID.String(),
		CampaignID: errored.CampaignID.String(),
		Stage:      stage,
		Detail:     sendErr.Error(),
	})
}

func (w *Worker) completeLead(ctx context.Context, lead *domain.Lead, reason string) {
	now := time.Now().UTC()
	completed, err := w.leads.Mutate(ctx, lead.ID, func(l *domain.Lead) error {
		l.Complete(now)
		return nil
	})
	if err != nil {
		w.log.Error("completion failed", "lead_id", lead.ID.String(), "error", err.Error())
		return
	}

	w.recordAudit(ctx, completed, automationlog.ActionCompleted, reason)
	w.bus.Publish(ctx, events.LeadCompleted{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     completed.ID.String(),
		CampaignID: completed.CampaignID.String(),
		Reason:     reason,
	})
}

func (w *Worker) releaseLease(ctx context.Context, payload BumpPayload) {
	if err := w.leads.ReleaseLease(ctx, payload.LeadID); err != nil {
		w.log.Error("lease release failed", "lead_id", payload.LeadID.String(), "error", err.Error())
	}
}

func (w *Worker) recordAudit(ctx context.Context, lead *domain.Lead, action, detail string) {
	err := w.audit.Record(ctx, automationlog.Entry{
		LeadID:     lead.ID,
		CampaignID: lead.CampaignID,
		Action:     action,
		Stage:      lead.CurrentBumpStage,
		Detail:     detail,
	})
	if err != nil {
		w.log.Error("automation log write failed", "lead_id", lead.ID.String(), "error", err.Error())
	}
}

// renderTemplate fills the campaign template's lead placeholders
func renderTemplate(template string, lead *domain.Lead) string {
	if template == "" {
		return ""
	}
	replacer := strings.NewReplacer(
		"{{first_name}}", lead.FirstName,
		"{{last_name}}", lead.LastName,
	)
	return replacer.Replace(template)
}
