package dispatch

import (
	"context"
	"testing"
	"time"

	"leadflow_backend/internal/automationlog"
	"leadflow_backend/internal/campaigns"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/logger"

	"github.com/google/uuid"
)

type pollerFixture struct {
	poller   *Poller
	store    *fakeStore
	limiter  *fakeLimiter
	enqueuer *fakeEnqueuer
	bus      *fakeBus
	recorder *fakeRecorder
	campaign *campaigns.Campaign
}

func newPollerFixture() *pollerFixture {
	campaign := &campaigns.Campaign{
		ID:              uuid.New(),
		Status:          campaigns.StatusActive,
		BumpDelay1Hours: 24,
		BumpDelay2Hours: 48,
		BumpDelay3Hours: 72,
		MaxBumps:        3,
		StopOnResponse:  true,
		DailyLeadLimit:  10,
	}

	store := newFakeStore()
	limiter := &fakeLimiter{}
	enqueuer := &fakeEnqueuer{}
	bus := &fakeBus{}
	recorder := &fakeRecorder{}

	poller := NewPoller(store, &fakeCampaignStore{campaign: campaign}, limiter, enqueuer, bus, recorder, logger.New("test"), time.Minute, 50)
	return &pollerFixture{poller: poller, store: store, limiter: limiter, enqueuer: enqueuer, bus: bus, recorder: recorder, campaign: campaign}
}

func (fx *pollerFixture) queuedLead() *domain.Lead {
	lead := domain.NewLead(uuid.New(), fx.campaign.ID, "Ada", "Lovelace", "+15551234567", "", time.Now().UTC())
	fx.store.put(lead)
	return lead
}

func TestPollerAdmitsQueuedLeads(t *testing.T) {
	fx := newPollerFixture()
	lead := fx.queuedLead()

	fx.poller.tick(context.Background())

	got := fx.store.get(lead.ID)
	if got.AutomationStatus != domain.AutomationActive {
		t.Fatalf("expected active after admission, got %s", got.AutomationStatus)
	}
	if got.NextActionAt == nil {
		t.Fatal("admitted lead must have next_action_at")
	}

	if len(fx.enqueuer.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued bump, got %d", len(fx.enqueuer.enqueued))
	}
	if fx.enqueuer.enqueued[0].Stage != 0 {
		t.Errorf("expected first message task, got stage %d", fx.enqueuer.enqueued[0].Stage)
	}
}

func TestPollerRespectsDailyLimit(t *testing.T) {
	fx := newPollerFixture()
	fx.limiter.admitLimit = 2
	for i := 0; i < 5; i++ {
		fx.queuedLead()
	}

	fx.poller.tick(context.Background())

	var active, queued int
	for id := range fx.store.leads {
		switch fx.store.get(id).AutomationStatus {
		case domain.AutomationActive:
			active++
		case domain.AutomationQueued:
			queued++
		}
	}
	if active != 2 {
		t.Errorf("expected 2 admissions under the daily limit, got %d", active)
	}
	if queued != 3 {
		t.Errorf("expected 3 leads left queued, got %d", queued)
	}
}

func TestPollerLogsComplianceWhenQueuedLeadOptsOut(t *testing.T) {
	fx := newPollerFixture()
	lead := fx.queuedLead()

	now := time.Now().UTC()
	fx.limiter.onAdmit = func() {
		if _, err := fx.store.Mutate(context.Background(), lead.ID, func(l *domain.Lead) error {
			l.OptOut("manual DNC flag", now)
			return nil
		}); err != nil {
			t.Errorf("opt-out mutate failed: %v", err)
		}
	}

	fx.poller.tick(context.Background())

	got := fx.store.get(lead.ID)
	if got.AutomationStatus != domain.AutomationDND {
		t.Errorf("expected dnd, got %s", got.AutomationStatus)
	}
	if len(fx.enqueuer.enqueued) != 0 {
		t.Errorf("no tasks expected for an opted-out lead, got %d", len(fx.enqueuer.enqueued))
	}

	var logged bool
	for _, action := range fx.recorder.actions() {
		if action == automationlog.ActionCompliance {
			logged = true
		}
	}
	if !logged {
		t.Error("compliance rejection was not recorded in the automation log")
	}
}

func TestPollerSkipsPausedCampaign(t *testing.T) {
	fx := newPollerFixture()
	fx.campaign.Status = campaigns.StatusPaused
	lead := fx.queuedLead()

	fx.poller.tick(context.Background())

	got := fx.store.get(lead.ID)
	if got.AutomationStatus != domain.AutomationQueued {
		t.Errorf("paused campaign must not admit, got %s", got.AutomationStatus)
	}
	if len(fx.enqueuer.enqueued) != 0 {
		t.Errorf("no tasks expected, got %d", len(fx.enqueuer.enqueued))
	}
}

func TestPollerCompletesExhaustedDueLead(t *testing.T) {
	fx := newPollerFixture()
	now := time.Now().UTC()
	past := now.Add(-72 * time.Hour)
	due := now.Add(-time.Minute)

	lead := domain.NewLead(uuid.New(), fx.campaign.ID, "Ada", "Lovelace", "+15551234567", "", past)
	lead.AutomationStatus = domain.AutomationActive
	lead.ConversionStatus = domain.ConversionContacted
	lead.CurrentBumpStage = 3
	lead.FirstMessageSentAt = &past
	lead.Bump1SentAt = &past
	lead.Bump2SentAt = &past
	lead.Bump3SentAt = &past
	lead.LastMessageSentAt = &past
	lead.NextActionAt = &due
	fx.store.put(lead)

	fx.poller.tick(context.Background())

	got := fx.store.get(lead.ID)
	if got.AutomationStatus != domain.AutomationCompleted {
		t.Errorf("expected completed, got %s", got.AutomationStatus)
	}
	if got.NextActionAt != nil {
		t.Error("next_action_at must be nil after completion")
	}

	names := fx.bus.names()
	if len(names) != 1 || names[0] != events.LeadCompletedName {
		t.Errorf("expected %s event, got %v", events.LeadCompletedName, names)
	}
}

func TestPollerEnqueuesDueBump(t *testing.T) {
	fx := newPollerFixture()
	now := time.Now().UTC()
	first := now.Add(-25 * time.Hour)
	due := now.Add(-time.Minute)

	lead := domain.NewLead(uuid.New(), fx.campaign.ID, "Ada", "Lovelace", "+15551234567", "", first)
	lead.AutomationStatus = domain.AutomationActive
	lead.ConversionStatus = domain.ConversionContacted
	lead.FirstMessageSentAt = &first
	lead.LastMessageSentAt = &first
	lead.NextActionAt = &due
	fx.store.put(lead)

	fx.poller.tick(context.Background())

	if len(fx.enqueuer.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued bump, got %d", len(fx.enqueuer.enqueued))
	}
	if fx.enqueuer.enqueued[0].Stage != 1 {
		t.Errorf("expected bump 1, got stage %d", fx.enqueuer.enqueued[0].Stage)
	}
}
