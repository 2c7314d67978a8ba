package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"leadflow_backend/internal/automationlog"
	"leadflow_backend/internal/campaigns"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/messaging"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/logger"
)

// fakeStore mirrors the repository's claim semantics in memory
type fakeStore struct {
	mu    sync.Mutex
	leads map[uuid.UUID]*domain.Lead
}

func newFakeStore() *fakeStore {
	return &fakeStore{leads: make(map[uuid.UUID]*domain.Lead)}
}

func (f *fakeStore) put(lead *domain.Lead) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *lead
	f.leads[lead.ID] = &copied
}

func (f *fakeStore) get(id uuid.UUID) *domain.Lead {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *f.leads[id]
	return &copied
}

func (f *fakeStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Lead
	for _, l := range f.leads {
		if l.AutomationStatus == domain.AutomationActive && l.NextActionAt != nil && !l.NextActionAt.After(now) {
			copied := *l
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeStore) ListQueued(ctx context.Context, campaignID uuid.UUID, limit int) ([]*domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Lead
	for _, l := range f.leads {
		if l.AutomationStatus == domain.AutomationQueued && l.CampaignID == campaignID && !l.ManualTakeover && !l.OptedOut {
			copied := *l
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeStore) CampaignsWithQueuedLeads(ctx context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, l := range f.leads {
		if l.AutomationStatus == domain.AutomationQueued && !seen[l.CampaignID] {
			seen[l.CampaignID] = true
			out = append(out, l.CampaignID)
		}
	}
	return out, nil
}

func (f *fakeStore) Mutate(ctx context.Context, id uuid.UUID, fn func(*domain.Lead) error) (*domain.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lead, ok := f.leads[id]
	if !ok {
		return nil, apperr.NotFound("lead not found")
	}
	copied := *lead
	if err := fn(&copied); err != nil {
		return nil, err
	}
	f.leads[id] = &copied
	result := copied
	return &result, nil
}

func (f *fakeStore) ClaimForSend(ctx context.Context, leadID uuid.UUID, stage int, now, leaseUntil time.Time) (*domain.Lead, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lead, ok := f.leads[leadID]
	if !ok {
		return nil, false, nil
	}

	eligible := lead.AutomationStatus == domain.AutomationActive &&
		lead.NextActionAt != nil && !lead.NextActionAt.After(now) &&
		!lead.OptedOut && !lead.ManualTakeover &&
		(lead.DispatchLeasedUntil == nil || lead.DispatchLeasedUntil.Before(now))
	if eligible {
		if stage == 0 {
			eligible = lead.CurrentBumpStage == 0 && lead.FirstMessageSentAt == nil
		} else {
			eligible = lead.CurrentBumpStage == stage-1 && lead.FirstMessageSentAt != nil
		}
	}
	if !eligible {
		return nil, false, nil
	}

	lead.DispatchLeasedUntil = &leaseUntil
	copied := *lead
	return &copied, true, nil
}

func (f *fakeStore) ReleaseLease(ctx context.Context, leadID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if lead, ok := f.leads[leadID]; ok {
		lead.DispatchLeasedUntil = nil
	}
	return nil
}

type fakeCampaignStore struct {
	mu       sync.Mutex
	campaign *campaigns.Campaign
}

func (f *fakeCampaignStore) GetByID(ctx context.Context, id uuid.UUID) (*campaigns.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.campaign == nil || f.campaign.ID != id {
		return nil, apperr.NotFound("campaign not found")
	}
	copied := *f.campaign
	return &copied, nil
}

type fakeLimiter struct {
	mu          sync.Mutex
	admitted    int
	admitLimit  int
	slotBlocked bool

	// onAdmit runs between the capacity check and the admission
	// mutation, so tests can race state changes into the window.
	onAdmit func()
}

func (f *fakeLimiter) AdmitLead(ctx context.Context, campaignID string, limit int, now time.Time) (bool, error) {
	f.mu.Lock()
	if f.admitLimit > 0 && f.admitted >= f.admitLimit {
		f.mu.Unlock()
		return false, nil
	}
	f.admitted++
	hook := f.onAdmit
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return true, nil
}

func (f *fakeLimiter) ReserveSendSlot(ctx context.Context, campaignID string, interval time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.slotBlocked, nil
}

type fakeSender struct {
	mu    sync.Mutex
	calls int
	errs  []error

	// onSend runs between the provider call and the finalize, outside
	// the sender lock, so tests can race state changes into the window.
	onSend func()
}

func (f *fakeSender) Send(ctx context.Context, req messaging.SendRequest) (*messaging.SendResult, error) {
	f.mu.Lock()
	f.calls++
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	hook := f.onSend
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return &messaging.SendResult{MessageID: "msg-1"}, nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	enqueued []BumpPayload
}

func (f *fakeEnqueuer) EnqueueBump(ctx context.Context, leadID, campaignID uuid.UUID, stage int, processAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, BumpPayload{LeadID: leadID, CampaignID: campaignID, Stage: stage})
	return nil
}

type fakeBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (f *fakeBus) Publish(ctx context.Context, e events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, e)
}

func (f *fakeBus) PublishSync(ctx context.Context, e events.Event) error {
	f.Publish(ctx, e)
	return nil
}

func (f *fakeBus) Subscribe(name string, h events.Handler) {}

func (f *fakeBus) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.published))
	for i, e := range f.published {
		out[i] = e.EventName()
	}
	return out
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []automationlog.Entry
}

func (f *fakeRecorder) Record(ctx context.Context, entry automationlog.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeRecorder) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.entries))
	for i, e := range f.entries {
		out[i] = e.Action
	}
	return out
}

type workerFixture struct {
	worker   *Worker
	store    *fakeStore
	sender   *fakeSender
	limiter  *fakeLimiter
	enqueuer *fakeEnqueuer
	bus      *fakeBus
	recorder *fakeRecorder
	campaign *campaigns.Campaign
}

func newWorkerFixture() *workerFixture {
	campaign := &campaigns.Campaign{
		ID:                   uuid.New(),
		Status:               campaigns.StatusActive,
		BumpDelay1Hours:      24,
		BumpDelay2Hours:      48,
		BumpDelay3Hours:      72,
		MaxBumps:             3,
		StopOnResponse:       true,
		FirstMessageTemplate: "hi {{first_name}}",
		Bump1Template:        "bump one",
	}

	store := newFakeStore()
	sender := &fakeSender{}
	limiter := &fakeLimiter{}
	enqueuer := &fakeEnqueuer{}
	bus := &fakeBus{}
	recorder := &fakeRecorder{}

	worker := NewWorker(store, &fakeCampaignStore{campaign: campaign}, limiter, sender, enqueuer, bus, recorder, logger.New("test"), time.Minute, 3)
	worker.backoff = func(int) time.Duration { return time.Millisecond }
	return &workerFixture{
		worker:   worker,
		store:    store,
		sender:   sender,
		limiter:  limiter,
		enqueuer: enqueuer,
		bus:      bus,
		recorder: recorder,
		campaign: campaign,
	}
}

func (fx *workerFixture) dueLead(mutate func(*domain.Lead)) *domain.Lead {
	now := time.Now().UTC()
	due := now.Add(-time.Minute)
	lead := domain.NewLead(uuid.New(), fx.campaign.ID, "Ada", "Lovelace", "+15551234567", "", now.Add(-48*time.Hour))
	lead.AutomationStatus = domain.AutomationActive
	lead.NextActionAt = &due
	if mutate != nil {
		mutate(lead)
	}
	fx.store.put(lead)
	return lead
}

func (fx *workerFixture) handle(t *testing.T, leadID uuid.UUID, stage int) {
	t.Helper()
	task, err := NewBumpTask(leadID, fx.campaign.ID, stage)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := fx.worker.HandleBumpSend(context.Background(), task); err != nil {
		t.Fatalf("HandleBumpSend failed: %v", err)
	}
}

func TestFirstSendAdvancesLead(t *testing.T) {
	fx := newWorkerFixture()
	lead := fx.dueLead(nil)

	fx.handle(t, lead.ID, 0)

	got := fx.store.get(lead.ID)
	if got.ConversionStatus != domain.ConversionContacted {
		t.Errorf("expected Contacted, got %s", got.ConversionStatus)
	}
	if got.CurrentBumpStage != 0 {
		t.Errorf("expected stage 0, got %d", got.CurrentBumpStage)
	}
	if got.FirstMessageSentAt == nil {
		t.Fatal("first_message_sent_at not set")
	}
	if got.NextActionAt == nil {
		t.Fatal("next_action_at not replanned")
	}
	want := got.FirstMessageSentAt.Add(24 * time.Hour)
	if !got.NextActionAt.Equal(want) {
		t.Errorf("next_action_at = %v, want %v", got.NextActionAt, want)
	}
	if fx.sender.callCount() != 1 {
		t.Errorf("expected exactly one send, got %d", fx.sender.callCount())
	}
}

func TestLastBumpSendCompletesSequence(t *testing.T) {
	fx := newWorkerFixture()
	past := time.Now().UTC().Add(-72 * time.Hour)
	lead := fx.dueLead(func(l *domain.Lead) {
		l.ConversionStatus = domain.ConversionContacted
		l.CurrentBumpStage = 2
		l.FirstMessageSentAt = &past
		l.Bump1SentAt = &past
		l.Bump2SentAt = &past
		l.LastMessageSentAt = &past
	})

	fx.handle(t, lead.ID, 3)

	got := fx.store.get(lead.ID)
	if got.CurrentBumpStage != 3 {
		t.Errorf("expected stage 3, got %d", got.CurrentBumpStage)
	}
	if got.AutomationStatus != domain.AutomationCompleted {
		t.Errorf("expected completed after the final bump, got %s", got.AutomationStatus)
	}
	if got.NextActionAt != nil {
		t.Error("next_action_at must be nil after completion")
	}
	if fx.sender.callCount() != 1 {
		t.Errorf("expected one send, got %d", fx.sender.callCount())
	}
}

func TestOptedOutLeadIsNeverSent(t *testing.T) {
	fx := newWorkerFixture()
	lead := fx.dueLead(func(l *domain.Lead) {
		l.OptedOut = true
	})

	fx.handle(t, lead.ID, 0)

	if fx.sender.callCount() != 0 {
		t.Errorf("opted-out lead must never be sent, got %d sends", fx.sender.callCount())
	}
}

func TestStopOnResponseCompletesInsteadOfSending(t *testing.T) {
	fx := newWorkerFixture()
	sent := time.Now().UTC().Add(-24 * time.Hour)
	received := sent.Add(time.Hour)
	lead := fx.dueLead(func(l *domain.Lead) {
		l.ConversionStatus = domain.ConversionResponded
		l.CurrentBumpStage = 1
		l.FirstMessageSentAt = &sent
		l.Bump1SentAt = &sent
		l.LastMessageSentAt = &sent
		l.LastMessageReceivedAt = &received
		l.MessageCountReceived = 1
	})

	fx.handle(t, lead.ID, 2)

	got := fx.store.get(lead.ID)
	if got.AutomationStatus != domain.AutomationCompleted {
		t.Errorf("expected completed, got %s", got.AutomationStatus)
	}
	if fx.sender.callCount() != 0 {
		t.Errorf("no send expected after a reply, got %d", fx.sender.callCount())
	}
}

func TestConcurrentWorkersSendAtMostOnce(t *testing.T) {
	fx := newWorkerFixture()
	lead := fx.dueLead(nil)

	task, err := NewBumpTask(lead.ID, fx.campaign.ID, 0)
	if err != nil {
		t.Fatalf("build task: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = fx.worker.HandleBumpSend(context.Background(), task)
		}()
	}
	wg.Wait()

	if fx.sender.callCount() != 1 {
		t.Errorf("racing workers sent %d times, want exactly 1", fx.sender.callCount())
	}
	got := fx.store.get(lead.ID)
	if got.MessageCountSent != 1 {
		t.Errorf("message_count_sent = %d, want 1", got.MessageCountSent)
	}
}

func TestTerminalSendFailureQuarantinesWithoutRetry(t *testing.T) {
	fx := newWorkerFixture()
	lead := fx.dueLead(nil)
	fx.sender.errs = []error{&messaging.SendError{StatusCode: 400, Body: "invalid phone"}}

	fx.handle(t, lead.ID, 0)

	got := fx.store.get(lead.ID)
	if got.AutomationStatus != domain.AutomationError {
		t.Errorf("expected error status, got %s", got.AutomationStatus)
	}
	if got.NextActionAt != nil {
		t.Error("next_action_at must be nil in error state")
	}
	if fx.sender.callCount() != 1 {
		t.Errorf("terminal failure must not retry, got %d attempts", fx.sender.callCount())
	}

	names := fx.bus.names()
	if len(names) != 1 || names[0] != events.LeadErroredName {
		t.Errorf("expected %s event, got %v", events.LeadErroredName, names)
	}
}

func TestTransientFailureRetriesThenRecovers(t *testing.T) {
	fx := newWorkerFixture()
	lead := fx.dueLead(nil)
	fx.sender.errs = []error{
		&messaging.SendError{StatusCode: 503, Body: "unavailable"},
		nil,
	}

	fx.handle(t, lead.ID, 0)

	got := fx.store.get(lead.ID)
	if got.AutomationStatus != domain.AutomationActive {
		t.Errorf("expected active after recovery, got %s", got.AutomationStatus)
	}
	if fx.sender.callCount() != 2 {
		t.Errorf("expected 2 attempts, got %d", fx.sender.callCount())
	}
}

func TestTransientFailureExhaustsRetriesIntoError(t *testing.T) {
	fx := newWorkerFixture()
	lead := fx.dueLead(nil)
	fx.sender.errs = []error{
		&messaging.SendError{StatusCode: 500, Body: "boom"},
		&messaging.SendError{StatusCode: 500, Body: "boom"},
		&messaging.SendError{StatusCode: 500, Body: "boom"},
	}

	fx.handle(t, lead.ID, 0)

	got := fx.store.get(lead.ID)
	if got.AutomationStatus != domain.AutomationError {
		t.Errorf("expected error status, got %s", got.AutomationStatus)
	}
	if fx.sender.callCount() != 3 {
		t.Errorf("expected 3 attempts, got %d", fx.sender.callCount())
	}
}

func TestSpacingLimitDefersWithoutPenalty(t *testing.T) {
	fx := newWorkerFixture()
	fx.campaign.MessageIntervalMinutes = 5
	fx.limiter.slotBlocked = true
	lead := fx.dueLead(nil)

	fx.handle(t, lead.ID, 0)

	got := fx.store.get(lead.ID)
	if got.AutomationStatus != domain.AutomationActive {
		t.Errorf("lead must stay active when capacity defers it, got %s", got.AutomationStatus)
	}
	if got.NextActionAt == nil || !got.NextActionAt.After(time.Now().UTC()) {
		t.Error("next_action_at must be pushed past now")
	}
	if fx.sender.callCount() != 0 {
		t.Errorf("no send expected under spacing limit, got %d", fx.sender.callCount())
	}
}

func TestReplyDuringSendKeepsFunnelTransition(t *testing.T) {
	fx := newWorkerFixture()
	lead := fx.dueLead(nil)

	received := time.Now().UTC()
	fx.sender.onSend = func() {
		if _, err := fx.store.Mutate(context.Background(), lead.ID, func(l *domain.Lead) error {
			l.RecordInbound(received, received)
			return nil
		}); err != nil {
			t.Errorf("inbound mutate failed: %v", err)
		}
	}

	fx.handle(t, lead.ID, 0)

	got := fx.store.get(lead.ID)
	if got.ConversionStatus != domain.ConversionResponded {
		t.Errorf("reply during send was overwritten: conversion_status=%s, want %s",
			got.ConversionStatus, domain.ConversionResponded)
	}
	if got.MessageCountSent != 1 || got.MessageCountReceived != 1 {
		t.Errorf("counts sent=%d received=%d, want 1 and 1", got.MessageCountSent, got.MessageCountReceived)
	}
	if got.FirstMessageSentAt == nil {
		t.Error("first_message_sent_at not set")
	}
}

func TestOptOutDuringSendWinsOverFinalize(t *testing.T) {
	fx := newWorkerFixture()
	lead := fx.dueLead(nil)

	now := time.Now().UTC()
	fx.sender.onSend = func() {
		if _, err := fx.store.Mutate(context.Background(), lead.ID, func(l *domain.Lead) error {
			l.OptOut("STOP keyword received", now)
			return nil
		}); err != nil {
			t.Errorf("opt-out mutate failed: %v", err)
		}
	}

	fx.handle(t, lead.ID, 0)

	got := fx.store.get(lead.ID)
	if got.AutomationStatus != domain.AutomationDND {
		t.Errorf("expected dnd, got %s", got.AutomationStatus)
	}
	if got.ConversionStatus != domain.ConversionDND {
		t.Errorf("expected DND funnel status, got %s", got.ConversionStatus)
	}
	if got.MessageCountSent != 1 {
		t.Errorf("message_count_sent = %d, want 1", got.MessageCountSent)
	}
	if got.NextActionAt != nil {
		t.Error("next_action_at must be nil after opt-out")
	}
	if names := fx.bus.names(); len(names) != 0 {
		t.Errorf("no lifecycle events expected, got %v", names)
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

func TestPausedCampaignSkipsSend(t *testing.T) {
	fx := newWorkerFixture()
	fx.campaign.Status = campaigns.StatusPaused
	lead := fx.dueLead(nil)

	fx.handle(t, lead.ID, 0)

	if fx.sender.callCount() != 0 {
		t.Errorf("paused campaign must not send, got %d", fx.sender.callCount())
	}
	got := fx.store.get(lead.ID)
	if got.AutomationStatus != domain.AutomationActive {
		t.Errorf("lead state must be untouched, got %s", got.AutomationStatus)
	}
}
