package notification

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/notification/inapp"
	"leadflow_backend/platform/logger"
)

type fakeStore struct {
	mu      sync.Mutex
	created []inapp.Notification
}

func (f *fakeStore) Create(ctx context.Context, n inapp.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, n)
	return nil
}

func (f *fakeStore) List(ctx context.Context, unreadOnly bool, limit int) ([]inapp.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]inapp.Notification(nil), f.created...), nil
}

func (f *fakeStore) MarkRead(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeStore) MarkAllRead(ctx context.Context) error            { return nil }

type fakeEmailSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeEmailSender) Send(ctx context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, subject)
	return nil
}

func newTestModule(emailEnabled bool) (*Module, *fakeStore, *fakeEmailSender, events.Bus) {
	store := &fakeStore{}
	sender := &fakeEmailSender{}
	log := logger.New("test")
	module := NewModule(store, sender, "ops@example.com", emailEnabled, log)

	bus := events.NewInMemoryBus(log)
	module.Subscribe(bus)
	return module, store, sender, bus
}

func TestBookedEventCreatesNotificationAndEmail(t *testing.T) {
	_, store, sender, bus := newTestModule(true)

	err := bus.PublishSync(context.Background(), events.LeadBooked{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     uuid.NewString(),
		CampaignID: uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if len(store.created) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(store.created))
	}
	if store.created[0].Kind != "booking" {
		t.Errorf("expected booking kind, got %s", store.created[0].Kind)
	}
	if len(sender.sent) != 1 {
		t.Errorf("expected 1 operator email, got %d", len(sender.sent))
	}
}

func TestCompletedEventSkipsEmail(t *testing.T) {
	_, store, sender, bus := newTestModule(true)

	err := bus.PublishSync(context.Background(), events.LeadCompleted{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     uuid.NewString(),
		CampaignID: uuid.NewString(),
		Reason:     "bump sequence exhausted",
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if len(store.created) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(store.created))
	}
	if len(sender.sent) != 0 {
		t.Errorf("completion must not email the operator, got %d", len(sender.sent))
	}
}

func TestEmailDisabledStillCreatesRows(t *testing.T) {
	_, store, sender, bus := newTestModule(false)

	err := bus.PublishSync(context.Background(), events.LeadErrored{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     uuid.NewString(),
		CampaignID: uuid.NewString(),
		Stage:      2,
		Detail:     "provider returned 500",
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if len(store.created) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(store.created))
	}
	if len(sender.sent) != 0 {
		t.Errorf("no email expected when alerts are disabled, got %d", len(sender.sent))
	}
}

func TestOptOutEventKind(t *testing.T) {
	_, store, _, bus := newTestModule(false)

	err := bus.PublishSync(context.Background(), events.LeadOptedOut{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     uuid.NewString(),
		CampaignID: uuid.NewString(),
		Reason:     "STOP keyword received",
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if len(store.created) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(store.created))
	}
	if store.created[0].Kind != "dnd" {
		t.Errorf("expected dnd kind, got %s", store.created[0].Kind)
	}
}
