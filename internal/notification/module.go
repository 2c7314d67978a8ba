// Package notification turns engine events into notification center
// rows and, for the events an operator must see quickly, email alerts.
package notification

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadflow_backend/internal/email"
	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/notification/inapp"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/logger"
)

// Store is the in-app notification persistence surface
type Store interface {
	Create(ctx context.Context, n inapp.Notification) error
	List(ctx context.Context, unreadOnly bool, limit int) ([]inapp.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	MarkAllRead(ctx context.Context) error
}

// Module is the notification center bounded context
type Module struct {
	store         Store
	email         email.Sender
	operatorEmail string
	emailEnabled  bool
	log           *logger.Logger
}

// NewModule creates the notification module. emailSender may be nil
// when alerts are disabled.
func NewModule(store Store, emailSender email.Sender, operatorEmail string, emailEnabled bool, log *logger.Logger) *Module {
	return &Module{
		store:         store,
		email:         emailSender,
		operatorEmail: operatorEmail,
		emailEnabled:  emailEnabled && emailSender != nil && operatorEmail != "",
		log:           log,
	}
}

func (m *Module) Name() string { return "notifications" }

// Subscribe attaches the module to the engine's domain events
func (m *Module) Subscribe(bus events.Bus) {
	bus.Subscribe(events.LeadBookedName, events.HandlerFunc(m.onBooked))
	bus.Subscribe(events.LeadOptedOutName, events.HandlerFunc(m.onOptedOut))
	bus.Subscribe(events.LeadErroredName, events.HandlerFunc(m.onErrored))
	bus.Subscribe(events.LeadCompletedName, events.HandlerFunc(m.onCompleted))
}

func (m *Module) onBooked(ctx context.Context, e events.Event) error {
	evt, ok := e.(events.LeadBooked)
	if !ok {
		return nil
	}
	return m.notify(ctx, "booking", "Lead booked",
		fmt.Sprintf("Lead %s confirmed a booking.", evt.LeadID), evt.LeadID, true)
}

func (m *Module) onOptedOut(ctx context.Context, e events.Event) error {
	evt, ok := e.(events.LeadOptedOut)
	if !ok {
		return nil
	}
	return m.notify(ctx, "dnd", "Lead opted out",
		fmt.Sprintf("Lead %s opted out: %s", evt.LeadID, evt.Reason), evt.LeadID, true)
}

func (m *Module) onErrored(ctx context.Context, e events.Event) error {
	evt, ok := e.(events.LeadErrored)
	if !ok {
		return nil
	}
	return m.notify(ctx, "error", "Lead automation errored",
		fmt.Sprintf("Lead %s failed at stage %d: %s", evt.LeadID, evt.Stage, evt.Detail), evt.LeadID, true)
}

func (m *Module) onCompleted(ctx context.Context, e events.Event) error {
	evt, ok := e.(events.LeadCompleted)
	if !ok {
		return nil
	}
	return m.notify(ctx, "completed", "Bump sequence completed",
		fmt.Sprintf("Lead %s finished its sequence: %s", evt.LeadID, evt.Reason), evt.LeadID, false)
}

// notify writes the in-app row and optionally emails the operator
func (m *Module) notify(ctx context.Context, kind, title, body, leadID string, alert bool) error {
	var leadRef *uuid.UUID
	if id, err := uuid.Parse(leadID); err == nil {
		leadRef = &id
	}

	err := m.store.Create(ctx, inapp.Notification{
		Kind:   kind,
		Title:  title,
		Body:   body,
		LeadID: leadRef,
	})
	if err != nil {
		return err
	}

	if alert && m.emailEnabled {
		if err := m.email.Send(ctx, m.operatorEmail, title, body); err != nil {
			// The in-app row already exists; a failed email is logged,
			// not propagated.
			m.log.Error("operator email failed", "kind", kind, "error", err.Error())
		}
	}
	return nil
}

// RegisterRoutes mounts the notification center surface
func (m *Module) RegisterRoutes(rc apphttp.RouterContext) {
	h := &handler{store: m.store, log: rc.Log}

	group := rc.API.Group("/notifications")
	group.GET("", h.List)
	group.POST("/:id/read", h.MarkRead)
	group.POST("/read-all", h.MarkAllRead)
}

type handler struct {
	store Store
	log   *logger.Logger
}

func (h *handler) List(c *gin.Context) {
	unreadOnly := c.Query("unread") == "true"
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	out, err := h.store.List(c.Request.Context(), unreadOnly, limit)
	if err != nil {
		httpkit.HandleError(c, h.log, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, gin.H{"notifications": out, "count": len(out)})
}

func (h *handler) MarkRead(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, h.log, apperr.Validation("notification id must be a UUID"))
		return
	}
	if err := h.store.MarkRead(c.Request.Context(), id); err != nil {
		httpkit.HandleError(c, h.log, err)
		return
	}
	httpkit.OK(c, "notification read")
}

func (h *handler) MarkAllRead(c *gin.Context) {
	if err := h.store.MarkAllRead(c.Request.Context()); err != nil {
		httpkit.HandleError(c, h.log, err)
		return
	}
	httpkit.OK(c, "all notifications read")
}
