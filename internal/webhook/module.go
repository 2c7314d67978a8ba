// Package webhook receives the messaging collaborator's callbacks:
// inbound replies and delivery receipts.
package webhook

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/leads/service"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

// Module handles provider callbacks
type Module struct {
	svc *service.Service
}

// NewModule creates the webhook module
func NewModule(svc *service.Service) *Module {
	return &Module{svc: svc}
}

func (m *Module) Name() string { return "webhooks" }

// RegisterRoutes mounts the callback endpoints
func (m *Module) RegisterRoutes(rc apphttp.RouterContext) {
	h := &handler{svc: m.svc, log: rc.Log, validator: rc.Validator}

	messages := rc.Webhooks.Group("/messages")
	messages.POST("/inbound", h.Inbound)
	messages.POST("/delivered", h.Delivered)
}

type handler struct {
	svc       *service.Service
	log       *logger.Logger
	validator *validator.Validator
}

type inboundRequest struct {
	LeadID     string    `json:"lead_id" validate:"required,uuid"`
	Body       string    `json:"body" validate:"required"`
	ReceivedAt time.Time `json:"received_at"`
}

// Inbound applies a reply from a lead. Runs concurrently with the
// dispatch loop; the per-lead lock below the service serializes them.
func (h *handler) Inbound(c *gin.Context) {
	var req inboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, h.log, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpkit.HandleError(c, h.log, err)
		return
	}

	leadID, _ := uuid.Parse(req.LeadID)
	view, err := h.svc.HandleInbound(c.Request.Context(), leadID, req.Body, req.ReceivedAt)
	if err != nil {
		httpkit.HandleError(c, h.log, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, gin.H{
		"lead_id":           view.ID,
		"conversion_status": view.ConversionStatus,
		"automation_status": view.AutomationStatus,
	})
}

type deliveredRequest struct {
	LeadID    string `json:"lead_id" validate:"required,uuid"`
	MessageID string `json:"message_id" validate:"required"`
}

// Delivered records a delivery receipt
func (h *handler) Delivered(c *gin.Context) {
	var req deliveredRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, h.log, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpkit.HandleError(c, h.log, err)
		return
	}

	leadID, _ := uuid.Parse(req.LeadID)
	if err := h.svc.RecordDelivered(c.Request.Context(), leadID, req.MessageID); err != nil {
		httpkit.HandleError(c, h.log, err)
		return
	}
	httpkit.OK(c, "receipt recorded")
}
