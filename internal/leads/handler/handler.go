// Package handler exposes the lead REST surface.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/service"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

// Handler serves lead endpoints
type Handler struct {
	svc       *service.Service
	log       *logger.Logger
	validator *validator.Validator
}

// New creates the lead handler
func New(svc *service.Service, log *logger.Logger, v *validator.Validator) *Handler {
	return &Handler{svc: svc, log: log, validator: v}
}

type createRequest struct {
	AccountID  string `json:"account_id" validate:"required,uuid"`
	CampaignID string `json:"campaign_id" validate:"required,uuid"`
	FirstName  string `json:"first_name" validate:"required,max=100"`
	LastName   string `json:"last_name" validate:"max=100"`
	Phone      string `json:"phone" validate:"required"`
	Email      string `json:"email" validate:"omitempty,email"`
	Priority   string `json:"priority" validate:"omitempty,oneof=Urgent High Medium Low"`
	Timezone   string `json:"timezone" validate:"max=64"`
}

// Create handles POST /leads
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, h.log, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpkit.HandleError(c, h.log, err)
		return
	}

	accountID, _ := uuid.Parse(req.AccountID)
	campaignID, _ := uuid.Parse(req.CampaignID)

	view, err := h.svc.Create(c.Request.Context(), service.CreateInput{
		AccountID:  accountID,
		CampaignID: campaignID,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Phone:      req.Phone,
		Email:      req.Email,
		Priority:   req.Priority,
		Timezone:   req.Timezone,
	})
	if err != nil {
		httpkit.HandleError(c, h.log, err)
		return
	}
	httpkit.Created(c, view)
}

// List handles GET /leads with prioritization filters
func (h *Handler) List(c *gin.Context) {
	filter := service.ListFilter{
		Limit:  intQuery(c, "limit", 100),
		Offset: intQuery(c, "offset", 0),
	}

	if raw := c.Query("campaign_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpkit.HandleError(c, h.log, apperr.Validation("campaign_id must be a UUID"))
			return
		}
		filter.CampaignID = &id
	}
	if raw := c.Query("conversion_status"); raw != "" {
		status := domain.ConversionStatus(raw)
		filter.ConversionStatus = &status
	}
	if raw := c.Query("automation_status"); raw != "" {
		status := domain.AutomationStatus(raw)
		filter.AutomationStatus = &status
	}
	filter.MinScore = intQuery(c, "min_score", 0)

	views, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		httpkit.HandleError(c, h.log, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, gin.H{"leads": views, "count": len(views)})
}

// Get handles GET /leads/:id
func (h *Handler) Get(c *gin.Context) {
	id, ok := h.leadID(c)
	if !ok {
		return
	}
	view, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, h.log, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, view)
}

type updateRequest struct {
	FirstName      *string `json:"first_name" validate:"omitempty,max=100"`
	LastName       *string `json:"last_name" validate:"omitempty,max=100"`
	Email          *string `json:"email" validate:"omitempty,email"`
	Priority       *string `json:"priority" validate:"omitempty,oneof=Urgent High Medium Low"`
	LeadScore      *int    `json:"lead_score" validate:"omitempty,min=0,max=100"`
	ManualTakeover *bool   `json:"manual_takeover"`
}

// Update handles PATCH /leads/:id
func (h *Handler) Update(c *gin.Context) {
	id, ok := h.leadID(c)
	if !ok {
		return
	}

	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, h.log, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpkit.HandleError(c, h.log, err)
		return
	}

	view, err := h.svc.Update(c.Request.Context(), id, service.UpdateInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Priority:  req.Priority,
		LeadScore: req.LeadScore,
	})
	if err != nil {
		httpkit.HandleError(c, h.log, err)
		return
	}

	if req.ManualTakeover != nil {
		view, err = h.svc.SetTakeover(c.Request.Context(), id, *req.ManualTakeover)
		if err != nil {
			httpkit.HandleError(c, h.log, err)
			return
		}
	}
	httpkit.JSON(c, http.StatusOK, view)
}

// Pause handles POST /leads/:id/pause
func (h *Handler) Pause(c *gin.Context) {
	h.transition(c, h.svc.Pause)
}

// Resume handles POST /leads/:id/resume
func (h *Handler) Resume(c *gin.Context) {
	h.transition(c, h.svc.Resume)
}

// Qualify handles POST /leads/:id/qualify
func (h *Handler) Qualify(c *gin.Context) {
	h.transition(c, h.svc.Qualify)
}

// Book handles POST /leads/:id/book
func (h *Handler) Book(c *gin.Context) {
	h.transition(c, h.svc.Book)
}

// MarkLost handles POST /leads/:id/lose
func (h *Handler) MarkLost(c *gin.Context) {
	h.transition(c, h.svc.MarkLost)
}

// Requeue handles POST /leads/:id/requeue
func (h *Handler) Requeue(c *gin.Context) {
	h.transition(c, h.svc.Requeue)
}

type optOutRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}

// OptOut handles POST /leads/:id/opt-out
func (h *Handler) OptOut(c *gin.Context) {
	id, ok := h.leadID(c)
	if !ok {
		return
	}

	var req optOutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.HandleError(c, h.log, apperr.Validation("invalid request body"))
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "manual DNC action"
	}

	view, err := h.svc.OptOut(c.Request.Context(), id, req.Reason)
	if err != nil {
		httpkit.HandleError(c, h.log, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, view)
}

func (h *Handler) transition(c *gin.Context, op func(context.Context, uuid.UUID) (*service.View, error)) {
	id, ok := h.leadID(c)
	if !ok {
		return
	}
	view, err := op(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, h.log, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, view)
}

func (h *Handler) leadID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, h.log, apperr.Validation("lead id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
