// Package handler exposes the campaign read and pause/resume surface.
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"leadflow_backend/internal/campaigns"
	"leadflow_backend/internal/campaigns/repository"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/logger"
)

// Handler serves campaign endpoints
type Handler struct {
	repo *repository.Repository
	log  *logger.Logger
}

// New creates the campaign handler
func New(repo *repository.Repository, log *logger.Logger) *Handler {
	return &Handler{repo: repo, log: log}
}

// Module is the campaigns bounded context
type Module struct {
	Repository *repository.Repository
}

// NewModule assembles the campaigns module
func NewModule(repo *repository.Repository) *Module {
	return &Module{Repository: repo}
}

func (m *Module) Name() string { return "campaigns" }

// RegisterRoutes mounts the campaign surface
func (m *Module) RegisterRoutes(rc apphttp.RouterContext) {
	h := New(m.Repository, rc.Log)

	group := rc.API.Group("/campaigns")
	group.GET("", h.List)
	group.GET("/:id", h.Get)
	group.POST("/:id/pause", h.Pause)
	group.POST("/:id/resume", h.Resume)
}

// List handles GET /campaigns
func (h *Handler) List(c *gin.Context) {
	out, err := h.repo.List(c.Request.Context())
	if err != nil {
		httpkit.HandleError(c, h.log, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, gin.H{"campaigns": out, "count": len(out)})
}

// Get handles GET /campaigns/:id
func (h *Handler) Get(c *gin.Context) {
	id, ok := h.campaignID(c)
	if !ok {
		return
	}
	campaign, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, h.log, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, campaign)
}

// Pause handles POST /campaigns/:id/pause. The dispatch loop stops
// acting on the campaign's leads on its next poll.
func (h *Handler) Pause(c *gin.Context) {
	h.setStatus(c, campaigns.StatusPaused)
}

// Resume handles POST /campaigns/:id/resume
func (h *Handler) Resume(c *gin.Context) {
	h.setStatus(c, campaigns.StatusActive)
}

func (h *Handler) setStatus(c *gin.Context, status campaigns.Status) {
	id, ok := h.campaignID(c)
	if !ok {
		return
	}
	if err := h.repo.SetStatus(c.Request.Context(), id, status, time.Now().UTC()); err != nil {
		httpkit.HandleError(c, h.log, err)
		return
	}
	httpkit.OK(c, "campaign "+string(status))
}

func (h *Handler) campaignID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, h.log, apperr.Validation("campaign id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}
