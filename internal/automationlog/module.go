package automationlog

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/logger"
)

// Module exposes the automation log read surface
type Module struct {
	Repository *Repository
}

// NewModule creates the automation log module
func NewModule(repo *Repository) *Module {
	return &Module{Repository: repo}
}

func (m *Module) Name() string { return "automation-logs" }

func (m *Module) RegisterRoutes(rc apphttp.RouterContext) {
	h := &handler{repo: m.Repository, log: rc.Log}
	rc.API.GET("/automation-logs", h.List)
}

type handler struct {
	repo *Repository
	log  *logger.Logger
}

// List handles GET /automation-logs with lead/campaign/action filters
func (h *handler) List(c *gin.Context) {
	filter := Filter{
		Action: c.Query("action"),
		Offset: intQuery(c, "offset", 0),
		Limit:  intQuery(c, "limit", 100),
	}

	if raw := c.Query("lead_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpkit.HandleError(c, h.log, apperr.Validation("lead_id must be a UUID"))
			return
		}
		filter.LeadID = &id
	}
	if raw := c.Query("campaign_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpkit.HandleError(c, h.log, apperr.Validation("campaign_id must be a UUID"))
			return
		}
		filter.CampaignID = &id
	}

	entries, err := h.repo.List(c.Request.Context(), filter)
	if err != nil {
		httpkit.HandleError(c, h.log, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, gin.H{"logs": entries, "count": len(entries)})
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
