// Package leads is the lead lifecycle bounded context.
package leads

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"leadflow_backend/internal/automationlog"
	"leadflow_backend/internal/events"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/leads/handler"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/internal/leads/service"
	"leadflow_backend/platform/logger"
)

// Module wires the lead repository, service, and handler
type Module struct {
	Repository *repository.Repository
	Service    *service.Service
}

// NewModule assembles the leads bounded context
func NewModule(pool *pgxpool.Pool, log *logger.Logger, bus events.Bus, audit automationlog.Recorder, campaignStore service.CampaignStore) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, campaignStore, log, bus, audit)
	return &Module{Repository: repo, Service: svc}
}

func (m *Module) Name() string { return "leads" }

// RegisterRoutes mounts the lead REST surface
func (m *Module) RegisterRoutes(rc apphttp.RouterContext) {
	h := handler.New(m.Service, rc.Log, rc.Validator)

	leads := rc.API.Group("/leads")
	leads.POST("", h.Create)
	leads.GET("", h.List)
	leads.GET("/:id", h.Get)
	leads.PATCH("/:id", h.Update)
	leads.POST("/:id/pause", h.Pause)
	leads.POST("/:id/resume", h.Resume)
	leads.POST("/:id/qualify", h.Qualify)
	leads.POST("/:id/book", h.Book)
	leads.POST("/:id/lose", h.MarkLost)
	leads.POST("/:id/requeue", h.Requeue)
	leads.POST("/:id/opt-out", h.OptOut)
}
