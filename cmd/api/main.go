// The api binary hosts the CRM REST surface: leads, campaigns,
// automation logs, notifications, and the messaging webhooks.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	campaignhandler "leadflow_backend/internal/campaigns/handler"
	campaignrepo "leadflow_backend/internal/campaigns/repository"

	"leadflow_backend/internal/automationlog"
	"leadflow_backend/internal/email"
	apphttp "leadflow_backend/internal/http"
	"leadflow_backend/internal/http/router"
	"leadflow_backend/internal/leads"
	"leadflow_backend/internal/notification"
	"leadflow_backend/internal/notification/inapp"
	"leadflow_backend/internal/webhook"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/db"
	"leadflow_backend/platform/events"
	"leadflow_backend/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("configuration error: " + err.Error())
	}

	log := logger.New(cfg.Environment())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := withRetry(ctx, log, "database", func() (*pgxpool.Pool, error) {
		return db.NewPool(ctx, cfg.DatabaseURL())
	})
	if err != nil {
		log.Error("database unavailable", "error", err.Error())
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL(), "migrations"); err != nil {
		log.Error("migration failed", "error", err.Error())
		os.Exit(1)
	}

	bus := events.NewInMemoryBus(log)
	auditRepo := automationlog.NewRepository(pool)
	campaignRepo := campaignrepo.New(pool)

	var emailSender email.Sender
	if cfg.EmailAlertsEnabled() {
		emailSender = email.NewSMTPSender(cfg)
	}
	notificationModule := notification.NewModule(
		inapp.NewRepository(pool), emailSender, cfg.OperatorEmail(), cfg.EmailAlertsEnabled(), log)
	notificationModule.Subscribe(bus)

	leadModule := leads.NewModule(pool, log, bus, auditRepo, campaignRepo)

	app := apphttp.NewApp(cfg, log, pool,
		leadModule,
		campaignhandler.NewModule(campaignRepo),
		automationlog.NewModule(auditRepo),
		notificationModule,
		webhook.NewModule(leadModule.Service),
	)

	if err := app.Serve(ctx, router.New(app)); err != nil {
		log.Error("http server failed", "error", err.Error())
		os.Exit(1)
	}
	log.Info("api shut down cleanly")
}

// withRetry retries startup dependencies with a quadratic backoff so
// a restart does not crash-loop while its dependencies come up.
func withRetry[T any](ctx context.Context, log *logger.Logger, name string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= 5; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		backoff := time.Duration(attempt*attempt) * time.Second
		log.Warn("dependency not ready",
			"dependency", name,
			"attempt", attempt,
			"retry_in", backoff.String(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return zero, lastErr
}
