// The dispatcher binary runs the automation engine: the poller that
// admits queued leads and schedules due bumps, and the asynq worker
// pool that performs the sends.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	campaignrepo "leadflow_backend/internal/campaigns/repository"
	leadrepo "leadflow_backend/internal/leads/repository"

	"leadflow_backend/internal/automationlog"
	"leadflow_backend/internal/dispatch"
	"leadflow_backend/internal/email"
	"leadflow_backend/internal/messaging"
	"leadflow_backend/internal/notification"
	"leadflow_backend/internal/notification/inapp"
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

	rdb, err := withRetry(ctx, log, "redis", func() (*redis.Client, error) {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisURL()})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, err
		}
		return client, nil
	})
	if err != nil {
		log.Error("redis unavailable", "error", err.Error())
		os.Exit(1)
	}
	defer rdb.Close()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisURL()})
	defer asynqClient.Close()

	bus := events.NewInMemoryBus(log)
	auditRepo := automationlog.NewRepository(pool)
	leadRepo := leadrepo.New(pool)
	campaignRepo := campaignrepo.New(pool)

	// The dispatcher publishes the lifecycle events, so it carries its
	// own notification subscription.
	var emailSender email.Sender
	if cfg.EmailAlertsEnabled() {
		emailSender = email.NewSMTPSender(cfg)
	}
	notification.NewModule(
		inapp.NewRepository(pool), emailSender, cfg.OperatorEmail(), cfg.EmailAlertsEnabled(), log,
	).Subscribe(bus)

	limiter := dispatch.NewRateLimiter(rdb)
	enqueuer := dispatch.NewAsynqEnqueuer(asynqClient, cfg.QueueName())
	sender := messaging.NewClient(cfg.MessagingBaseURL(), cfg.MessagingAPIKey(), cfg.SendTimeout())

	worker := dispatch.NewWorker(leadRepo, campaignRepo, limiter, sender, enqueuer, bus, auditRepo, log,
		cfg.LeaseTTL(), cfg.SendMaxRetries())
	poller := dispatch.NewPoller(leadRepo, campaignRepo, limiter, enqueuer, bus, auditRepo, log,
		cfg.PollInterval(), cfg.PollBatchSize())
	server := dispatch.NewServer(cfg.RedisURL(), cfg.QueueName(), cfg.WorkerConcurrency(), worker, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return poller.Run(gctx) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Error("dispatcher failed", "error", err.Error())
		os.Exit(1)
	}
	log.Info("dispatcher shut down cleanly")
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
