package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
	"leadflow_backend/platform/validator"
)

// App aggregates everything the HTTP host needs
type App struct {
	Config    *config.Config
	Log       *logger.Logger
	Pool      *pgxpool.Pool
	Validator *validator.Validator
	Modules   []Module
}

// NewApp creates the HTTP application shell
func NewApp(cfg *config.Config, log *logger.Logger, pool *pgxpool.Pool, modules ...Module) *App {
	return &App{
		Config:    cfg,
		Log:       log,
		Pool:      pool,
		Validator: validator.New(),
		Modules:   modules,
	}
}

// Serve runs the HTTP server until ctx is cancelled, then drains
func (a *App) Serve(ctx context.Context, handler http.Handler) error {
	server := &http.Server{
		Addr:              a.Config.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.Log.Info("http server started", "addr", a.Config.HTTPAddr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
