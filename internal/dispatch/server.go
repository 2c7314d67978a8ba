package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"leadflow_backend/platform/logger"
)

// Server hosts the asynq worker pool for bump tasks
type Server struct {
	srv *asynq.Server
	mux *asynq.ServeMux
	log *logger.Logger
}

// NewServer creates the worker server on the shared redis queue
func NewServer(redisAddr, queue string, concurrency int, worker *Worker, log *logger.Logger) *Server {
	if concurrency <= 0 {
		concurrency = 10
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: concurrency,
			Queues:      map[string]int{queue: 1},
			Logger:      asynqLogger{log: log},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeBumpSend, worker.HandleBumpSend)

	return &Server{srv: srv, mux: mux, log: log}
}

// Run serves tasks until ctx is cancelled, then drains in-flight work
func (s *Server) Run(ctx context.Context) error {
	if err := s.srv.Start(s.mux); err != nil {
		return err
	}

	<-ctx.Done()
	s.log.Info("dispatch worker stopping")
	s.srv.Shutdown()
	return nil
}

// asynqLogger adapts the platform logger to asynq's interface
type asynqLogger struct {
	log *logger.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) {
	l.log.Error(fmt.Sprint(args...), slog.Bool("fatal", true))
}
