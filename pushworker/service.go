// --- File: pushworker/service.go ---
package pushworker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-worker/internal/api"
	"github.com/tinywideclouds/go-push-worker/internal/pipeline"
	"github.com/tinywideclouds/go-push-worker/pkg/dispatch"
	"github.com/tinywideclouds/go-push-worker/pushworker/config"
)

// Runner drains one batch of pending deliveries.
type Runner interface {
	Run(ctx context.Context) (pipeline.Summary, error)
}

type Wrapper struct {
	*microservice.BaseServer
	runner  Runner
	cron    *cron.Cron
	timeout time.Duration
	mu      sync.Mutex
	logger  *slog.Logger
}

// New assembles the service: the HTTP trigger and, when a schedule is set, the cron job.
func New(cfg *config.Config, runner Runner, logger *slog.Logger) (*Wrapper, error) {
	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	w := &Wrapper{
		BaseServer: baseServer,
		runner:     runner,
		cron:       cron.New(cron.WithLocation(time.UTC)),
		timeout:    cfg.InvocationTimeout,
		logger:     logger.With("component", "PushWorker"),
	}

	// 2. Schedule
	if cfg.Schedule != "" {
		if _, err := w.cron.AddFunc(cfg.Schedule, w.scheduledRun); err != nil {
			return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
		}
	}

	// 3. API (Trigger)
	triggerAPI := api.NewTriggerAPI(w, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	mux.Handle("POST /api/v1/invoke",
		corsMiddleware(api.RequireBearer(cfg.TriggerSecret, http.HandlerFunc(triggerAPI.Invoke))))

	// Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return w, nil
}

// Invoke runs one bounded invocation. It returns ErrAlreadyRunning instead of
// waiting when another invocation holds the worker.
func (w *Wrapper) Invoke(ctx context.Context) (pipeline.Summary, error) {
	if !w.mu.TryLock() {
		return pipeline.Summary{}, dispatch.ErrAlreadyRunning
	}
	defer w.mu.Unlock()

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	return w.runner.Run(ctx)
}

func (w *Wrapper) scheduledRun() {
	summary, err := w.Invoke(context.Background())
	switch {
	case errors.Is(err, dispatch.ErrAlreadyRunning):
		w.logger.Warn("Skipping scheduled invocation, previous one still running")
	case err != nil:
		w.logger.Error("Scheduled invocation failed", "err", err)
	default:
		w.logger.Info("Scheduled invocation complete",
			"processed", summary.Processed,
			"sent", summary.Sent,
			"failed", summary.Failed,
			"skipped", summary.Skipped,
		)
	}
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Delivery schedule starting...", "jobs", len(w.cron.Entries()))
	w.cron.Start()
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error

	// Stop returns a context that is done once running jobs finish.
	select {
	case <-w.cron.Stop().Done():
	case <-ctx.Done():
		w.logger.Error("Scheduled invocation did not finish before shutdown deadline.")
		finalErr = ctx.Err()
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
