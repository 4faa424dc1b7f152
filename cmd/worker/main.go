package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/docscan/internal/bootstrap"
	"github.com/kirillkom/docscan/internal/config"
	"github.com/kirillkom/docscan/internal/observability/logging"
	"github.com/kirillkom/docscan/internal/observability/metrics"
	"github.com/kirillkom/docscan/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New("worker", cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		EnsureBucket: true,
		UseLease:     true,
		OnStageRetry: workerMetrics.RecordRetry,
	})
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close(context.Background())

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()

	runner := worker.NewRunner(app.Queue, app.ProcessUC, worker.Options{
		Concurrency: cfg.WorkerConcurrency,
		TaskTimeout: cfg.TaskTimeout,
		Metrics:     workerMetrics,
	})
	slog.Info("worker_started",
		"queue_driver", cfg.QueueDriver,
		"concurrency", cfg.WorkerConcurrency,
		"lease", cfg.RedisURL != "",
	)
	runErr := runner.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("worker_metrics_shutdown_failed", "error", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("worker_stopped", "error", runErr)
		stop()
		app.Close(shutdownCtx)
		os.Exit(1)
	}
	slog.Info("worker_stopped")
}
