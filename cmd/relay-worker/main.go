// relay-worker drains the request queue, calls the downstream service and
// publishes a result for every POST.
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

	"relay/internal/broker"
	"relay/internal/config"
	"relay/internal/observability"
	"relay/internal/worker"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	workerCfg := config.LoadWorkerConfig()
	brokerCfg := broker.LoadConfigFromEnv()
	traceCfg := observability.LoadTraceConfigFromEnv("relay-worker")

	// Setup metrics and tracing
	metrics, metricsHandler, err := observability.NewMetrics(ctx, observability.RoleWorker)
	if err != nil {
		return err
	}
	tracerProvider := observability.NewTracerProvider(traceCfg)

	dialCtx, dialCancel := context.WithTimeout(ctx, brokerCfg.DialTimeout)
	b, err := broker.Dial(dialCtx, brokerCfg, metrics)
	dialCancel()
	if err != nil {
		return err
	}
	defer b.Close()

	caller := worker.NewCaller(worker.CallerConfig{
		BaseURL: workerCfg.DownstreamURL,
		Timeout: workerCfg.DownstreamTimeout,
	}, metrics)
	publisher := worker.NewPublisher(b, workerCfg.ResultTTL, metrics)
	processor := worker.NewProcessor(caller, publisher, tracerProvider.Tracer("relay/worker"), metrics)

	slog.Info("Relaying to downstream", "url", workerCfg.DownstreamURL, "timeout", workerCfg.DownstreamTimeout)
	pool := worker.NewPool(b, processor, worker.PoolConfig{
		Workers:    workerCfg.Workers,
		PopTimeout: workerCfg.PopTimeout,
	}, metrics)

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + workerCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting metrics server", "port", workerCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case runErr = <-serverErr:
		slog.Error("Metrics server failed", "error", runErr)
	}

	// Loops notice shutdown after their current pop returns; in-flight calls finish first
	poolCtx, poolCancel := context.WithTimeout(context.Background(), workerCfg.PopTimeout+workerCfg.DownstreamTimeout+5*time.Second)
	defer poolCancel()
	if err := pool.Close(poolCtx); err != nil {
		slog.Warn("Worker pool shutdown error", "error", err)
	}

	stats := pool.Stats()
	slog.Info("Worker stats",
		"processed", stats.Processed,
		"dropped", stats.Dropped,
		"publishFailed", stats.PublishFailed,
		"popErrors", stats.PopErrors,
	)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server shutdown error", "error", err)
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Tracer shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
	return runErr
}
