// relay-proxy is the front door: it queues every inbound request for a worker
// and answers with the worker's result.
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

	"relay/internal/api"
	"relay/internal/broker"
	"relay/internal/config"
	"relay/internal/health"
	"relay/internal/identity"
	"relay/internal/observability"
	"relay/internal/relay"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	proxyCfg := config.LoadProxyConfig()
	brokerCfg := broker.LoadConfigFromEnv()
	traceCfg := observability.LoadTraceConfigFromEnv("relay-proxy")

	// Setup metrics and tracing
	metrics, metricsHandler, err := observability.NewMetrics(ctx, observability.RoleProxy)
	if err != nil {
		return err
	}
	tracerProvider := observability.NewTracerProvider(traceCfg)
	if traceCfg.Endpoint == "" {
		slog.Info("Trace export disabled - no TRACE_URL configured")
	}

	// Connecting to the broker is the only fatal startup dependency
	dialCtx, dialCancel := context.WithTimeout(ctx, brokerCfg.DialTimeout)
	b, err := broker.Dial(dialCtx, brokerCfg, metrics)
	dialCancel()
	if err != nil {
		return err
	}
	defer b.Close()

	// Identity allocation
	var ids identity.Allocator = identity.Random{}
	var sequential *identity.Sequential
	if proxyCfg.IDMode == config.IDModeSequential {
		sequential = identity.NewSequential(ctx, b, proxyCfg.IDReserve)
		ids = sequential
	}

	// Correlation
	var correlator relay.Correlator
	switch proxyCfg.CorrelatorMode {
	case config.CorrelatorFixed:
		correlator = &relay.FixedDelay{Delay: proxyCfg.CorrelatorDelay, Metrics: metrics}
	default:
		correlator = relay.NewResultWaiter(b, relay.WaiterConfig{
			Timeout:     proxyCfg.CorrelatorTimeout,
			PollInitial: proxyCfg.PollInitial,
			PollMax:     proxyCfg.PollMax,
		}, metrics)
	}
	slog.Info("Front door configured",
		"idMode", proxyCfg.IDMode,
		"correlator", proxyCfg.CorrelatorMode,
		"maxConcurrent", proxyCfg.MaxConcurrent,
	)

	svc := relay.NewService(ids, relay.NewEnqueuer(b, metrics), correlator, metrics)
	healthChecker := health.NewChecker(b, health.WithCacheTTL(500*time.Millisecond))

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Relay:         svc,
		Stats:         b,
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Tracer:        tracerProvider.Tracer("relay/proxy"),
		MaxConcurrent: proxyCfg.MaxConcurrent,
	})

	// Create API server; the write timeout must outlast the correlator wait
	apiServer := &http.Server{
		Addr:         ":" + proxyCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: proxyCfg.CorrelatorTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + proxyCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 2)

	go func() {
		slog.Info("Starting API server", "port", proxyCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", proxyCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// flush persists allocator state and exports pending spans
	flush := func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if sequential != nil {
			if err := sequential.Save(flushCtx); err != nil {
				slog.Error("Failed to save request id counter", "error", err, "counter", sequential.Current())
			} else {
				slog.Info("Saved request id counter", "counter", sequential.Current())
			}
		}
		if err := tracerProvider.Shutdown(flushCtx); err != nil {
			slog.Warn("Tracer shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		flush()
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if proxyCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", proxyCfg.ShutdownDrainWait)
		time.Sleep(proxyCfg.ShutdownDrainWait)
	}

	// Phase 2: stop accepting connections and let in-flight correlations finish
	slog.Info("Starting graceful shutdown")
	shutdown(proxyCfg.CorrelatorTimeout + 10*time.Second)

	// Phase 3: persist the counter and flush spans
	flush()

	slog.Info("Shutdown complete")
	return nil
}
