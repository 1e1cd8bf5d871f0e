package api

import (
	"net/http"

	"relay/internal/health"
	"relay/internal/observability"

	"go.opentelemetry.io/otel/trace"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Relay         Relayer
	Stats         StatsReader
	HealthChecker *health.Checker
	Metrics       *observability.Metrics
	Tracer        trace.Tracer // nil disables request spans
	MaxConcurrent int          // in-flight relayed requests (0 = unlimited)
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Relay, cfg.HealthChecker, cfg.Stats)

	mux := http.NewServeMux()

	// Introspection endpoints stay outside the concurrency limit so probes
	// still answer when every relay slot is busy.
	mux.HandleFunc("GET /health", handler.Health)
	mux.HandleFunc("GET /stats", handler.Stats)

	relayed := ConcurrencyLimitMiddleware(cfg.MaxConcurrent)(http.HandlerFunc(handler.Relay))
	mux.Handle("GET /", relayed)
	mux.Handle("POST /", relayed)

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	if cfg.Tracer != nil {
		h = TracingMiddleware(cfg.Tracer)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
