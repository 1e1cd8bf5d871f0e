package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"relay/internal/config"
	"relay/pkg/circuitbreaker"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// TraceConfig holds settings for span export.
type TraceConfig struct {
	Endpoint    string        // collector URL; empty disables export
	User        string        // basic auth user
	Password    string        // read from TRACE_PASSWORD_FILE
	ServiceName string        // service_name of every exported span
	Timeout     time.Duration // per-export HTTP timeout (default: 5s)
}

// LoadTraceConfigFromEnv loads tracing configuration from environment variables.
func LoadTraceConfigFromEnv(defaultService string) TraceConfig {
	cfg := TraceConfig{
		Endpoint:    config.GetEnv("TRACE_URL", ""),
		User:        config.GetEnv("TRACE_USER", ""),
		Password:    config.GetSecretFile(config.GetEnv("TRACE_PASSWORD_FILE", "")),
		ServiceName: config.GetEnv("SERVICE_NAME", defaultService),
		Timeout:     config.GetDurationEnv("TRACE_TIMEOUT", 5*time.Second),
	}
	return cfg.withDefaults()
}

func (c TraceConfig) withDefaults() TraceConfig {
	if c.ServiceName == "" {
		c.ServiceName = "relay"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

// NewTracerProvider returns a provider that batches spans to the collector.
// Without an endpoint spans are still created but never leave the process.
func NewTracerProvider(cfg TraceConfig) *sdktrace.TracerProvider {
	cfg = cfg.withDefaults()
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, sdktrace.WithBatcher(NewCollectorExporter(cfg)))
	}
	return sdktrace.NewTracerProvider(opts...)
}

// collectorSpan is the JSON schema the collector ingests. Times are unix microseconds.
type collectorSpan struct {
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID string         `json:"parent_span_id"`
	Name         string         `json:"name"`
	StartTime    int64          `json:"start_time"`
	EndTime      int64          `json:"end_time"`
	ServiceName  string         `json:"service_name"`
	Attributes   map[string]any `json:"attributes"`
}

// CollectorExporter posts finished spans to an HTTP collector.
// Export failures are logged and never surface to the caller.
type CollectorExporter struct {
	cfg     TraceConfig
	client  *http.Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// NewCollectorExporter creates an exporter with standard transport settings.
func NewCollectorExporter(cfg TraceConfig) *CollectorExporter {
	cfg = cfg.withDefaults()
	logger := slog.With("component", "trace-exporter")
	return &CollectorExporter{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker: circuitbreaker.New(circuitbreaker.Config{Threshold: 3, Cooldown: 30 * time.Second},
			circuitbreaker.OnStateChange(func(from, to circuitbreaker.State) {
				logger.Info("Trace collector breaker changed state", "from", from.String(), "to", to.String())
			})),
		logger: logger,
	}
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *CollectorExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if len(spans) == 0 {
		return nil
	}
	payload := make([]collectorSpan, 0, len(spans))
	for _, s := range spans {
		payload = append(payload, e.convert(s))
	}

	err := e.breaker.Execute(func() error { return e.post(ctx, payload) })
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		e.logger.Debug("Trace collector breaker open, dropping spans", "count", len(spans))
	case err != nil:
		e.logger.Warn("Trace send failed", "url", e.cfg.Endpoint, "count", len(spans), "error", err)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *CollectorExporter) Shutdown(ctx context.Context) error {
	e.client.CloseIdleConnections()
	return nil
}

func (e *CollectorExporter) post(ctx context.Context, payload []collectorSpan) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal spans: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.User != "" || e.cfg.Password != "" {
		req.SetBasicAuth(e.cfg.User, e.cfg.Password)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (e *CollectorExporter) convert(s sdktrace.ReadOnlySpan) collectorSpan {
	sc := s.SpanContext()
	out := collectorSpan{
		TraceID:     sc.TraceID().String(),
		SpanID:      sc.SpanID().String(),
		Name:        s.Name(),
		StartTime:   s.StartTime().UnixMicro(),
		EndTime:     s.EndTime().UnixMicro(),
		ServiceName: e.cfg.ServiceName,
		Attributes:  make(map[string]any, len(s.Attributes())),
	}
	if parent := s.Parent(); parent.IsValid() {
		out.ParentSpanID = parent.SpanID().String()
	}
	for _, kv := range s.Attributes() {
		out.Attributes[string(kv.Key)] = kv.Value.AsInterface()
	}
	return out
}

var _ sdktrace.SpanExporter = (*CollectorExporter)(nil)
