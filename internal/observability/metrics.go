package observability

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Role scopes metric names to one side of the relay.
type Role string

const (
	RoleProxy  Role = "proxy"
	RoleWorker Role = "worker"
)

// Metrics holds the counters of one relay role. Every stage records into it:
// - Traffic: requests, broker operations, downstream calls, bytes moved
// - Errors: broker and downstream failures, dropped queue items
// - Latency: HTTP handling, downstream calls, result correlation
// - Saturation: workers busy with an item
type Metrics struct {
	meter metric.Meter
	role  Role

	// HTTP metrics (front door)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Relay metrics
	RequestsTotal       metric.Int64Counter
	BrokerOpsTotal      metric.Int64Counter
	BrokerErrorsTotal   metric.Int64Counter
	DownstreamCalls     metric.Int64Counter
	DownstreamErrors    metric.Int64Counter
	DownstreamDuration  metric.Float64Histogram
	BytesReceived       metric.Int64Counter
	BytesSent           metric.Int64Counter
	DroppedTotal        metric.Int64Counter
	CorrelationDuration metric.Float64Histogram
	BusyWorkers         metric.Int64UpDownCounter
}

// NewMetrics creates the metrics of one role on a private Prometheus registry and
// returns the handler serving it.
func NewMetrics(ctx context.Context, role Role) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("relay/" + string(role))
	m := &Metrics{meter: meter, role: role}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.HTTPRequestsTotal, "http_requests_total", "Total number of HTTP requests"},
		{&m.HTTPErrorsTotal, "http_errors_total", "Total number of HTTP errors (4xx and 5xx)"},
		{&m.RequestsTotal, "requests_total", "Total number of requests received or processed"},
		{&m.BrokerOpsTotal, "broker_operations_total", "Total number of broker commands issued"},
		{&m.BrokerErrorsTotal, "broker_errors_total", "Total number of failed broker commands"},
		{&m.DownstreamCalls, "downstream_calls_total", "Total number of downstream calls"},
		{&m.DownstreamErrors, "downstream_errors_total", "Total number of failed downstream calls"},
		{&m.BytesReceived, "bytes_received_total", "Total bytes received from the broker"},
		{&m.BytesSent, "bytes_sent_total", "Total bytes sent to the broker"},
		{&m.DroppedTotal, "dropped_total", "Total queue items dropped without a result"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(m.name(c.name), metric.WithDescription(c.desc))
		if err != nil {
			return nil, nil, err
		}
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		m.name("http_request_duration_seconds"),
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DownstreamDuration, err = meter.Float64Histogram(
		m.name("downstream_duration_seconds"),
		metric.WithDescription("Downstream call latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.CorrelationDuration, err = meter.Float64Histogram(
		m.name("correlation_duration_seconds"),
		metric.WithDescription("Time the front door waited for a result in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15),
	)
	if err != nil {
		return nil, nil, err
	}

	m.BusyWorkers, err = meter.Int64UpDownCounter(
		m.name("busy_workers"),
		metric.WithDescription("Number of dequeue loops currently processing an item (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

func (m *Metrics) name(suffix string) string {
	return fmt.Sprintf("relay_%s_%s", m.role, suffix)
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordRequest records a request received (front door) or consumed (worker).
func (m *Metrics) RecordRequest(ctx context.Context) {
	m.RequestsTotal.Add(ctx, 1)
}

// RecordBrokerOp records one broker command and, if it failed, a broker error.
func (m *Metrics) RecordBrokerOp(ctx context.Context, op string, err error) {
	attrs := metric.WithAttributes(opAttr(op))
	m.BrokerOpsTotal.Add(ctx, 1, attrs)
	if err != nil {
		m.BrokerErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordDownstreamCall records one downstream call with its duration.
func (m *Metrics) RecordDownstreamCall(ctx context.Context, err error, durationSeconds float64) {
	m.DownstreamCalls.Add(ctx, 1)
	m.DownstreamDuration.Record(ctx, durationSeconds)
	if err != nil {
		m.DownstreamErrors.Add(ctx, 1)
	}
}

// RecordBytesReceived records bytes read from the broker.
func (m *Metrics) RecordBytesReceived(ctx context.Context, n int) {
	m.BytesReceived.Add(ctx, int64(n))
}

// RecordBytesSent records bytes written to the broker.
func (m *Metrics) RecordBytesSent(ctx context.Context, n int) {
	m.BytesSent.Add(ctx, int64(n))
}

// RecordDropped records a queue item dropped without producing a result.
func (m *Metrics) RecordDropped(ctx context.Context, reason string) {
	m.DroppedTotal.Add(ctx, 1, metric.WithAttributes(reasonAttr(reason)))
}

// RecordCorrelation records how a front-door wait for a result ended.
func (m *Metrics) RecordCorrelation(ctx context.Context, outcome string, durationSeconds float64) {
	m.CorrelationDuration.Record(ctx, durationSeconds, metric.WithAttributes(outcomeAttr(outcome)))
}

// RecordWorkerBusy adjusts the number of busy dequeue loops by delta.
func (m *Metrics) RecordWorkerBusy(ctx context.Context, delta int64) {
	m.BusyWorkers.Add(ctx, delta)
}
