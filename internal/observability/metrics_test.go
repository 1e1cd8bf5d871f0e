package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d, want 200", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read scrape body: %v", err)
	}
	return string(body)
}

func TestNewMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx, RoleProxy)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	if metrics == nil {
		t.Fatal("Expected metrics to be non-nil")
	}

	if handler == nil {
		t.Fatal("Expected handler to be non-nil")
	}
}

func TestMetrics_ScopedPerRole(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	proxy, proxyHandler, err := NewMetrics(ctx, RoleProxy)
	if err != nil {
		t.Fatalf("NewMetrics(proxy): %v", err)
	}
	worker, workerHandler, err := NewMetrics(ctx, RoleWorker)
	if err != nil {
		t.Fatalf("NewMetrics(worker): %v", err)
	}

	proxy.RecordRequest(ctx)
	proxy.RecordBrokerOp(ctx, "push", nil)
	worker.RecordRequest(ctx)
	worker.RecordDownstreamCall(ctx, errors.New("refused"), 0.01)

	proxyOut := scrape(t, proxyHandler)
	workerOut := scrape(t, workerHandler)

	for _, want := range []string{"relay_proxy_requests_total", "relay_proxy_broker_operations_total"} {
		if !strings.Contains(proxyOut, want) {
			t.Errorf("proxy scrape missing %q", want)
		}
	}
	if strings.Contains(proxyOut, "relay_worker_") {
		t.Error("proxy scrape contains worker metrics")
	}
	for _, want := range []string{"relay_worker_requests_total", "relay_worker_downstream_errors_total", "relay_worker_downstream_duration_seconds"} {
		if !strings.Contains(workerOut, want) {
			t.Errorf("worker scrape missing %q", want)
		}
	}
	if strings.Contains(workerOut, "relay_proxy_") {
		t.Error("worker scrape contains proxy metrics")
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx, RoleProxy)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	metrics.RecordHTTPRequest(ctx, "GET", "/health", 200, 0.001)
	metrics.RecordHTTPRequest(ctx, "POST", "/orders/17", 200, 0.050)
	metrics.RecordHTTPRequest(ctx, "GET", "/anything/else", 504, 15.0)

	out := scrape(t, handler)
	if !strings.Contains(out, `path="/*"`) {
		t.Error("relayed paths were not collapsed to /*")
	}
	if strings.Contains(out, "/orders/17") {
		t.Error("raw client path leaked into labels")
	}
	if !strings.Contains(out, "relay_proxy_http_errors_total") {
		t.Error("5xx response did not record an HTTP error")
	}
}

func TestRecordBrokerOp_Failure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx, RoleWorker)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	metrics.RecordBrokerOp(ctx, "pop", errors.New("connection refused"))
	metrics.RecordDropped(ctx, "malformed")
	metrics.RecordBytesReceived(ctx, 42)
	metrics.RecordBytesSent(ctx, 7)
	metrics.RecordWorkerBusy(ctx, 1)
	metrics.RecordWorkerBusy(ctx, -1)

	out := scrape(t, handler)
	for _, want := range []string{
		"relay_worker_broker_errors_total",
		`op="pop"`,
		"relay_worker_dropped_total",
		`reason="malformed"`,
		"relay_worker_bytes_received_total",
		"relay_worker_bytes_sent_total",
		"relay_worker_busy_workers",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestRecordCorrelation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	metrics, handler, err := NewMetrics(ctx, RoleProxy)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	metrics.RecordCorrelation(ctx, "found", 0.02)
	metrics.RecordCorrelation(ctx, "timeout", 15)

	out := scrape(t, handler)
	if !strings.Contains(out, `outcome="timeout"`) {
		t.Error("scrape missing timeout outcome")
	}
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input    string
		expected string
	}{
		{"/health", "/health"},
		{"/stats", "/stats"},
		{"/metrics", "/metrics"},
		{"/", "/*"},
		{"/echo", "/*"},
		{"/v1/users/abc123", "/*"},
		{"/health/extra", "/*"},
	}

	for _, tt := range tests {
		result := normalizePath(tt.input)
		if result != tt.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestStatusAttr(t *testing.T) {
	t.Parallel()
	tests := map[int]string{200: "2xx", 404: "4xx", 502: "5xx", 504: "5xx"}
	for code, want := range tests {
		if got := statusAttr(code).Value.AsString(); got != want {
			t.Errorf("statusAttr(%d) = %q, want %q", code, got, want)
		}
	}
}
