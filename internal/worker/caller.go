// Package worker consumes Request Envelopes from the broker queue, calls the
// downstream service and publishes a Result Envelope for every POST.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// maxDownstreamBody caps how much of a downstream response is kept.
const maxDownstreamBody = 4 << 20

// MetricsRecorder is an optional interface for recording worker metrics.
type MetricsRecorder interface {
	RecordRequest(ctx context.Context)
	RecordDownstreamCall(ctx context.Context, err error, durationSeconds float64)
	RecordBytesReceived(ctx context.Context, n int)
	RecordBytesSent(ctx context.Context, n int)
	RecordDropped(ctx context.Context, reason string)
	RecordWorkerBusy(ctx context.Context, delta int64)
}

// Reply is what a downstream call produced. Err is set when the call never got
// a response; Body then holds a JSON error description.
type Reply struct {
	StatusCode int
	Body       string
	Err        error
}

// CallerConfig holds downstream connection settings.
type CallerConfig struct {
	BaseURL string        // default: http://localhost:3000
	Timeout time.Duration // default: 10s
}

func (c CallerConfig) withDefaults() CallerConfig {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:3000"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Caller issues exactly one HTTP call per request to the downstream service.
type Caller struct {
	cfg     CallerConfig
	client  *http.Client
	metrics MetricsRecorder
	logger  *slog.Logger
}

// NewCaller creates a Caller with standard transport settings. metrics may be nil.
func NewCaller(cfg CallerConfig, metrics MetricsRecorder) *Caller {
	cfg = cfg.withDefaults()
	return &Caller{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		metrics: metrics,
		logger:  slog.With("component", "downstream"),
	}
}

// Call sends body to BaseURL+path: a POST with a JSON content type when body is
// non-empty, a GET otherwise. Transport failures come back as a 502 Reply, never
// as a panic or a dropped request.
func (c *Caller) Call(ctx context.Context, path, body string) Reply {
	start := time.Now()
	reply := c.do(ctx, path, body)
	if c.metrics != nil {
		c.metrics.RecordDownstreamCall(ctx, reply.Err, time.Since(start).Seconds())
	}
	if reply.Err != nil {
		c.logger.Warn("Downstream call failed", "path", path, "error", reply.Err)
	}
	return reply
}

func (c *Caller) do(ctx context.Context, path, body string) Reply {
	method := http.MethodGet
	var reqBody io.Reader
	if body != "" {
		method = http.MethodPost
		reqBody = strings.NewReader(body)
	}

	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return failedReply(err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return failedReply(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownstreamBody))
	if err != nil {
		return failedReply(fmt.Errorf("read response: %w", err))
	}
	return Reply{StatusCode: resp.StatusCode, Body: string(data)}
}

func failedReply(err error) Reply {
	// Marshalling a map of strings cannot fail.
	body, _ := json.Marshal(map[string]string{
		"error": "Failed to call downstream: " + err.Error(),
	})
	return Reply{StatusCode: http.StatusBadGateway, Body: string(body), Err: err}
}
