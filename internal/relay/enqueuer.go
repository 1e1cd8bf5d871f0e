// Package relay implements the front-door side of the relay: it assigns each
// inbound request an id, queues it for a worker and correlates the caller with
// the worker's result.
package relay

import (
	"context"
	"log/slog"

	"relay/internal/envelope"
)

// Language tags every synthetic reply so callers can tell which front door answered.
const Language = "go"

// Queue is the broker side of the Enqueuer.
type Queue interface {
	Push(ctx context.Context, payload []byte) error
}

// MetricsRecorder is an optional interface for recording front-door metrics.
type MetricsRecorder interface {
	RecordRequest(ctx context.Context)
	RecordBytesSent(ctx context.Context, n int)
	RecordBytesReceived(ctx context.Context, n int)
	RecordCorrelation(ctx context.Context, outcome string, durationSeconds float64)
}

// Enqueuer pushes Request Envelopes onto the work queue.
type Enqueuer struct {
	queue   Queue
	metrics MetricsRecorder
	logger  *slog.Logger
}

// NewEnqueuer creates an Enqueuer. metrics may be nil.
func NewEnqueuer(queue Queue, metrics MetricsRecorder) *Enqueuer {
	return &Enqueuer{
		queue:   queue,
		metrics: metrics,
		logger:  slog.With("component", "enqueuer"),
	}
}

// Enqueue serializes req and pushes it. It reports whether the push succeeded.
// Failures are logged and counted, never retried.
func (e *Enqueuer) Enqueue(ctx context.Context, req *envelope.Request) bool {
	payload, err := envelope.EncodeRequest(req)
	if err != nil {
		e.logger.Error("Failed to encode request", "requestId", req.ID, "error", err)
		return false
	}
	if err := e.queue.Push(ctx, payload); err != nil {
		e.logger.Warn("Failed to enqueue request", "requestId", req.ID, "error", err)
		return false
	}
	if e.metrics != nil {
		e.metrics.RecordBytesSent(ctx, len(payload))
	}
	return true
}
