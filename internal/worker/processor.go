package worker

import (
	"context"
	"log/slog"
	"time"

	"relay/internal/envelope"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Language tags the results this worker publishes.
const Language = "go"

// Reasons an item is dropped without a result.
const (
	DropMalformed = "malformed"
	DropMethod    = "method"
)

// Disposition is what happened to one queue item.
type Disposition int

const (
	Published Disposition = iota
	Dropped
	PublishFailed
)

func (d Disposition) String() string {
	switch d {
	case Published:
		return "published"
	case Dropped:
		return "dropped"
	case PublishFailed:
		return "publish_failed"
	default:
		return "unknown"
	}
}

// Downstream is the call a Processor makes for each request.
type Downstream interface {
	Call(ctx context.Context, path, body string) Reply
}

// Processor handles one popped queue item end to end.
type Processor struct {
	downstream Downstream
	publisher  *Publisher
	tracer     trace.Tracer
	metrics    MetricsRecorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewProcessor creates a Processor. tracer and metrics may be nil.
func NewProcessor(downstream Downstream, publisher *Publisher, tracer trace.Tracer, metrics MetricsRecorder) *Processor {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("relay/worker")
	}
	return &Processor{
		downstream: downstream,
		publisher:  publisher,
		tracer:     tracer,
		metrics:    metrics,
		logger:     slog.With("component", "processor"),
		now:        time.Now,
	}
}

// Process decodes payload, calls downstream for POST requests and publishes the
// Result. Malformed items and other methods are dropped.
func (p *Processor) Process(ctx context.Context, payload []byte) Disposition {
	if p.metrics != nil {
		p.metrics.RecordRequest(ctx)
		p.metrics.RecordBytesReceived(ctx, len(payload))
	}

	req, err := envelope.DecodeRequest(payload)
	if err != nil {
		p.logger.Warn("Dropping malformed queue item", "size", len(payload), "error", err)
		p.drop(ctx, DropMalformed)
		return Dropped
	}
	if !envelope.ProducesResult(req.Method) {
		p.logger.Debug("Dropping request without result", "requestId", req.ID, "method", req.Method)
		p.drop(ctx, DropMethod)
		return Dropped
	}

	ctx, span := p.tracer.Start(ctx, "HTTP "+req.Method+" "+req.Path,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.Path),
			attribute.String("request.id", req.ID),
		),
	)
	defer span.End()

	reply := p.downstream.Call(ctx, req.Path, req.Body)
	span.SetAttributes(attribute.Int("http.status_code", reply.StatusCode))
	if reply.Err != nil {
		span.RecordError(reply.Err)
		span.SetStatus(codes.Error, "downstream call failed")
	}

	body := map[string]any{
		"message":             "Processed by " + Language + " relay worker",
		"language":            Language,
		"request_id":          req.ID,
		"downstream_response": reply.Body,
		"timestamp":           p.now().Unix(),
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if err := p.publisher.Publish(ctx, req.ID, reply.StatusCode, headers, body); err != nil {
		p.logger.Warn("Failed to publish result", "requestId", req.ID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return PublishFailed
	}
	return Published
}

func (p *Processor) drop(ctx context.Context, reason string) {
	if p.metrics != nil {
		p.metrics.RecordDropped(ctx, reason)
	}
}
