package worker

import (
	"context"
	"time"

	"relay/internal/envelope"
)

// ResultSink is the broker side of the Publisher.
type ResultSink interface {
	SetResult(ctx context.Context, id string, payload []byte, ttl time.Duration) error
}

// Publisher stores Result Envelopes under the request's result key.
type Publisher struct {
	sink    ResultSink
	ttl     time.Duration
	metrics MetricsRecorder
}

// NewPublisher creates a Publisher. A non-positive ttl uses 60s. metrics may be nil.
func NewPublisher(sink ResultSink, ttl time.Duration, metrics MetricsRecorder) *Publisher {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Publisher{sink: sink, ttl: ttl, metrics: metrics}
}

// Publish encodes and stores a Result. Publishing the same id twice overwrites
// the earlier result.
func (p *Publisher) Publish(ctx context.Context, id string, statusCode int, headers map[string]string, body any) error {
	res, err := envelope.NewResult(statusCode, headers, body)
	if err != nil {
		return err
	}
	payload, err := envelope.EncodeResult(res)
	if err != nil {
		return err
	}
	if err := p.sink.SetResult(ctx, id, payload, p.ttl); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.RecordBytesSent(ctx, len(payload))
	}
	return nil
}
