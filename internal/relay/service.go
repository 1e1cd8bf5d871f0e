package relay

import (
	"context"
	"log/slog"

	"relay/internal/envelope"
	"relay/internal/identity"
)

// Outcome is everything the HTTP layer needs to answer one relayed request.
type Outcome struct {
	RequestID string
	Result    *envelope.Result
	Enqueued  bool
}

// Service runs the front-door pipeline: allocate an id, enqueue, correlate.
type Service struct {
	ids        identity.Allocator
	enqueuer   *Enqueuer
	correlator Correlator
	metrics    MetricsRecorder
	logger     *slog.Logger
}

// NewService wires the front-door pipeline. metrics may be nil.
func NewService(ids identity.Allocator, enqueuer *Enqueuer, correlator Correlator, metrics MetricsRecorder) *Service {
	return &Service{
		ids:        ids,
		enqueuer:   enqueuer,
		correlator: correlator,
		metrics:    metrics,
		logger:     slog.With("component", "relay"),
	}
}

// Handle relays one request. Enqueue failures do not abort the request; the
// correlator decides what the caller sees.
func (s *Service) Handle(ctx context.Context, method, path string, body []byte) Outcome {
	if s.metrics != nil {
		s.metrics.RecordRequest(ctx)
	}

	req := &envelope.Request{
		ID:     s.ids.Allocate(ctx),
		Method: method,
		Path:   path,
		Body:   string(body),
	}
	enqueued := s.enqueuer.Enqueue(ctx, req)
	s.logger.Debug("Request relayed", "requestId", req.ID, "method", method, "path", path, "enqueued", enqueued)

	return Outcome{
		RequestID: req.ID,
		Result:    s.correlator.Await(ctx, req, enqueued),
		Enqueued:  enqueued,
	}
}
