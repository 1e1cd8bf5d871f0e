package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"relay/internal/apperrors"
	"relay/internal/broker"
	"relay/internal/envelope"
	"relay/pkg/backoff"
)

// Correlation outcomes recorded with the correlation duration.
const (
	OutcomeFound       = "found"
	OutcomeSynthetic   = "synthetic"
	OutcomeNotEnqueued = "not_enqueued"
	OutcomeTimeout     = "timeout"
	OutcomeCancelled   = "cancelled"
	OutcomeMalformed   = "malformed"
)

// Correlator turns an enqueued request into the Result returned to the caller.
type Correlator interface {
	Await(ctx context.Context, req *envelope.Request, enqueued bool) *envelope.Result
}

// FixedDelay sleeps for Delay and then answers with a synthetic acknowledgement.
// It never reads the stored result, so the caller always sees a 200.
type FixedDelay struct {
	Delay   time.Duration
	Metrics MetricsRecorder
}

// Await implements Correlator.
func (f *FixedDelay) Await(ctx context.Context, req *envelope.Request, enqueued bool) *envelope.Result {
	start := time.Now()
	_ = backoff.Sleep(ctx, f.Delay)
	if f.Metrics != nil {
		f.Metrics.RecordCorrelation(ctx, OutcomeSynthetic, time.Since(start).Seconds())
	}
	return envelope.Synthetic(req.ID, Language, time.Now())
}

// ResultStore reads published Result Envelopes.
type ResultStore interface {
	GetResult(ctx context.Context, id string) ([]byte, error)
}

// WaiterConfig controls how long and how often ResultWaiter polls.
type WaiterConfig struct {
	Timeout     time.Duration // default: 15s
	PollInitial time.Duration // default: 5ms
	PollMax     time.Duration // default: 100ms
}

func (c WaiterConfig) withDefaults() WaiterConfig {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.PollInitial <= 0 {
		c.PollInitial = 5 * time.Millisecond
	}
	if c.PollMax <= 0 {
		c.PollMax = 100 * time.Millisecond
	}
	return c
}

// ResultWaiter polls the result key with exponential backoff until the worker's
// Result appears or the timeout elapses.
type ResultWaiter struct {
	store   ResultStore
	cfg     WaiterConfig
	metrics MetricsRecorder
	logger  *slog.Logger
}

// NewResultWaiter creates a ResultWaiter. metrics may be nil.
func NewResultWaiter(store ResultStore, cfg WaiterConfig, metrics MetricsRecorder) *ResultWaiter {
	return &ResultWaiter{
		store:   store,
		cfg:     cfg.withDefaults(),
		metrics: metrics,
		logger:  slog.With("component", "correlator"),
	}
}

// Await implements Correlator.
func (w *ResultWaiter) Await(ctx context.Context, req *envelope.Request, enqueued bool) *envelope.Result {
	start := time.Now()
	res, outcome := w.await(ctx, req, enqueued)
	if w.metrics != nil {
		w.metrics.RecordCorrelation(ctx, outcome, time.Since(start).Seconds())
	}
	return res
}

func (w *ResultWaiter) await(ctx context.Context, req *envelope.Request, enqueued bool) (*envelope.Result, string) {
	// Workers store nothing for these methods, so there is nothing to wait for.
	if !envelope.ProducesResult(req.Method) {
		return envelope.Synthetic(req.ID, Language, time.Now()), OutcomeSynthetic
	}
	if !enqueued {
		err := apperrors.BrokerUnavailable("relay.enqueue", errors.New("request not queued"))
		return envelope.Failure(apperrors.HTTPStatus(err), req.ID, "Request could not be queued"), OutcomeNotEnqueued
	}

	waitCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	schedule := backoff.NewSchedule(backoff.Config{Initial: w.cfg.PollInitial, Max: w.cfg.PollMax})
	for {
		data, err := w.store.GetResult(waitCtx, req.ID)
		switch {
		case err == nil:
			if w.metrics != nil {
				w.metrics.RecordBytesReceived(ctx, len(data))
			}
			res, decodeErr := envelope.DecodeResult(data)
			if decodeErr != nil {
				w.logger.Warn("Discarding malformed result", "requestId", req.ID, "error", decodeErr)
				return envelope.Failure(http.StatusBadGateway, req.ID, "Worker stored a malformed result"), OutcomeMalformed
			}
			return res, OutcomeFound
		case errors.Is(err, broker.ErrNotFound):
		default:
			if waitCtx.Err() == nil {
				w.logger.Debug("Result poll failed", "requestId", req.ID, "error", err)
			}
		}

		if schedule.Wait(waitCtx) != nil {
			break
		}
	}

	if ctx.Err() != nil {
		w.logger.Debug("Caller went away while waiting for result", "requestId", req.ID)
		return envelope.Failure(apperrors.HTTPStatus(apperrors.Timeout("relay.await", req.ID)), req.ID, "Request cancelled"), OutcomeCancelled
	}
	err := apperrors.Timeout("relay.await", req.ID)
	w.logger.Warn("Timed out waiting for result", "requestId", req.ID, "timeout", w.cfg.Timeout)
	return envelope.Failure(apperrors.HTTPStatus(err), req.ID, "Timed out waiting for worker result"), OutcomeTimeout
}

var (
	_ Correlator = (*FixedDelay)(nil)
	_ Correlator = (*ResultWaiter)(nil)
)
