package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"relay/internal/broker"
	"relay/pkg/backoff"
)

// Queue is the broker side of the dequeue loop.
type Queue interface {
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
}

// PoolConfig controls the dequeue loops.
type PoolConfig struct {
	Workers      int            // concurrent dequeue loops (default: 4)
	PopTimeout   time.Duration  // blocking pop wait, also the shutdown check interval (default: 10s)
	ErrorBackoff backoff.Config // delay after a failed pop (default: 100ms doubling to 5s)
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = 10 * time.Second
	}
	return c
}

// Stats holds pool counters.
type Stats struct {
	Workers       int   `json:"workers"`
	Busy          int64 `json:"busy"`
	Processed     int64 `json:"processed"`
	Dropped       int64 `json:"dropped"`
	PublishFailed int64 `json:"publishFailed"`
	PopErrors     int64 `json:"popErrors"`
}

// Pool runs independent dequeue loops against one queue. The broker delivers
// each item to exactly one loop, so loops share nothing but counters.
type Pool struct {
	queue     Queue
	processor *Processor
	config    PoolConfig
	metrics   MetricsRecorder
	logger    *slog.Logger

	busy          atomic.Int64
	processed     atomic.Int64
	dropped       atomic.Int64
	publishFailed atomic.Int64
	popErrors     atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// NewPool creates a pool and starts its loops. metrics may be nil.
func NewPool(queue Queue, processor *Processor, cfg PoolConfig, metrics MetricsRecorder) *Pool {
	cfg = cfg.withDefaults()

	p := &Pool{
		queue:     queue,
		processor: processor,
		config:    cfg,
		metrics:   metrics,
		logger:    slog.With("component", "pool"),
		shutdown:  make(chan struct{}),
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.loop(i)
	}

	p.logger.Info("Worker pool started", "workers", cfg.Workers, "popTimeout", cfg.PopTimeout)
	return p
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:       p.config.Workers,
		Busy:          p.busy.Load(),
		Processed:     p.processed.Load(),
		Dropped:       p.dropped.Load(),
		PublishFailed: p.publishFailed.Load(),
		PopErrors:     p.popErrors.Load(),
	}
}

// Close stops the loops and waits for in-flight items until ctx is done.
// A loop blocked in a pop exits when that pop returns.
func (p *Pool) Close(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}

	p.logger.Info("Worker pool shutting down", "busy", p.busy.Load())
	close(p.shutdown)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool shutdown complete",
			"processed", p.processed.Load(),
			"dropped", p.dropped.Load(),
			"publishFailed", p.publishFailed.Load(),
		)
		return nil
	case <-ctx.Done():
		p.logger.Warn("Worker pool shutdown timed out", "busy", p.busy.Load())
		return ctx.Err()
	}
}

// loop is one dequeue loop. The shutdown flag is checked once per iteration.
func (p *Pool) loop(n int) {
	defer p.wg.Done()
	logger := p.logger.With("loop", n)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.shutdown:
			cancel()
		case <-ctx.Done():
		}
	}()

	errWait := backoff.NewSchedule(p.config.ErrorBackoff)
	for {
		if ctx.Err() != nil {
			return
		}

		payload, err := p.queue.Pop(ctx, p.config.PopTimeout)
		switch {
		case err == nil:
		case errors.Is(err, broker.ErrEmpty):
			continue
		case ctx.Err() != nil:
			return
		default:
			p.popErrors.Add(1)
			delay := errWait.Next()
			logger.Warn("Pop failed, backing off", "attempt", errWait.Attempts(), "delay", delay, "error", err)
			if backoff.Sleep(ctx, delay) != nil {
				return
			}
			continue
		}
		errWait.Reset()

		// In-flight items finish even when shutdown starts mid-call.
		p.handle(context.WithoutCancel(ctx), payload)
	}
}

func (p *Pool) handle(ctx context.Context, payload []byte) {
	p.busy.Add(1)
	if p.metrics != nil {
		p.metrics.RecordWorkerBusy(ctx, 1)
	}
	defer func() {
		p.busy.Add(-1)
		if p.metrics != nil {
			p.metrics.RecordWorkerBusy(ctx, -1)
		}
	}()

	switch p.processor.Process(ctx, payload) {
	case Published:
		p.processed.Add(1)
	case Dropped:
		p.dropped.Add(1)
	case PublishFailed:
		p.publishFailed.Add(1)
	}
}
