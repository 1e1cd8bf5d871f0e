// Package broker adapts a Redis-protocol server into the relay's work queue and result store.
//
// The go-redis client multiplexes commands over a connection pool that is safe for
// concurrent use, so callers share one Broker across goroutines without extra locking.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"relay/internal/apperrors"

	"github.com/redis/go-redis/v9"
)

// Key layout shared by the front door and the workers.
const (
	QueueKey        = "http:requests"
	ResultKeyPrefix = "http:response:"
	CounterKey      = "request_id_counter"
	StatsWritesKey  = "stats:redis_writes"
	StatsReadsKey   = "stats:redis_reads"
)

var (
	// ErrEmpty is returned by Pop when the wait elapsed without an item.
	ErrEmpty = errors.New("broker: queue empty")
	// ErrNotFound is returned by GetResult when no result is stored (yet, or anymore).
	ErrNotFound = errors.New("broker: result not found")
)

// ResultKey returns the KV key holding the Result Envelope for a request id.
func ResultKey(id string) string {
	return ResultKeyPrefix + id
}

// MetricsRecorder is an optional interface for recording broker command metrics.
type MetricsRecorder interface {
	RecordBrokerOp(ctx context.Context, op string, err error)
}

// Stats holds the introspection counters kept in the broker.
type Stats struct {
	Writes int64 `json:"redis_writes"`
	Reads  int64 `json:"redis_reads"`
}

// Broker wraps a Redis client with the relay's queue and KV operations.
type Broker struct {
	rdb     redis.UniversalClient
	metrics MetricsRecorder
	logger  *slog.Logger
}

// New wraps an existing client. metrics may be nil.
func New(rdb redis.UniversalClient, metrics MetricsRecorder) *Broker {
	return &Broker{
		rdb:     rdb,
		metrics: metrics,
		logger:  slog.With("component", "broker"),
	}
}

// Dial connects to the broker and verifies it answers a ping.
func Dial(ctx context.Context, cfg Config, metrics MetricsRecorder) (*Broker, error) {
	cfg = cfg.withDefaults()
	rdb := redis.NewClient(cfg.options())
	b := New(rdb, metrics)
	if err := b.Ping(ctx); err != nil {
		rdb.Close()
		return nil, err
	}
	b.logger.Info("Connected to broker", "addr", cfg.Addr, "db", cfg.DB)
	return b, nil
}

// Ping checks the broker is reachable.
func (b *Broker) Ping(ctx context.Context) error {
	return b.observe(ctx, "ping", b.rdb.Ping(ctx).Err())
}

// Push appends an encoded Request Envelope to the work queue.
func (b *Broker) Push(ctx context.Context, payload []byte) error {
	var push, incr *redis.IntCmd
	_, _ = b.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		push = pipe.RPush(ctx, QueueKey, payload)
		incr = pipe.Incr(ctx, StatsWritesKey)
		return nil
	})
	if err := b.observe(ctx, "rpush", push.Err()); err != nil {
		return err
	}
	b.bumpStat(ctx, incr.Err())
	return nil
}

// Pop blocks up to timeout for the next queue item. Each item is delivered to one caller only.
// It returns ErrEmpty when the wait elapsed without an item.
func (b *Broker) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	vals, err := b.rdb.BLPop(ctx, timeout, QueueKey).Result()
	if errors.Is(err, redis.Nil) {
		b.observe(ctx, "blpop", nil)
		return nil, ErrEmpty
	}
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := b.observe(ctx, "blpop", err); err != nil {
		return nil, err
	}
	if len(vals) != 2 {
		return nil, apperrors.Malformed(fmt.Sprintf("blpop reply with %d elements", len(vals)), nil)
	}
	b.bumpStat(ctx, b.rdb.Incr(ctx, StatsReadsKey).Err())
	return []byte(vals[1]), nil
}

// SetResult stores an encoded Result Envelope under the request's result key with a TTL.
// Writing the same id twice overwrites the previous result.
func (b *Broker) SetResult(ctx context.Context, id string, payload []byte, ttl time.Duration) error {
	var set *redis.StatusCmd
	var incr *redis.IntCmd
	_, _ = b.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		set = pipe.SetEx(ctx, ResultKey(id), payload, ttl)
		incr = pipe.Incr(ctx, StatsWritesKey)
		return nil
	})
	err := set.Err()
	if err == nil && set.Val() != "OK" {
		err = fmt.Errorf("unexpected reply %q", set.Val())
	}
	if err := b.observe(ctx, "setex", err); err != nil {
		return err
	}
	b.bumpStat(ctx, incr.Err())
	return nil
}

// GetResult reads the encoded Result Envelope for a request id.
// It returns ErrNotFound while no worker has published one, or after it expired.
func (b *Broker) GetResult(ctx context.Context, id string) ([]byte, error) {
	data, err := b.rdb.Get(ctx, ResultKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		b.observe(ctx, "get", nil)
		return nil, ErrNotFound
	}
	if err := b.observe(ctx, "get", err); err != nil {
		return nil, err
	}
	b.bumpStat(ctx, b.rdb.Incr(ctx, StatsReadsKey).Err())
	return data, nil
}

// LoadCounter reads the persisted sequential id counter. A missing key reads as zero.
func (b *Broker) LoadCounter(ctx context.Context) (uint64, error) {
	v, err := b.rdb.Get(ctx, CounterKey).Uint64()
	if errors.Is(err, redis.Nil) {
		b.observe(ctx, "get", nil)
		return 0, nil
	}
	if err := b.observe(ctx, "get", err); err != nil {
		return 0, err
	}
	return v, nil
}

// SaveCounter persists the sequential id counter.
func (b *Broker) SaveCounter(ctx context.Context, value uint64) error {
	return b.observe(ctx, "set", b.rdb.Set(ctx, CounterKey, value, 0).Err())
}

// Stats reads the write/read introspection counters. Missing keys read as zero.
func (b *Broker) Stats(ctx context.Context) (Stats, error) {
	vals, err := b.rdb.MGet(ctx, StatsWritesKey, StatsReadsKey).Result()
	if err := b.observe(ctx, "mget", err); err != nil {
		return Stats{}, err
	}

	var stats Stats
	counters := []*int64{&stats.Writes, &stats.Reads}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok || i >= len(counters) {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Stats{}, apperrors.Internal("broker.stats", err)
		}
		*counters[i] = n
	}
	return stats, nil
}

// Close releases the connection pool.
func (b *Broker) Close() error {
	return b.rdb.Close()
}

// observe records a command outcome and wraps failures as broker-unavailable errors.
func (b *Broker) observe(ctx context.Context, op string, err error) error {
	if b.metrics != nil {
		b.metrics.RecordBrokerOp(ctx, op, err)
	}
	if err != nil {
		return apperrors.BrokerUnavailable("broker."+op, err)
	}
	return nil
}

// bumpStat records a stats INCR. Stats are introspection only, so failures are absorbed.
func (b *Broker) bumpStat(ctx context.Context, err error) {
	if err := b.observe(ctx, "incr", err); err != nil {
		b.logger.Debug("Stats counter update failed", "error", err)
	}
}
