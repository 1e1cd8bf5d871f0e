// Package identity allocates request ids for the front door.
//
// Two strategies are available, chosen once at startup:
//
//   - Random: 128 bits from a random source rendered as 32 lowercase hex
//     characters. No shared state.
//   - Sequential: a process-wide decimal counter loaded from the broker at
//     startup and persisted back according to a reservation policy.
//
// # Sequential durability
//
// With a reservation size R > 0 the allocator writes a ceiling of
// current+R to the broker before it issues the first id past the previous
// ceiling. A crash therefore never lets the next process re-issue an id;
// it only skips the unused part of the reserved block.
//
// With R = 0 the counter is persisted only by Save at clean shutdown. After
// an unclean exit the next process resumes from the last saved value and
// re-issues every id handed out since then.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"strconv"
	"sync"
)

// Allocator produces request ids. Implementations are safe for concurrent use.
type Allocator interface {
	Allocate(ctx context.Context) string
}

// Random allocates 32-character lowercase hex ids.
type Random struct{}

// Allocate returns a fresh random id.
func (Random) Allocate(context.Context) string {
	var b [16]byte
	// crypto/rand.Read never returns an error; it aborts the process instead.
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// CounterStore persists the sequential counter.
type CounterStore interface {
	LoadCounter(ctx context.Context) (uint64, error)
	SaveCounter(ctx context.Context, value uint64) error
}

// Sequential allocates strictly increasing decimal ids.
type Sequential struct {
	store   CounterStore
	reserve uint64
	logger  *slog.Logger

	mu      sync.Mutex
	current uint64 // last issued id
	ceiling uint64 // highest id covered by a persisted reservation
}

// NewSequential loads the persisted counter and returns an allocator continuing from it.
// A load failure is logged and the counter starts from zero.
func NewSequential(ctx context.Context, store CounterStore, reserve int) *Sequential {
	s := &Sequential{
		store:  store,
		logger: slog.With("component", "identity"),
	}
	if reserve > 0 {
		s.reserve = uint64(reserve)
	}

	loaded, err := store.LoadCounter(ctx)
	if err != nil {
		s.logger.Error("Failed to load request id counter, starting from zero", "error", err)
		loaded = 0
	}
	s.current = loaded
	s.ceiling = loaded

	s.logger.Info("Sequential id allocator ready", "start", loaded, "reserve", s.reserve)
	return s
}

// Allocate returns the next id.
func (s *Sequential) Allocate(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current++
	if s.reserve > 0 && s.current > s.ceiling {
		ceiling := s.current - 1 + s.reserve
		if err := s.store.SaveCounter(ctx, ceiling); err != nil {
			// Retried on the next allocation; until then ids are only as durable as Save.
			s.logger.Warn("Failed to reserve request id block", "ceiling", ceiling, "error", err)
		} else {
			s.ceiling = ceiling
		}
	}
	return strconv.FormatUint(s.current, 10)
}

// Current returns the last issued id, or the loaded value if none was issued yet.
func (s *Sequential) Current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Save persists the last issued id. Called at clean shutdown.
func (s *Sequential) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SaveCounter(ctx, s.current); err != nil {
		return err
	}
	s.ceiling = s.current
	s.logger.Info("Request id counter saved", "value", s.current)
	return nil
}

// Verify strategies implement Allocator
var (
	_ Allocator = Random{}
	_ Allocator = (*Sequential)(nil)
)
