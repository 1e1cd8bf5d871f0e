// Package backoff provides exponential delays for polling and retry loops.
package backoff

import (
	"context"
	"math"
	"time"
)

const (
	defaultInitial = 100 * time.Millisecond
	defaultMax     = 5 * time.Second
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
}

func (c *Config) bounds() (time.Duration, time.Duration) {
	initial, maxDelay := defaultInitial, defaultMax
	if c != nil {
		if c.Initial > 0 {
			initial = c.Initial
		}
		if c.Max > 0 {
			maxDelay = c.Max
		}
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return initial, maxDelay
}

// Exponential returns the delay for a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, and so on up to Max.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial, maxDelay := cfg.bounds()
	if attempt < 1 {
		return initial
	}
	d := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if d > float64(maxDelay) {
		d = float64(maxDelay)
	}
	return time.Duration(d)
}

// Sleep waits for d or until ctx is done, whichever comes first.
// It returns ctx.Err() if the wait was cut short.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Schedule tracks consecutive attempts of one loop. It is not safe for
// concurrent use.
type Schedule struct {
	cfg     Config
	attempt int
}

// NewSchedule returns a schedule starting at attempt zero.
func NewSchedule(cfg Config) *Schedule {
	return &Schedule{cfg: cfg}
}

// Next advances the attempt count and returns its delay.
func (s *Schedule) Next() time.Duration {
	s.attempt++
	return Exponential(s.attempt, &s.cfg)
}

// Wait sleeps for the next delay. It returns ctx.Err() if ctx ends first.
func (s *Schedule) Wait(ctx context.Context) error {
	return Sleep(ctx, s.Next())
}

// Attempts returns how many delays have been handed out since the last Reset.
func (s *Schedule) Attempts() int {
	return s.attempt
}

// Reset starts the schedule over after a success.
func (s *Schedule) Reset() {
	s.attempt = 0
}
