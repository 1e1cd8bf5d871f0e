package circuitbreaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBoom = errors.New("boom")

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	b := New(Config{Threshold: -1})
	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	if b.State() != Closed {
		t.Fatalf("state after 4 failures = %v, want closed", b.State())
	}
	b.RecordFailure()
	if b.State() != Open {
		t.Fatalf("state after 5 failures = %v, want open", b.State())
	}
}

func TestBreaker_Lifecycle(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := New(Config{Threshold: 2, Cooldown: time.Second}, WithClock(clock.Now))

	if err := b.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("Execute error = %v, want errBoom", err)
	}
	_ = b.Execute(func() error { return errBoom })
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	if err := b.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("Execute while open = %v, want ErrOpen", err)
	}
	if called {
		t.Fatal("fn ran while breaker open")
	}

	clock.Advance(time.Second)
	if !b.Allow() {
		t.Fatal("Allow after cooldown = false, want true")
	}
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}
	if b.Allow() {
		t.Fatal("second probe allowed in half-open")
	}
	b.RecordSuccess()
	if b.State() != Closed || b.Failures() != 0 {
		t.Fatalf("state = %v failures = %d, want closed/0", b.State(), b.Failures())
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	b := New(Config{Threshold: 1, Cooldown: time.Second}, WithClock(clock.Now))
	b.RecordFailure()

	clock.Advance(2 * time.Second)
	if err := b.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
		t.Fatalf("probe error = %v, want errBoom", err)
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}
	if b.Allow() {
		t.Fatal("Allow right after failed probe = true")
	}
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	t.Parallel()

	var transitions []string
	b := New(Config{Threshold: 1, Cooldown: time.Hour}, OnStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}))
	b.RecordFailure()
	b.Reset()

	want := []string{"closed->open", "open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_ConcurrentExecute(t *testing.T) {
	t.Parallel()

	b := New(Config{Threshold: 1000, Cooldown: time.Second})
	var calls atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = b.Execute(func() error {
					calls.Add(1)
					return nil
				})
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1000 {
		t.Errorf("calls = %d, want 1000", calls.Load())
	}
	if b.State() != Closed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := map[State]string{Closed: "closed", Open: "open", HalfOpen: "half-open", State(9): "unknown"}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
