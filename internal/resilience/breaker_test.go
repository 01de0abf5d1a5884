package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("backend down")

// fakeClock is advanced by hand.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

func newTestBreaker(cfg BreakerConfig) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(cfg)
	cb.now = clk.Now
	return cb, clk
}

func fail(context.Context) error    { return errBackend }
func succeed(context.Context) error { return nil }

func TestBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{Name: "stt", MaxFailures: 2})
	ctx := context.Background()

	for i := range 2 {
		if err := cb.Execute(ctx, fail); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	if got := cb.State(); got != StateOpen {
		t.Fatalf("State = %v, want open", got)
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("open breaker ran the call")
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{MaxFailures: 2})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)
	if got := cb.State(); got != StateClosed {
		t.Errorf("State = %v, want closed", got)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clk := newTestBreaker(BreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute, Probes: 2})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.Advance(59 * time.Second)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("State before timeout = %v, want open", got)
	}
	clk.Advance(time.Second)
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("State after timeout = %v, want half-open", got)
	}

	if err := cb.Execute(ctx, succeed); err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("State after one probe = %v, want half-open", got)
	}
	if err := cb.Execute(ctx, succeed); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("State = %v, want closed", got)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(BreakerConfig{MaxFailures: 1, ResetTimeout: time.Second})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.Advance(time.Second)
	_ = cb.Execute(ctx, fail)
	if got := cb.State(); got != StateOpen {
		t.Errorf("State = %v, want open", got)
	}
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	cb, clk := newTestBreaker(BreakerConfig{MaxFailures: 1, ResetTimeout: time.Second})
	ctx := context.Background()
	_ = cb.Execute(ctx, fail)
	clk.Advance(time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	if err := cb.Execute(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("concurrent probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe: %v", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("State = %v, want closed", got)
	}
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{MaxFailures: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("State = %v, want closed", got)
	}
}

func TestBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{MaxFailures: 1})
	_ = cb.Execute(context.Background(), fail)
	cb.Reset()
	if got := cb.State(); got != StateClosed {
		t.Errorf("State = %v, want closed", got)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(7):      "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
