// Package resilience provides circuit breaker and provider failover
// primitives.
//
// A [CircuitBreaker] stops calling a backend after repeated failures and
// probes it again after a cool-down. A [Group] puts a breaker in front of
// each of several interchangeable backends and tries them in order. The
// provider wrappers ([Transcriber], [Synthesizer], [Completer], [Streamer])
// expose a Group through the provider interfaces so the rest of the
// application never sees the failover.
//
// Cancellation is never counted as a backend failure: the conversation loop
// cancels in-flight work on every stop.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/talkback/internal/observe"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the reset timeout has passed.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. One
	// failure re-opens the breaker; enough successes close it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [CircuitBreaker]. Zero values take
// the defaults.
type BreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// Probes is the number of successful half-open calls needed to close
	// again. Default: 1.
	Probes int
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	probes       int
	now          func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inFlight int // half-open probes in flight
	passed   int // half-open probes that succeeded
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		probes:       cfg.Probes,
		now:          time.Now,
	}
}

// Name returns the configured label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker allows it and records the outcome. A
// rejected call returns [ErrCircuitOpen] without running fn. Errors caused
// by ctx ending do not count as failures.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.admit(ctx)
	if err != nil {
		return err
	}

	err = fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if probe {
		cb.inFlight--
	}
	switch {
	case err == nil:
		cb.success(ctx, probe)
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// Not the backend's fault.
	default:
		cb.failure(ctx, probe)
	}
	return err
}

// admit decides whether a call may run and whether it is a half-open probe.
func (cb *CircuitBreaker) admit(ctx context.Context) (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state, cb.inFlight, cb.passed = StateHalfOpen, 0, 0
		observe.Logger(ctx).Info("resilience: circuit half-open", "name", cb.name)
	}
	if cb.state == StateHalfOpen {
		if cb.inFlight+cb.passed >= cb.probes {
			return false, ErrCircuitOpen
		}
		cb.inFlight++
		return true, nil
	}
	return false, nil
}

// success and failure must be called with cb.mu held.
func (cb *CircuitBreaker) success(ctx context.Context, probe bool) {
	if !probe {
		cb.failures = 0
		return
	}
	cb.passed++
	if cb.passed >= cb.probes && cb.state == StateHalfOpen {
		cb.state, cb.failures = StateClosed, 0
		observe.Logger(ctx).Info("resilience: circuit closed", "name", cb.name)
	}
}

func (cb *CircuitBreaker) failure(ctx context.Context, probe bool) {
	if probe || cb.state == StateHalfOpen {
		cb.open(ctx)
		return
	}
	cb.failures++
	if cb.failures >= cb.maxFailures && cb.state == StateClosed {
		cb.open(ctx)
	}
}

func (cb *CircuitBreaker) open(ctx context.Context) {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	observe.Logger(ctx).Warn("resilience: circuit opened",
		"name", cb.name, "consecutive_failures", cb.failures)
}

// State returns the current state. An open breaker whose timeout has passed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state, cb.failures, cb.inFlight, cb.passed = StateClosed, 0, 0, 0
}
