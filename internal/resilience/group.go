package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/talkback/internal/observe"
)

// ErrAllFailed is returned when every member of a [Group] failed or was
// skipped by its breaker. The individual errors are joined into it.
var ErrAllFailed = errors.New("resilience: all providers failed")

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Group tries interchangeable backends in registration order, each behind
// its own [CircuitBreaker].
type Group[T any] struct {
	cfg BreakerConfig

	mu      sync.RWMutex
	members []member[T]
}

// NewGroup returns a Group whose first member is primary.
func NewGroup[T any](primaryName string, primary T, cfg BreakerConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback.
func (g *Group[T]) Add(name string, value T) {
	cfg := g.cfg
	cfg.Name = name
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members = append(g.members, member[T]{name: name, value: value, breaker: NewCircuitBreaker(cfg)})
}

// Primary returns the first member.
func (g *Group[T]) Primary() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.members[0].value
}

// States reports each member's breaker state by name.
func (g *Group[T]) States() map[string]State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.name] = m.breaker.State()
	}
	return out
}

func (g *Group[T]) snapshot() []member[T] {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]member[T](nil), g.members...)
}

// Do calls fn against each member of g until one succeeds. It stops early
// when ctx ends. Go has no generic methods, hence the function.
func Do[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	log := observe.Logger(ctx)
	for _, m := range g.snapshot() {
		var out R
		err := m.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, m.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			log.Debug("resilience: skipping provider", "provider", m.name)
			continue
		}
		log.Warn("resilience: provider failed, trying next", "provider", m.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
