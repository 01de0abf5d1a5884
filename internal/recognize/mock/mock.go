// Package mock provides a scripted [recognize.Recognizer] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkback/internal/recognize"
)

// Result is one scripted Listen outcome.
type Result struct {
	Text string
	Err  error
}

// ListenCall records one Listen invocation.
type ListenCall struct {
	LastSpoken string
}

// Recognizer returns scripted results in order. Once Script is exhausted,
// Listen blocks until ctx is cancelled, like a user who stopped talking.
type Recognizer struct {
	mu sync.Mutex

	// Script is consumed front to back.
	Script []Result

	// Calls records every Listen call.
	Calls []ListenCall

	// Listening, if set, receives a value on every Listen entry with a
	// non-blocking send.
	Listening chan struct{}
}

// Listen implements [recognize.Recognizer].
func (r *Recognizer) Listen(ctx context.Context, lastSpoken string) (string, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, ListenCall{LastSpoken: lastSpoken})
	var (
		res  Result
		have bool
	)
	if len(r.Script) > 0 {
		res, r.Script, have = r.Script[0], r.Script[1:], true
	}
	ch := r.Listening
	r.mu.Unlock()

	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	if have {
		return res.Text, res.Err
	}
	<-ctx.Done()
	return "", ctx.Err()
}

// Name implements [recognize.Recognizer].
func (r *Recognizer) Name() string { return "mock" }

// CallCount returns the number of Listen calls.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// LastSpoken returns the lastSpoken argument of every call, in order.
func (r *Recognizer) LastSpoken() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Calls))
	for i, c := range r.Calls {
		out[i] = c.LastSpoken
	}
	return out
}

var _ recognize.Recognizer = (*Recognizer)(nil)
