// Package mock provides a test double for the reply.Fetcher interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkback/internal/reply"
)

// SendCall records a single invocation of Fetcher.Send.
type SendCall struct {
	Text string
	Turn reply.Turn
}

// Fetcher is a mock implementation of reply.Fetcher.
type Fetcher struct {
	mu sync.Mutex

	// Reply is returned by Send. A nil Reply echoes the text back.
	Reply *reply.Reply

	// Err, if non-nil, is returned by Send.
	Err error

	// Block makes Send wait until Release is called or ctx is done.
	Block bool

	// Calls records every Send call.
	Calls []SendCall

	release chan struct{}
	entered chan struct{}
}

// Send records the call and returns Reply, Err.
func (f *Fetcher) Send(ctx context.Context, text string, turn reply.Turn) (*reply.Reply, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, SendCall{Text: text, Turn: turn})
	block := f.Block
	if block && f.release == nil {
		f.release = make(chan struct{})
	}
	release := f.release
	entered := f.entered
	r, err := f.Reply, f.Err
	f.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if block {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if r == nil {
		return &reply.Reply{Text: text}, nil
	}
	cp := *r
	return &cp, nil
}

// Entered returns a channel that receives a value whenever Send is entered.
func (f *Fetcher) Entered() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entered == nil {
		f.entered = make(chan struct{}, 16)
	}
	return f.entered
}

// Release unblocks every pending and future Send.
func (f *Fetcher) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.release == nil {
		f.release = make(chan struct{})
	}
	select {
	case <-f.release:
	default:
		close(f.release)
	}
}

// Texts returns the text of every Send call, in order.
func (f *Fetcher) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		out[i] = c.Text
	}
	return out
}

var _ reply.Fetcher = (*Fetcher)(nil)
