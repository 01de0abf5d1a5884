// Package mock provides in-memory mock implementations of the [audio.Microphone],
// [audio.MicHandle], and [audio.Speaker] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	handle := mock.NewMicHandle(audio.Format{SampleRate: 48000, Channels: 1})
//	mic := &mock.Microphone{Handle: handle}
//	h, _ := mic.Acquire(ctx)
//	h.Attach(consumer)
//	handle.Push(block) // delivers block to consumer synchronously
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkback/pkg/audio"
)

// ─── MicHandle ────────────────────────────────────────────────────────────────

// MicHandle is a mock implementation of [audio.MicHandle]. Blocks are delivered
// by calling [MicHandle.Push] from the test.
type MicHandle struct {
	mu sync.Mutex

	format   audio.Format
	sink     audio.BlockFunc
	released bool

	// ReleaseError is returned by [MicHandle.Release].
	ReleaseError error

	// CallCountAttach records how many times Attach was called.
	CallCountAttach int

	// CallCountRelease records how many times Release was called.
	CallCountRelease int
}

// NewMicHandle returns a MicHandle reporting format f.
func NewMicHandle(f audio.Format) *MicHandle {
	return &MicHandle{format: f}
}

// Format implements [audio.MicHandle].
func (h *MicHandle) Format() audio.Format {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.format
}

// Attach implements [audio.MicHandle].
func (h *MicHandle) Attach(fn audio.BlockFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountAttach++
	h.sink = fn
}

// Release implements [audio.MicHandle]. Records the call and returns ReleaseError.
func (h *MicHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CallCountRelease++
	h.released = true
	h.sink = nil
	return h.ReleaseError
}

// Released reports whether Release was called at least once.
func (h *MicHandle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Attached reports whether a consumer is currently attached.
func (h *MicHandle) Attached() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sink != nil
}

// Push delivers block to the attached consumer, if any, and reports whether
// it was delivered. The consumer runs on the caller's goroutine.
func (h *MicHandle) Push(block []float32) bool {
	h.mu.Lock()
	fn := h.sink
	released := h.released
	h.mu.Unlock()
	if fn == nil || released {
		return false
	}
	fn(block)
	return true
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// Handle is returned by Acquire. If nil, a fresh 48 kHz mono handle is
	// created for every call.
	Handle *MicHandle

	// AcquireError is returned by Acquire instead of a handle when non-nil.
	AcquireError error

	// OnAcquire, if set, is called with every handle returned by Acquire.
	OnAcquire func(*MicHandle)

	// Handles records every handle returned, in order.
	Handles []*MicHandle

	// CallCountAcquire records how many times Acquire was called.
	CallCountAcquire int
}

// Acquire implements [audio.Microphone].
func (m *Microphone) Acquire(ctx context.Context) (audio.MicHandle, error) {
	m.mu.Lock()
	m.CallCountAcquire++
	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if m.AcquireError != nil {
		err := m.AcquireError
		m.mu.Unlock()
		return nil, err
	}
	h := m.Handle
	if h == nil {
		h = NewMicHandle(audio.Format{SampleRate: 48000, Channels: 1})
	}
	m.Handles = append(m.Handles, h)
	cb := m.OnAcquire
	m.mu.Unlock()

	if cb != nil {
		cb(h)
	}
	return h, nil
}

// Acquired returns the number of handles handed out.
func (m *Microphone) Acquired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Handles)
}

// HandleAt returns the i-th handle handed out, or nil if there is none yet.
func (m *Microphone) HandleAt(i int) *MicHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.Handles) {
		return nil
	}
	return m.Handles[i]
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is a mock implementation of [audio.Speaker].
//
// By default Play returns immediately. Set Block to make Play wait until Stop
// is called or ctx is cancelled, simulating a long clip.
type Speaker struct {
	mu sync.Mutex

	// Block makes Play wait for Stop or ctx.
	Block bool

	// PlayError is returned by Play.
	PlayError error

	// Clips records every clip passed to Play, in order.
	Clips []audio.AudioFrame

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// Started receives a value each time Play begins. It is optional and
	// written with a non-blocking send.
	Started chan audio.AudioFrame

	stop chan struct{}
}

// Play implements [audio.Speaker].
func (s *Speaker) Play(ctx context.Context, clip audio.AudioFrame) error {
	s.mu.Lock()
	s.Clips = append(s.Clips, clip)
	block := s.Block
	err := s.PlayError
	stop := make(chan struct{})
	s.stop = stop
	started := s.Started
	s.mu.Unlock()

	if started != nil {
		select {
		case started <- clip:
		default:
		}
	}
	if err != nil {
		return err
	}
	if !block {
		return nil
	}
	select {
	case <-stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop implements [audio.Speaker].
func (s *Speaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// PlayedClips returns a copy of all clips passed to Play.
func (s *Speaker) PlayedClips() []audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.AudioFrame, len(s.Clips))
	copy(out, s.Clips)
	return out
}

// Stops returns the number of Stop calls.
func (s *Speaker) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountStop
}

var (
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.MicHandle  = (*MicHandle)(nil)
	_ audio.Speaker    = (*Speaker)(nil)
)
