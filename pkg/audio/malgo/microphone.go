// Package malgo implements [audio.Microphone] on top of miniaudio through
// github.com/gen2brain/malgo.
//
// Each Acquire opens a fresh miniaudio context and capture device and each
// Release tears both down again, so the operating system's recording
// indicator is only lit while a capture is actually running.
package malgo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	ma "github.com/gen2brain/malgo"

	"github.com/MrWong99/talkback/pkg/audio"
)

// ErrBusy is returned by Acquire while another handle is outstanding.
var ErrBusy = errors.New("malgo: microphone already acquired")

// Defaults.
const (
	DefaultSampleRate = 48000
	DefaultChannels   = 1
	DefaultPeriodMs   = 10
)

// Microphone opens the default capture device.
type Microphone struct {
	format   audio.Format
	periodMs int

	mu   sync.Mutex
	held bool
}

// Option configures a [Microphone].
type Option func(*Microphone)

// WithFormat sets the capture sample rate and channel count. miniaudio
// converts from the device's native format when they differ.
func WithFormat(f audio.Format) Option {
	return func(m *Microphone) {
		if f.SampleRate > 0 {
			m.format.SampleRate = f.SampleRate
		}
		if f.Channels > 0 {
			m.format.Channels = f.Channels
		}
	}
}

// WithPeriod sets the callback period in milliseconds.
func WithPeriod(ms int) Option {
	return func(m *Microphone) {
		if ms > 0 {
			m.periodMs = ms
		}
	}
}

// New returns a Microphone for 48 kHz mono capture with 10 ms callbacks.
func New(opts ...Option) *Microphone {
	m := &Microphone{
		format:   audio.Format{SampleRate: DefaultSampleRate, Channels: DefaultChannels},
		periodMs: DefaultPeriodMs,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Format returns the capture format.
func (m *Microphone) Format() audio.Format { return m.format }

// Acquire implements [audio.Microphone].
func (m *Microphone) Acquire(ctx context.Context) (audio.MicHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.held {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", audio.ErrDeviceFailure, ErrBusy)
	}
	m.held = true
	m.mu.Unlock()

	h, err := m.open()
	if err != nil {
		m.mu.Lock()
		m.held = false
		m.mu.Unlock()
		return nil, err
	}
	return h, nil
}

func (m *Microphone) open() (*handle, error) {
	mctx, err := ma.InitContext(nil, ma.ContextConfig{ThreadPriority: ma.ThreadPriorityRealtime}, nil)
	if err != nil {
		return nil, classify("init context", err)
	}

	h := &handle{
		mic:    m,
		ctx:    mctx,
		format: m.format,
		buf:    make([]float32, 0, m.format.SampleRate*m.periodMs/1000*m.format.Channels*2),
	}

	cfg := ma.DefaultDeviceConfig(ma.Capture)
	cfg.Capture.Format = ma.FormatS16
	cfg.Capture.Channels = uint32(m.format.Channels)
	cfg.SampleRate = uint32(m.format.SampleRate)
	cfg.PeriodSizeInMilliseconds = uint32(m.periodMs)

	dev, err := ma.InitDevice(mctx.Context, cfg, ma.DeviceCallbacks{Data: h.onData})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, classify("init device", err)
	}
	h.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, classify("start device", err)
	}
	slog.Debug("malgo: capture started", "format", m.format.String(), "period_ms", m.periodMs)
	return h, nil
}

func classify(op string, err error) error {
	if errors.Is(err, ma.ErrAccessDenied) {
		return fmt.Errorf("malgo: %s: %w: %w", op, audio.ErrPermissionDenied, err)
	}
	return fmt.Errorf("malgo: %s: %w: %w", op, audio.ErrDeviceFailure, err)
}

// handle is an acquired capture stream.
type handle struct {
	mic    *Microphone
	ctx    *ma.AllocatedContext
	dev    *ma.Device
	format audio.Format

	sink atomic.Pointer[audio.BlockFunc]

	// buf is only touched on the audio thread.
	buf []float32

	releaseOnce sync.Once
}

func (h *handle) Format() audio.Format { return h.format }

func (h *handle) Attach(fn audio.BlockFunc) {
	if fn == nil {
		h.sink.Store(nil)
		return
	}
	h.sink.Store(&fn)
}

// onData runs on the miniaudio thread.
func (h *handle) onData(_, in []byte, _ uint32) {
	fn := h.sink.Load()
	if fn == nil || len(in) < 2 {
		return
	}
	h.buf = audio.BytesToFloat32(h.buf, in)
	(*fn)(h.buf)
}

func (h *handle) Release() error {
	h.releaseOnce.Do(func() {
		h.sink.Store(nil)
		if err := h.dev.Stop(); err != nil {
			slog.Warn("malgo: stop device", "err", err)
		}
		h.dev.Uninit()
		if err := h.ctx.Uninit(); err != nil {
			slog.Warn("malgo: uninit context", "err", err)
		}
		h.ctx.Free()

		h.mic.mu.Lock()
		h.mic.held = false
		h.mic.mu.Unlock()
		slog.Debug("malgo: capture released")
	})
	return nil
}

var (
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.MicHandle  = (*handle)(nil)
)
