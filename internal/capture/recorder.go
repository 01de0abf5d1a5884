// Package capture records one spoken utterance from a microphone.
//
// A [Recorder] listens on an acquired [audio.MicHandle], encodes everything it
// hears into an Ogg/Opus blob and decides when the speaker has finished by
// classifying the most recent audio with an [energy.Gate]. Each capture
// starts with a warm-up during which the gate learns the room's background
// level. Once warm, the capture ends after a configurable stretch of
// continuous silence. Finished recordings whose average magnitude is below a
// noise floor are discarded.
//
// Timing is measured on the audio clock (captured samples), so a slow poll
// loop never shortens the silence gap or the warm-up.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/audio/energy"
	"github.com/MrWong99/talkback/pkg/audio/filter"
	"github.com/MrWong99/talkback/pkg/audio/oggopus"
)

var (
	// ErrCaptureFailed is returned when the microphone cannot be acquired or
	// the recording cannot be produced. The underlying cause is wrapped, so
	// errors.Is(err, audio.ErrPermissionDenied) still works.
	ErrCaptureFailed = errors.New("capture: capture failed")

	// ErrNoiseRejected describes a recording discarded as background noise.
	// Capture reports that case as a nil segment; the error value is only
	// used for logging and metrics.
	ErrNoiseRejected = errors.New("capture: recording rejected as noise")
)

// Defaults for [New].
const (
	DefaultSilenceGap     = 500 * time.Millisecond
	DefaultPollInterval   = 50 * time.Millisecond
	DefaultAnalysisWindow = 2048
	DefaultMaxDuration    = 30 * time.Second
	DefaultHighPassHz     = 200
	DefaultLowPassHz      = 4000
)

// State is the lifecycle position of the current capture.
type State int32

const (
	StateIdle State = iota
	StateWarmingUp
	StateCapturing
	StateStopped
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWarmingUp:
		return "warming_up"
	case StateCapturing:
		return "capturing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Ticker drives the recorder's analysis loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// Recorder captures single utterances. A Recorder may be reused for any
// number of sequential captures but runs at most one at a time.
type Recorder struct {
	mic         audio.Microphone
	newGate     func() energy.Gate
	gap         time.Duration
	poll        time.Duration
	window      int
	filters     bool
	lowHz       float64
	highHz      float64
	noiseFloor  float64
	maxDuration time.Duration
	bitrate     int
	metrics     *observe.Metrics
	newTicker   func(time.Duration) Ticker

	running atomic.Bool
	state   atomic.Int32
}

// Option configures a [Recorder].
type Option func(*Recorder)

// WithGate sets the factory for the per-capture gate. The default is an
// [energy.AdaptiveGate] with the default warm-up and multiplier.
func WithGate(fn func() energy.Gate) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.newGate = fn
		}
	}
}

// WithSilenceGap sets how much continuous silence ends a capture.
func WithSilenceGap(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.gap = d
		}
	}
}

// WithPollInterval sets how often captured audio is analysed.
func WithPollInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.poll = d
		}
	}
}

// WithAnalysisWindow sets the number of most recent samples the gate sees.
func WithAnalysisWindow(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.window = n
		}
	}
}

// WithFilters enables or disables the band-pass applied to the analysis copy.
// The recording itself is never filtered.
func WithFilters(on bool) Option {
	return func(r *Recorder) { r.filters = on }
}

// WithBand sets the analysis band-pass corner frequencies.
func WithBand(lowHz, highHz float64) Option {
	return func(r *Recorder) {
		if lowHz > 0 && highHz > lowHz {
			r.lowHz, r.highHz = lowHz, highHz
		}
	}
}

// WithNoiseFloor sets the average magnitude below which a finished recording
// is discarded.
func WithNoiseFloor(floor float64) Option {
	return func(r *Recorder) {
		if floor >= 0 {
			r.noiseFloor = floor
		}
	}
}

// WithMaxDuration caps the length of a single capture.
func WithMaxDuration(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.maxDuration = d
		}
	}
}

// WithBitrate sets the Opus bitrate of recordings.
func WithBitrate(bps int) Option {
	return func(r *Recorder) {
		if bps > 0 {
			r.bitrate = bps
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recorder) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithTicker replaces the analysis ticker factory.
func WithTicker(fn func(time.Duration) Ticker) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.newTicker = fn
		}
	}
}

// New returns a Recorder. mic is used when Capture is called without a
// handle and may be nil if callers always supply one.
func New(mic audio.Microphone, opts ...Option) *Recorder {
	r := &Recorder{
		mic: mic,
		newGate: func() energy.Gate {
			return energy.NewAdaptiveGate(energy.DefaultMultiplier)
		},
		gap:         DefaultSilenceGap,
		poll:        DefaultPollInterval,
		window:      DefaultAnalysisWindow,
		filters:     true,
		lowHz:       DefaultHighPassHz,
		highHz:      DefaultLowPassHz,
		noiseFloor:  energy.DefaultNoiseFloor,
		maxDuration: DefaultMaxDuration,
		bitrate:     oggopus.DefaultBitrate,
		newTicker: func(d time.Duration) Ticker {
			return timeTicker{time.NewTicker(d)}
		},
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// State reports the state of the current or last capture.
func (r *Recorder) State() State { return State(r.state.Load()) }

// Capture records one utterance and returns it as an Ogg/Opus segment.
//
// When mic is nil the recorder acquires its own microphone and releases it
// before returning. A supplied handle is used as is and never released.
//
// A nil segment with a nil error means the recording was discarded as noise.
// Cancelling ctx stops the capture and returns ctx.Err(); a partial recording
// is never returned.
func (r *Recorder) Capture(ctx context.Context, mic audio.MicHandle) (*audio.Segment, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: capture already running", ErrCaptureFailed)
	}
	defer r.running.Store(false)

	ctx, span := observe.StartStage(ctx, "capture")
	defer span.End()
	log := observe.Logger(ctx)

	release := func() {}
	if mic == nil {
		if r.mic == nil {
			return nil, fmt.Errorf("%w: no microphone configured", ErrCaptureFailed)
		}
		h, err := r.mic.Acquire(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.metrics.RecordCapture(ctx, observe.CaptureFailed)
			return nil, fmt.Errorf("%w: acquire microphone: %w", ErrCaptureFailed, err)
		}
		mic = h
		release = sync.OnceFunc(func() {
			if err := h.Release(); err != nil {
				log.Warn("capture: release microphone", "err", err)
			}
		})
		defer release()
	}

	seg, outcome, err := r.record(ctx, mic, release)
	r.state.Store(int32(StateStopped))
	r.metrics.RecordCapture(ctx, outcome)
	if err != nil {
		return nil, err
	}
	if seg == nil {
		log.Debug("capture: recording discarded", "reason", ErrNoiseRejected)
		return nil, nil
	}
	r.metrics.SegmentDuration.Record(ctx, seg.Duration.Seconds())
	log.Debug("capture: segment recorded", "bytes", seg.Size, "duration", seg.Duration, "outcome", outcome)
	return seg, nil
}

// record runs the analysis loop on an attached handle and finishes the
// recording. release is invoked once the device is no longer needed.
func (r *Recorder) record(ctx context.Context, mic audio.MicHandle, release func()) (*audio.Segment, string, error) {
	f := mic.Format()
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, observe.CaptureFailed, fmt.Errorf("%w: invalid input format %s", ErrCaptureFailed, f)
	}

	var blob bytes.Buffer
	w, err := oggopus.NewWriter(&blob, f, oggopus.WithBitrate(r.bitrate))
	if err != nil {
		return nil, observe.CaptureFailed, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}

	// The device thread only ever appends to pending.
	var (
		mu      sync.Mutex
		pending []float32
	)
	mic.Attach(func(block []float32) {
		mu.Lock()
		pending = append(pending, block...)
		mu.Unlock()
	})
	detach := sync.OnceFunc(func() { mic.Attach(nil) })
	defer detach()

	tick := r.newTicker(r.poll)
	defer tick.Stop()

	var chain filter.Chain
	if r.filters {
		chain = filter.BandPass(r.lowHz, r.highHz, f.SampleRate)
	}
	gate := r.newGate()

	var (
		local     []float32
		analysis  []float32
		window    = make([]float32, 0, r.window)
		captured  int64
		silent    int64
		threshold = int64(r.gap) * int64(f.SampleRate) / int64(time.Second)
		limit     = int64(r.maxDuration) * int64(f.SampleRate) / int64(time.Second)
		outcome   = observe.CaptureSegment
	)
	r.state.Store(int32(StateWarmingUp))

loop:
	for {
		select {
		case <-ctx.Done():
			return nil, observe.CaptureCancelled, ctx.Err()
		case <-tick.C():
		}

		mu.Lock()
		local, pending = pending, local[:0]
		mu.Unlock()
		if len(local) < f.Channels {
			continue
		}

		if err := w.Write(local); err != nil {
			return nil, observe.CaptureFailed, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
		}
		frames := int64(len(local) / f.Channels)
		captured += frames

		analysis = append(analysis[:0], audio.DownmixFloat32(local, f.Channels)...)
		if chain != nil {
			chain.Process(analysis)
		}
		window = slide(window, analysis, r.window)

		elapsed := time.Duration(captured) * time.Second / time.Duration(f.SampleRate)
		switch gate.Classify(window, elapsed) {
		case energy.Warming:
			continue
		case energy.Loud:
			silent = 0
		case energy.Silent:
			silent += frames
		}
		r.state.Store(int32(StateCapturing))

		switch {
		case silent >= threshold:
			break loop
		case captured >= limit:
			outcome = observe.CaptureMaxLength
			break loop
		}
	}

	detach()
	tick.Stop()
	release()

	if err := w.Close(); err != nil {
		return nil, observe.CaptureFailed, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}
	dec, err := oggopus.Decode(blob.Bytes())
	if err != nil {
		return nil, observe.CaptureFailed, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}
	if energy.IsNoise(dec.Samples, r.noiseFloor) {
		return nil, observe.CaptureNoise, nil
	}

	return &audio.Segment{
		Data:        blob.Bytes(),
		Size:        blob.Len(),
		Duration:    dec.Duration(),
		Format:      f,
		ContentType: audio.ContentTypeOggOpus,
	}, outcome, nil
}

// slide appends samples to window and keeps only the newest size samples.
func slide(window, samples []float32, size int) []float32 {
	if len(samples) >= size {
		return append(window[:0], samples[len(samples)-size:]...)
	}
	if over := len(window) + len(samples) - size; over > 0 {
		n := copy(window, window[over:])
		window = window[:n]
	}
	return append(window, samples...)
}
