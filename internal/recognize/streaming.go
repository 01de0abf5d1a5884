package recognize

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/talkback/internal/capture"
	"github.com/MrWong99/talkback/internal/locale"
	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/stt"
)

// Streaming defaults.
const (
	DefaultNoSpeechTimeout = 10 * time.Second
	DefaultQueueBytes      = 1 << 18 // ~2.7 s of 48 kHz mono int16
)

// Streaming recognizes speech with a streaming STT session.
//
// Capture blocks go through an [audio.FrameEncoder] into a non-blocking
// ring buffer on the audio thread. A pump goroutine forwards the queued
// bytes to the session whenever the encoder signals a boundary. When the
// queue is full new audio is dropped rather than stalling the callback.
type Streaming struct {
	mic        audio.Microphone
	provider   stt.Provider
	language   string
	noSpeech   time.Duration
	queueBytes int
	encOpts    []audio.FrameOption
	metrics    *observe.Metrics
}

// StreamingOption configures [Streaming].
type StreamingOption func(*Streaming)

// WithNoSpeechTimeout bounds how long Listen waits for a final transcript.
func WithNoSpeechTimeout(d time.Duration) StreamingOption {
	return func(s *Streaming) {
		if d > 0 {
			s.noSpeech = d
		}
	}
}

// WithQueueBytes sets the ring buffer capacity.
func WithQueueBytes(n int) StreamingOption {
	return func(s *Streaming) {
		if n > 0 {
			s.queueBytes = n
		}
	}
}

// WithEncoderOptions configures the frame encoder. Frame size and silence
// budget default to 100 ms and 600 ms at the microphone's rate.
func WithEncoderOptions(opts ...audio.FrameOption) StreamingOption {
	return func(s *Streaming) { s.encOpts = append(s.encOpts, opts...) }
}

// WithStreamingMetrics overrides the metrics sink.
func WithStreamingMetrics(m *observe.Metrics) StreamingOption {
	return func(s *Streaming) { s.metrics = m }
}

// NewStreaming returns a streaming recognizer.
func NewStreaming(mic audio.Microphone, p stt.Provider, language string, opts ...StreamingOption) *Streaming {
	s := &Streaming{
		mic:        mic,
		provider:   p,
		language:   locale.Tag(language),
		noSpeech:   DefaultNoSpeechTimeout,
		queueBytes: DefaultQueueBytes,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Name implements [Recognizer].
func (s *Streaming) Name() string { return "streaming" }

// Listen implements [Recognizer].
func (s *Streaming) Listen(ctx context.Context, lastSpoken string) (string, error) {
	log := observe.Logger(ctx)

	h, err := s.mic.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: acquire microphone: %w", capture.ErrCaptureFailed, err)
	}
	defer h.Release()

	f := h.Format()
	sess, err := s.provider.StartStream(ctx, stt.StreamConfig{
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Language:   s.language,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Warn("recognize: start stream", "err", fmt.Errorf("%w: %w", ErrRecognition, err))
		s.record(ctx, statusError)
		return "", nil
	}

	q := newQueue(s.queueBytes)
	enc := audio.NewFrameEncoder(q, append([]audio.FrameOption{audio.WithFormat(f)}, s.encOpts...)...)
	h.Attach(enc.Process)

	g, gctx := errgroup.WithContext(ctx)
	pctx, stopPump := context.WithCancel(gctx)
	g.Go(func() error { return q.pump(pctx, sess) })
	g.Go(func() error {
		// Keep the session from blocking on partials nobody reads.
		for {
			select {
			case _, ok := <-sess.Partials():
				if !ok {
					return nil
				}
			case <-pctx.Done():
				return nil
			}
		}
	})

	start := time.Now()
	text, status := s.await(gctx, sess.Finals(), lastSpoken)

	h.Attach(nil)
	stopPump()
	_ = sess.Close()
	pumpErr := g.Wait()

	if n := q.dropped.Load(); n > 0 {
		s.metrics.DroppedAudio.Add(ctx, n)
		log.Debug("recognize: dropped audio", "bytes", n)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if pumpErr != nil && status == statusError {
		log.Warn("recognize: stream audio", "err", fmt.Errorf("%w: %w", ErrRecognition, pumpErr))
	}

	s.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("recognizer", s.Name())))
	s.record(ctx, status)
	if status == statusEcho {
		log.Debug("recognize: discarded echo", "text", lastSpoken)
	}
	return text, nil
}

// await waits for the first non-empty final transcript.
func (s *Streaming) await(ctx context.Context, finals <-chan stt.Transcript, lastSpoken string) (string, string) {
	timer := time.NewTimer(s.noSpeech)
	defer timer.Stop()
	for {
		select {
		case t, ok := <-finals:
			if !ok {
				return "", statusError
			}
			if text, status := clean(t.Text, lastSpoken); status != statusEmpty {
				return text, status
			}
		case <-timer.C:
			return "", statusTimeout
		case <-ctx.Done():
			return "", statusError
		}
	}
}

func (s *Streaming) record(ctx context.Context, status string) {
	s.metrics.RecordUtterance(ctx, s.Name(), status)
}

var _ Recognizer = (*Streaming)(nil)

// queue is the [audio.FrameSink] between the audio thread and the pump.
type queue struct {
	rb      *ringbuffer.RingBuffer
	frame   []byte
	kick    chan struct{}
	dropped atomic.Int64
}

func newQueue(size int) *queue {
	return &queue{
		rb:    ringbuffer.New(size).SetBlocking(false),
		frame: make([]byte, 0, 2*audio.DefaultFrameSamples),
		kick:  make(chan struct{}, 1),
	}
}

// Frame implements [audio.FrameSink]. Whole frames are queued or dropped.
func (q *queue) Frame(pcm []int16) {
	b := q.frame[:0]
	for _, s := range pcm {
		b = binary.LittleEndian.AppendUint16(b, uint16(s))
	}
	q.frame = b
	if q.rb.Free() < len(b) {
		q.dropped.Add(int64(len(b)))
		return
	}
	if n, err := q.rb.Write(b); err != nil {
		q.dropped.Add(int64(len(b) - n))
	}
}

// Boundary implements [audio.FrameSink].
func (q *queue) Boundary() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// pump forwards queued audio to sess on every boundary until ctx ends.
func (q *queue) pump(ctx context.Context, sess stt.SessionHandle) error {
	buf := make([]byte, 2*audio.DefaultFrameSamples)
	for {
		select {
		case <-q.kick:
		case <-ctx.Done():
			return nil
		}
		for {
			n, err := q.rb.Read(buf)
			if n > 0 {
				if serr := sess.SendAudio(buf[:n]); serr != nil {
					if errors.Is(serr, stt.ErrSessionClosed) && ctx.Err() != nil {
						return nil
					}
					return serr
				}
			}
			if err != nil || n < len(buf) {
				break
			}
		}
	}
}
