package recognize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/talkback/internal/capture"
	"github.com/MrWong99/talkback/internal/locale"
	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/pkg/provider/stt"
)

// MinSegmentBytes is the smallest encoded segment worth transcribing.
// Anything shorter is a click or a cough.
const MinSegmentBytes = 4000

// DefaultDenylist holds phrases that transcription models hallucinate on
// near-silent input.
var DefaultDenylist = []string{
	"by H.",
	"ご視聴ありがとうございました。",
}

// Transcribe recognizes speech by recording a full segment and handing it to
// an [stt.Transcriber].
type Transcribe struct {
	rec      *capture.Recorder
	tr       stt.Transcriber
	language string
	minBytes int
	denylist []string
	metrics  *observe.Metrics
}

// TranscribeOption configures [Transcribe].
type TranscribeOption func(*Transcribe)

// WithMinSegmentBytes overrides [MinSegmentBytes].
func WithMinSegmentBytes(n int) TranscribeOption {
	return func(t *Transcribe) { t.minBytes = n }
}

// WithDenylist replaces [DefaultDenylist]. A transcript containing any entry
// is discarded.
func WithDenylist(phrases ...string) TranscribeOption {
	return func(t *Transcribe) { t.denylist = phrases }
}

// WithTranscribeMetrics overrides the metrics sink.
func WithTranscribeMetrics(m *observe.Metrics) TranscribeOption {
	return func(t *Transcribe) { t.metrics = m }
}

// NewTranscribe returns a record-then-transcribe recognizer.
func NewTranscribe(rec *capture.Recorder, tr stt.Transcriber, language string, opts ...TranscribeOption) *Transcribe {
	t := &Transcribe{
		rec:      rec,
		tr:       tr,
		language: locale.ISO639(language),
		minBytes: MinSegmentBytes,
		denylist: DefaultDenylist,
	}
	for _, o := range opts {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t
}

// Name implements [Recognizer].
func (t *Transcribe) Name() string { return "transcribe" }

// Listen implements [Recognizer].
func (t *Transcribe) Listen(ctx context.Context, lastSpoken string) (string, error) {
	log := observe.Logger(ctx)

	seg, err := t.rec.Capture(ctx, nil)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	if seg == nil {
		t.record(ctx, statusEmpty)
		return "", nil
	}
	if seg.Size < t.minBytes {
		log.Debug("recognize: segment too small", "bytes", seg.Size)
		t.record(ctx, statusTooSmall)
		return "", nil
	}

	start := time.Now()
	raw, err := t.tr.Transcribe(ctx, seg, t.language)
	t.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("recognizer", t.Name())))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Warn("recognize: transcribe", "err", fmt.Errorf("%w: %w", ErrRecognition, err))
		t.record(ctx, statusError)
		return "", nil
	}

	raw = strings.TrimSpace(raw)
	if t.denied(raw) {
		log.Debug("recognize: discarded denylisted transcript", "text", raw)
		t.record(ctx, statusDenied)
		return "", nil
	}
	text, status := clean(raw, lastSpoken)
	t.record(ctx, status)
	return text, nil
}

func (t *Transcribe) denied(text string) bool {
	if text == "" {
		return false
	}
	for _, p := range t.denylist {
		if p != "" && strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func (t *Transcribe) record(ctx context.Context, status string) {
	t.metrics.RecordUtterance(ctx, t.Name(), status)
}

var _ Recognizer = (*Transcribe)(nil)
