package audio

import "math"

// Frame encoder defaults, tuned for a 48 kHz mono capture stream.
const (
	DefaultFrameSamples   = 4800  // 100 ms at 48 kHz
	DefaultSilenceEpsilon = 0.008 // block RMS below this is silent
	DefaultSilenceBudget  = 28800 // 600 ms at 48 kHz
	DefaultEncodeGain     = 3.0
)

// FrameSink consumes the output of a [FrameEncoder]. Both methods are called
// on the audio thread and must not block.
type FrameSink interface {
	// Frame receives a full frame. The slice is reused after the call
	// returns; copy it to keep it.
	Frame(pcm []int16)

	// Boundary is called after every block that passed the silence gate.
	// It marks a natural flush point, not the end of an utterance.
	Boundary()
}

// FrameEncoder turns float32 capture blocks into fixed-size int16 frames.
// Short pauses are withheld: silent blocks are dropped until the accumulated
// silence exceeds the budget, after which encoding resumes on the same call.
//
// A FrameEncoder never allocates after construction. It is not safe for
// concurrent use; the audio thread owns it.
type FrameEncoder struct {
	sink    FrameSink
	frame   []int16
	pos     int
	silent  int
	budget  int
	epsilon float64
	scale   float64
}

// FrameOption configures a [FrameEncoder].
type FrameOption func(*FrameEncoder)

// WithFrameSamples sets the frame capacity in samples.
func WithFrameSamples(n int) FrameOption {
	return func(e *FrameEncoder) {
		if n > 0 {
			e.frame = make([]int16, n)
		}
	}
}

// WithSilenceBudget sets how many consecutive silent samples are suppressed
// before encoding resumes.
func WithSilenceBudget(samples int) FrameOption {
	return func(e *FrameEncoder) {
		if samples >= 0 {
			e.budget = samples
		}
	}
}

// WithFormat sizes the frame to 100 ms and the silence budget to 600 ms of
// audio in f. Options given after it still win.
func WithFormat(f Format) FrameOption {
	return func(e *FrameEncoder) {
		if f.SampleRate <= 0 || f.Channels <= 0 {
			return
		}
		e.frame = make([]int16, f.SampleRate/10*f.Channels)
		e.budget = f.SampleRate * 600 / 1000 * f.Channels
	}
}

// WithSilenceEpsilon sets the RMS below which a block counts as silent.
func WithSilenceEpsilon(eps float64) FrameOption {
	return func(e *FrameEncoder) {
		if eps >= 0 {
			e.epsilon = eps
		}
	}
}

// WithGain sets the amplification applied on top of int16 full scale.
func WithGain(g float64) FrameOption {
	return func(e *FrameEncoder) {
		if g > 0 {
			e.scale = math.MaxInt16 * g
		}
	}
}

// NewFrameEncoder returns an encoder that emits frames to sink.
func NewFrameEncoder(sink FrameSink, opts ...FrameOption) *FrameEncoder {
	e := &FrameEncoder{
		sink:    sink,
		budget:  DefaultSilenceBudget,
		epsilon: DefaultSilenceEpsilon,
		scale:   math.MaxInt16 * DefaultEncodeGain,
	}
	for _, o := range opts {
		o(e)
	}
	if e.frame == nil {
		e.frame = make([]int16, DefaultFrameSamples)
	}
	return e
}

// Process encodes one block. An empty block is ignored.
func (e *FrameEncoder) Process(block []float32) {
	if len(block) == 0 {
		return
	}

	var sum float64
	for _, s := range block {
		sum += float64(s) * float64(s)
	}
	if math.Sqrt(sum/float64(len(block))) < e.epsilon {
		// Saturate so a long pause cannot overflow the counter.
		e.silent = min(e.silent+len(block), e.budget)
		if e.silent < e.budget {
			return
		}
	} else {
		e.silent = 0
	}

	for _, s := range block {
		e.frame[e.pos] = clamp16f(float64(s) * e.scale)
		e.pos++
		if e.pos == len(e.frame) {
			e.sink.Frame(e.frame)
			e.pos = 0
		}
	}
	e.sink.Boundary()
}

// Buffered reports how many samples are waiting in the current frame.
func (e *FrameEncoder) Buffered() int { return e.pos }

// Reset discards the partial frame and the silence counter.
func (e *FrameEncoder) Reset() {
	e.pos = 0
	e.silent = 0
}

func clamp16f(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
