// Package condition prepares recorded audio for speech recognition backends
// that want mono float32 PCM at a fixed rate: stereo is downmixed, the signal
// is linearly resampled to the target rate and loud recordings are peak
// normalized down to a ceiling.
//
// The resampler has no anti-aliasing filter. Recognition models tolerate the
// small amount of aliasing this introduces.
package condition

import (
	"fmt"
	"math"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/audio/oggopus"
)

// Defaults.
const (
	DefaultTargetRate = 16000
	DefaultCeilingDB  = -1.0
)

// eps keeps the gain finite for all-zero input.
const eps = 1e-12

// Conditioner converts audio to the target rate and peak ceiling.
// It holds no mutable state and is safe for concurrent use.
type Conditioner struct {
	targetRate int
	ceiling    float64
}

// Option configures a [Conditioner].
type Option func(*Conditioner)

// WithTargetRate sets the output sample rate in Hz.
func WithTargetRate(hz int) Option {
	return func(c *Conditioner) {
		if hz > 0 {
			c.targetRate = hz
		}
	}
}

// WithCeilingDB sets the normalization ceiling in dBFS. Positive values are
// ignored.
func WithCeilingDB(db float64) Option {
	return func(c *Conditioner) {
		if db <= 0 {
			c.ceiling = math.Pow(10, db/20)
		}
	}
}

// New returns a Conditioner for 16 kHz at −1 dBFS unless overridden.
func New(opts ...Option) *Conditioner {
	c := &Conditioner{
		targetRate: DefaultTargetRate,
		ceiling:    math.Pow(10, DefaultCeilingDB/20),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TargetRate returns the output sample rate.
func (c *Conditioner) TargetRate() int { return c.targetRate }

// Ceiling returns the linear peak ceiling.
func (c *Conditioner) Ceiling() float64 { return c.ceiling }

// Samples conditions interleaved samples captured at rate with the given
// channel count and returns mono samples at the target rate.
func (c *Conditioner) Samples(samples []float32, rate, channels int) []float32 {
	mono := audio.DownmixFloat32(samples, channels)
	return Normalize(Resample(mono, rate, c.targetRate), c.ceiling)
}

// Segment decodes a captured segment and conditions it.
func (c *Conditioner) Segment(seg *audio.Segment) ([]float32, error) {
	if seg == nil || len(seg.Data) == 0 {
		return nil, nil
	}
	dec, err := oggopus.Decode(seg.Data)
	if err != nil {
		return nil, fmt.Errorf("condition: decode segment: %w", err)
	}
	return c.Samples(dec.Samples, dec.Format.SampleRate, dec.Format.Channels), nil
}

// Resample converts mono samples from rate to target by linear interpolation.
// The output holds round(len·target/rate) samples; when the rates match the
// input is returned unchanged.
func Resample(samples []float32, rate, target int) []float32 {
	if rate <= 0 || target <= 0 || rate == target || len(samples) == 0 {
		return samples
	}
	ratio := float64(target) / float64(rate)
	out := make([]float32, int(math.Round(float64(len(samples))*ratio)))
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) / ratio
		i0 := min(int(math.Floor(pos)), last)
		i1 := min(i0+1, last)
		frac := pos - float64(i0)
		out[i] = float32(float64(samples[i0])*(1-frac) + float64(samples[i1])*frac)
	}
	return out
}

// Normalize scales samples so their peak equals ceiling. Input whose peak is
// already at or below the ceiling is returned unchanged; quiet audio is never
// boosted.
func Normalize(samples []float32, ceiling float64) []float32 {
	peak := eps
	for _, s := range samples {
		if v := math.Abs(float64(s)); v > peak {
			peak = v
		}
	}
	gain := ceiling / peak
	if gain >= 1 {
		return samples
	}
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(float64(s) * gain)
	}
	return out
}
