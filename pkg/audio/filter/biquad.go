// Package filter provides the second-order IIR filters used to clean up the
// analysis copy of the microphone signal before it reaches the energy gate.
//
// Coefficients follow the RBJ audio EQ cookbook. Filters keep their delay
// line between calls so a stream can be processed block by block.
package filter

import "math"

// Butterworth is the Q of a maximally flat second-order section.
const Butterworth = 1 / math.Sqrt2

// Biquad is a direct form I second-order section. Not safe for concurrent use.
type Biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

// HighPass returns a high-pass section with cutoff hz at sampleRate.
func HighPass(hz, q float64, sampleRate int) *Biquad {
	w, alpha := omega(hz, q, sampleRate)
	cos := math.Cos(w)
	a0 := 1 + alpha
	return &Biquad{
		b0: (1 + cos) / 2 / a0,
		b1: -(1 + cos) / a0,
		b2: (1 + cos) / 2 / a0,
		a1: -2 * cos / a0,
		a2: (1 - alpha) / a0,
	}
}

// LowPass returns a low-pass section with cutoff hz at sampleRate.
func LowPass(hz, q float64, sampleRate int) *Biquad {
	w, alpha := omega(hz, q, sampleRate)
	cos := math.Cos(w)
	a0 := 1 + alpha
	return &Biquad{
		b0: (1 - cos) / 2 / a0,
		b1: (1 - cos) / a0,
		b2: (1 - cos) / 2 / a0,
		a1: -2 * cos / a0,
		a2: (1 - alpha) / a0,
	}
}

func omega(hz, q float64, sampleRate int) (w, alpha float64) {
	if q <= 0 {
		q = Butterworth
	}
	// Keep the cutoff below Nyquist so the coefficients stay stable.
	hz = math.Min(hz, 0.49*float64(sampleRate))
	w = 2 * math.Pi * hz / float64(sampleRate)
	return w, math.Sin(w) / (2 * q)
}

// Process filters buf in place.
func (f *Biquad) Process(buf []float32) {
	for i, s := range buf {
		x := float64(s)
		y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
		f.x2, f.x1 = f.x1, x
		f.y2, f.y1 = f.y1, y
		buf[i] = float32(y)
	}
}

// Reset clears the delay line.
func (f *Biquad) Reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}

// Chain runs sections in order.
type Chain []*Biquad

// BandPass returns the high-pass then low-pass chain used for speech
// analysis: content below lowHz (HVAC rumble, wind) and above highHz is
// attenuated.
func BandPass(lowHz, highHz float64, sampleRate int) Chain {
	return Chain{
		HighPass(lowHz, Butterworth, sampleRate),
		LowPass(highHz, Butterworth, sampleRate),
	}
}

// Process filters buf in place through every section.
func (c Chain) Process(buf []float32) {
	for _, f := range c {
		f.Process(buf)
	}
}

// Reset clears every section.
func (c Chain) Reset() {
	for _, f := range c {
		f.Reset()
	}
}
