package energy

import (
	"fmt"
	"time"
)

// Verdict is the result of classifying one analysis window.
type Verdict int

const (
	// Warming means the gate is still learning and made no decision.
	Warming Verdict = iota

	// Silent means the window is below the gate.
	Silent

	// Loud means the window reached the gate.
	Loud
)

// String returns the lower-case verdict name.
func (v Verdict) String() string {
	switch v {
	case Warming:
		return "warming"
	case Silent:
		return "silent"
	case Loud:
		return "loud"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Gate classifies analysis windows. elapsed is the amount of audio captured
// since the gate was created or last reset, measured on the audio clock.
//
// Gates keep per-capture state and are not safe for concurrent use.
type Gate interface {
	Classify(window []float32, elapsed time.Duration) Verdict

	// Reset forgets learned state so the gate can serve a new capture.
	Reset()
}

// FixedGate treats a window as silent when its deviation is below Level.
type FixedGate struct {
	Level int
}

// Classify implements [Gate].
func (g *FixedGate) Classify(window []float32, _ time.Duration) Verdict {
	if Deviation(window) < g.Level {
		return Silent
	}
	return Loud
}

// Reset implements [Gate]. A fixed gate has no state.
func (g *FixedGate) Reset() {}

// AdaptiveGate learns the background level during Warmup and afterwards gates
// at the learned peak times Multiplier.
type AdaptiveGate struct {
	// Warmup is the learning interval at the start of each capture.
	Warmup time.Duration

	// Multiplier scales the learned peak into the gate level.
	Multiplier float64

	// MinLevel bounds the gate from below so a perfectly quiet warm-up does
	// not classify every later window as loud.
	MinLevel int

	peak int
}

// Defaults for [NewAdaptiveGate].
const (
	DefaultWarmup     = 800 * time.Millisecond
	DefaultMultiplier = 1.4
	DefaultMinLevel   = 2
)

// NewAdaptiveGate returns an AdaptiveGate with default warm-up and floor.
func NewAdaptiveGate(multiplier float64) *AdaptiveGate {
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}
	return &AdaptiveGate{
		Warmup:     DefaultWarmup,
		Multiplier: multiplier,
		MinLevel:   DefaultMinLevel,
	}
}

// Classify implements [Gate].
func (g *AdaptiveGate) Classify(window []float32, elapsed time.Duration) Verdict {
	dev := Deviation(window)
	if elapsed < g.Warmup {
		if dev > g.peak {
			g.peak = dev
		}
		return Warming
	}
	if float64(dev) < g.Level() {
		return Silent
	}
	return Loud
}

// Level returns the current gate level in analyser units.
func (g *AdaptiveGate) Level() float64 {
	return max(float64(g.peak)*g.Multiplier, float64(g.MinLevel))
}

// Baseline returns the peak deviation learned during warm-up.
func (g *AdaptiveGate) Baseline() int { return g.peak }

// Reset implements [Gate].
func (g *AdaptiveGate) Reset() { g.peak = 0 }

var (
	_ Gate = (*FixedGate)(nil)
	_ Gate = (*AdaptiveGate)(nil)
)
