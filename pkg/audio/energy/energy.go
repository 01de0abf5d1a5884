// Package energy classifies audio windows as silence or speech.
//
// Two stages use it. While recording, a [Gate] decides when the speaker has
// stopped: a [FixedGate] compares the window peak against a constant level,
// an [AdaptiveGate] learns the room noise during a short warm-up and gates at
// a multiple of it. After recording, [IsNoise] looks at the whole decoded
// segment and rejects recordings whose average magnitude is too low to be
// speech, whatever the real-time gate decided.
//
// Levels are expressed in the unsigned 8-bit analyser domain: a sample s maps
// to floor(128·(1+s)) clamped to [0, 255] and the deviation of a window is its
// highest byte minus the 128 midline.
package energy

import "math"

// Defaults.
const (
	DefaultFixedLevel     = 8
	DefaultNoiseFloor     = 0.02
	DefaultSilenceEpsilon = 0.008
)

// RMS returns the root-mean-square amplitude of samples. Zero for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// ToByte maps a float sample to the 0–255 analyser domain.
func ToByte(s float32) uint8 {
	v := math.Floor(128 * (1 + float64(s)))
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// Deviation returns the highest analyser byte of window minus the 128
// midline, never below zero. A silent window has deviation 0 and a full-scale
// positive peak has deviation 127.
func Deviation(window []float32) int {
	peak := 0
	for _, s := range window {
		if d := int(ToByte(s)) - 128; d > peak {
			peak = d
		}
	}
	return peak
}

// AverageMagnitude returns the mean absolute sample value. Zero for an empty slice.
func AverageMagnitude(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(samples))
}

// IsNoise reports whether a decoded segment is too quiet on average to hold
// speech. An empty segment is noise.
func IsNoise(samples []float32, floor float64) bool {
	if len(samples) == 0 {
		return true
	}
	return AverageMagnitude(samples) < floor
}
