package filter_test

import (
	"math"
	"testing"

	"github.com/MrWong99/talkback/pkg/audio/energy"
	"github.com/MrWong99/talkback/pkg/audio/filter"
)

const rate = 48000

func sine(hz float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*hz*float64(i)/rate))
	}
	return out
}

// settledRMS filters a tone and measures the second half, after the
// transient has died out.
func settledRMS(c filter.Chain, hz float64) float64 {
	buf := sine(hz, rate/2)
	c.Process(buf)
	return energy.RMS(buf[len(buf)/2:])
}

func TestBandPass(t *testing.T) {
	in := energy.RMS(sine(1000, rate/2))

	tests := []struct {
		name   string
		hz     float64
		maxRel float64
		minRel float64
	}{
		{"rumble below 200Hz", 50, 0.1, 0},
		{"speech band", 1000, 1.05, 0.9},
		{"hiss above 4kHz", 15000, 0.1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel := settledRMS(filter.BandPass(200, 4000, rate), tt.hz) / in
			if rel > tt.maxRel || rel < tt.minRel {
				t.Errorf("relative level %.3f outside [%.2f, %.2f]", rel, tt.minRel, tt.maxRel)
			}
		})
	}
}

func TestChainKeepsStateAcrossBlocks(t *testing.T) {
	whole := sine(300, 2048)
	split := append([]float32(nil), whole...)

	filter.BandPass(200, 4000, rate).Process(whole)

	c := filter.BandPass(200, 4000, rate)
	c.Process(split[:1000])
	c.Process(split[1000:])

	for i := range whole {
		if whole[i] != split[i] {
			t.Fatalf("sample %d differs: %v vs %v", i, whole[i], split[i])
		}
	}
}

func TestReset(t *testing.T) {
	c := filter.BandPass(200, 4000, rate)
	a := sine(500, 256)
	c.Process(a)
	c.Reset()

	b := sine(500, 256)
	filter.BandPass(200, 4000, rate).Process(b)
	c2 := sine(500, 256)
	c.Process(c2)
	for i := range b {
		if b[i] != c2[i] {
			t.Fatalf("sample %d differs after Reset", i)
		}
	}
}
