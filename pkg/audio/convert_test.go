package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/talkback/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func equalInt16(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMonoToStereo(t *testing.T) {
	got := bytesToSamples(audio.MonoToStereo(samplesToBytes([]int16{100, 200, 300})))
	equalInt16(t, got, []int16{100, 100, 200, 200, 300, 300})
}

func TestMonoToStereo_OddLengthInput(t *testing.T) {
	// 5 bytes = 2 complete samples + 1 trailing byte.
	stereo := audio.MonoToStereo([]byte{0x64, 0x00, 0xC8, 0x00, 0xFF})
	if len(stereo) != 8 {
		t.Fatalf("expected 8 bytes for 2 complete mono samples, got %d", len(stereo))
	}
	equalInt16(t, bytesToSamples(stereo), []int16{100, 100, 200, 200})
}

func TestStereoToMono(t *testing.T) {
	got := bytesToSamples(audio.StereoToMono(samplesToBytes([]int16{100, 200, -100, -200})))
	equalInt16(t, got, []int16{150, -150})
}

func TestStereoToMono_Clamping(t *testing.T) {
	got := bytesToSamples(audio.StereoToMono(samplesToBytes([]int16{32767, 32767})))
	equalInt16(t, got, []int16{32767})
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	if out := audio.ResampleMono16(pcm, 24000, 24000); len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	// 2 samples at 16kHz → 6 samples at 48kHz (3x)
	got := bytesToSamples(audio.ResampleMono16(samplesToBytes([]int16{1000, 2000}), 16000, 48000))
	if len(got) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	if last := got[len(got)-1]; last < 1800 || last > 2200 {
		t.Errorf("last sample: got %d, want close to 2000", last)
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	got := bytesToSamples(audio.ResampleMono16(samplesToBytes([]int16{100, 200, 300, 400, 500, 600}), 48000, 16000))
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
}

func TestResampleStereo16(t *testing.T) {
	got := bytesToSamples(audio.ResampleStereo16(samplesToBytes([]int16{100, 200, 300, 400}), 16000, 48000))
	if len(got) != 12 {
		t.Fatalf("expected 12 samples, got %d", len(got))
	}
	// Channels must stay separated: left samples stay near 100..300.
	if got[0] != 100 || got[1] != 200 {
		t.Errorf("first frame: got L=%d R=%d, want L=100 R=200", got[0], got[1])
	}
}

func TestResample16_InvalidRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200})
	for _, rates := range [][2]int{{0, 48000}, {48000, 0}, {-1, 48000}} {
		if out := audio.ResampleMono16(pcm, rates[0], rates[1]); len(out) != len(pcm) {
			t.Errorf("rates %v: expected unchanged output, got len %d", rates, len(out))
		}
	}
}

func TestFormatConverter_NoOp(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 24000, Channels: 1}}
	frame := audio.AudioFrame{Data: samplesToBytes([]int16{100, 200}), SampleRate: 24000, Channels: 1}
	result := conv.Convert(frame)
	if &result.Data[0] != &frame.Data[0] {
		t.Error("expected same slice for matching format")
	}
}

func TestFormatConverter_SpeechToDevice(t *testing.T) {
	// 24 kHz mono speech → 48 kHz stereo device.
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 2}}
	result := conv.Convert(audio.AudioFrame{
		Data:       samplesToBytes([]int16{1000, 2000, 3000}),
		SampleRate: 24000,
		Channels:   1,
	})
	if result.SampleRate != 48000 || result.Channels != 2 {
		t.Fatalf("unexpected format: %dHz %dch", result.SampleRate, result.Channels)
	}
	got := bytesToSamples(result.Data)
	if len(got) != 12 {
		t.Fatalf("expected 12 samples, got %d", len(got))
	}
	for i := 0; i < len(got); i += 2 {
		if got[i] != got[i+1] {
			t.Errorf("frame %d: L=%d R=%d, want equal", i/2, got[i], got[i+1])
		}
	}
}

func TestFormatConverter_OddByteCount(t *testing.T) {
	conv := audio.FormatConverter{Target: audio.Format{SampleRate: 48000, Channels: 1}}
	result := conv.Convert(audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 48000, Channels: 1})
	if len(result.Data) != 0 {
		t.Errorf("expected empty data for odd byte count, got %d bytes", len(result.Data))
	}
	if result.SampleRate != 48000 || result.Channels != 1 {
		t.Errorf("dropped clip should carry target format, got %dHz %dch", result.SampleRate, result.Channels)
	}
}

func TestFloatConversions(t *testing.T) {
	pcm := samplesToBytes([]int16{0, 16384, -32768})
	f := audio.BytesToFloat32(nil, pcm)
	want := []float32{0, 0.5, -1}
	for i := range want {
		if f[i] != want[i] {
			t.Errorf("BytesToFloat32[%d] = %v, want %v", i, f[i], want[i])
		}
	}

	back := audio.Float32ToInt16(nil, []float32{0, 0.5, -1, 1.5, -2})
	equalInt16(t, back, []int16{0, 16384, -32767, 32767, -32768})

	again := audio.Int16ToFloat32(nil, []int16{16384})
	if again[0] != 0.5 {
		t.Errorf("Int16ToFloat32 = %v, want 0.5", again[0])
	}
}

func TestDownmixFloat32(t *testing.T) {
	got := audio.DownmixFloat32([]float32{0.2, 0.4, -1, 1, 0.5, 0.5}, 2)
	want := []float32{0.3, 0, 0.5}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}

	mono := []float32{0.1, 0.2}
	if out := audio.DownmixFloat32(mono, 1); &out[0] != &mono[0] {
		t.Error("mono input should be returned unchanged")
	}
}

func TestAudioFrameDuration(t *testing.T) {
	f := audio.AudioFrame{Data: make([]byte, 48000), SampleRate: 24000, Channels: 1}
	if d := f.Duration(); d.Milliseconds() != 1000 {
		t.Errorf("Duration = %v, want 1s", d)
	}
	if d := (audio.AudioFrame{}).Duration(); d != 0 {
		t.Errorf("zero frame Duration = %v, want 0", d)
	}
}
