package oggopus_test

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/audio/energy"
	"github.com/MrWong99/talkback/pkg/audio/oggopus"
)

func tone(n, rate int, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return out
}

func record(t *testing.T, f audio.Format, blocks ...[]float32) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := oggopus.NewWriter(&buf, f)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, b := range blocks {
		if err := w.Write(b); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	return buf.Bytes()
}

func TestWriterDecode_PreservesLengthAndLevel(t *testing.T) {
	f := audio.Format{SampleRate: 48000, Channels: 1}
	in := tone(48000, 48000, 0.5)

	// Odd block sizes exercise the pending buffer.
	data := record(t, f, in[:1000], in[1000:30001], in[30001:])
	if !bytes.HasPrefix(data, []byte("OggS")) {
		t.Fatal("stream does not start with an Ogg page")
	}

	dec, err := oggopus.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.Format != f {
		t.Errorf("Format = %v, want %v", dec.Format, f)
	}
	if d := len(dec.Samples) - len(in); d < -1 || d > 1 {
		t.Errorf("decoded %d samples, want %d", len(dec.Samples), len(in))
	}
	if d := dec.Duration() - time.Second; d < -time.Millisecond || d > time.Millisecond {
		t.Errorf("Duration = %v, want 1s", dec.Duration())
	}

	want := energy.AverageMagnitude(in)
	got := energy.AverageMagnitude(dec.Samples)
	if math.Abs(got-want)/want > 0.2 {
		t.Errorf("average magnitude %.4f, want within 20%% of %.4f", got, want)
	}
}

func TestWriterDecode_Stereo16k(t *testing.T) {
	f := audio.Format{SampleRate: 16000, Channels: 2}
	mono := tone(8000, 16000, 0.3)
	stereo := make([]float32, 0, 2*len(mono))
	for _, s := range mono {
		stereo = append(stereo, s, s)
	}

	dec, err := oggopus.Decode(record(t, f, stereo))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if dec.Format != f {
		t.Fatalf("Format = %v, want %v", dec.Format, f)
	}
	if got := len(dec.Mono()); got < len(mono)-1 || got > len(mono)+1 {
		t.Errorf("mono length = %d, want %d", got, len(mono))
	}
}

func TestWriterDuration(t *testing.T) {
	var buf bytes.Buffer
	w, err := oggopus.NewWriter(&buf, audio.Format{SampleRate: 48000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	_ = w.Write(make([]float32, 24000))
	if w.Duration() != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", w.Duration())
	}
}

func TestDecode_EmptyRecording(t *testing.T) {
	dec, err := oggopus.Decode(record(t, audio.Format{SampleRate: 48000, Channels: 1}))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(dec.Samples) > 1 {
		t.Errorf("decoded %d samples from an empty recording", len(dec.Samples))
	}
}

func TestDecode_Corrupt(t *testing.T) {
	data := record(t, audio.Format{SampleRate: 48000, Channels: 1}, tone(4800, 48000, 0.4))

	flipped := append([]byte(nil), data...)
	flipped[len(flipped)-1] ^= 0xFF

	tests := map[string][]byte{
		"checksum":  flipped,
		"truncated": data[:len(data)-3],
		"garbage":   []byte("RIFF....WAVEfmt "),
		"empty":     nil,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := oggopus.Decode(in); !errors.Is(err, oggopus.ErrCorrupt) {
				t.Errorf("err = %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestNewWriter_UnsupportedFormat(t *testing.T) {
	for _, f := range []audio.Format{{SampleRate: 44100, Channels: 1}, {SampleRate: 48000, Channels: 3}} {
		if _, err := oggopus.NewWriter(&bytes.Buffer{}, f); !errors.Is(err, oggopus.ErrUnsupportedFormat) {
			t.Errorf("%v: err = %v, want ErrUnsupportedFormat", f, err)
		}
	}
}

// closeRecorder notes whether Close reached the destination.
type closeRecorder struct {
	bytes.Buffer
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestWriter_LeavesDestinationOpen(t *testing.T) {
	var dst closeRecorder
	w, err := oggopus.NewWriter(&dst, audio.Format{SampleRate: 48000, Channels: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(tone(4800, 48000, 0.4)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if dst.closed {
		t.Error("Close closed the destination writer")
	}
}

func TestWriter_PageLayout(t *testing.T) {
	const rate = 16000
	data := record(t, audio.Format{SampleRate: rate, Channels: 1}, tone(rate/2, rate, 0.4))

	r, head, err := oggreader.NewWith(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("oggreader: %v", err)
	}
	if head.Channels != 1 || head.SampleRate != rate {
		t.Errorf("OpusHead = %+v", head)
	}

	var (
		pages int
		last  uint64
	)
	for {
		_, page, err := r.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("page %d: %v", pages, err)
		}
		pages++
		last = page.GranulePosition
	}
	// 500 ms of audio plus lead-in on the 48 kHz granule clock.
	want := uint64(head.PreSkip) + 24000
	if last+1 < want || last > want+1 {
		t.Errorf("last granule = %d, want %d", last, want)
	}
	// OpusTags plus at least 25 packets of 20 ms.
	if pages < 26 {
		t.Errorf("pages = %d, want at least 26", pages)
	}
}
