package audio_test

import (
	"testing"

	"github.com/MrWong99/talkback/pkg/audio"
)

// recordingSink copies every frame it receives and counts boundaries.
type recordingSink struct {
	frames     [][]int16
	boundaries int
}

func (s *recordingSink) Frame(pcm []int16) {
	s.frames = append(s.frames, append([]int16(nil), pcm...))
}

func (s *recordingSink) Boundary() { s.boundaries++ }

func constBlock(n int, v float32) []float32 {
	b := make([]float32, n)
	for i := range b {
		b[i] = v
	}
	return b
}

func TestFrameEncoder_WorkedExample(t *testing.T) {
	sink := &recordingSink{}
	enc := audio.NewFrameEncoder(sink, audio.WithFrameSamples(4))

	enc.Process(constBlock(4, 0.02))

	if len(sink.frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(sink.frames))
	}
	for i, v := range sink.frames[0] {
		if v != 1966 {
			t.Errorf("sample %d = %d, want 1966", i, v)
		}
	}
	if sink.boundaries != 1 {
		t.Errorf("boundaries = %d, want 1", sink.boundaries)
	}
}

func TestFrameEncoder_Clamps(t *testing.T) {
	sink := &recordingSink{}
	enc := audio.NewFrameEncoder(sink, audio.WithFrameSamples(4))

	enc.Process([]float32{1, -1, 0.5, -0.9})

	equalInt16(t, sink.frames[0], []int16{32767, -32768, 32767, -32768})
}

func TestFrameEncoder_SuppressesShortSilence(t *testing.T) {
	sink := &recordingSink{}
	enc := audio.NewFrameEncoder(sink,
		audio.WithFrameSamples(10),
		audio.WithSilenceBudget(300),
	)

	enc.Process(constBlock(100, 0.1)) // loud: encoded, partial frame
	if enc.Buffered() != 0 || len(sink.frames) != 10 {
		t.Fatalf("loud block: buffered=%d frames=%d", enc.Buffered(), len(sink.frames))
	}
	framesAfterLoud := len(sink.frames)
	boundariesAfterLoud := sink.boundaries

	// Two silent blocks stay under the 300-sample budget.
	enc.Process(constBlock(100, 0.001))
	enc.Process(constBlock(100, 0.001))
	if len(sink.frames) != framesAfterLoud || sink.boundaries != boundariesAfterLoud {
		t.Fatalf("silent blocks under budget must not emit: frames %d→%d boundaries %d→%d",
			framesAfterLoud, len(sink.frames), boundariesAfterLoud, sink.boundaries)
	}
	if enc.Buffered() != 0 {
		t.Fatalf("buffer position advanced during suppression: %d", enc.Buffered())
	}

	// The third silent block crosses the budget and is encoded on the same call.
	enc.Process(constBlock(100, 0.001))
	if len(sink.frames) != framesAfterLoud+10 {
		t.Errorf("frames after budget = %d, want %d", len(sink.frames), framesAfterLoud+10)
	}
	if sink.boundaries != boundariesAfterLoud+1 {
		t.Errorf("boundaries after budget = %d, want %d", sink.boundaries, boundariesAfterLoud+1)
	}

	// Further silence keeps flowing once past the budget.
	enc.Process(constBlock(100, 0.001))
	if sink.boundaries != boundariesAfterLoud+2 {
		t.Errorf("boundaries = %d, want %d", sink.boundaries, boundariesAfterLoud+2)
	}
}

func TestFrameEncoder_LoudResetsSilence(t *testing.T) {
	sink := &recordingSink{}
	enc := audio.NewFrameEncoder(sink, audio.WithFrameSamples(10), audio.WithSilenceBudget(250))

	enc.Process(constBlock(200, 0.001)) // 200 < 250: suppressed
	enc.Process(constBlock(10, 0.5))    // loud: resets counter
	enc.Process(constBlock(200, 0.001)) // suppressed again
	if sink.boundaries != 1 {
		t.Errorf("boundaries = %d, want 1", sink.boundaries)
	}
}

func TestFrameEncoder_FlushesOnlyWhenFull(t *testing.T) {
	sink := &recordingSink{}
	enc := audio.NewFrameEncoder(sink, audio.WithFrameSamples(8))

	enc.Process(constBlock(5, 0.2))
	if len(sink.frames) != 0 {
		t.Fatalf("partial frame was emitted")
	}
	if enc.Buffered() != 5 {
		t.Fatalf("Buffered = %d, want 5", enc.Buffered())
	}
	enc.Process(constBlock(5, 0.2))
	if len(sink.frames) != 1 || enc.Buffered() != 2 {
		t.Fatalf("frames=%d buffered=%d, want 1 and 2", len(sink.frames), enc.Buffered())
	}
	if sink.boundaries != 2 {
		t.Errorf("boundaries = %d, want 2", sink.boundaries)
	}
}

func TestFrameEncoder_EmptyBlock(t *testing.T) {
	sink := &recordingSink{}
	enc := audio.NewFrameEncoder(sink)
	enc.Process(nil)
	if sink.boundaries != 0 || len(sink.frames) != 0 {
		t.Error("empty block must be a no-op")
	}
}

func TestFrameEncoder_DefaultFrameSize(t *testing.T) {
	sink := &recordingSink{}
	enc := audio.NewFrameEncoder(sink)
	enc.Process(constBlock(audio.DefaultFrameSamples, 0.3))
	if len(sink.frames) != 1 || len(sink.frames[0]) != 4800 {
		t.Fatalf("expected one 4800-sample frame, got %d frames", len(sink.frames))
	}
}

func TestFrameEncoder_WithFormat(t *testing.T) {
	tests := []struct {
		name   string
		format audio.Format
		block  int // 10 ms
		resume int // first silent block that is encoded
		frame  int
	}{
		{name: "16 kHz mono", format: audio.Format{SampleRate: 16000, Channels: 1}, block: 160, resume: 60, frame: 1600},
		{name: "48 kHz mono", format: audio.Format{SampleRate: 48000, Channels: 1}, block: 480, resume: 60, frame: 4800},
		{name: "8 kHz stereo", format: audio.Format{SampleRate: 8000, Channels: 2}, block: 160, resume: 60, frame: 1600},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			enc := audio.NewFrameEncoder(sink, audio.WithFormat(tt.format))
			silence := constBlock(tt.block, 0)

			for i := 1; i < tt.resume; i++ {
				enc.Process(silence)
				if sink.boundaries != 0 {
					t.Fatalf("silent block %d was encoded; budget too small", i)
				}
			}
			enc.Process(silence)
			if sink.boundaries != 1 {
				t.Fatalf("block %d: boundaries = %d, want encoding to resume", tt.resume, sink.boundaries)
			}
			for enc.Buffered() != 0 {
				enc.Process(silence)
			}
			if len(sink.frames) != 1 || len(sink.frames[0]) != tt.frame {
				t.Errorf("frames = %d, want one frame of %d samples", len(sink.frames), tt.frame)
			}
		})
	}
}

func TestFrameEncoder_WithFormatThenOverride(t *testing.T) {
	sink := &recordingSink{}
	enc := audio.NewFrameEncoder(sink,
		audio.WithFormat(audio.Format{SampleRate: 16000, Channels: 1}),
		audio.WithSilenceBudget(0),
		audio.WithFrameSamples(4),
	)
	enc.Process(constBlock(4, 0))
	if len(sink.frames) != 1 {
		t.Errorf("frames = %d, want 1", len(sink.frames))
	}
}
