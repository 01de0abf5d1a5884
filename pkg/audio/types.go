package audio

import "time"

// AudioFrame is a block of interleaved little-endian int16 PCM.
// Synthesized replies travel through the loop as AudioFrames and are handed
// to a [Speaker] as a single clip.
type AudioFrame struct {
	// PCM audio data.
	Data []byte

	// SampleRate in Hz (e.g., 24000 for OpenAI speech, 48000 for capture).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / 2 / f.Channels
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// ContentTypeOggOpus is the MIME type of segments produced by the capture
// recorder.
const ContentTypeOggOpus = "audio/ogg; codecs=opus"

// Segment is one captured utterance as a compressed blob. A nil *Segment
// means nothing worth keeping was recorded.
type Segment struct {
	// Data is the encoded container (Ogg/Opus).
	Data []byte

	// Size is len(Data) at the time the recorder finished.
	Size int

	// Duration is the decode-estimated length of the audio. Zero if unknown.
	Duration time.Duration

	// Format is the format the audio was captured in.
	Format Format

	// ContentType is the MIME type of Data.
	ContentType string
}
