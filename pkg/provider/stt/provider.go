// Package stt defines the speech-to-text abstractions used by the recognition
// adapter.
//
// Two shapes of backend exist. A streaming [Provider] opens a [SessionHandle]
// that accepts raw PCM while the user speaks and emits transcripts as the
// service commits to them. A [Transcriber] takes a finished, compressed
// [audio.Segment] and returns its text in one request.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/talkback/pkg/audio"
)

// ErrSessionClosed is returned by SendAudio after Close.
var ErrSessionClosed = errors.New("stt: session closed")

// Transcript is one result from a streaming session. Interim and committed
// results share the type; IsFinal tells them apart.
type Transcript struct {
	Text    string
	IsFinal bool

	// Confidence is in [0, 1]; zero when the backend does not report it.
	Confidence float64

	// Duration is the audio span the result covers.
	Duration time.Duration

	// Words carries word timings for backends that return them.
	Words []Word
}

// Word is a single recognized word with offsets from the session start.
type Word struct {
	Text       string
	Start, End time.Duration
	Confidence float64
}

// StreamConfig describes the audio format and recognition hints for a new
// streaming session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz.
	SampleRate int

	// Channels is the number of interleaved channels in SendAudio chunks.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "ja-JP").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Interim requests low-latency partial transcripts on Partials. When false
	// only finals are produced and Partials stays silent until it is closed.
	Interim bool
}

// SessionHandle represents an open streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of signed 16-bit little-endian PCM matching
	// the StreamConfig. Calling SendAudio after Close returns ErrSessionClosed.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Closed when the session ends.
	Partials() <-chan Transcript

	// Finals emits committed transcripts. Closed when the session ends,
	// including when the connection fails.
	Finals() <-chan Transcript

	// Close flushes pending audio and releases the connection. After Close
	// returns, Partials and Finals are closed. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a new session. The caller owns the returned handle
	// and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

// Transcriber converts a complete recorded segment into text.
type Transcriber interface {
	// Transcribe returns the transcript of seg. language is an ISO 639-1 code
	// ("ja") or empty for auto-detection. An utterance with no recognizable
	// speech yields "" and a nil error.
	Transcribe(ctx context.Context, seg *audio.Segment, language string) (string, error)
}

// TranscriberFunc adapts a function to [Transcriber].
type TranscriberFunc func(ctx context.Context, seg *audio.Segment, language string) (string, error)

// Transcribe implements [Transcriber].
func (f TranscriberFunc) Transcribe(ctx context.Context, seg *audio.Segment, language string) (string, error) {
	return f(ctx, seg, language)
}
