// Package recognize turns the user's next utterance into text.
//
// Two [Recognizer] variants exist. [Streaming] feeds live PCM to a streaming
// speech-to-text session and waits for its first final transcript.
// [Transcribe] records a whole utterance with the capture recorder and sends
// the compressed segment to a transcription backend. [Select] picks one per
// conversation session.
//
// Both variants treat recognition problems as "nothing was said": they log
// the cause and return an empty string, so the conversation simply listens
// again. Only a failure to capture audio, or cancellation, is returned as an
// error.
package recognize

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/talkback/internal/capture"
	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/stt"
)

// ErrRecognition classifies backend failures. It is logged and counted but
// never returned from Listen.
var ErrRecognition = errors.New("recognize: recognition failed")

// Recognizer listens for one utterance.
type Recognizer interface {
	// Listen captures the next utterance and returns its transcript, or ""
	// when nothing usable was heard. A transcript equal to lastSpoken is the
	// assistant hearing itself and is also reported as "".
	Listen(ctx context.Context, lastSpoken string) (string, error)

	// Name identifies the variant in logs and metrics.
	Name() string
}

// Options selects and configures a Recognizer.
type Options struct {
	// Provider is the streaming backend. Nil forces [Transcribe].
	Provider stt.Provider

	// Transcriber is the record-then-transcribe backend.
	Transcriber stt.Transcriber

	// Microphone is the input device.
	Microphone audio.Microphone

	// Recorder captures segments for [Transcribe]. Nil builds one from
	// Microphone with default settings.
	Recorder *capture.Recorder

	// ForceRecord selects [Transcribe] even when Provider is set.
	ForceRecord bool

	// Language is the conversation language as a short code or BCP-47 tag.
	Language string

	// StreamingOptions and TranscribeOptions are passed to the chosen
	// variant's constructor.
	StreamingOptions  []StreamingOption
	TranscribeOptions []TranscribeOption
}

// Select returns [Streaming] when a streaming provider is configured and
// record mode is not forced, [Transcribe] otherwise.
func Select(o Options) (Recognizer, error) {
	if o.Provider != nil && !o.ForceRecord {
		if o.Microphone == nil {
			return nil, errors.New("recognize: streaming needs a microphone")
		}
		return NewStreaming(o.Microphone, o.Provider, o.Language, o.StreamingOptions...), nil
	}
	if o.Transcriber == nil {
		return nil, errors.New("recognize: no transcriber configured")
	}
	rec := o.Recorder
	if rec == nil {
		if o.Microphone == nil {
			return nil, errors.New("recognize: recording needs a microphone or recorder")
		}
		rec = capture.New(o.Microphone)
	}
	return NewTranscribe(rec, o.Transcriber, o.Language, o.TranscribeOptions...), nil
}

// isEcho reports whether text repeats what the assistant just said.
func isEcho(text, lastSpoken string) bool {
	return lastSpoken != "" && text == lastSpoken
}

// clean trims text and applies the echo check.
func clean(text, lastSpoken string) (string, string) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
		return "", statusEmpty
	case isEcho(text, lastSpoken):
		return "", statusEcho
	}
	return text, statusOK
}

// Utterance statuses recorded on the utterances counter.
const (
	statusOK       = "ok"
	statusEmpty    = "empty"
	statusEcho     = "echo"
	statusDenied   = "denylisted"
	statusTooSmall = "too_small"
	statusTimeout  = "timeout"
	statusError    = "error"
)
