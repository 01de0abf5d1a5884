// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (OpenAI speech, ElevenLabs)
// and turns one reply into one playable clip. The conversation loop plays a
// reply as a single unit, so there is no fragment streaming at this layer;
// backends that stream internally collect the audio before returning.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/talkback/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with voice and returns the whole clip as
	// little-endian int16 PCM. Text longer than the backend accepts is
	// truncated rather than rejected.
	//
	// Returns an error if the service cannot be reached, rejects the request
	// or ctx is cancelled before the audio arrived.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (*audio.AudioFrame, error)

	// ListVoices returns the voice profiles available from this provider.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}

// VoiceChooser is implemented by providers that know a sensible voice for a
// language. It is consulted when no voice is configured.
type VoiceChooser interface {
	// DefaultVoice returns the voice to use for a BCP-47 language tag.
	DefaultVoice(language string) VoiceProfile
}
