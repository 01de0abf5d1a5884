package resilience

import (
	"context"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/llm"
	"github.com/MrWong99/talkback/pkg/provider/stt"
	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// Transcriber fails over between [stt.Transcriber] backends.
type Transcriber struct {
	*Group[stt.Transcriber]
}

// NewTranscriber returns a Transcriber preferring primary.
func NewTranscriber(name string, primary stt.Transcriber, cfg BreakerConfig) *Transcriber {
	return &Transcriber{NewGroup(name, primary, cfg)}
}

// Transcribe implements [stt.Transcriber].
func (t *Transcriber) Transcribe(ctx context.Context, seg *audio.Segment, language string) (string, error) {
	return Do(ctx, t.Group, func(ctx context.Context, b stt.Transcriber) (string, error) {
		return b.Transcribe(ctx, seg, language)
	})
}

// Streamer fails over between streaming [stt.Provider] backends. Only
// opening the session is covered; a session that breaks later stays broken.
type Streamer struct {
	*Group[stt.Provider]
}

// NewStreamer returns a Streamer preferring primary.
func NewStreamer(name string, primary stt.Provider, cfg BreakerConfig) *Streamer {
	return &Streamer{NewGroup(name, primary, cfg)}
}

// StartStream implements [stt.Provider].
func (s *Streamer) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Do(ctx, s.Group, func(ctx context.Context, p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// Synthesizer fails over between [tts.Provider] backends. Voices are
// provider specific, so a fallback receives the voice meant for the primary
// only when it has no default of its own.
type Synthesizer struct {
	*Group[tts.Provider]
	language string
}

// NewSynthesizer returns a Synthesizer preferring primary. language picks
// fallback voices through [tts.VoiceChooser].
func NewSynthesizer(name string, primary tts.Provider, language string, cfg BreakerConfig) *Synthesizer {
	return &Synthesizer{Group: NewGroup(name, primary, cfg), language: language}
}

// Synthesize implements [tts.Provider].
func (s *Synthesizer) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*audio.AudioFrame, error) {
	primary := s.Primary()
	return Do(ctx, s.Group, func(ctx context.Context, p tts.Provider) (*audio.AudioFrame, error) {
		v := voice
		if p != primary {
			if vc, ok := p.(tts.VoiceChooser); ok {
				v = vc.DefaultVoice(s.language)
			}
		}
		return p.Synthesize(ctx, text, v)
	})
}

// ListVoices implements [tts.Provider] with the first healthy backend.
func (s *Synthesizer) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return Do(ctx, s.Group, func(ctx context.Context, p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// DefaultVoice implements [tts.VoiceChooser] for the primary backend.
func (s *Synthesizer) DefaultVoice(language string) tts.VoiceProfile {
	if vc, ok := s.Primary().(tts.VoiceChooser); ok {
		return vc.DefaultVoice(language)
	}
	return tts.VoiceProfile{}
}

// Completer fails over between [llm.Provider] backends.
type Completer struct {
	*Group[llm.Provider]
}

// NewCompleter returns a Completer preferring primary.
func NewCompleter(name string, primary llm.Provider, cfg BreakerConfig) *Completer {
	return &Completer{NewGroup(name, primary, cfg)}
}

// Complete implements [llm.Provider].
func (c *Completer) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Do(ctx, c.Group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens implements [llm.Provider] with the primary's counter.
func (c *Completer) CountTokens(messages []llm.Message) (int, error) {
	return c.Primary().CountTokens(messages)
}

// Capabilities reports the primary's limits. History is trimmed to these,
// so fallbacks should offer at least the same context window.
func (c *Completer) Capabilities() llm.ModelCapabilities {
	return c.Primary().Capabilities()
}

var (
	_ stt.Transcriber  = (*Transcriber)(nil)
	_ stt.Provider     = (*Streamer)(nil)
	_ tts.Provider     = (*Synthesizer)(nil)
	_ tts.VoiceChooser = (*Synthesizer)(nil)
	_ llm.Provider     = (*Completer)(nil)
)
