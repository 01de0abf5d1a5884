// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return a controlled clip and to verify which text and
// VoiceProfile reached the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Frame: &audio.AudioFrame{Data: pcm, SampleRate: 24000, Channels: 1},
//	}
//	clip, _ := p.Synthesize(ctx, "hello", voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the VoiceProfile passed to Synthesize.
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider and tts.VoiceChooser.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Frame is returned by Synthesize. When nil, a 100 ms silent 24 kHz mono
	// clip is returned.
	Frame *audio.AudioFrame

	// SynthesizeErr, if non-nil, is returned by Synthesize.
	SynthesizeErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned by ListVoices.
	ListVoicesErr error

	// Voice is returned by DefaultVoice.
	Voice tts.VoiceProfile

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize.
	SynthesizeCalls []SynthesizeCall

	// DefaultVoiceCalls records the language of every DefaultVoice call.
	DefaultVoiceCalls []string
}

// Synthesize records the call and returns Frame, SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*audio.AudioFrame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: text, Voice: voice})
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Frame != nil {
		f := *p.Frame
		return &f, nil
	}
	return &audio.AudioFrame{Data: make([]byte, 4800), SampleRate: 24000, Channels: 1}, nil
}

// ListVoices returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	return p.ListVoicesResult, nil
}

// DefaultVoice records the call and returns Voice.
func (p *Provider) DefaultVoice(language string) tts.VoiceProfile {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DefaultVoiceCalls = append(p.DefaultVoiceCalls, language)
	return p.Voice
}

// Texts returns the text of every Synthesize call, in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	for i, c := range p.SynthesizeCalls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.DefaultVoiceCalls = nil
}

var (
	_ tts.Provider     = (*Provider)(nil)
	_ tts.VoiceChooser = (*Provider)(nil)
)
