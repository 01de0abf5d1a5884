// Package openai provides a tts.Provider backed by the OpenAI speech API.
//
// Audio is requested as raw PCM, which the API delivers as 24 kHz mono
// signed 16-bit little-endian samples.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/tts"
)

const (
	// SampleRate is the rate of PCM returned by the speech endpoint.
	SampleRate = 24000

	// MaxInput is the longest input the speech endpoint accepts.
	MaxInput = 4096

	// DefaultModel is used when New is given an empty model.
	DefaultModel = oai.SpeechModelTTS1

	defaultVoice = "alloy"
)

// voices lists the built-in speech voices.
var voices = []string{
	"alloy", "ash", "ballad", "coral", "echo", "fable",
	"nova", "onyx", "sage", "shimmer", "verse",
}

// languageVoices picks a default voice per BCP-47 tag.
var languageVoices = map[string]string{
	"ja-JP": "nova",
	"en-US": "alloy",
	"ko-KR": "shimmer",
	"zh-CN": "coral",
	"zh-TW": "coral",
	"es-ES": "fable",
}

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client       oai.Client
	model        string
	instructions string
}

type config struct {
	baseURL      string
	timeout      time.Duration
	instructions string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithInstructions sets speaking-style instructions. Ignored by tts-1 and
// tts-1-hd.
func WithInstructions(s string) Option {
	return func(c *config) {
		c.instructions = s
	}
}

// New constructs a Provider. An empty model selects [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	return &Provider{
		client:       oai.NewClient(reqOpts...),
		model:        model,
		instructions: cfg.instructions,
	}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*audio.AudioFrame, error) {
	if text == "" {
		return nil, errors.New("openai: synthesize: empty text")
	}
	id := voice.ID
	if id == "" {
		id = defaultVoice
	}

	params := oai.AudioSpeechNewParams{
		Input:          tts.Truncate(text, MaxInput),
		Model:          p.model,
		Voice:          oai.AudioSpeechNewParamsVoice(id),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.SpeedFactor > 0 {
		params.Speed = oai.Float(voice.SpeedFactor)
	}
	if p.instructions != "" {
		params.Instructions = oai.String(p.instructions)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: synthesize: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read speech: %w", err)
	}
	// Drop a dangling byte so the clip is whole int16 samples.
	pcm = pcm[:len(pcm)&^1]

	return &audio.AudioFrame{Data: pcm, SampleRate: SampleRate, Channels: 1}, nil
}

// ListVoices returns the fixed set of built-in voices.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	out := make([]tts.VoiceProfile, 0, len(voices))
	for _, v := range voices {
		out = append(out, tts.VoiceProfile{ID: v, Name: v, Provider: "openai"})
	}
	return out, nil
}

// DefaultVoice implements tts.VoiceChooser.
func (p *Provider) DefaultVoice(language string) tts.VoiceProfile {
	id, ok := languageVoices[language]
	if !ok {
		id = defaultVoice
	}
	return tts.VoiceProfile{ID: id, Name: id, Provider: "openai"}
}

var (
	_ tts.Provider     = (*Provider)(nil)
	_ tts.VoiceChooser = (*Provider)(nil)
)
