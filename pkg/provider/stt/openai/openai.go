// Package openai provides an stt.Transcriber backed by the OpenAI audio
// transcription API (whisper-1, gpt-4o-transcribe, ...).
//
// Segments are uploaded as they were recorded; the API accepts Ogg/Opus
// directly, so no decoding or conditioning happens locally.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/stt"
)

// DefaultModel is used when New is given an empty model.
const DefaultModel = oai.AudioModelWhisper1

// Transcriber implements stt.Transcriber using the OpenAI API.
type Transcriber struct {
	client oai.Client
	model  string
	prompt string
}

// config holds optional configuration for the transcriber.
type config struct {
	baseURL string
	timeout time.Duration
	prompt  string
}

// Option is a functional option for Transcriber.
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

// WithPrompt sets a style or vocabulary hint sent with every request.
func WithPrompt(p string) Option {
	return func(c *config) {
		c.prompt = p
	}
}

// New constructs a Transcriber. An empty model selects [DefaultModel].
func New(apiKey, model string, opts ...Option) (*Transcriber, error) {
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

	return &Transcriber{
		client: oai.NewClient(reqOpts...),
		model:  model,
		prompt: cfg.prompt,
	}, nil
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, seg *audio.Segment, language string) (string, error) {
	if seg == nil || len(seg.Data) == 0 {
		return "", nil
	}

	contentType := seg.ContentType
	if contentType == "" {
		contentType = audio.ContentTypeOggOpus
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(seg.Data), "audio.ogg", contentType),
		Model: t.model,
	}
	if language != "" {
		params.Language = oai.String(language)
	}
	if t.prompt != "" {
		params.Prompt = oai.String(t.prompt)
	}

	res, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
