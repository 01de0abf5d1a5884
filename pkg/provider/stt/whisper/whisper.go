// Package whisper provides whisper.cpp-backed transcribers.
//
// [Transcriber] talks to a running whisper-server binary, which exposes a REST
// API at POST /inference. [NativeTranscriber] runs the model in-process
// through the whisper.cpp CGO bindings. Both accept the Ogg/Opus segments
// produced by the capture recorder, decode them and condition the audio to
// 16 kHz mono at a −1 dBFS peak before inference.
//
// Usage:
//
//	t, err := whisper.New("http://localhost:8080", whisper.WithModel("small"))
//	text, err := t.Transcribe(ctx, seg, "ja")
package whisper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/audio/condition"
	"github.com/MrWong99/talkback/pkg/provider/stt"
)

// Compile-time assertion that Transcriber implements stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base", "small"). When empty the server uses whichever model it
// was started with. This is the default.
func WithModel(model string) Option {
	return func(t *Transcriber) {
		t.model = model
	}
}

// WithHTTPClient replaces the HTTP client. The default has a 30 s timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) {
		if c != nil {
			t.httpClient = c
		}
	}
}

// WithConditioner replaces the audio conditioner. The default targets
// 16 kHz and −1 dBFS.
func WithConditioner(c *condition.Conditioner) Option {
	return func(t *Transcriber) {
		if c != nil {
			t.cond = c
		}
	}
}

// Transcriber implements stt.Transcriber backed by a whisper.cpp HTTP server.
// It is safe for concurrent use.
type Transcriber struct {
	serverURL  string
	model      string
	httpClient *http.Client
	cond       *condition.Conditioner
}

// New creates a Transcriber that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Transcriber, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	t := &Transcriber{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cond:       condition.New(),
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe implements stt.Transcriber. A segment that decodes to no audio
// is answered with "" without contacting the server.
func (t *Transcriber) Transcribe(ctx context.Context, seg *audio.Segment, language string) (string, error) {
	samples, err := t.cond.Segment(seg)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	if len(samples) == 0 {
		return "", nil
	}
	text, err := t.infer(ctx, encodeWAV(samples, t.cond.TargetRate()), language)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// infer POSTs a WAV file to the whisper.cpp /inference endpoint as
// multipart/form-data and returns the transcribed text.
func (t *Transcriber) infer(ctx context.Context, wav []byte, language string) (string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeForm(mw, wav, language, t.model))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.serverURL+"/inference", pr)
	if err != nil {
		pr.Close()
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("whisper: parse JSON response: %w", err)
	}
	return result.Text, nil
}

func writeForm(mw *multipart.Writer, wav []byte, language, model string) error {
	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return fmt.Errorf("whisper: write wav data: %w", err)
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return err
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if model != "" {
		if err := mw.WriteField("model", model); err != nil {
			return fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	return mw.Close()
}
