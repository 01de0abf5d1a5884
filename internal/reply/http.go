package reply

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/talkback/pkg/audio"
)

// DefaultAudioRate is assumed for returned audio without a sample_rate.
const DefaultAudioRate = 24000

// HTTP is a [Fetcher] for an external chat service.
//
// Each utterance is sent as
//
//	POST {url}
//	{"message": "...", "language": "ja-JP", "session_id": "...", "history": [{"role": "user", "content": "..."}]}
//
// and the service answers with
//
//	{"text": "...", "audio": "<base64 s16le mono PCM>", "sample_rate": 24000}
//
// where audio and sample_rate are optional.
type HTTP struct {
	url     string
	client  *http.Client
	header  http.Header
	history *History
}

// HTTPOption configures an [HTTP] fetcher.
type HTTPOption func(*HTTP)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(f *HTTP) { f.client = c }
}

// WithTimeout sets a per-request timeout on the default client.
func WithTimeout(d time.Duration) HTTPOption {
	return func(f *HTTP) {
		if d > 0 {
			f.client = &http.Client{Timeout: d}
		}
	}
}

// WithHeader adds a header to every request (for example Authorization).
func WithHeader(key, value string) HTTPOption {
	return func(f *HTTP) { f.header.Add(key, value) }
}

// WithHTTPHistory sets the number of exchanges sent along with each request.
// Zero disables history.
func WithHTTPHistory(turns int) HTTPOption {
	return func(f *HTTP) {
		if turns <= 0 {
			f.history = nil
			return
		}
		f.history = NewHistory(turns)
	}
}

// NewHTTP returns a fetcher posting to url.
func NewHTTP(url string, opts ...HTTPOption) (*HTTP, error) {
	if url == "" {
		return nil, errors.New("reply: url must not be empty")
	}
	f := &HTTP{
		url:     url,
		client:  &http.Client{},
		header:  http.Header{},
		history: NewHistory(DefaultHistoryTurns),
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type httpRequest struct {
	Message   string         `json:"message"`
	Language  string         `json:"language,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	History   []historyEntry `json:"history,omitempty"`
}

type httpResponse struct {
	Text       string `json:"text"`
	Message    string `json:"message"`
	Audio      string `json:"audio"`
	SampleRate int    `json:"sample_rate"`
}

// Send implements [Fetcher].
func (f *HTTP) Send(ctx context.Context, text string, turn Turn) (*Reply, error) {
	body := httpRequest{Message: text, Language: turn.Language, SessionID: turn.SessionID}
	if f.history != nil {
		for _, m := range f.history.Messages() {
			body.History = append(body.History, historyEntry{Role: m.Role, Content: m.Content})
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("reply: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("reply: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, vs := range f.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: post: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: unexpected status %d: %s", ErrNetwork, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out httpResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrNetwork, err)
	}

	// Some services answer with "message" instead of "text".
	answer := strings.TrimSpace(out.Text)
	if answer == "" {
		answer = strings.TrimSpace(out.Message)
	}
	r := &Reply{Text: answer}

	if out.Audio != "" {
		pcm, err := base64.StdEncoding.DecodeString(out.Audio)
		if err != nil {
			return nil, fmt.Errorf("%w: decode audio: %w", ErrNetwork, err)
		}
		rate := out.SampleRate
		if rate <= 0 {
			rate = DefaultAudioRate
		}
		r.Audio = &audio.AudioFrame{Data: pcm[:len(pcm)&^1], SampleRate: rate, Channels: 1}
	}

	if f.history != nil && answer != "" {
		f.history.Add(text, answer)
	}
	return r, nil
}

var _ Fetcher = (*HTTP)(nil)
