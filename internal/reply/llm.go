package reply

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/pkg/provider/llm"
)

// LLM is a [Fetcher] that asks a language model directly.
type LLM struct {
	provider     llm.Provider
	name         string
	systemPrompt string
	temperature  float64
	maxTokens    int
	history      *History
	metrics      *observe.Metrics
}

// LLMOption configures an [LLM] fetcher.
type LLMOption func(*LLM)

// WithSystemPrompt sets the instruction sent before the history.
func WithSystemPrompt(p string) LLMOption {
	return func(f *LLM) { f.systemPrompt = p }
}

// WithHistory sets the number of exchanges remembered.
func WithHistory(turns int) LLMOption {
	return func(f *LLM) { f.history = NewHistory(turns) }
}

// WithTemperature sets the sampling temperature. Zero keeps the model default.
func WithTemperature(t float64) LLMOption {
	return func(f *LLM) { f.temperature = t }
}

// WithMaxTokens caps the reply length in tokens.
func WithMaxTokens(n int) LLMOption {
	return func(f *LLM) { f.maxTokens = n }
}

// WithProviderName sets the provider label used in metrics.
func WithProviderName(name string) LLMOption {
	return func(f *LLM) { f.name = name }
}

// WithLLMMetrics overrides the metrics sink.
func WithLLMMetrics(m *observe.Metrics) LLMOption {
	return func(f *LLM) { f.metrics = m }
}

// NewLLM returns a fetcher backed by p.
func NewLLM(p llm.Provider, opts ...LLMOption) *LLM {
	f := &LLM{
		provider: p,
		name:     "llm",
		history:  NewHistory(DefaultHistoryTurns),
	}
	for _, o := range opts {
		o(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	return f
}

// History exposes the rolling conversation history.
func (f *LLM) History() *History { return f.history }

// Send implements [Fetcher]. The exchange is added to the history only when
// the model answered.
func (f *LLM) Send(ctx context.Context, text string, turn Turn) (*Reply, error) {
	msgs := append(f.history.Messages(), llm.Message{Role: llm.RoleUser, Content: text})

	caps := f.provider.Capabilities()
	budget := caps.ContextWindow - caps.MaxOutputTokens
	msgs = fit(msgs, budget, f.provider.CountTokens)

	req := llm.CompletionRequest{
		Messages:     msgs,
		SystemPrompt: f.systemPrompt,
		Temperature:  f.temperature,
		MaxTokens:    f.maxTokens,
	}
	if turn.Language != "" && f.systemPrompt != "" {
		req.SystemPrompt = f.systemPrompt + "\nReply in " + turn.Language + "."
	}

	start := time.Now()
	resp, err := f.provider.Complete(ctx, req)
	f.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", f.name)))
	if err != nil {
		f.metrics.RecordProviderRequest(ctx, f.name, "llm", "error")
		f.metrics.RecordProviderError(ctx, f.name, "llm")
		return nil, fmt.Errorf("%w: complete: %w", ErrNetwork, err)
	}
	f.metrics.RecordProviderRequest(ctx, f.name, "llm", "ok")

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		observe.Logger(ctx).Warn("reply: model returned empty content", "provider", f.name)
		return &Reply{}, nil
	}
	f.history.Add(text, answer)
	observe.Logger(ctx).Debug("reply: answered", "provider", f.name, "tokens", resp.Usage.TotalTokens)
	return &Reply{Text: answer}, nil
}

var _ Fetcher = (*LLM)(nil)
