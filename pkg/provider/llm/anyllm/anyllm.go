// Package anyllm serves the reply model through github.com/mozilla-ai/any-llm-go,
// which puts Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, llama.cpp,
// llamafile and OpenAI behind one completion API.
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-..."))
//	p, err := anyllm.New("ollama", "llama3")
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/talkback/pkg/provider/llm"
)

type backendFunc func(...anyllmlib.Option) (anyllmlib.Provider, error)

// backend adapts a concrete any-llm constructor so a failed construction
// yields a nil interface rather than a typed nil.
func backend[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) backendFunc {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		p, err := fn(opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

var backends = map[string]backendFunc{
	"openai":    backend(anyllmoai.New),
	"anthropic": backend(anthropic.New),
	"gemini":    backend(gemini.New),
	"ollama":    backend(ollama.New),
	"deepseek":  backend(deepseek.New),
	"mistral":   backend(mistral.New),
	"groq":      backend(groq.New),
	"llamacpp":  backend(llamacpp.New),
	"llamafile": backend(llamafile.New),
}

// Names lists the backend names accepted by [New], sorted.
var Names = slices.Sorted(maps.Keys(backends))

// Provider implements [llm.Provider] on top of an any-llm backend.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Provider for the named backend (one of [Names]).
//
// opts are passed to the backend (anyllmlib.WithAPIKey, anyllmlib.WithBaseURL,
// ...). Without an API key the backend reads its usual environment variable.
func New(name, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if name == "" {
		return nil, errors.New("anyllm: backend name must not be empty")
	}
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}
	mk, ok := backends[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", name, strings.Join(Names, ", "))
	}
	b, err := mk(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", name, err)
	}
	return &Provider{backend: b, model: model}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("anyllm: response has no choices")
	}

	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// CountTokens implements [llm.Provider].
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	return params
}

// family matches a model name and carries its context budget. Rules are
// checked in order; the first match wins.
type family struct {
	match  func(model string) bool
	window int
	output int
}

func prefix(p string) func(string) bool {
	return func(m string) bool { return strings.HasPrefix(m, p) }
}

func contains(subs ...string) func(string) bool {
	return func(m string) bool {
		return slices.ContainsFunc(subs, func(s string) bool { return strings.Contains(m, s) })
	}
}

var families = []family{
	{prefix("gpt-4o"), 128_000, 16_384},
	{prefix("gpt-4-turbo"), 128_000, 4_096},
	{prefix("gpt-4"), 8_192, 4_096},
	{prefix("gpt-3.5-turbo"), 16_385, 4_096},
	{contains("claude-3-opus"), 200_000, 4_096},
	{prefix("claude"), 200_000, 8_192},
	{contains("gemini-1.5-pro"), 2_097_152, 8_192},
	{contains("gemini-1.5-flash", "gemini-2.0-flash"), 1_048_576, 8_192},
	{prefix("gemini"), 128_000, 8_192},
	{contains("llama3", "llama-3"), 8_192, 4_096},
}

// modelCapabilities looks model up in families. Unknown models get a
// conservative 128k/4k budget.
func modelCapabilities(model string) llm.ModelCapabilities {
	lower := strings.ToLower(model)
	for _, f := range families {
		if f.match(lower) {
			return llm.ModelCapabilities{ContextWindow: f.window, MaxOutputTokens: f.output}
		}
	}
	return llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}
}

var _ llm.Provider = (*Provider)(nil)
