package anyllm

import (
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/talkback/pkg/provider/llm"
)

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "claude-3-5-haiku-latest"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are helpful.",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "Hello!"},
			{Role: llm.RoleAssistant, Content: "Hi there!"},
		},
		Temperature: 0.7,
		MaxTokens:   200,
	})

	if params.Model != "claude-3-5-haiku-latest" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].ContentString() != "You are helpful." {
		t.Errorf("system message = %+v", params.Messages[0])
	}
	if params.Messages[2].Role != "assistant" || params.Messages[2].ContentString() != "Hi there!" {
		t.Errorf("assistant message = %+v", params.Messages[2])
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 200 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}
}

func TestBuildParams_Defaults(t *testing.T) {
	p := &Provider{model: "llama3"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}},
	})
	if len(params.Messages) != 1 {
		t.Errorf("expected no system message, got %d messages", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("expected unset temperature and max tokens")
	}
}

// ── modelCapabilities ─────────────────────────────────────────────────────────

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model     string
		window    int
		maxOutput int
	}{
		{"gpt-4o-mini", 128_000, 16_384},
		{"gpt-4", 8_192, 4_096},
		{"claude-3-5-sonnet-latest", 200_000, 8_192},
		{"claude-3-opus-20240229", 200_000, 4_096},
		{"Gemini-1.5-Pro", 2_097_152, 8_192},
		{"gemini-2.0-flash", 1_048_576, 8_192},
		{"llama3", 8_192, 4_096},
		{"unknown-model", 128_000, 4_096},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			caps := modelCapabilities(tt.model)
			if caps.ContextWindow != tt.window || caps.MaxOutputTokens != tt.maxOutput {
				t.Errorf("got %+v", caps)
			}
		})
	}
}

// ── New ───────────────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "model"); err == nil {
		t.Error("expected error for empty provider name")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		name  string
		model string
		opts  []anyllmlib.Option
	}{
		{"openai", "gpt-4o", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-test")}},
		{"anthropic", "claude-3-5-sonnet-latest", []anyllmlib.Option{anyllmlib.WithAPIKey("sk-ant-test")}},
		{"ollama", "llama3", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.name, tt.model, tt.opts...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.model != tt.model {
				t.Errorf("model = %q", p.model)
			}
			if p.Capabilities().ContextWindow == 0 {
				t.Error("expected non-zero context window")
			}
		})
	}
}

func TestNames(t *testing.T) {
	if !slices.IsSorted(Names) {
		t.Errorf("Names not sorted: %v", Names)
	}
	for _, want := range []string{"anthropic", "ollama", "openai", "llamafile"} {
		if !slices.Contains(Names, want) {
			t.Errorf("Names missing %q", want)
		}
	}
	if len(Names) != len(backends) {
		t.Errorf("len(Names) = %d, want %d", len(Names), len(backends))
	}
}
