package config_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/llm"
	llmmock "github.com/MrWong99/talkback/pkg/provider/llm/mock"
	"github.com/MrWong99/talkback/pkg/provider/stt"
	sttmock "github.com/MrWong99/talkback/pkg/provider/stt/mock"
	"github.com/MrWong99/talkback/pkg/provider/tts"
	ttsmock "github.com/MrWong99/talkback/pkg/provider/tts/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":8080"
  log_level: debug

providers:
  stt:
    name: deepgram
    api_key: dg-test
    model: nova-2
  transcriber:
    name: openai
    api_key: sk-test
    model: whisper-1
  tts:
    name: elevenlabs
    api_key: el-test
    options:
      output_format: pcm_16000
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
    fallbacks:
      - name: ollama
        base_url: http://localhost:11434
        model: llama3

audio:
  input_sample_rate: 16000
  input_channels: 1
  output_sample_rate: 16000
  period_ms: 20

call:
  language: zht
  voice: sage-v1
  greeting: "你好"
  silence_gap: 700ms
  gate_multiplier: 1.6
  max_capture: 20s
  filters: false
  denylist: ["thanks for watching"]

reply:
  backend: llm
  system_prompt: "Be brief."
  history: 8
  timeout: 15s
`

func load(t *testing.T, y string) (*config.Config, error) {
	t.Helper()
	return config.LoadFromReader(strings.NewReader(y))
}

const minimalYAML = `
providers:
  transcriber: {name: openai}
  llm: {name: openai}
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := load(t, sampleYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Providers.STT.Name != "deepgram" || cfg.Providers.Transcriber.Model != "whisper-1" {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if fb := cfg.Providers.LLM.Fallbacks; len(fb) != 1 || fb[0].Name != "ollama" || fb[0].Model != "llama3" {
		t.Errorf("llm fallbacks = %+v", fb)
	}
	if got := cfg.Providers.TTS.Options["output_format"]; got != "pcm_16000" {
		t.Errorf("tts options output_format = %v", got)
	}
	if cfg.Audio.InputSampleRate != 16000 || cfg.Audio.PeriodMS != 20 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	c := cfg.Call
	if c.Language != "zht" || c.Voice != "sage-v1" || c.Greeting != "你好" {
		t.Errorf("call = %+v", c)
	}
	if c.SilenceGap != 700*time.Millisecond || c.MaxCapture != 20*time.Second {
		t.Errorf("durations: silence_gap %s, max_capture %s", c.SilenceGap, c.MaxCapture)
	}
	if c.FiltersEnabled() {
		t.Error("filters: got enabled, want disabled")
	}
	if !slices.Equal(c.Denylist, []string{"thanks for watching"}) {
		t.Errorf("denylist = %q", c.Denylist)
	}
	if cfg.Reply.History != 8 || cfg.Reply.Timeout != 15*time.Second {
		t.Errorf("reply = %+v", cfg.Reply)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	cfg, err := load(t, minimalYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checks := []struct {
		name      string
		got, want any
	}{
		{"listen_addr", cfg.Server.ListenAddr, config.DefaultListenAddr},
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"input_sample_rate", cfg.Audio.InputSampleRate, 48000},
		{"output_sample_rate", cfg.Audio.OutputSampleRate, 24000},
		{"language", cfg.Call.Language, "ja"},
		{"silence_gap", cfg.Call.SilenceGap, 500 * time.Millisecond},
		{"gate_multiplier", cfg.Call.GateMultiplier, 1.4},
		{"warmup", cfg.Call.Warmup, 800 * time.Millisecond},
		{"target_sample_rate", cfg.Call.TargetSampleRate, 16000},
		{"peak_ceiling_db", cfg.Call.PeakCeiling(), -1.0},
		{"min_segment_bytes", cfg.Call.MinSegmentBytes, 4000},
		{"no_speech_timeout", cfg.Call.NoSpeechTimeout, 10 * time.Second},
		{"settle_delay", cfg.Call.SettleDelay, 200 * time.Millisecond},
		{"filters", cfg.Call.FiltersEnabled(), true},
		{"backend", cfg.Reply.Backend, config.ReplyLLM},
		{"history", cfg.Reply.History, 20},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
	if cfg.Call.Denylist != nil {
		t.Errorf("denylist: got %q, want nil", cfg.Call.Denylist)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := load(t, minimalYAML+"\nspeakers: []\n")
	if err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestLoadFromReader_EmptyNeedsProviders(t *testing.T) {
	_, err := load(t, "")
	if err == nil {
		t.Fatal("expected error for empty config")
	}
	for _, want := range []string{"providers.transcriber", "providers.llm"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"invalid log level", minimalYAML + "server: {log_level: bananas}", "server.log_level"},
		{"unsupported input rate", minimalYAML + "audio: {input_sample_rate: 44100}", "audio.input_sample_rate"},
		{"too many channels", minimalYAML + "audio: {input_channels: 6}", "audio.input_channels"},
		{"positive ceiling", minimalYAML + "call: {peak_ceiling_db: 3}", "call.peak_ceiling_db"},
		{"negative gate level", minimalYAML + "call: {gate_level: -2}", "call.gate_level"},
		{"gap longer than capture", minimalYAML + "call: {silence_gap: 40s}", "call.silence_gap"},
		{"negative settle delay", minimalYAML + "call: {settle_delay: -1s}", "call.settle_delay"},
		{"invalid backend", minimalYAML + "reply: {backend: carrier-pigeon}", "reply.backend"},
		{"http without url", minimalYAML + "reply: {backend: http}", "reply.url"},
		{"unnamed fallback", `
providers:
  transcriber: {name: openai, fallbacks: [{model: base}]}
  llm: {name: openai}
`, "providers.transcriber.fallbacks[0].name"},
		{"fallbacks without primary", `
providers:
  transcriber: {name: openai}
  llm: {name: openai}
  tts: {fallbacks: [{name: openai}]}
`, "providers.tts has fallbacks"},
		{"force record without transcriber", `
providers:
  stt: {name: deepgram}
  llm: {name: openai}
call: {force_record: true}
`, "providers.transcriber"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.yaml)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_Accepts(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"streaming only", `
providers:
  stt: {name: deepgram}
  llm: {name: openai}
`},
		{"http backend", `
providers:
  transcriber: {name: whisper, base_url: "http://localhost:8080"}
reply: {backend: http, url: "http://localhost:5000/chat"}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := load(t, tt.yaml); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadFromReader_PeakCeiling(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want float64
	}{
		{"unset", minimalYAML, config.DefaultPeakCeilingDB},
		{"full scale", minimalYAML + "call: {peak_ceiling_db: 0}", 0},
		{"explicit", minimalYAML + "call: {peak_ceiling_db: -3.5}", -3.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := load(t, tt.yaml)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got := cfg.Call.PeakCeiling(); got != tt.want {
				t.Errorf("PeakCeiling = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	_, err := load(t, minimalYAML+`
server: {log_level: loud}
audio: {input_channels: 3}
reply: {history: -1}
`)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"server.log_level", "audio.input_channels", "reply.history"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	for _, kind := range []string{"stt", "transcriber", "tts", "llm"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("no known names for %s", kind)
		}
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nonexistent"}
	errs := map[string]error{}
	_, errs["stt"] = reg.CreateSTT(entry)
	_, errs["transcriber"] = reg.CreateTranscriber(entry)
	_, errs["tts"] = reg.CreateTTS(entry)
	_, errs["llm"] = reg.CreateLLM(entry)
	for kind, err := range errs {
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("%s: err = %v, want ErrProviderNotRegistered", kind, err)
		}
		if err != nil && !strings.Contains(err.Error(), kind+"/") {
			t.Errorf("%s: error %q does not name the kind", kind, err)
		}
	}
}

func TestRegistry_Registered(t *testing.T) {
	reg := config.NewRegistry()
	var seen []config.ProviderEntry
	reg.RegisterSTT("mock", func(e config.ProviderEntry) (stt.Provider, error) {
		seen = append(seen, e)
		return &sttmock.Provider{}, nil
	})
	reg.RegisterTranscriber("mock", func(e config.ProviderEntry) (stt.Transcriber, error) {
		seen = append(seen, e)
		return &sttmock.Transcriber{Text: "hi"}, nil
	})
	reg.RegisterTTS("mock", func(e config.ProviderEntry) (tts.Provider, error) {
		seen = append(seen, e)
		return &ttsmock.Provider{}, nil
	})
	reg.RegisterLLM("mock", func(e config.ProviderEntry) (llm.Provider, error) {
		seen = append(seen, e)
		return &llmmock.Provider{}, nil
	})

	entry := config.ProviderEntry{Name: "mock", Model: "m1"}
	if _, err := reg.CreateSTT(entry); err != nil {
		t.Errorf("CreateSTT: %v", err)
	}
	tr, err := reg.CreateTranscriber(entry)
	if err != nil {
		t.Fatalf("CreateTranscriber: %v", err)
	}
	if text, _ := tr.Transcribe(context.Background(), &audio.Segment{}, "en"); text != "hi" {
		t.Errorf("transcriber returned %q", text)
	}
	if _, err := reg.CreateTTS(entry); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
	if _, err := reg.CreateLLM(entry); err != nil {
		t.Errorf("CreateLLM: %v", err)
	}
	if len(seen) != 4 || seen[3].Model != "m1" {
		t.Errorf("factories saw %+v", seen)
	}
	if got := reg.Names("tts"); !slices.Equal(got, []string{"mock"}) {
		t.Errorf("Names(tts) = %q", got)
	}
	if got := reg.Names("s2s"); got != nil {
		t.Errorf("Names(s2s) = %q, want nil", got)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	boom := errors.New("bad api key")
	reg.RegisterTTS("broken", func(config.ProviderEntry) (tts.Provider, error) { return nil, boom })
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "broken"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}
