package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/internal/resilience"
	"github.com/MrWong99/talkback/pkg/audio/condition"
	"github.com/MrWong99/talkback/pkg/provider/llm"
	"github.com/MrWong99/talkback/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/talkback/pkg/provider/llm/openai"
	"github.com/MrWong99/talkback/pkg/provider/stt"
	"github.com/MrWong99/talkback/pkg/provider/stt/deepgram"
	sttopenai "github.com/MrWong99/talkback/pkg/provider/stt/openai"
	"github.com/MrWong99/talkback/pkg/provider/stt/whisper"
	"github.com/MrWong99/talkback/pkg/provider/tts"
	"github.com/MrWong99/talkback/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/MrWong99/talkback/pkg/provider/tts/openai"
)

// RegisterBuiltins wires every provider that ships with talkback into reg.
// Local transcribers condition audio with the rate and ceiling from call.
func RegisterBuiltins(reg *config.Registry, call config.CallConfig) {
	cond := condition.New(
		condition.WithTargetRate(call.TargetSampleRate),
		condition.WithCeilingDB(call.PeakCeiling()),
	)

	// ── Streaming STT ────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(e.BaseURL))
		}
		if d := optDuration(e.Options, "endpointing"); d > 0 {
			opts = append(opts, deepgram.WithEndpointing(d))
		}
		return deepgram.New(e.APIKey, opts...)
	})

	// ── Transcribers ─────────────────────────────────────────────────────

	reg.RegisterTranscriber("openai", func(e config.ProviderEntry) (stt.Transcriber, error) {
		var opts []sttopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(e.BaseURL))
		}
		if p := optString(e.Options, "prompt"); p != "" {
			opts = append(opts, sttopenai.WithPrompt(p))
		}
		return sttopenai.New(e.APIKey, e.Model, opts...)
	})

	reg.RegisterTranscriber("whisper", func(e config.ProviderEntry) (stt.Transcriber, error) {
		opts := []whisper.Option{whisper.WithConditioner(cond)}
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		return whisper.New(e.BaseURL, opts...)
	})

	reg.RegisterTranscriber("whisper-native", func(e config.ProviderEntry) (stt.Transcriber, error) {
		path := e.Model
		if path == "" {
			path = optString(e.Options, "model_path")
		}
		return whisper.NewNative(path, whisper.WithNativeConditioner(cond))
	})

	// ── TTS ──────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(e.BaseURL))
		}
		if s := optString(e.Options, "instructions"); s != "" {
			opts = append(opts, ttsopenai.WithInstructions(s))
		}
		return ttsopenai.New(e.APIKey, e.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, elevenlabs.WithAPIBase(e.BaseURL))
		}
		if f := optString(e.Options, "output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})

	// ── LLM ──────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(e.BaseURL))
		}
		if org := optString(e.Options, "organization"); org != "" {
			opts = append(opts, llmopenai.WithOrganization(org))
		}
		return llmopenai.New(e.APIKey, e.Model, opts...)
	})

	// "openai" keeps the native SDK adapter registered above.
	for _, name := range anyllm.Names {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(name, e.Model, opts...)
		})
	}
}

// Providers holds the constructed backends. Each non-nil field is a
// failover wrapper around the configured primary and its fallbacks.
type Providers struct {
	STT         stt.Provider
	Transcriber stt.Transcriber
	TTS         tts.Provider
	LLM         llm.Provider

	groups  map[string]breakerStates
	closers []func() error
}

type breakerStates interface {
	States() map[string]resilience.State
}

// Unhealthy returns the provider kinds whose every backend is behind an
// open circuit breaker.
func (p *Providers) Unhealthy() []string {
	var out []string
	for kind, g := range p.groups {
		states := g.States()
		open := 0
		for _, s := range states {
			if s == resilience.StateOpen {
				open++
			}
		}
		if open > 0 && open == len(states) {
			out = append(out, kind)
		}
	}
	return out
}

// Close releases backends that hold local resources, such as loaded models.
func (p *Providers) Close() error {
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

type member[T any] struct {
	name  string
	value T
}

// create instantiates entry and its fallbacks.
func create[T any](p *Providers, kind string, entry config.ProviderEntry, fn func(config.ProviderEntry) (T, error)) ([]member[T], error) {
	entries := append([]config.ProviderEntry{entry}, entry.Fallbacks...)
	out := make([]member[T], 0, len(entries))
	for i, e := range entries {
		v, err := fn(e)
		if err != nil {
			return nil, fmt.Errorf("create %s provider %q: %w", kind, e.Name, err)
		}
		if c, ok := any(v).(io.Closer); ok {
			p.closers = append(p.closers, c.Close)
		}
		name := e.Name
		if i > 0 {
			name = fmt.Sprintf("%s#%d", e.Name, i)
		}
		out = append(out, member[T]{name: name, value: v})
		slog.Info("provider created", "kind", kind, "name", e.Name, "model", e.Model, "fallback", i > 0)
	}
	return out, nil
}

// BuildProviders instantiates every provider named in cfg through reg.
// Unconfigured kinds stay nil.
func BuildProviders(cfg *config.Config, reg *config.Registry, breaker resilience.BreakerConfig) (*Providers, error) {
	ps := &Providers{groups: make(map[string]breakerStates)}
	fail := func(err error) (*Providers, error) {
		_ = ps.Close()
		return nil, err
	}

	if e := cfg.Providers.STT; e.Name != "" {
		ms, err := create(ps, "stt", e, reg.CreateSTT)
		if err != nil {
			return fail(err)
		}
		g := resilience.NewStreamer(ms[0].name, ms[0].value, breaker)
		for _, m := range ms[1:] {
			g.Add(m.name, m.value)
		}
		ps.STT, ps.groups["stt"] = g, g
	}

	if e := cfg.Providers.Transcriber; e.Name != "" {
		ms, err := create(ps, "transcriber", e, reg.CreateTranscriber)
		if err != nil {
			return fail(err)
		}
		g := resilience.NewTranscriber(ms[0].name, ms[0].value, breaker)
		for _, m := range ms[1:] {
			g.Add(m.name, m.value)
		}
		ps.Transcriber, ps.groups["transcriber"] = g, g
	}

	if e := cfg.Providers.TTS; e.Name != "" {
		ms, err := create(ps, "tts", e, reg.CreateTTS)
		if err != nil {
			return fail(err)
		}
		g := resilience.NewSynthesizer(ms[0].name, ms[0].value, cfg.Call.Language, breaker)
		for _, m := range ms[1:] {
			g.Add(m.name, m.value)
		}
		ps.TTS, ps.groups["tts"] = g, g
	}

	if e := cfg.Providers.LLM; e.Name != "" {
		ms, err := create(ps, "llm", e, reg.CreateLLM)
		if err != nil {
			return fail(err)
		}
		g := resilience.NewCompleter(ms[0].name, ms[0].value, breaker)
		for _, m := range ms[1:] {
			g.Add(m.name, m.value)
		}
		ps.LLM, ps.groups["llm"] = g, g
	}

	return ps, nil
}

// optString extracts a string value from a provider Options map.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optDuration extracts a duration given as a string ("300ms") or a number
// of milliseconds.
func optDuration(opts map[string]any, key string) time.Duration {
	switch v := opts[key].(type) {
	case string:
		d, _ := time.ParseDuration(v)
		return d
	case int:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	}
	return 0
}
