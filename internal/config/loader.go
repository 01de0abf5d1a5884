package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":         {"deepgram"},
	"transcriber": {"openai", "whisper", "whisper-native"},
	"tts":         {"openai", "elevenlabs"},
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":9090"
	DefaultInputSampleRate  = 48000
	DefaultInputChannels    = 1
	DefaultOutputSampleRate = 24000
	DefaultPeriodMS         = 10
	DefaultLanguage         = "ja"
	DefaultSilenceGap       = 500 * time.Millisecond
	DefaultGateMultiplier   = 1.4
	DefaultWarmup           = 800 * time.Millisecond
	DefaultPollInterval     = 50 * time.Millisecond
	DefaultTargetSampleRate = 16000
	DefaultPeakCeilingDB    = -1.0
	DefaultMinSegmentBytes  = 4000
	DefaultMaxCapture       = 30 * time.Second
	DefaultNoSpeechTimeout  = 10 * time.Second
	DefaultSettleDelay      = 200 * time.Millisecond
	DefaultHistory          = 20
)

// opusRates are the capture rates the recorder can encode.
var opusRates = []int{8000, 12000, 16000, 24000, 48000}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	a := &cfg.Audio
	setDefault(&a.InputSampleRate, DefaultInputSampleRate)
	setDefault(&a.InputChannels, DefaultInputChannels)
	setDefault(&a.OutputSampleRate, DefaultOutputSampleRate)
	setDefault(&a.PeriodMS, DefaultPeriodMS)

	c := &cfg.Call
	setDefault(&c.Language, DefaultLanguage)
	setDefault(&c.SilenceGap, DefaultSilenceGap)
	setDefault(&c.GateMultiplier, DefaultGateMultiplier)
	setDefault(&c.Warmup, DefaultWarmup)
	setDefault(&c.PollInterval, DefaultPollInterval)
	setDefault(&c.TargetSampleRate, DefaultTargetSampleRate)
	setDefault(&c.MinSegmentBytes, DefaultMinSegmentBytes)
	setDefault(&c.MaxCapture, DefaultMaxCapture)
	setDefault(&c.NoSpeechTimeout, DefaultNoSpeechTimeout)
	setDefault(&c.SettleDelay, DefaultSettleDelay)

	setDefault(&cfg.Reply.Backend, ReplyLLM)
	setDefault(&cfg.Reply.History, DefaultHistory)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	for kind, entry := range map[string]ProviderEntry{
		"stt":         cfg.Providers.STT,
		"transcriber": cfg.Providers.Transcriber,
		"tts":         cfg.Providers.TTS,
		"llm":         cfg.Providers.LLM,
	} {
		validateProviderName(kind, entry.Name)
		for i, fb := range entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
				continue
			}
			validateProviderName(kind, fb.Name)
		}
		if entry.Name == "" && len(entry.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("providers.%s has fallbacks but no name", kind))
		}
	}

	// Recognition needs a transcriber unless streaming is available and not bypassed.
	streaming := cfg.Providers.STT.Name != "" && !cfg.Call.ForceRecord
	if !streaming && cfg.Providers.Transcriber.Name == "" {
		errs = append(errs, errors.New("providers.transcriber is required when providers.stt is not configured or call.force_record is set"))
	}

	a := cfg.Audio
	if !slices.Contains(opusRates, a.InputSampleRate) {
		errs = append(errs, fmt.Errorf("audio.input_sample_rate %d is unsupported; valid values: %v", a.InputSampleRate, opusRates))
	}
	if a.InputChannels != 1 && a.InputChannels != 2 {
		errs = append(errs, fmt.Errorf("audio.input_channels %d is invalid; valid values: 1, 2", a.InputChannels))
	}
	if a.OutputSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.output_sample_rate %d must be positive", a.OutputSampleRate))
	}
	if a.PeriodMS <= 0 {
		errs = append(errs, fmt.Errorf("audio.period_ms %d must be positive", a.PeriodMS))
	}

	c := cfg.Call
	if c.GateMultiplier <= 0 {
		errs = append(errs, fmt.Errorf("call.gate_multiplier %.2f must be positive", c.GateMultiplier))
	}
	if c.GateLevel < 0 {
		errs = append(errs, fmt.Errorf("call.gate_level %d must not be negative", c.GateLevel))
	}
	if c.PeakCeilingDB != nil && *c.PeakCeilingDB > 0 {
		errs = append(errs, fmt.Errorf("call.peak_ceiling_db %.1f must be at most 0", *c.PeakCeilingDB))
	}
	if c.TargetSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("call.target_sample_rate %d must be positive", c.TargetSampleRate))
	}
	if c.MinSegmentBytes < 0 {
		errs = append(errs, fmt.Errorf("call.min_segment_bytes %d must not be negative", c.MinSegmentBytes))
	}
	for name, d := range map[string]time.Duration{
		"silence_gap":       c.SilenceGap,
		"warmup":            c.Warmup,
		"poll_interval":     c.PollInterval,
		"max_capture":       c.MaxCapture,
		"no_speech_timeout": c.NoSpeechTimeout,
		"settle_delay":      c.SettleDelay,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("call.%s %s must not be negative", name, d))
		}
	}
	if c.MaxCapture > 0 && c.SilenceGap >= c.MaxCapture {
		errs = append(errs, fmt.Errorf("call.silence_gap %s must be shorter than call.max_capture %s", c.SilenceGap, c.MaxCapture))
	}

	r := cfg.Reply
	if !r.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("reply.backend %q is invalid; valid values: llm, http", r.Backend))
	}
	if r.Backend == ReplyHTTP && r.URL == "" {
		errs = append(errs, errors.New("reply.url is required when reply.backend is http"))
	}
	if r.Backend == ReplyLLM && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm is required when reply.backend is llm"))
	}
	if r.History < 0 {
		errs = append(errs, fmt.Errorf("reply.history %d must not be negative", r.History))
	}
	if r.Timeout < 0 {
		errs = append(errs, fmt.Errorf("reply.timeout %s must not be negative", r.Timeout))
	}

	if cfg.Providers.TTS.Name == "" && r.Backend == ReplyLLM {
		slog.Warn("providers.tts is not configured; LLM replies cannot be spoken")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
