// Package config provides the configuration schema, loader, and provider
// registry for talkback.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ReplyBackend selects where assistant replies come from.
type ReplyBackend string

const (
	// ReplyLLM answers with the configured LLM provider.
	ReplyLLM ReplyBackend = "llm"

	// ReplyHTTP forwards utterances to an external chat service.
	ReplyHTTP ReplyBackend = "http"
)

// IsValid reports whether b is a recognised reply backend.
func (b ReplyBackend) IsValid() bool {
	return b == ReplyLLM || b == ReplyHTTP
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	Call      CallConfig      `yaml:"call"`
	Reply     ReplyConfig     `yaml:"reply"`
}

// ServerConfig holds the observability endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr serves /metrics, /healthz and /readyz (e.g., ":9090").
	// "off" disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares which backend serves each stage. Each entry
// selects a named factory registered in the [Registry].
type ProvidersConfig struct {
	// STT is the streaming recognizer. Optional; when empty the call records
	// whole utterances and uses Transcriber.
	STT ProviderEntry `yaml:"stt"`

	// Transcriber turns recorded segments into text.
	Transcriber ProviderEntry `yaml:"transcriber"`

	// TTS synthesizes replies that arrive without audio.
	TTS ProviderEntry `yaml:"tts"`

	// LLM answers when reply.backend is "llm".
	LLM ProviderEntry `yaml:"llm"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "whisper-1", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails. Each sits
	// behind its own circuit breaker. Nested fallbacks are ignored.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// AudioConfig describes the local devices.
type AudioConfig struct {
	// InputSampleRate is the capture rate in Hz. The recorder supports the
	// Opus rates: 8000, 12000, 16000, 24000 and 48000.
	InputSampleRate int `yaml:"input_sample_rate"`

	// InputChannels is 1 or 2.
	InputChannels int `yaml:"input_channels"`

	// OutputSampleRate is the playback rate in Hz. Clips at other rates are
	// resampled.
	OutputSampleRate int `yaml:"output_sample_rate"`

	// PeriodMS is the capture callback period in milliseconds.
	PeriodMS int `yaml:"period_ms"`
}

// CallConfig tunes the conversation loop.
type CallConfig struct {
	// Language is a short code ("ja", "en", "zht") or a BCP-47 tag.
	Language string `yaml:"language"`

	// Voice is the TTS voice ID. Empty picks the provider's default for
	// Language. Hot-reloadable.
	Voice string `yaml:"voice"`

	// Greeting is spoken once before the first listen. Hot-reloadable until
	// it has been spoken.
	Greeting string `yaml:"greeting"`

	// ForceRecord uses record-then-transcribe even with a streaming STT.
	ForceRecord bool `yaml:"force_record"`

	SilenceGap     time.Duration `yaml:"silence_gap"`
	GateMultiplier float64       `yaml:"gate_multiplier"`

	// GateLevel, when positive, replaces the adaptive gate with a fixed one.
	GateLevel int `yaml:"gate_level"`

	Warmup           time.Duration `yaml:"warmup"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	TargetSampleRate int           `yaml:"target_sample_rate"`
	MinSegmentBytes  int           `yaml:"min_segment_bytes"`
	MaxCapture       time.Duration `yaml:"max_capture"`
	NoSpeechTimeout  time.Duration `yaml:"no_speech_timeout"`
	SettleDelay      time.Duration `yaml:"settle_delay"`

	// PeakCeilingDB is the normalization ceiling in dBFS. Nil means
	// [DefaultPeakCeilingDB]; 0 is a valid full-scale ceiling.
	PeakCeilingDB *float64 `yaml:"peak_ceiling_db"`

	// Filters enables the analysis band-pass. Nil means on.
	Filters *bool `yaml:"filters"`

	// Denylist replaces the built-in list of hallucinated phrases. Nil keeps
	// the built-in list; an empty list disables filtering.
	Denylist []string `yaml:"denylist"`
}

// FiltersEnabled reports whether the analysis band-pass is on.
func (c CallConfig) FiltersEnabled() bool {
	return c.Filters == nil || *c.Filters
}

// PeakCeiling returns the normalization ceiling in dBFS.
func (c CallConfig) PeakCeiling() float64 {
	if c.PeakCeilingDB == nil {
		return DefaultPeakCeilingDB
	}
	return *c.PeakCeilingDB
}

// ReplyConfig selects and tunes the reply backend.
type ReplyConfig struct {
	Backend ReplyBackend `yaml:"backend"`

	// URL is the chat endpoint for the http backend.
	URL string `yaml:"url"`

	// SystemPrompt is sent with every LLM request.
	SystemPrompt string `yaml:"system_prompt"`

	// History is the number of past turns kept as context.
	History int `yaml:"history"`

	// Timeout bounds a single reply fetch. Zero leaves it to the transport.
	Timeout time.Duration `yaml:"timeout"`
}
