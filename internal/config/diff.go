package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoiceChanged bool
	NewVoice     string

	GreetingChanged bool
	NewGreeting     string

	// RestartRequired lists the top-level sections that changed in ways
	// that cannot be applied to a running call.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VoiceChanged || d.GreetingChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Call.Voice != new.Call.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Call.Voice
	}
	if old.Call.Greeting != new.Call.Greeting {
		d.GreetingChanged = true
		d.NewGreeting = new.Call.Greeting
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !callEqual(old.Call, new.Call) {
		d.RestartRequired = append(d.RestartRequired, "call")
	}
	if old.Reply != new.Reply {
		d.RestartRequired = append(d.RestartRequired, "reply")
	}
	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.STT, b.STT) && entryEqual(a.Transcriber, b.Transcriber) &&
		entryEqual(a.TTS, b.TTS) && entryEqual(a.LLM, b.LLM)
}

// entryEqual ignores Options, which are opaque to the loader.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	return slices.EqualFunc(a.Fallbacks, b.Fallbacks, entryEqual)
}

// callEqual compares the non-reloadable call settings. A nil denylist
// differs from an empty one.
func callEqual(a, b CallConfig) bool {
	if a.FiltersEnabled() != b.FiltersEnabled() {
		return false
	}
	a.Voice, b.Voice = "", ""
	a.Greeting, b.Greeting = "", ""
	a.Filters, b.Filters = nil, nil
	return reflect.DeepEqual(a, b)
}
