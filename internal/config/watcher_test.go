package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/talkback/internal/config"
)

const baseYAML = `
server:
  log_level: info
providers:
  transcriber:
    name: openai
  llm:
    name: openai
call:
  voice: nova
  greeting: hello
`

const retunedYAML = `
server:
  log_level: debug
providers:
  transcriber:
    name: openai
  llm:
    name: openai
call:
  voice: shimmer
  greeting: welcome back
`

type change struct{ old, new *config.Config }

// startWatcher writes baseYAML and watches it with a short interval. Changes
// are delivered on the returned channel.
func startWatcher(t *testing.T) (string, *config.Watcher, <-chan change) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "talkback.yaml")
	writeFile(t, path, baseYAML)

	changes := make(chan change, 4)
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		changes <- change{old, new}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, changes
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// bumpMtime moves the mtime forward so a rewrite within the filesystem's
// timestamp granularity is still noticed.
func bumpMtime(t *testing.T, path string) {
	t.Helper()
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, _ := startWatcher(t)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() = nil after NewWatcher")
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Call.Voice != "nova" {
		t.Errorf("initial config = %+v / %+v", cfg.Server, cfg.Call)
	}
}

func TestWatcher_ReloadsRetunedCall(t *testing.T) {
	t.Parallel()
	path, w, changes := startWatcher(t)

	writeFile(t, path, retunedYAML)
	bumpMtime(t, path)

	var c change
	select {
	case c = <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("no reload within 2s")
	}

	d := config.Diff(c.old, c.new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.VoiceChanged || d.NewVoice != "shimmer" {
		t.Errorf("voice diff = %+v", d)
	}
	if !d.GreetingChanged || d.NewGreeting != "welcome back" {
		t.Errorf("greeting diff = %+v", d)
	}
	if w.Current() != c.new {
		t.Error("Current() does not return the reloaded config")
	}
}

func TestWatcher_IgnoredEdits(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		edit func(t *testing.T, path string)
	}{
		{
			name: "invalid yaml keeps previous",
			edit: func(t *testing.T, path string) {
				writeFile(t, path, "server:\n  log_level: bananas\n")
			},
		},
		{
			name: "touch without content change",
			edit: func(t *testing.T, path string) {},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path, w, changes := startWatcher(t)

			tt.edit(t, path)
			bumpMtime(t, path)

			select {
			case c := <-changes:
				t.Fatalf("unexpected reload to %+v", c.new.Server)
			case <-time.After(200 * time.Millisecond):
			}
			if got := w.Current().Server.LogLevel; got != config.LogInfo {
				t.Errorf("log level = %q, want previous %q", got, config.LogInfo)
			}
		})
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("NewWatcher on a missing file: want error")
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	t.Parallel()
	_, w, _ := startWatcher(t)
	w.Stop()
	w.Stop()
}
