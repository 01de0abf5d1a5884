package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/talkback/internal/app"
	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/internal/observe"
	replymock "github.com/MrWong99/talkback/internal/reply/mock"
	"github.com/MrWong99/talkback/internal/resilience"
	"github.com/MrWong99/talkback/pkg/audio"
	audiomock "github.com/MrWong99/talkback/pkg/audio/mock"
	"github.com/MrWong99/talkback/pkg/provider/llm"
	llmmock "github.com/MrWong99/talkback/pkg/provider/llm/mock"
	"github.com/MrWong99/talkback/pkg/provider/stt"
	sttmock "github.com/MrWong99/talkback/pkg/provider/stt/mock"
	"github.com/MrWong99/talkback/pkg/provider/tts"
	ttsmock "github.com/MrWong99/talkback/pkg/provider/tts/mock"
)

const streamingYAML = `
server: {listen_addr: "off"}
providers:
  stt: {name: deepgram}
  tts: {name: openai}
  llm: {name: openai}
call:
  settle_delay: 1ms
`

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func loadConfig(t *testing.T, y string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(y))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

type backends struct {
	session *sttmock.Session
	stt     *sttmock.Provider
	tts     *ttsmock.Provider
	llm     *llmmock.Provider
}

func mockRegistry() (*config.Registry, *backends) {
	b := &backends{session: sttmock.NewSession()}
	b.stt = &sttmock.Provider{Session: b.session}
	b.tts = &ttsmock.Provider{Voice: tts.VoiceProfile{ID: "default-ja"}}
	b.llm = &llmmock.Provider{
		CompleteResponse:   &llm.CompletionResponse{Content: "はい、元気です"},
		CapabilitiesResult: llm.ModelCapabilities{ContextWindow: 8192},
	}

	reg := config.NewRegistry()
	reg.RegisterSTT("deepgram", func(config.ProviderEntry) (stt.Provider, error) { return b.stt, nil })
	reg.RegisterTTS("openai", func(config.ProviderEntry) (tts.Provider, error) { return b.tts, nil })
	reg.RegisterLLM("openai", func(config.ProviderEntry) (llm.Provider, error) { return b.llm, nil })
	return reg, b
}

func TestRun_OneTurn(t *testing.T) {
	cfg := loadConfig(t, streamingYAML)
	reg, b := mockRegistry()
	ps, err := app.BuildProviders(cfg, reg, resilience.BreakerConfig{})
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}

	speaker := &audiomock.Speaker{Started: make(chan audio.AudioFrame, 4)}
	a, err := app.New(cfg, ps,
		app.WithMicrophone(&audiomock.Microphone{}),
		app.WithSpeaker(speaker),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b.session.FinalsCh <- stt.Transcript{Text: "元気ですか", IsFinal: true}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-speaker.Started:
	case <-time.After(5 * time.Second):
		t.Fatal("reply was never played")
	}

	if texts := b.tts.Texts(); len(texts) != 1 || texts[0] != "はい、元気です" {
		t.Errorf("synthesized = %q", texts)
	}
	if calls := b.llm.Calls(); len(calls) == 0 {
		t.Error("llm was not asked")
	} else if msgs := calls[0].Req.Messages; msgs[len(msgs)-1].Content != "元気ですか" {
		t.Errorf("last message = %+v", msgs[len(msgs)-1])
	}
	if got := b.tts.SynthesizeCalls[0].Voice.ID; got != "default-ja" {
		t.Errorf("voice = %q, want the provider default", got)
	}
	if got := b.stt.Calls()[0].Cfg.Language; got != "ja-JP" {
		t.Errorf("stream language = %q, want ja-JP", got)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if a.Loop().Active() {
		t.Error("loop still active after Run returned")
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestRun_MicrophoneDenied(t *testing.T) {
	cfg := loadConfig(t, streamingYAML)
	reg, _ := mockRegistry()
	ps, err := app.BuildProviders(cfg, reg, resilience.BreakerConfig{})
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	a, err := app.New(cfg, ps,
		app.WithMicrophone(&audiomock.Microphone{AcquireError: audio.ErrPermissionDenied}),
		app.WithSpeaker(&audiomock.Speaker{}),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Run(context.Background()); !errors.Is(err, audio.ErrPermissionDenied) {
		t.Errorf("Run = %v, want ErrPermissionDenied", err)
	}
}

func TestNew_NoRecognizer(t *testing.T) {
	cfg := loadConfig(t, streamingYAML)
	_, err := app.New(cfg, &app.Providers{},
		app.WithMicrophone(&audiomock.Microphone{}),
		app.WithSpeaker(&audiomock.Speaker{}),
		app.WithMetrics(testMetrics(t)),
		app.WithFetcher(&replymock.Fetcher{}),
	)
	if err == nil || !strings.Contains(err.Error(), "init recognizer") {
		t.Fatalf("err = %v, want a recognizer error", err)
	}
}

func TestHandler(t *testing.T) {
	cfg := loadConfig(t, streamingYAML)
	reg, _ := mockRegistry()
	ps, err := app.BuildProviders(cfg, reg, resilience.BreakerConfig{})
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	a, err := app.New(cfg, ps,
		app.WithMicrophone(&audiomock.Microphone{}),
		app.WithSpeaker(&audiomock.Speaker{}),
		app.WithMetrics(testMetrics(t)),
		app.WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "talkback_up 1\n")
		})),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	tests := []struct {
		path string
		code int
		body string
	}{
		{"/healthz", http.StatusOK, `"status":"ok"`},
		{"/readyz", http.StatusServiceUnavailable, "conversation loop is not running"},
		{"/metrics", http.StatusOK, "talkback_up 1"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tt.code {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.code)
			}
			if !strings.Contains(string(body), tt.body) {
				t.Errorf("body = %q, want it to contain %q", body, tt.body)
			}
		})
	}
}

func TestApply(t *testing.T) {
	cfg := loadConfig(t, streamingYAML)
	reg, _ := mockRegistry()
	ps, err := app.BuildProviders(cfg, reg, resilience.BreakerConfig{})
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	level := new(slog.LevelVar)
	a, err := app.New(cfg, ps,
		app.WithMicrophone(&audiomock.Microphone{}),
		app.WithSpeaker(&audiomock.Speaker{}),
		app.WithMetrics(testMetrics(t)),
		app.WithLevelVar(level),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	next := *cfg
	next.Server.LogLevel = config.LogDebug
	a.Apply(config.Diff(cfg, &next))
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
}

func TestBuildProviders_Fallbacks(t *testing.T) {
	cfg := loadConfig(t, `
server: {listen_addr: "off"}
providers:
  transcriber:
    name: primary
    fallbacks: [{name: backup}]
  llm: {name: openai}
  tts: {name: openai}
`)
	reg, _ := mockRegistry()
	primary := &sttmock.Transcriber{Err: errors.New("503")}
	backup := &sttmock.Transcriber{Text: "hello"}
	reg.RegisterTranscriber("primary", func(config.ProviderEntry) (stt.Transcriber, error) { return primary, nil })
	reg.RegisterTranscriber("backup", func(config.ProviderEntry) (stt.Transcriber, error) { return backup, nil })

	ps, err := app.BuildProviders(cfg, reg, resilience.BreakerConfig{MaxFailures: 1})
	if err != nil {
		t.Fatalf("BuildProviders: %v", err)
	}
	if ps.STT != nil {
		t.Error("STT should stay nil when not configured")
	}
	got, err := ps.Transcriber.Transcribe(context.Background(), &audio.Segment{}, "ja")
	if err != nil || got != "hello" {
		t.Fatalf("Transcribe = %q, %v", got, err)
	}
	if bad := ps.Unhealthy(); len(bad) != 0 {
		t.Errorf("Unhealthy = %v, want none while the fallback works", bad)
	}

	backup.Err = errors.New("503")
	_, _ = ps.Transcriber.Transcribe(context.Background(), &audio.Segment{}, "ja")
	if bad := ps.Unhealthy(); !slices.Equal(bad, []string{"transcriber"}) {
		t.Errorf("Unhealthy = %v, want [transcriber]", bad)
	}
}

type closingTranscriber struct {
	sttmock.Transcriber
	closed bool
}

func (c *closingTranscriber) Close() error {
	c.closed = true
	return nil
}

func TestBuildProviders_FactoryErrorClosesCreated(t *testing.T) {
	cfg := loadConfig(t, `
providers:
  transcriber: {name: local}
  llm: {name: broken}
  tts: {name: openai}
`)
	reg, _ := mockRegistry()
	local := &closingTranscriber{}
	reg.RegisterTranscriber("local", func(config.ProviderEntry) (stt.Transcriber, error) { return local, nil })
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, errors.New("bad api key")
	})

	_, err := app.BuildProviders(cfg, reg, resilience.BreakerConfig{})
	if err == nil || !strings.Contains(err.Error(), "bad api key") {
		t.Fatalf("err = %v", err)
	}
	if !local.closed {
		t.Error("already created provider was not closed")
	}
}

func TestBuildProviders_Unregistered(t *testing.T) {
	cfg := loadConfig(t, streamingYAML)
	_, err := app.BuildProviders(cfg, config.NewRegistry(), resilience.BreakerConfig{})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegisterBuiltins(t *testing.T) {
	reg := config.NewRegistry()
	app.RegisterBuiltins(reg, config.CallConfig{TargetSampleRate: 16000})

	want := map[string][]string{
		"stt":         {"deepgram"},
		"transcriber": {"openai", "whisper", "whisper-native"},
		"tts":         {"elevenlabs", "openai"},
	}
	for kind, names := range want {
		if got := reg.Names(kind); !slices.Equal(got, names) {
			t.Errorf("Names(%q) = %v, want %v", kind, got, names)
		}
	}
	for _, name := range config.ValidProviderNames["llm"] {
		if !slices.Contains(reg.Names("llm"), name) {
			t.Errorf("llm %q not registered", name)
		}
	}

	if _, err := reg.CreateTranscriber(config.ProviderEntry{Name: "whisper-native"}); err == nil {
		t.Error("whisper-native without a model path should fail")
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "openai"}); err == nil {
		t.Error("openai tts without an api key should fail")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := app.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
