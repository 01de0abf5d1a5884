// Package app wires the talkback subsystems into a running daemon.
//
// New builds the recognizer, reply backend and conversation loop from a
// [config.Config] and a set of constructed [Providers]. Run starts the call
// and the observability server and blocks until ctx ends. Shutdown stops
// the call and releases provider resources.
//
// Devices and the reply backend can be injected through options so tests
// never touch real hardware or networks.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/talkback/internal/call"
	"github.com/MrWong99/talkback/internal/capture"
	"github.com/MrWong99/talkback/internal/config"
	"github.com/MrWong99/talkback/internal/health"
	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/recognize"
	"github.com/MrWong99/talkback/internal/reply"
	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/audio/energy"
	"github.com/MrWong99/talkback/pkg/audio/malgo"
	"github.com/MrWong99/talkback/pkg/audio/oto"
	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// shutdownGrace bounds the HTTP server drain.
const shutdownGrace = 5 * time.Second

// App owns the conversation loop and the observability endpoints.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	level     *slog.LevelVar

	mic     audio.Microphone
	speaker audio.Speaker
	fetcher reply.Fetcher
	handler http.Handler

	rec    recognize.Recognizer
	loop   *call.Loop
	health *health.Handler

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMicrophone injects the input device instead of opening one with malgo.
func WithMicrophone(m audio.Microphone) Option {
	return func(a *App) { a.mic = m }
}

// WithSpeaker injects the output device instead of opening one with oto.
func WithSpeaker(s audio.Speaker) Option {
	return func(a *App) { a.speaker = s }
}

// WithFetcher injects the reply backend instead of building one from config.
func WithFetcher(f reply.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithMetrics sets the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets [App.Apply] change the log level of the installed
// handler.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetricsHandler replaces the /metrics handler. Default: promhttp.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.handler = h }
}

// New builds an App. Devices are opened here so a missing sound card fails
// at startup.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
	}
	if a.handler == nil {
		a.handler = promhttp.Handler()
	}

	if err := a.initDevices(); err != nil {
		return nil, fmt.Errorf("app: init devices: %w", err)
	}
	if err := a.initFetcher(); err != nil {
		return nil, fmt.Errorf("app: init reply: %w", err)
	}
	if err := a.initRecognizer(); err != nil {
		return nil, fmt.Errorf("app: init recognizer: %w", err)
	}
	a.initLoop()
	a.initHealth()
	return a, nil
}

func (a *App) initDevices() error {
	if a.mic == nil {
		a.mic = malgo.New(
			malgo.WithFormat(audio.Format{
				SampleRate: a.cfg.Audio.InputSampleRate,
				Channels:   a.cfg.Audio.InputChannels,
			}),
			malgo.WithPeriod(a.cfg.Audio.PeriodMS),
		)
	}
	if a.speaker == nil {
		sp, err := oto.New(audio.Format{SampleRate: a.cfg.Audio.OutputSampleRate, Channels: 1}, 0)
		if err != nil {
			return err
		}
		a.speaker = sp
	}
	return nil
}

func (a *App) initFetcher() error {
	if a.fetcher != nil {
		return nil
	}
	rc := a.cfg.Reply
	switch rc.Backend {
	case config.ReplyHTTP:
		f, err := reply.NewHTTP(rc.URL, reply.WithTimeout(rc.Timeout), reply.WithHTTPHistory(rc.History))
		if err != nil {
			return err
		}
		a.fetcher = f
	default:
		if a.providers.LLM == nil {
			return errors.New("llm reply backend needs providers.llm")
		}
		var f reply.Fetcher = reply.NewLLM(a.providers.LLM,
			reply.WithSystemPrompt(rc.SystemPrompt),
			reply.WithHistory(rc.History),
			reply.WithProviderName(a.cfg.Providers.LLM.Name),
			reply.WithLLMMetrics(a.metrics),
		)
		if rc.Timeout > 0 {
			f = withTimeout(f, rc.Timeout)
		}
		a.fetcher = f
	}
	return nil
}

// withTimeout bounds every Send of f.
func withTimeout(f reply.Fetcher, d time.Duration) reply.Fetcher {
	return reply.FetcherFunc(func(ctx context.Context, text string, turn reply.Turn) (*reply.Reply, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return f.Send(ctx, text, turn)
	})
}

// captureOptions translates the call settings into recorder options.
func captureOptions(c config.CallConfig, m *observe.Metrics) []capture.Option {
	gate := func() energy.Gate {
		g := energy.NewAdaptiveGate(c.GateMultiplier)
		g.Warmup = c.Warmup
		return g
	}
	if c.GateLevel > 0 {
		gate = func() energy.Gate { return &energy.FixedGate{Level: c.GateLevel} }
	}
	return []capture.Option{
		capture.WithGate(gate),
		capture.WithSilenceGap(c.SilenceGap),
		capture.WithPollInterval(c.PollInterval),
		capture.WithFilters(c.FiltersEnabled()),
		capture.WithMaxDuration(c.MaxCapture),
		capture.WithMetrics(m),
	}
}

func (a *App) initRecognizer() error {
	c := a.cfg.Call
	var denylist []recognize.TranscribeOption
	if c.Denylist != nil {
		denylist = append(denylist, recognize.WithDenylist(c.Denylist...))
	}
	rec, err := recognize.Select(recognize.Options{
		Provider:    a.providers.STT,
		Transcriber: a.providers.Transcriber,
		Microphone:  a.mic,
		Recorder:    capture.New(a.mic, captureOptions(c, a.metrics)...),
		ForceRecord: c.ForceRecord,
		Language:    c.Language,
		StreamingOptions: []recognize.StreamingOption{
			recognize.WithNoSpeechTimeout(c.NoSpeechTimeout),
			recognize.WithStreamingMetrics(a.metrics),
		},
		TranscribeOptions: append(denylist,
			recognize.WithMinSegmentBytes(c.MinSegmentBytes),
			recognize.WithTranscribeMetrics(a.metrics),
		),
	})
	if err != nil {
		return err
	}
	a.rec = rec
	return nil
}

func (a *App) initLoop() {
	c := a.cfg.Call
	opts := []call.Option{
		call.WithLanguage(c.Language),
		call.WithGreeting(c.Greeting),
		call.WithSettleDelay(c.SettleDelay),
		call.WithMetrics(a.metrics),
		call.WithPhaseObserver(func(p call.Phase) {
			slog.Debug("call phase", "phase", p)
		}),
		call.WithErrorHandler(func(err error) {
			slog.Warn("call: turn failed", "err", err)
		}),
	}
	if c.Voice != "" {
		opts = append(opts, call.WithVoice(a.voice(c.Voice)))
	}
	a.loop = call.New(a.rec, a.fetcher, a.providers.TTS, a.speaker, a.mic, opts...)
}

func (a *App) voice(id string) tts.VoiceProfile {
	return tts.VoiceProfile{ID: id, Provider: a.cfg.Providers.TTS.Name}
}

func (a *App) initHealth() {
	a.health = health.New(
		health.Checker{Name: "call", Check: func(context.Context) error {
			if !a.loop.Active() {
				return errors.New("conversation loop is not running")
			}
			return nil
		}},
		health.Checker{Name: "providers", Check: func(context.Context) error {
			if bad := a.providers.Unhealthy(); len(bad) > 0 {
				return fmt.Errorf("all backends open for %s", strings.Join(bad, ", "))
			}
			return nil
		}},
	)
}

// Loop returns the conversation loop.
func (a *App) Loop() *call.Loop { return a.loop }

// Handler returns the observability mux: /metrics, /healthz and /readyz,
// wrapped in the tracing middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", a.handler)
	a.health.Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// Run starts the conversation and, when configured, the HTTP server, then
// blocks until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.ListenAddr; addr != "" && addr != "off" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		if err := a.loop.Start(gctx); err != nil {
			return fmt.Errorf("app: start call: %w", err)
		}
		<-gctx.Done()
		a.loop.Stop()
		<-a.loop.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Apply hot-reloads the settings that a running call can pick up.
func (a *App) Apply(d config.ConfigDiff) {
	if d.LogLevelChanged {
		a.level.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.VoiceChanged {
		a.loop.SetVoice(a.voice(d.NewVoice))
		slog.Info("voice changed", "voice", d.NewVoice)
	}
	if d.GreetingChanged {
		a.loop.SetGreeting(d.NewGreeting)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// Shutdown stops the call and releases provider resources. It gives up
// waiting for the loop when ctx ends.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.loop.Stop()
		select {
		case <-a.loop.Done():
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded while the call was draining")
			err = ctx.Err()
		}
		if cerr := a.providers.Close(); cerr != nil {
			slog.Warn("close providers", "err", cerr)
		}
		slog.Info("shutdown complete")
	})
	return err
}

// ParseLevel maps a configured level to its slog value. Unknown levels are
// info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
