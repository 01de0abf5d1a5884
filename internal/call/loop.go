// Package call runs a voice conversation: listen for the user, fetch the
// assistant's reply, speak it, and listen again.
//
// A [Loop] owns one conversation session. It exposes its [Phase] for UI
// binding through [WithPhaseObserver] and [Loop.Phase]. Only one capture
// and one playback are ever in flight because the loop runs on a single
// goroutine and moves through the phases in order.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/MrWong99/talkback/internal/locale"
	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/recognize"
	"github.com/MrWong99/talkback/internal/reply"
	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/provider/tts"
)

// Loop defaults.
const (
	DefaultRetryDelay  = time.Second
	DefaultSettleDelay = 200 * time.Millisecond
)

// ErrNoAudio is reported when a reply carries neither audio nor a
// synthesizer to produce it.
var ErrNoAudio = errors.New("call: reply has no audio and no synthesizer is configured")

// Loop is the conversation state machine. The zero value is not usable; call
// [New].
type Loop struct {
	rec     recognize.Recognizer
	fetcher reply.Fetcher
	synth   tts.Provider
	speaker audio.Speaker
	mic     audio.Microphone

	language    string
	retryDelay  time.Duration
	settleDelay time.Duration
	observers   []func(Phase)
	onError     func(error)
	metrics     *observe.Metrics

	machine *fsm.FSM
	// phaseMu orders transitions: a run only moves the machine while it is
	// still current, and Stop's move to idle is the last one for that run.
	phaseMu sync.Mutex

	mu       sync.Mutex
	cur      *run
	last     *run
	voice    tts.VoiceProfile
	greeting string
	greeted  bool
}

// run is one Start..Stop span.
type run struct {
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	session string
	release func()
}

// Option configures a [Loop].
type Option func(*Loop)

// WithLanguage sets the conversation language as a short code or tag.
func WithLanguage(code string) Option {
	return func(l *Loop) { l.language = code }
}

// WithVoice sets the synthesis voice. When unset, a [tts.VoiceChooser]
// synthesizer picks one for the language.
func WithVoice(v tts.VoiceProfile) Option {
	return func(l *Loop) { l.voice = v }
}

// WithGreeting sets text spoken once, before the first listen.
func WithGreeting(text string) Option {
	return func(l *Loop) { l.greeting = text }
}

// WithRetryDelay sets the pause after a failed listen.
func WithRetryDelay(d time.Duration) Option {
	return func(l *Loop) {
		if d >= 0 {
			l.retryDelay = d
		}
	}
}

// WithSettleDelay sets the pause after playback so the next listen does not
// pick up the tail of the reply.
func WithSettleDelay(d time.Duration) Option {
	return func(l *Loop) {
		if d >= 0 {
			l.settleDelay = d
		}
	}
}

// WithPhaseObserver registers fn to be called on every phase change. fn runs
// on the goroutine causing the change, must not block and must not call
// Start or Stop.
func WithPhaseObserver(fn func(Phase)) Option {
	return func(l *Loop) {
		if fn != nil {
			l.observers = append(l.observers, fn)
		}
	}
}

// WithErrorHandler registers fn for failures the loop recovers from: reply
// fetch and synthesis network errors, playback errors and listen errors.
func WithErrorHandler(fn func(error)) Option {
	return func(l *Loop) { l.onError = fn }
}

// WithMetrics overrides the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// New returns an idle Loop. synth may be nil when every reply carries its
// own audio.
func New(rec recognize.Recognizer, fetcher reply.Fetcher, synth tts.Provider, speaker audio.Speaker, mic audio.Microphone, opts ...Option) *Loop {
	l := &Loop{
		rec:         rec,
		fetcher:     fetcher,
		synth:       synth,
		speaker:     speaker,
		mic:         mic,
		retryDelay:  DefaultRetryDelay,
		settleDelay: DefaultSettleDelay,
	}
	for _, o := range opts {
		o(l)
	}
	l.language = locale.Tag(l.language)
	if l.metrics == nil {
		l.metrics = observe.DefaultMetrics()
	}
	if l.voice.ID == "" {
		if vc, ok := synth.(tts.VoiceChooser); ok {
			l.voice = vc.DefaultVoice(l.language)
		}
	}
	l.machine = newMachine(l.entered)
	return l
}

// Phase returns the current phase.
func (l *Loop) Phase() Phase { return Phase(l.machine.Current()) }

// Active reports whether the loop is running.
func (l *Loop) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cur != nil
}

// Done returns a channel closed when the most recent run has exited,
// including any work still draining after Stop. It is already closed when
// the loop never ran.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return l.last.done
}

// SetVoice changes the synthesis voice from the next reply on.
func (l *Loop) SetVoice(v tts.VoiceProfile) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.voice = v
}

// SetGreeting changes the greeting. It only has an effect if no greeting
// was spoken yet.
func (l *Loop) SetGreeting(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.greeting = text
}

// Start begins the conversation. It is a no-op when the loop is already
// running.
//
// The microphone is acquired and released once up front so that a denied
// permission fails here instead of inside the first listen. On failure the
// loop stays idle and the error is returned.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.cur != nil {
		l.mu.Unlock()
		return nil
	}
	id := uuid.NewString()
	rctx, cancel := context.WithCancel(observe.WithSessionID(ctx, id))
	r := &run{ctx: rctx, cancel: cancel, done: make(chan struct{}), session: id}
	l.cur, l.last = r, r
	l.mu.Unlock()

	log := observe.Logger(rctx)

	h, err := l.mic.Acquire(rctx)
	if err != nil {
		l.finish(r)
		close(r.done)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("call: microphone unavailable", "err", err)
		return fmt.Errorf("call: microphone: %w", err)
	}
	release := sync.OnceFunc(func() {
		if err := h.Release(); err != nil {
			log.Warn("call: release permission check microphone", "err", err)
		}
	})
	l.mu.Lock()
	r.release = release
	l.mu.Unlock()
	release()

	if rctx.Err() != nil {
		// Stopped or cancelled during the permission check.
		l.finish(r)
		close(r.done)
		return nil
	}

	log.Info("call: started", "recognizer", l.rec.Name(), "language", l.language)
	l.metrics.ActiveCalls.Add(rctx, 1)
	go l.loop(r)
	return nil
}

// Stop ends the conversation. It is safe to call in any phase and more than
// once. An in-flight reply fetch is not aborted but its result is dropped.
func (l *Loop) Stop() {
	l.phaseMu.Lock()
	l.mu.Lock()
	r := l.cur
	l.cur = nil
	var release func()
	if r != nil {
		release = r.release
	}
	l.mu.Unlock()
	if r != nil {
		_ = fire(l.machine, evStop)
	}
	l.phaseMu.Unlock()
	if r == nil {
		return
	}

	r.cancel()
	if release != nil {
		release()
	}
	l.speaker.Stop()
	observe.Logger(r.ctx).Info("call: stopped")
}

// finish detaches r if it is still the current run.
func (l *Loop) finish(r *run) {
	l.phaseMu.Lock()
	l.mu.Lock()
	current := l.cur == r
	if current {
		l.cur = nil
	}
	l.mu.Unlock()
	if current {
		_ = fire(l.machine, evStop)
	}
	l.phaseMu.Unlock()
	r.cancel()
}

func (l *Loop) loop(r *run) {
	ctx := r.ctx
	log := observe.Logger(ctx)
	defer close(r.done)
	defer l.metrics.ActiveCalls.Add(context.WithoutCancel(ctx), -1)
	defer l.finish(r)

	l.mu.Lock()
	greeting := ""
	if !l.greeted && l.greeting != "" {
		greeting, l.greeted = l.greeting, true
	}
	l.mu.Unlock()

	var lastSpoken string
	if greeting != "" {
		if l.speak(r, greeting, nil) {
			lastSpoken = greeting
		}
	}

	for ctx.Err() == nil {
		l.enter(r, evListen)
		lctx, span := observe.StartStage(ctx, "listen", observe.Attr("recognizer", l.rec.Name()))
		text, err := l.rec.Listen(lctx, lastSpoken)
		span.End()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn("call: listen", "err", err)
			l.report(err)
			if !sleep(ctx, l.retryDelay) {
				return
			}
			continue
		}
		if text == "" {
			continue
		}

		start := time.Now()
		log.Debug("call: heard", "text", text)
		fctx, span := observe.StartStage(context.WithoutCancel(ctx), "reply")
		rep, err := l.fetcher.Send(fctx, text, reply.Turn{
			SessionID: r.session,
			Language:  l.language,
		})
		span.End()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn("call: fetch reply", "err", err)
			l.report(err)
			continue
		}
		if rep == nil || (rep.Text == "" && rep.Audio == nil) {
			continue
		}

		if l.speak(r, rep.Text, rep.Audio) && rep.Text != "" {
			lastSpoken = rep.Text
		}
		l.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	}
}

// speak plays clip, synthesizing text first when clip is nil. It reports
// whether playback ran to completion.
func (l *Loop) speak(r *run, text string, clip *audio.AudioFrame) bool {
	ctx, span := observe.StartStage(r.ctx, "speak")
	defer span.End()
	log := observe.Logger(ctx)
	if clip == nil {
		if l.synth == nil {
			l.report(ErrNoAudio)
			return false
		}
		l.mu.Lock()
		voice := l.voice
		l.mu.Unlock()

		start := time.Now()
		f, err := l.synth.Synthesize(context.WithoutCancel(ctx), text, voice)
		l.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
		if ctx.Err() != nil {
			return false
		}
		if err != nil {
			err = fmt.Errorf("%w: synthesize: %w", reply.ErrNetwork, err)
			log.Warn("call: synthesize", "err", err)
			l.report(err)
			return false
		}
		clip = f
	}

	l.enter(r, evSpeak)
	if err := l.speaker.Play(ctx, *clip); err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Warn("call: play", "err", err)
		l.report(err)
		return false
	}
	return sleep(ctx, l.settleDelay)
}

// enter fires ev if r is still the current run.
func (l *Loop) enter(r *run, ev string) {
	l.phaseMu.Lock()
	defer l.phaseMu.Unlock()
	l.mu.Lock()
	current := l.cur == r
	l.mu.Unlock()
	if !current || r.ctx.Err() != nil {
		return
	}
	if err := fire(l.machine, ev); err != nil {
		observe.Logger(r.ctx).Debug("call: phase change", "event", ev, "err", err)
	}
}

func (l *Loop) entered(p Phase) {
	l.metrics.RecordPhase(context.Background(), string(p))
	for _, fn := range l.observers {
		fn(p)
	}
}

func (l *Loop) report(err error) {
	if l.onError != nil {
		l.onError(err)
	}
}

// sleep waits d or until ctx ends and reports whether the full wait passed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
