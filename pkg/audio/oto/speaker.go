// Package oto implements [audio.Speaker] with github.com/ebitengine/oto/v3.
//
// oto allows a single context per process, so a Speaker is created once at
// startup with a fixed output format. Clips in any other format are converted
// before playback.
package oto

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	otov3 "github.com/ebitengine/oto/v3"

	"github.com/MrWong99/talkback/pkg/audio"
)

// DefaultPollInterval is how often Play checks whether the player drained.
const DefaultPollInterval = 10 * time.Millisecond

// Speaker plays clips on the default output device.
type Speaker struct {
	ctx  *otov3.Context
	poll time.Duration

	mu      sync.Mutex
	conv    audio.FormatConverter
	current *playback
}

type playback struct {
	player  *otov3.Player
	stopped chan struct{}
	once    sync.Once
}

func (p *playback) stop() {
	p.once.Do(func() {
		p.player.Pause()
		if _, err := p.player.Seek(0, io.SeekStart); err != nil {
			slog.Debug("oto: rewind", "err", err)
		}
		close(p.stopped)
	})
}

// Option configures a [Speaker].
type Option func(*Speaker)

// WithPollInterval overrides [DefaultPollInterval].
func WithPollInterval(d time.Duration) Option {
	return func(s *Speaker) {
		if d > 0 {
			s.poll = d
		}
	}
}

// New opens the output device for format f and waits until it is ready.
// bufferSize is the device buffer length; zero selects the driver default.
func New(f audio.Format, bufferSize time.Duration, opts ...Option) (*Speaker, error) {
	octx, ready, err := otov3.NewContext(&otov3.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       otov3.FormatSignedInt16LE,
		BufferSize:   bufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("oto: new context: %w: %w", audio.ErrDeviceFailure, err)
	}
	<-ready

	s := &Speaker{
		ctx:  octx,
		poll: DefaultPollInterval,
		conv: audio.FormatConverter{Target: f},
	}
	for _, o := range opts {
		o(s)
	}
	slog.Debug("oto: output ready", "format", f.String())
	return s, nil
}

// Play implements [audio.Speaker]. A clip started while another is playing
// stops the earlier one.
func (s *Speaker) Play(ctx context.Context, clip audio.AudioFrame) error {
	s.mu.Lock()
	clip = s.conv.Convert(clip)
	if len(clip.Data) == 0 {
		s.mu.Unlock()
		return nil
	}
	if s.current != nil {
		s.current.stop()
	}
	pb := &playback{
		player:  s.ctx.NewPlayer(bytes.NewReader(clip.Data)),
		stopped: make(chan struct{}),
	}
	s.current = pb
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.current == pb {
			s.current = nil
		}
		s.mu.Unlock()
	}()

	pb.player.Play()

	tick := time.NewTicker(s.poll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			pb.stop()
			return ctx.Err()
		case <-pb.stopped:
			return nil
		case <-tick.C:
			if pb.player.IsPlaying() {
				continue
			}
			if err := pb.player.Err(); err != nil {
				return fmt.Errorf("oto: playback: %w: %w", audio.ErrDeviceFailure, err)
			}
			return nil
		}
	}
}

// Stop implements [audio.Speaker].
func (s *Speaker) Stop() {
	s.mu.Lock()
	pb := s.current
	s.mu.Unlock()
	if pb != nil {
		pb.stop()
	}
}

var _ audio.Speaker = (*Speaker)(nil)
