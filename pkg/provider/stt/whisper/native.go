// This file contains the NativeTranscriber implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/talkback/pkg/audio"
	"github.com/MrWong99/talkback/pkg/audio/condition"
	"github.com/MrWong99/talkback/pkg/provider/stt"
)

// Compile-time assertion that NativeTranscriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*NativeTranscriber)(nil)

// NativeTranscriber implements stt.Transcriber using whisper.cpp Go bindings,
// eliminating HTTP overhead entirely. The model is loaded once at startup and
// shared by all calls; each call gets its own inference context.
type NativeTranscriber struct {
	model whisperlib.Model
	cond  *condition.Conditioner

	closeOnce sync.Once
	closeErr  error
}

// NativeOption is a functional option for configuring a NativeTranscriber.
type NativeOption func(*NativeTranscriber)

// WithNativeConditioner replaces the audio conditioner.
func WithNativeConditioner(c *condition.Conditioner) NativeOption {
	return func(t *NativeTranscriber) {
		if c != nil {
			t.cond = c
		}
	}
}

// NewNative loads the whisper.cpp model from modelPath. The caller must call
// Close when the transcriber is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeTranscriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	t := &NativeTranscriber{
		model: model,
		cond:  condition.New(),
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close releases the whisper model. Calling Close more than once is safe.
func (t *NativeTranscriber) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.model.Close()
	})
	return t.closeErr
}

// Transcribe implements stt.Transcriber. Inference runs on the calling
// goroutine and cannot be interrupted once started; ctx is only checked
// before the model runs.
func (t *NativeTranscriber) Transcribe(ctx context.Context, seg *audio.Segment, language string) (string, error) {
	samples, err := t.cond.Segment(seg)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	if len(samples) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// A context is not thread-safe, but the model can be shared.
	wctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if language == "" {
		language = "auto"
	}
	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "err", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
