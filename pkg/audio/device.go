// Package audio defines the local audio device abstractions and the PCM helpers
// used by the talkback capture and playback paths.
//
// The primary abstractions are:
//
//   - [Microphone] hands out exclusive [MicHandle] values for an input device.
//   - [MicHandle] is an acquired capture stream that delivers float32 blocks to a
//     [BlockFunc] on the device's real-time thread.
//   - [Speaker] plays a clip to completion and can be stopped and rewound.
//
// Device implementations live in sub-packages (audio/malgo, audio/oto). The
// interfaces are kept narrow so the conversation loop and recorder can be
// tested with the in-memory fakes in audio/mock.
package audio

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is returned when the operating system refuses access
	// to the input device.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceFailure is returned when a device cannot be opened or started.
	ErrDeviceFailure = errors.New("audio: device failure")

	// ErrReleased is returned by operations on a handle that was released.
	ErrReleased = errors.New("audio: handle released")
)

// BlockFunc receives one block of mono or interleaved float32 samples in
// [-1.0, 1.0]. It is called on the device's real-time thread: it must not
// block, perform I/O or retain block after returning.
type BlockFunc func(block []float32)

// MicHandle is an exclusively held capture stream.
//
// Whoever obtained the handle from [Microphone.Acquire] is responsible for
// calling Release on every exit path. A component that receives a handle from
// its caller must never release it.
type MicHandle interface {
	// Format reports the sample rate and channel count of delivered blocks.
	Format() Format

	// Attach installs fn as the block consumer, replacing any previous one.
	// A nil fn detaches; blocks delivered while detached are discarded.
	Attach(fn BlockFunc)

	// Release stops the hardware stream. It is safe to call more than once;
	// only the first call has an effect.
	Release() error
}

// Microphone opens capture streams on an input device.
//
// Implementations must be safe for concurrent use, but only one handle may be
// outstanding at a time: Acquire blocks or fails while another handle is held,
// depending on the implementation.
type Microphone interface {
	// Acquire opens and starts the device. Returns an error wrapping
	// [ErrPermissionDenied] or [ErrDeviceFailure] when the device cannot be used.
	Acquire(ctx context.Context) (MicHandle, error)
}

// Speaker plays synthesized speech.
//
// Implementations must be safe for concurrent use; Stop may be called from
// any goroutine while Play is blocked.
type Speaker interface {
	// Play starts playback of clip and blocks until it ended, Stop was called
	// or ctx was cancelled. A clip that ends early because of Stop returns nil.
	Play(ctx context.Context, clip AudioFrame) error

	// Stop halts the current clip and rewinds it to the beginning. It is a
	// no-op when nothing is playing.
	Stop()
}
