// Package reply fetches the assistant's answer to a recognized utterance.
//
// A [Fetcher] is the conversation loop's only view of the assistant. Two
// implementations are provided: [LLM] talks to a language model directly
// and keeps the rolling history in memory, [HTTP] posts to an external chat
// service that may also return ready-made audio.
package reply

import (
	"context"
	"errors"

	"github.com/MrWong99/talkback/pkg/audio"
)

// ErrNetwork marks a failure to obtain a reply or its audio. The loop reports
// it and returns to listening without retrying.
var ErrNetwork = errors.New("reply: network failure")

// Turn is the context sent along with one user utterance.
type Turn struct {
	// SessionID identifies the conversation.
	SessionID string

	// Language is the BCP-47 tag of the conversation.
	Language string
}

// Reply is the assistant's answer.
type Reply struct {
	// Text is what the assistant says. It becomes the loop's last spoken text.
	Text string

	// Audio, when non-nil, is played instead of synthesizing Text.
	Audio *audio.AudioFrame
}

// Fetcher sends one user utterance and waits for the answer.
//
// Implementations must be safe for concurrent use. Errors caused by the
// transport or the remote service wrap [ErrNetwork].
type Fetcher interface {
	Send(ctx context.Context, text string, turn Turn) (*Reply, error)
}

// FetcherFunc adapts a function to [Fetcher].
type FetcherFunc func(ctx context.Context, text string, turn Turn) (*Reply, error)

// Send implements [Fetcher].
func (f FetcherFunc) Send(ctx context.Context, text string, turn Turn) (*Reply, error) {
	return f(ctx, text, turn)
}
