package reply

import (
	"sync"

	"github.com/MrWong99/talkback/pkg/provider/llm"
)

// DefaultHistoryTurns is the number of exchanges kept when none is configured.
const DefaultHistoryTurns = 20

// History is a rolling window of user/assistant exchanges.
//
// It holds at most maxTurns exchanges; trimming to a token budget happens
// per request in fit. All methods are safe for concurrent use.
type History struct {
	mu       sync.Mutex
	maxTurns int
	msgs     []llm.Message
}

// NewHistory returns a History keeping maxTurns exchanges. A non-positive
// maxTurns selects [DefaultHistoryTurns].
func NewHistory(maxTurns int) *History {
	if maxTurns <= 0 {
		maxTurns = DefaultHistoryTurns
	}
	return &History{maxTurns: maxTurns}
}

// Add appends one exchange and drops the oldest beyond the turn limit.
func (h *History) Add(user, assistant string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs,
		llm.Message{Role: llm.RoleUser, Content: user},
		llm.Message{Role: llm.RoleAssistant, Content: assistant},
	)
	if over := len(h.msgs) - 2*h.maxTurns; over > 0 {
		h.msgs = append(h.msgs[:0:0], h.msgs[over:]...)
	}
}

// Messages returns a copy of the stored messages, oldest first.
func (h *History) Messages() []llm.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]llm.Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

// Len returns the number of stored exchanges.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs) / 2
}

// Reset forgets every exchange.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = nil
}

// fit drops whole exchanges from the front of msgs until count(msgs) is at
// most budget. The last message (the pending user utterance) is never
// dropped. A non-positive budget disables trimming.
func fit(msgs []llm.Message, budget int, count func([]llm.Message) (int, error)) []llm.Message {
	if budget <= 0 {
		return msgs
	}
	for len(msgs) > 1 {
		n, err := count(msgs)
		if err != nil || n <= budget {
			return msgs
		}
		drop := 2
		if len(msgs)-drop < 1 {
			drop = len(msgs) - 1
		}
		msgs = msgs[drop:]
	}
	return msgs
}
