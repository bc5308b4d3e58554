package server

import "sync"

// History is the ordered record of published messages. When a limit is set
// the oldest messages are dropped; order is never changed.
type History struct {
	mu       sync.RWMutex
	messages []Message
	limit    int
}

// NewHistory returns an empty History keeping at most limit messages. A limit
// of zero or less keeps everything.
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

// Append adds m at the end.
func (h *History) Append(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, m)
	if h.limit > 0 && len(h.messages) > h.limit {
		h.messages = h.messages[len(h.messages)-h.limit:]
	}
}

// Snapshot returns a copy of the messages in publish order.
func (h *History) Snapshot() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of retained messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}
