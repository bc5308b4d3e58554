package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultSubscriberBuffer is the number of encoded messages queued per
// subscriber before it is considered too slow and removed.
const DefaultSubscriberBuffer = 256

var (
	// ErrHubClosed is returned by Register, Serve and Publish after Shutdown.
	ErrHubClosed = errors.New("hub closed")

	// ErrSubscriberRemoved is returned when registering a subscriber that has
	// already been removed.
	ErrSubscriberRemoved = errors.New("subscriber already removed")
)

// Hub owns the set of live subscribers and the message history, and fans out
// every published message to every subscriber.
type Hub struct {
	logger  *zap.Logger
	metrics *Metrics
	history *History
	buffer  int

	// publishMu serializes Publish so history order and delivery order match.
	publishMu sync.Mutex

	mutex       sync.RWMutex
	subscribers map[*Subscriber]struct{}
	closed      bool
	wg          sync.WaitGroup
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithHistoryLimit caps the history at n messages. Zero or less keeps
// everything.
func WithHistoryLimit(n int) HubOption {
	return func(h *Hub) {
		h.history = NewHistory(n)
	}
}

// WithSubscriberBuffer sets the per-subscriber queue length.
func WithSubscriberBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithHubMetrics records subscriber and message counts in m.
func WithHubMetrics(m *Metrics) HubOption {
	return func(h *Hub) {
		h.metrics = m
	}
}

// NewHub creates an empty hub. A nil logger disables logging.
func NewHub(logger *zap.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		logger:      logger,
		history:     NewHistory(0),
		buffer:      DefaultSubscriberBuffer,
		subscribers: make(map[*Subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds s to the live set. Messages queued for s are only written once
// Serve runs for it.
func (h *Hub) Register(s *Subscriber) error {
	return h.attach(s, false)
}

// Serve registers s if needed and writes queued messages to its sink until s
// is removed or ctx is done. A write failure removes s and is returned.
func (h *Hub) Serve(ctx context.Context, s *Subscriber) error {
	if err := h.attach(s, true); err != nil {
		return err
	}
	defer h.wg.Done()
	return h.writePump(ctx, s)
}

func (h *Hub) attach(s *Subscriber, pump bool) error {
	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		return ErrHubClosed
	}
	if s.removed {
		h.mutex.Unlock()
		return ErrSubscriberRemoved
	}
	added := false
	if _, ok := h.subscribers[s]; !ok {
		s.send = make(chan []byte, h.buffer)
		h.subscribers[s] = struct{}{}
		added = true
	}
	if pump {
		h.wg.Add(1)
	}
	total := len(h.subscribers)
	h.mutex.Unlock()

	if added {
		h.metrics.incr(metricSubscribers, 1)
		h.logger.Info("Subscriber registered",
			zap.String("id", s.id),
			zap.String("addr", s.addr),
			zap.Int("total", total))
	}
	return nil
}

func (h *Hub) writePump(ctx context.Context, s *Subscriber) error {
	for {
		select {
		case payload, ok := <-s.send:
			if !ok {
				return nil
			}
			if err := s.sink.WriteMessage(payload); err != nil {
				if h.Remove(s) {
					h.metrics.incr(metricSubscribersPruned, 1)
					if isExpectedCloseError(err) {
						h.logger.Debug("Subscriber went away during write", zap.String("addr", s.addr))
					} else {
						h.logger.Warn("Subscriber removed after write failure",
							zap.String("addr", s.addr), zap.Error(err))
					}
				}
				return fmt.Errorf("writing to subscriber %s: %w", s.id, err)
			}
		case <-ctx.Done():
			h.Remove(s)
			return ctx.Err()
		}
	}
}

// Publish appends msg to the history and queues it for every subscriber
// registered when the call starts. Subscribers whose queue is full are
// removed. Publishing never blocks on a slow subscriber.
func (h *Hub) Publish(msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	payload, err := msg.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	if h.isClosed() {
		return ErrHubClosed
	}

	h.history.Append(msg)

	subscribers := h.getSubscriberSnapshot()
	h.logger.Debug("Broadcasting message",
		zap.String("sender", string(msg.Sender)),
		zap.Int("subscribers", len(subscribers)))

	failed := h.broadcastToSubscribers(subscribers, payload)
	h.removeFailedSubscribers(failed)
	h.metrics.incr(metricMessagesPublished, 1)
	return nil
}

// Remove drops s from the live set and closes its sink. It returns true only
// for the call that actually removed it.
func (h *Hub) Remove(s *Subscriber) bool {
	h.mutex.Lock()
	if _, ok := h.subscribers[s]; !ok {
		h.mutex.Unlock()
		return false
	}
	delete(h.subscribers, s)
	s.removed = true
	close(s.send)
	total := len(h.subscribers)
	h.mutex.Unlock()

	close(s.done)
	if err := s.sink.Close(); err != nil && !isExpectedCloseError(err) {
		h.logger.Warn("Error closing subscriber", zap.String("addr", s.addr), zap.Error(err))
	}

	h.metrics.decr(metricSubscribers, 1)
	h.logger.Info("Subscriber removed",
		zap.String("id", s.id),
		zap.String("addr", s.addr),
		zap.Int("total", total))
	return true
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subscribers)
}

// History returns every retained message in publish order.
func (h *Hub) History() []Message {
	return h.history.Snapshot()
}

func (h *Hub) isClosed() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.closed
}

// getSubscriberSnapshot returns a thread-safe snapshot of all current subscribers
func (h *Hub) getSubscriberSnapshot() []*Subscriber {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	subscribers := make([]*Subscriber, 0, len(h.subscribers))
	for s := range h.subscribers {
		subscribers = append(subscribers, s)
	}
	return subscribers
}

// broadcastToSubscribers queues payload for each subscriber and returns the ones
// that could not take it
func (h *Hub) broadcastToSubscribers(subscribers []*Subscriber, payload []byte) []*Subscriber {
	var failed []*Subscriber
	for _, s := range subscribers {
		if !h.safeSend(s, payload) {
			failed = append(failed, s)
		}
	}
	return failed
}

// safeSend queues payload without blocking. The read lock keeps Remove from
// closing the channel mid-send.
func (h *Hub) safeSend(s *Subscriber, payload []byte) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.subscribers[s]; !exists {
		// Removed since the snapshot; not a failure.
		return true
	}

	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// removeFailedSubscribers removes subscribers whose queue was full
func (h *Hub) removeFailedSubscribers(failed []*Subscriber) {
	for _, s := range failed {
		if h.Remove(s) {
			h.metrics.incr(metricSubscribersPruned, 1)
			h.logger.Warn("Subscriber removed due to full send buffer", zap.String("addr", s.addr))
		}
	}
}

// Shutdown removes every subscriber, refuses new ones, and waits for running
// write pumps to finish or the timeout to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("Initiating hub shutdown...")

	h.mutex.Lock()
	h.closed = true
	h.mutex.Unlock()

	subscribers := h.getSubscriberSnapshot()
	for _, s := range subscribers {
		h.Remove(s)
	}
	h.logger.Info("Closed subscriber connections", zap.Int("count", len(subscribers)))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("Hub shutdown timeout reached, some write pumps may still be running")
		return context.DeadlineExceeded
	}
}
