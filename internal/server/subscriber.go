package server

import (
	"github.com/google/uuid"
)

// Sink is the write side of one subscriber's connection: an open SSE response
// or a desktop websocket. Each payload is a complete encoded message.
type Sink interface {
	WriteMessage(payload []byte) error
	Close() error
}

// Subscriber is a single live receiver of broadcast messages. Once removed
// from a hub it is never registered again.
type Subscriber struct {
	id   string
	addr string
	sink Sink

	// send and removed are guarded by the owning hub's mutex.
	send    chan []byte
	removed bool

	done chan struct{}
}

// NewSubscriber wraps sink for registration with a Hub. addr is the remote
// address, used for logging only.
func NewSubscriber(sink Sink, addr string) *Subscriber {
	return &Subscriber{
		id:   uuid.NewString(),
		addr: addr,
		sink: sink,
		done: make(chan struct{}),
	}
}

// ID returns the subscriber's unique id.
func (s *Subscriber) ID() string {
	return s.id
}

// Addr returns the remote address given to NewSubscriber.
func (s *Subscriber) Addr() string {
	return s.addr
}

// Done is closed once the subscriber has been removed from its hub.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}
