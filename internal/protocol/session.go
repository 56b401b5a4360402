// ABOUTME: Per-connection session with a bounded outbound queue
// ABOUTME: A session that cannot keep up is closed with ErrSlowConsumer

package protocol

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrSlowConsumer is the close reason for a session whose queue overflowed.
var ErrSlowConsumer = errors.New("slow consumer: outbound queue full")

// DefaultSessionBuffer is the outbound queue size per session.
const DefaultSessionBuffer = 256

// Session is one connected dashboard. The transport drains Outbound and
// stops when Done is closed.
type Session struct {
	ID string

	out  chan any
	done chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

func newSession(buffer int) *Session {
	if buffer <= 0 {
		buffer = DefaultSessionBuffer
	}
	return &Session{
		ID:   uuid.NewString(),
		out:  make(chan any, buffer),
		done: make(chan struct{}),
	}
}

// Outbound yields frames to write, in order.
func (s *Session) Outbound() <-chan any {
	return s.out
}

// Done is closed once the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session ended, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// send queues msg without blocking. A full queue ends the session.
func (s *Session) send(msg any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- msg:
		return true
	default:
		s.closeLocked(ErrSlowConsumer)
		return false
	}
}

// Close ends the session. Queued frames stay readable from Outbound.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(nil)
}

func (s *Session) closeLocked(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.done)
}
