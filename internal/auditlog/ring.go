// ABOUTME: Bounded ring buffer of audit log lines with subscriber fan-out
// ABOUTME: Appends evict the oldest line once capacity is reached

package auditlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultCapacity is the ring size when none is configured.
	DefaultCapacity = 500

	subscriberBufferSize = 64
)

// Line is one audit log entry as shown on dashboards
type Line struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Ring holds the most recent lines and fans new ones out to subscribers.
type Ring struct {
	mu       sync.RWMutex
	lines    []Line
	next     int // write position once full
	full     bool
	capacity int

	subscribers map[string]chan Line
	now         func() time.Time
}

// New creates a ring holding at most capacity lines. Non-positive capacity
// uses DefaultCapacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		lines:       make([]Line, 0, capacity),
		capacity:    capacity,
		subscribers: make(map[string]chan Line),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Append records a line at the given level and publishes it.
func (r *Ring) Append(level slog.Level, message string) Line {
	return r.AppendLine(Line{Timestamp: r.now(), Level: LevelName(level), Message: message})
}

// AppendLine records a prepared line and publishes it.
func (r *Ring) AppendLine(line Line) Line {
	if line.Timestamp.IsZero() {
		line.Timestamp = r.now()
	}

	r.mu.Lock()
	if !r.full {
		r.lines = append(r.lines, line)
		if len(r.lines) == r.capacity {
			r.full = true
		}
	} else {
		r.lines[r.next] = line
		r.next = (r.next + 1) % r.capacity
	}
	r.mu.Unlock()

	r.publish(line)
	return line
}

// Tail returns up to n of the most recent lines, oldest first. n <= 0 returns
// everything held.
func (r *Ring) Tail(n int) []Line {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := len(r.lines)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Line, 0, n)
	start := size - n
	for i := start; i < size; i++ {
		out = append(out, r.lines[(r.next+i)%size])
	}
	return out
}

// Len returns the number of lines held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lines)
}

// Capacity returns the maximum number of lines held.
func (r *Ring) Capacity() int {
	return r.capacity
}

// Subscribe registers for new lines. The subscription ends when ctx is
// cancelled or Unsubscribe is called; the channel is then closed.
func (r *Ring) Subscribe(ctx context.Context) (<-chan Line, string) {
	id := uuid.NewString()
	ch := make(chan Line, subscriberBufferSize)

	r.mu.Lock()
	r.subscribers[id] = ch
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.Unsubscribe(id)
	}()
	return ch, id
}

// Unsubscribe removes a subscription and closes its channel.
func (r *Ring) Unsubscribe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.subscribers[id]
	if !ok {
		return
	}
	delete(r.subscribers, id)
	close(ch)
}

// Subscribers returns the number of live subscriptions.
func (r *Ring) Subscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

// Close ends every subscription.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, ch := range r.subscribers {
		close(ch)
		delete(r.subscribers, id)
	}
}

// publish holds the read lock across the sends so Unsubscribe cannot close a
// channel mid-send. Sends never block.
func (r *Ring) publish(line Line) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ch := range r.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}
