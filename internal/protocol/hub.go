// ABOUTME: Broadcast hub fanning frames out to every connected session
// ABOUTME: Registration and broadcast share one lock so init snapshots never miss events

package protocol

import (
	"log/slog"
	"sync"
)

// Hub tracks connected sessions.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sessions: make(map[string]*Session),
		logger:   logger.With("component", "hub"),
	}
}

// register runs first under the hub lock, then adds sess. Broadcasts issued
// after first returns are delivered to sess.
func (h *Hub) register(sess *Session, first func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	first()
	h.sessions[sess.ID] = sess
	h.logger.Debug("session registered", "session", sess.ID, "sessions", len(h.sessions))
}

func (h *Hub) unregister(sess *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[sess.ID]; !ok {
		return
	}
	delete(h.sessions, sess.ID)
	h.logger.Debug("session unregistered", "session", sess.ID, "sessions", len(h.sessions))
}

// Broadcast queues msg on every session.
func (h *Hub) Broadcast(msg any) {
	h.BroadcastFunc(func() any { return msg })
}

// BroadcastFunc builds a frame under the hub lock and queues it on every
// session. Broadcasts are serialized, so every session sees the same order.
// Sessions that cannot accept the frame are closed and dropped; they
// reconcile from a fresh init on reconnect.
func (h *Hub) BroadcastFunc(build func() any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg := build()
	for id, sess := range h.sessions {
		if sess.send(msg) {
			continue
		}
		delete(h.sessions, id)
		// Logged at debug: higher levels are teed into the audit log and broadcast.
		h.logger.Debug("dropped session", "session", id, "reason", sess.Err())
	}
}

// Len returns the number of registered sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close ends every session.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sess := range h.sessions {
		sess.Close()
		delete(h.sessions, id)
	}
}
