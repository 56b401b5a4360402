// ABOUTME: Per-entry try-locks guarding long-running operations
// ABOUTME: A second operation on a held id fails fast instead of waiting

package workflow

import "sync"

type entryLocks struct {
	mu   sync.Mutex
	held map[string]string // id -> operation holding it
}

func newEntryLocks() *entryLocks {
	return &entryLocks{held: make(map[string]string)}
}

// tryLock claims id for op. It returns a release func, or the operation that
// already holds the id.
func (l *entryLocks) tryLock(id, op string) (release func(), holder string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, busy := l.held[id]; busy {
		return nil, cur, false
	}
	l.held[id] = op
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, id)
			l.mu.Unlock()
		})
	}, "", true
}

func (l *entryLocks) isHeld(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.held[id]
	return busy
}
