// ABOUTME: In-memory Persister for tests and ephemeral runs
// ABOUTME: Records saves and can inject load/save failures

package store

import (
	"context"
	"sync"
)

// MemoryPersister keeps the last saved snapshot in memory.
type MemoryPersister struct {
	mu      sync.Mutex
	snap    *Snapshot
	saves   int
	LoadErr error
	SaveErr error
}

// NewMemoryPersister creates a persister, optionally seeded with entries.
func NewMemoryPersister(seed ...*SignatureEntry) *MemoryPersister {
	m := &MemoryPersister{snap: &Snapshot{}}
	for _, e := range seed {
		m.snap.Signatures = append(m.snap.Signatures, e.Clone())
	}
	return m
}

// Load returns a copy of the stored snapshot.
func (m *MemoryPersister) Load(_ context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return copySnapshot(m.snap), nil
}

// Save stores a copy of snap.
func (m *MemoryPersister) Save(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.snap = copySnapshot(snap)
	m.saves++
	return nil
}

// Close is a no-op.
func (m *MemoryPersister) Close() error {
	return nil
}

// Saved returns a copy of the last saved snapshot.
func (m *MemoryPersister) Saved() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySnapshot(m.snap)
}

// SaveCount returns the number of successful saves.
func (m *MemoryPersister) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// SetSaveErr changes the injected save failure under the lock.
func (m *MemoryPersister) SetSaveErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveErr = err
}

func copySnapshot(s *Snapshot) *Snapshot {
	out := &Snapshot{LastUpdated: s.LastUpdated}
	for _, e := range s.Signatures {
		out.Signatures = append(out.Signatures, e.Clone())
	}
	return out
}
