// ABOUTME: In-memory newest-first signature collection backed by a Persister
// ABOUTME: Every mutation appends one history event and rewrites the persisted snapshot

package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Signatures is the Signature Store. The in-memory collection is the source of
// truth; a failed Save is logged and the mutation is kept.
type Signatures struct {
	mu        sync.RWMutex
	entries   []*SignatureEntry // newest first
	index     map[string]*SignatureEntry
	persister Persister
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures a Signatures store
type Option func(*Signatures)

// WithClock overrides the time source used for request dates and history.
func WithClock(now func() time.Time) Option {
	return func(s *Signatures) { s.now = now }
}

// WithIDGenerator overrides entry id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Signatures) { s.newID = gen }
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Signatures) { s.logger = logger }
}

// Open loads the persisted snapshot and returns a ready store. A load failure
// is logged and the store starts empty.
func Open(ctx context.Context, p Persister, opts ...Option) *Signatures {
	s := &Signatures{
		index:     make(map[string]*SignatureEntry),
		persister: p,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store")

	snap, err := p.Load(ctx)
	if err != nil {
		s.logger.Error("failed to load signature index, starting empty", "error", err)
		return s
	}
	for _, e := range snap.Signatures {
		if e == nil || e.ID == "" {
			continue
		}
		if _, dup := s.index[e.ID]; dup {
			s.logger.Warn("skipping duplicate entry id in signature index", "id", e.ID)
			continue
		}
		if e.History == nil {
			e.History = []HistoryEvent{}
		}
		s.entries = append(s.entries, e)
		s.index[e.ID] = e
	}
	s.logger.Info("signature index loaded", "entries", len(s.entries))
	return s
}

// Add creates a pending entry at the front of the collection.
func (s *Signatures) Add(ctx context.Context, in NewEntry) (*SignatureEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	id := s.newID()
	for _, taken := s.index[id]; taken; _, taken = s.index[id] {
		id = s.newID()
	}

	e := &SignatureEntry{
		ID:               id,
		ProjectName:      in.ProjectName,
		DocType:          in.DocType,
		RequestDate:      now,
		Status:           StatusPending,
		OriginalFilePath: in.OriginalFilePath,
		SenderEmail:      cloneString(in.SenderEmail),
		SenderName:       cloneString(in.SenderName),
		Subject:          cloneString(in.Subject),
		Notes:            in.Notes,
		History: []HistoryEvent{{
			Action:    ActionCreated,
			Timestamp: now,
			Details:   "entry created",
		}},
	}

	s.entries = append([]*SignatureEntry{e}, s.entries...)
	s.index[id] = e
	s.persistLocked(ctx)
	return e.Clone(), nil
}

// Update merges changes into an entry and appends one history event. Status
// changes must follow CanTransition; a rejected change leaves the entry as is.
func (s *Signatures) Update(ctx context.Context, id string, ch Changes) (*SignatureEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.index[id]
	if !ok {
		return nil, ErrNotFound
	}

	next := cur.Clone()
	var parts []string

	if ch.Status != nil && *ch.Status != cur.Status {
		if !CanTransition(cur.Status, *ch.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, *ch.Status)
		}
		next.Status = *ch.Status
		parts = append(parts, fmt.Sprintf("status %s -> %s", cur.Status, next.Status))
	}
	if ch.ProjectName != nil && *ch.ProjectName != cur.ProjectName {
		next.ProjectName = *ch.ProjectName
		parts = append(parts, "projectName")
	}
	if ch.DocType != nil && *ch.DocType != cur.DocType {
		next.DocType = *ch.DocType
		parts = append(parts, "docType")
	}
	if ch.Notes != nil && *ch.Notes != cur.Notes {
		next.Notes = *ch.Notes
		parts = append(parts, "notes")
	}
	if ch.SenderEmail != nil {
		next.SenderEmail = cloneString(ch.SenderEmail)
		parts = append(parts, "senderEmail")
	}
	if ch.SenderName != nil {
		next.SenderName = cloneString(ch.SenderName)
		parts = append(parts, "senderName")
	}
	if ch.Subject != nil {
		next.Subject = cloneString(ch.Subject)
		parts = append(parts, "subject")
	}
	switch {
	case ch.ClearProcessedFile:
		if next.ProcessedFilePath != nil {
			parts = append(parts, "processedFilePath cleared")
		}
		next.ProcessedFilePath = nil
	case ch.ProcessedFilePath != nil:
		next.ProcessedFilePath = cloneString(ch.ProcessedFilePath)
		parts = append(parts, "processedFilePath")
	}

	if err := next.checkInvariants(); err != nil {
		return nil, err
	}

	action := ch.Action
	if action == "" {
		action = ActionUpdated
	}
	details := ch.Details
	if details == "" {
		details = strings.Join(parts, ", ")
		if details == "" {
			details = "no field changes"
		}
	}
	next.History = append(next.History, HistoryEvent{
		Action:    action,
		Timestamp: s.now(),
		Details:   details,
	})

	*cur = *next
	s.persistLocked(ctx)
	return cur.Clone(), nil
}

// Get returns a copy of one entry.
func (s *Signatures) Get(_ context.Context, id string) (*SignatureEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.index[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

// GetAll returns copies of matching entries, newest first.
func (s *Signatures) GetAll(_ context.Context, f Filter) []*SignatureEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*SignatureEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if f.matches(e) {
			out = append(out, e.Clone())
		}
	}
	return out
}

// Delete removes an entry. Returns false if the id is unknown.
func (s *Signatures) Delete(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; !ok {
		return false
	}
	delete(s.index, id)
	for i, e := range s.entries {
		if e.ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	s.persistLocked(ctx)
	return true
}

// Stats folds the current entries into per-status counts.
func (s *Signatures) Stats(_ context.Context) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	for _, e := range s.entries {
		st.add(e.Status)
	}
	return st
}

// Close releases the persister.
func (s *Signatures) Close() error {
	return s.persister.Close()
}

// persistLocked writes the full collection. Must be called with mu held.
func (s *Signatures) persistLocked(ctx context.Context) {
	snap := &Snapshot{
		Signatures:  s.entries,
		LastUpdated: s.now(),
	}
	if err := s.persister.Save(ctx, snap); err != nil {
		s.logger.Error("failed to persist signature index; change kept in memory only", "error", err)
	}
}
