// ABOUTME: Signature entry types, status state table, and store error sentinels
// ABOUTME: Defines SignatureEntry, HistoryEvent, Stats, Filter and Changes for the stack index

package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested entry does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is returned when a status change does not follow the workflow edges
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrInvariant is returned when a change would break an entry invariant
var ErrInvariant = errors.New("entry invariant violated")

// Status is the workflow position of a signature entry
type Status string

// Status values
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusSent       Status = "sent"
)

// AllStatuses lists every status in display order.
var AllStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusApproved,
	StatusRejected,
	StatusSent,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusSent
}

// HasSignedFile reports whether entries in s must reference a derived file.
func (s Status) HasSignedFile() bool {
	return s == StatusApproved || s == StatusSent
}

// transitions is the closed set of status edges. processing -> pending covers
// both a failed stamping run and startup recovery.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusRejected},
	StatusProcessing: {StatusApproved, StatusPending},
	StatusApproved:   {StatusSent, StatusPending},
}

// CanTransition reports whether an entry may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// History action names
const (
	ActionCreated    = "created"
	ActionUpdated    = "updated"
	ActionProcessing = "processing"
	ActionApproved   = "approved"
	ActionRejected   = "rejected"
	ActionSent       = "sent"
	ActionRollback   = "rollback"
	ActionReverted   = "reverted"
	ActionRecovered  = "recovered"
)

// HistoryEvent is one append-only record in an entry's history
type HistoryEvent struct {
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}

// SignatureEntry is one document's journey through the signing workflow
type SignatureEntry struct {
	ID                string         `json:"id"`
	ProjectName       string         `json:"projectName"`
	DocType           string         `json:"docType"`
	RequestDate       time.Time      `json:"requestDate"`
	Status            Status         `json:"status"`
	OriginalFilePath  string         `json:"originalFilePath"`
	ProcessedFilePath *string        `json:"processedFilePath"`
	SenderEmail       *string        `json:"senderEmail"`
	SenderName        *string        `json:"senderName"`
	Subject           *string        `json:"subject"`
	Notes             string         `json:"notes"`
	History           []HistoryEvent `json:"history"`
}

// Clone returns a deep copy so callers never alias store state.
func (e *SignatureEntry) Clone() *SignatureEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.ProcessedFilePath = cloneString(e.ProcessedFilePath)
	c.SenderEmail = cloneString(e.SenderEmail)
	c.SenderName = cloneString(e.SenderName)
	c.Subject = cloneString(e.Subject)
	c.History = append([]HistoryEvent(nil), e.History...)
	return &c
}

// SignedFile returns the derived file path, or "" when unset.
func (e *SignatureEntry) SignedFile() string {
	if e.ProcessedFilePath == nil {
		return ""
	}
	return *e.ProcessedFilePath
}

// checkInvariants validates the processedFilePath/status pairing.
func (e *SignatureEntry) checkInvariants() error {
	hasFile := e.ProcessedFilePath != nil && *e.ProcessedFilePath != ""
	if hasFile != e.Status.HasSignedFile() {
		return fmt.Errorf("%w: processedFilePath set=%t with status %s", ErrInvariant, hasFile, e.Status)
	}
	return nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// NewEntry holds the caller-supplied fields for Add
type NewEntry struct {
	ProjectName      string
	DocType          string
	OriginalFilePath string
	SenderEmail      *string
	SenderName       *string
	Subject          *string
	Notes            string
}

// Changes describes a partial update. Nil fields are left untouched.
type Changes struct {
	ProjectName        *string
	DocType            *string
	Status             *Status
	ProcessedFilePath  *string
	ClearProcessedFile bool
	Notes              *string
	SenderEmail        *string
	SenderName         *string
	Subject            *string

	// Action names the history event; defaults to "updated".
	Action string
	// Details overrides the generated change description.
	Details string
}

// Filter narrows GetAll results. Zero values match everything.
type Filter struct {
	Status  Status
	DocType string
}

func (f Filter) matches(e *SignatureEntry) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.DocType != "" && e.DocType != f.DocType {
		return false
	}
	return true
}

// Stats is a per-status count derived from current entries
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Approved   int `json:"approved"`
	Rejected   int `json:"rejected"`
	Sent       int `json:"sent"`
	Total      int `json:"total"`
}

// Count returns the counter for one status.
func (s Stats) Count(status Status) int {
	switch status {
	case StatusPending:
		return s.Pending
	case StatusProcessing:
		return s.Processing
	case StatusApproved:
		return s.Approved
	case StatusRejected:
		return s.Rejected
	case StatusSent:
		return s.Sent
	}
	return 0
}

func (s *Stats) add(status Status) {
	s.Total++
	switch status {
	case StatusPending:
		s.Pending++
	case StatusProcessing:
		s.Processing++
	case StatusApproved:
		s.Approved++
	case StatusRejected:
		s.Rejected++
	case StatusSent:
		s.Sent++
	}
}

// Snapshot is the persisted stack index document
type Snapshot struct {
	Signatures  []*SignatureEntry `json:"signatures"`
	LastUpdated time.Time         `json:"lastUpdated"`
}
