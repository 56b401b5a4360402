// ABOUTME: Workflow error taxonomy carried to protocol clients as error codes
// ABOUTME: KindOf classifies store, stamping and context errors into kinds

package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/2389/stampdesk/internal/stamping"
	"github.com/2389/stampdesk/internal/store"
)

// Kind categorizes workflow errors.
type Kind string

const (
	// KindNotFound indicates a missing entry or file.
	KindNotFound Kind = "not_found"

	// KindValidation indicates malformed request or placement data, or an
	// operation not allowed in the entry's current status.
	KindValidation Kind = "validation"

	// KindIO indicates a disk or persistence failure.
	KindIO Kind = "io"

	// KindExternal indicates a harvester or email sender failure, including timeouts.
	KindExternal Kind = "external_service"

	// KindConflict indicates another operation holds the entry.
	KindConflict Kind = "conflict"

	// KindInternal indicates an unexpected failure.
	KindInternal Kind = "internal"
)

// Error is a classified workflow failure.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Op names the workflow operation, e.g. "approve".
	Op string

	// ID is the affected entry, if any.
	ID string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.ID, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op, id, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Message: message, Err: err}
}

// wrap classifies err and attaches the operation.
func wrap(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var we *Error
	if errors.As(err, &we) {
		return err
	}
	return &Error{Kind: KindOf(err), Op: op, ID: id, Err: err}
}

// KindOf returns the category of any error. Unclassified errors are internal.
func KindOf(err error) Kind {
	var we *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &we):
		return we.Kind
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, stamping.ErrSourceNotFound),
		errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrInvariant),
		errors.Is(err, stamping.ErrInvalidPlacement),
		errors.Is(err, stamping.ErrInvalidDocument):
		return KindValidation
	case errors.Is(err, context.DeadlineExceeded):
		return KindExternal
	}
	return KindInternal
}

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}
