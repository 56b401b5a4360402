// ABOUTME: Tests for workflow error classification
// ABOUTME: Store, stamping and context errors map onto the taxonomy

package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/stampdesk/internal/stamping"
	"github.com/2389/stampdesk/internal/store"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{store.ErrNotFound, KindNotFound},
		{fmt.Errorf("loading: %w", store.ErrNotFound), KindNotFound},
		{stamping.ErrSourceNotFound, KindNotFound},
		{os.ErrNotExist, KindNotFound},
		{store.ErrInvalidTransition, KindValidation},
		{store.ErrInvariant, KindValidation},
		{stamping.ErrInvalidPlacement, KindValidation},
		{stamping.ErrInvalidDocument, KindValidation},
		{context.DeadlineExceeded, KindExternal},
		{newError(KindConflict, "approve", "x", "busy", nil), KindConflict},
		{fmt.Errorf("outer: %w", newError(KindIO, "op", "", "disk", nil)), KindIO},
		{errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}
}

func TestErrorMessage(t *testing.T) {
	err := newError(KindNotFound, "send-signed", "abc", "signed document missing", os.ErrNotExist)
	assert.Equal(t, "send-signed abc: signed document missing: file does not exist", err.Error())
	assert.ErrorIs(t, err, os.ErrNotExist)

	bare := newError(KindExternal, "start-harvester", "", "", errors.New("dial tcp: refused"))
	assert.Equal(t, "start-harvester: dial tcp: refused", bare.Error())
}

func TestWrapKeepsExistingKind(t *testing.T) {
	orig := newError(KindConflict, "approve", "x", "busy", nil)
	assert.Same(t, orig, wrap("other", "x", orig))
	assert.Nil(t, wrap("op", "", nil))
}

func TestEntryLocks(t *testing.T) {
	l := newEntryLocks()

	release, _, ok := l.tryLock("a", "approve")
	assert.True(t, ok)
	assert.True(t, l.isHeld("a"))

	_, holder, ok := l.tryLock("a", "rollback")
	assert.False(t, ok)
	assert.Equal(t, "approve", holder)

	_, _, ok = l.tryLock("b", "send")
	assert.True(t, ok, "locks are per id")

	release()
	release()
	assert.False(t, l.isHeld("a"))
	_, _, ok = l.tryLock("a", "rollback")
	assert.True(t, ok)
}
