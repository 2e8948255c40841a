package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_UnwrapPreservesCause(t *testing.T) {
	cause := errors.New("disk fell off")
	err := New(ErrCodeCommitFailed, "record store insert failed", cause)

	require.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestError_MessageIncludesCodeAndCause(t *testing.T) {
	assert.Equal(t, "[ERR_101_CONFIG_NOT_FOUND] config file not found",
		New(ErrCodeConfigNotFound, "config file not found", nil).Error())

	withCause := New(ErrCodeCommitFailed, "moveDir path rewrite failed", errors.New("database is locked"))
	assert.Equal(t, "[ERR_208_COMMIT_FAILED] moveDir path rewrite failed: database is locked", withCause.Error())
}

func TestError_IsMatchesByCode(t *testing.T) {
	a := New(ErrCodeWriteLockHeld, "another process is writing", nil)
	b := New(ErrCodeWriteLockHeld, "different message, same condition", nil)
	c := New(ErrCodeDeleteIDZero, "id 0 cannot be deleted", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestError_CategoryDerivedFromCode(t *testing.T) {
	tests := []struct {
		code string
		want Category
	}{
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeFileNotFound, CategoryIO},
		{ErrCodeCorruptIndex, CategoryIO},
		{ErrCodeWriteLockHeld, CategoryLock},
		{ErrCodeBadNegativeMatch, CategoryValidation},
		{ErrCodeSearchFailed, CategoryInternal},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.code, "x", nil).Category())
		})
	}
}

func TestError_SeverityDerivedFromCode(t *testing.T) {
	assert.Equal(t, SeverityFatal, New(ErrCodeCommitFailed, "x", nil).Severity())
	assert.Equal(t, SeverityFatal, New(ErrCodeSchemaMismatch, "x", nil).Severity())
	assert.Equal(t, SeverityWarning, New(ErrCodeStaleIndexEntry, "x", nil).Severity())
	assert.Equal(t, SeverityWarning, New(ErrCodeMissingSidecar, "x", nil).Severity())
	assert.Equal(t, SeverityError, New(ErrCodeDeleteIDZero, "x", nil).Severity())
}

func TestError_RetryableDerivedFromCode(t *testing.T) {
	assert.True(t, New(ErrCodeWriteLockHeld, "x", nil).Retryable())
	assert.True(t, New(ErrCodeLockUnavailable, "x", nil).Retryable())
	assert.False(t, New(ErrCodeCorruptIndex, "x", nil).Retryable())
}

func TestCodeOf_WalksWrapChain(t *testing.T) {
	inner := New(ErrCodeWriteLockHeld, "another process is writing", nil)
	wrapped := New(ErrCodeVacuumFailed, "vacuum aborted", inner)

	// The outermost code wins; the inner one is still reachable via Is.
	assert.Equal(t, ErrCodeVacuumFailed, CodeOf(wrapped))
	assert.True(t, errors.Is(wrapped, inner))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(New(ErrCodeCommitFailed, "x", nil)))
	assert.False(t, IsFatal(New(ErrCodeWriteLockHeld, "x", nil)))
	assert.False(t, IsFatal(errors.New("plain")))
	assert.False(t, IsFatal(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeWriteLockHeld, "x", nil)))
	assert.False(t, IsRetryable(New(ErrCodeCommitFailed, "x", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}
