// Package errors tests for error code definitions and classification.
package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := New(ErrInvalidTimestamp, "sync timestamp precedes creation time")
	assert.Equal(t, "[INVALID_TIMESTAMP] sync timestamp precedes creation time", err.Error())

	wrapped := Wrap(ErrDatabase, "checkpoint update failed", stderrors.New("disk I/O error"))
	assert.Contains(t, wrapped.Error(), "DATABASE_ERROR")
	assert.Contains(t, wrapped.Error(), "disk I/O error")
}

func TestAppError_Unwrap(t *testing.T) {
	inner := stderrors.New("connection reset")
	err := Wrap(ErrTransientNetwork, "remote commit failed", inner)

	require.ErrorIs(t, err, inner)
}

func TestIs_UnwrapsChain(t *testing.T) {
	inner := New(ErrConflictUnresolved, "overlapping field changes")
	outer := fmt.Errorf("record abc: %w", inner)

	assert.True(t, Is(outer, ErrConflictUnresolved))
	assert.False(t, Is(outer, ErrTransientNetwork))
	assert.False(t, Is(stderrors.New("plain"), ErrConflictUnresolved))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrRateLimited, CodeOf(New(ErrRateLimited, "slow down")))
	assert.Equal(t, ErrInternal, CodeOf(stderrors.New("unclassified")))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"transient network", New(ErrTransientNetwork, "timeout"), true},
		{"rate limited", New(ErrRateLimited, "429"), true},
		{"remote unavailable", New(ErrRemoteUnavailable, "503"), true},
		{"permission denied", New(ErrPermissionDenied, "401"), false},
		{"malformed payload", New(ErrMalformedPayload, "bad json"), false},
		{"quota exhausted", New(ErrQuotaExhausted, "quota"), false},
		{"permanent write", New(ErrPermanentWrite, "rejected"), false},
		{"wrapped transient", fmt.Errorf("commit: %w", New(ErrTransientNetwork, "timeout")), true},
		{"unclassified", stderrors.New("mystery"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}
