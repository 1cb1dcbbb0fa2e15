package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithDetailKeepsSentinelImmutable(t *testing.T) {
	detailed := ErrAlreadyResolved.WithDetail("transaction_id", "txn-1")

	require.NotSame(t, ErrAlreadyResolved, detailed)
	assert.Empty(t, ErrAlreadyResolved.Details)
	assert.Equal(t, "txn-1", detailed.Details["transaction_id"])
	assert.Equal(t, ErrorCodeTxnAlreadyResolved, detailed.Code)
}

func TestIsDomainErrorSeesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", ErrSessionExpired.WithDetail("conversation_id", "conv-1"))

	assert.True(t, IsDomainError(err, ErrorCodeSessionExpired))
	assert.False(t, IsDomainError(err, ErrorCodeSessionConsumed))
	assert.Equal(t, ErrorCodeSessionExpired, GetErrorCode(err))
}

func TestIsSoftError(t *testing.T) {
	assert.True(t, IsSoftError(ErrAlreadyResolved))
	assert.True(t, IsSoftError(ErrSessionAlreadyConsumed))
	assert.False(t, IsSoftError(ErrInvalidTransition))
	assert.False(t, IsSoftError(ErrSessionExpired))
	assert.False(t, IsSoftError(errors.New("plain")))
	assert.False(t, IsSoftError(nil))
}

func TestWrapErrorUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError(ErrorCodeDatabaseError, "create transaction", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "INTERNAL_DATABASE_ERROR")
	assert.Contains(t, err.Error(), "connection reset")
}
