package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPredicatesMatchOnlyTheirType(t *testing.T) {
	t.Parallel()

	validation := NewValidationError("amount %d is negative", -5)
	require.True(t, IsValidationError(validation))
	require.False(t, IsConflictError(validation))
	require.Contains(t, validation.Error(), "-5")

	notFound := NewNotFoundError("account", "a1")
	require.True(t, IsNotFoundError(notFound))
	require.False(t, IsValidationError(notFound))

	conflict := NewConflictError("already paid")
	require.True(t, IsConflictError(conflict))

	network := NewNetworkError("POST /sync/push", errors.New("connection refused"))
	require.True(t, IsNetworkError(network))
	require.False(t, IsTimeoutError(network))

	timeout := NewTimeoutError("POST /sync/pull")
	require.True(t, IsTimeoutError(timeout))
	require.False(t, IsNetworkError(timeout))

	diverged := NewSyncConflictError("account", "a1")
	require.True(t, IsSyncConflictError(diverged))
	require.False(t, IsConflictError(diverged))
	require.Contains(t, diverged.Error(), `"a1"`)
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("apply change: %w", NewValidationError("bad payload"))
	require.True(t, IsValidationError(err))

	err = fmt.Errorf("push: %w", NewNetworkError("POST /sync/push", errors.New("reset")))
	require.True(t, IsNetworkError(err))
}

func TestNetworkErrorUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	err := NewNetworkError("GET /sync/conflicts", cause)
	require.ErrorIs(t, err, cause)
}
