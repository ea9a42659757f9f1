package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("connection reset")
	err := NewError(ErrNetwork, "delegatee unreachable").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true).
		WithAttempts(3)

	if GetErrorCode(err) != ErrNetwork {
		t.Fatalf("expected code %s, got %s", ErrNetwork, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	assert.Equal(t, "[NETWORK_ERROR] delegatee unreachable: connection reset", err.Error())
	assert.Equal(t, 3, err.Attempts)
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrExecutionTimeout, "timed out").WithRetryable(true)
	wrapped := fmt.Errorf("attempt 2: %w", inner)

	assert.True(t, IsCode(wrapped, ErrExecutionTimeout))
	assert.True(t, IsRetryable(wrapped))

	e, ok := AsError(wrapped)
	assert.True(t, ok)
	assert.Same(t, inner, e)

	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestNewValidationError(t *testing.T) {
	t.Parallel()

	err := NewValidationError("confidence_level", "confidence_level %.2f outside [0,1]", 1.5)
	assert.Equal(t, ErrValidation, err.Code)
	assert.Equal(t, "confidence_level", err.Field)
	assert.Contains(t, err.Error(), "1.50")
}
