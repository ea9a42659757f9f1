package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/agentdelegation/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastPolicy(maxRetries int) *Policy {
	return &Policy{
		MaxRetries:   maxRetries,
		Strategy:     StrategyExponential,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}
}

func TestRetryer_Success(t *testing.T) {
	r := New(fastPolicy(3), zap.NewNop())

	callCount := 0
	attempts, err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		callCount++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, callCount)
}

func TestRetryer_RetryAndSuccess(t *testing.T) {
	var retried []int
	policy := fastPolicy(3)
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		retried = append(retried, attempt)
	}
	r := New(policy, zap.NewNop())

	attempts, err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return types.NewError(types.ErrNetwork, "flaky")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{2, 3}, retried)
}

func TestRetryer_ExhaustedReturnsLastError(t *testing.T) {
	r := New(fastPolicy(2), zap.NewNop())

	var last error
	attempts, err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		last = types.NewError(types.ErrExecutionTimeout, "attempt timed out").WithAttempts(attempt)
		return last
	})

	assert.Equal(t, 3, attempts)
	assert.Same(t, last, err)
}

func TestRetryer_NonRetryableStopsImmediately(t *testing.T) {
	r := New(fastPolicy(5), zap.NewNop())

	callCount := 0
	boom := errors.New("invalid output format")
	attempts, err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		callCount++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, callCount)
}

func TestRetryer_StopSignal(t *testing.T) {
	stop := make(chan struct{})
	policy := fastPolicy(5)
	policy.InitialDelay = time.Hour
	policy.MaxDelay = time.Hour
	r := New(policy, zap.NewNop()).WithStop(stop)

	callCount := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(stop)
	}()

	_, err := r.Do(context.Background(), func(ctx context.Context, attempt int) error {
		callCount++
		return types.NewError(types.ErrNetwork, "down")
	})

	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrShutdownInterrupt))
	assert.Equal(t, 1, callCount)
}

func TestRetryer_ContextCancelledDuringDelay(t *testing.T) {
	policy := fastPolicy(3)
	policy.InitialDelay = time.Hour
	policy.MaxDelay = time.Hour
	r := New(policy, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	attempts, err := r.Do(ctx, func(ctx context.Context, attempt int) error {
		return types.NewError(types.ErrNetwork, "down")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Contains(t, err.Error(), "retry cancelled")
}

func TestNew_Defaults(t *testing.T) {
	r := New(nil, nil)
	assert.Equal(t, 3, r.Policy().MaxRetries)
	assert.Equal(t, StrategyExponential, r.Policy().Strategy)

	r = New(&Policy{MaxRetries: -1, Strategy: "bogus"}, nil)
	assert.Equal(t, 0, r.Policy().MaxRetries)
	assert.Equal(t, StrategyNone, r.Policy().Strategy)
	assert.Equal(t, 1, r.Policy().Attempts())
}
