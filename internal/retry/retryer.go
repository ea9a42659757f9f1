package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/agentdelegation/types"
	"go.uber.org/zap"
)

// Retryer 按策略执行函数并在失败时重试
type Retryer struct {
	policy *Policy
	stop   <-chan struct{}
	logger *zap.Logger
}

// New 创建重试器，policy 为 nil 时使用 DefaultPolicy
func New(policy *Policy, logger *zap.Logger) *Retryer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// 参数校验
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if !policy.Strategy.Valid() {
		policy.Strategy = StrategyNone
	}

	return &Retryer{
		policy: policy,
		logger: logger,
	}
}

// WithStop 设置停止信号，关闭后不再发起新的尝试
func (r *Retryer) WithStop(stop <-chan struct{}) *Retryer {
	r.stop = stop
	return r
}

// Policy 返回当前策略
func (r *Retryer) Policy() *Policy {
	return r.policy
}

// Do 执行 fn，attempt 从 1 开始。返回实际尝试次数与最终错误；
// 重试耗尽时返回最后一次错误本身。
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	var lastErr error
	maxAttempts := r.policy.Attempts()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.policy.Delay(attempt)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			if err := r.wait(ctx, delay); err != nil {
				return attempt - 1, err.WithCause(lastErr)
			}
		}

		if r.stopped() {
			return attempt - 1, types.NewError(types.ErrShutdownInterrupt, "runtime shutting down").WithCause(lastErr)
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			if attempt > 1 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return attempt, nil
		}

		if !r.policy.ShouldRetry(lastErr) {
			r.logger.Debug("error not retryable", zap.Error(lastErr))
			return attempt, lastErr
		}
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
	return maxAttempts, lastErr
}

// wait 等待延迟，同时监听 context 取消与停止信号
func (r *Retryer) wait(ctx context.Context, delay time.Duration) *types.Error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return types.NewError(types.ErrExecutionFailure, fmt.Sprintf("retry cancelled: %v", ctx.Err()))
	case <-r.stop:
		return types.NewError(types.ErrShutdownInterrupt, "runtime shutting down")
	case <-timer.C:
		return nil
	}
}

func (r *Retryer) stopped() bool {
	if r.stop == nil {
		return false
	}
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}
