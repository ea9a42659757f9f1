package retry

import (
	"context"
	"errors"
	"math"
	"net"
	"strings"
	"time"

	"github.com/BaSui01/agentdelegation/types"
)

// Strategy 退避策略
type Strategy string

const (
	StrategyNone        Strategy = "none"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
)

// Valid 判断策略是否合法
func (s Strategy) Valid() bool {
	switch s {
	case StrategyNone, StrategyLinear, StrategyExponential:
		return true
	}
	return false
}

// Condition 重试条件
type Condition string

const (
	ConditionTimeout             Condition = "timeout"
	ConditionNetworkError        Condition = "network_error"
	ConditionResourceUnavailable Condition = "resource_unavailable"
)

// Valid 判断条件是否合法
func (c Condition) Valid() bool {
	switch c {
	case ConditionTimeout, ConditionNetworkError, ConditionResourceUnavailable:
		return true
	}
	return false
}

// DefaultConditions 未显式配置策略时使用的默认重试条件
var DefaultConditions = []Condition{ConditionTimeout, ConditionNetworkError}

// Policy 定义重试策略配置
type Policy struct {
	MaxRetries   int                                               // 最大重试次数（0 表示不重试）
	Strategy     Strategy                                          // 退避策略
	InitialDelay time.Duration                                     // 初始延迟
	MaxDelay     time.Duration                                     // 延迟上限（0 表示不设上限）
	Conditions   []Condition                                       // 可重试条件（为空则使用 DefaultConditions）
	OnRetry      func(attempt int, err error, delay time.Duration) // 重试回调，attempt 为即将开始的尝试序号
}

// DefaultPolicy 返回默认的重试策略
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   3,
		Strategy:     StrategyExponential,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Conditions:   DefaultConditions,
	}
}

// NoRetry 返回只执行一次的策略
func NoRetry() *Policy {
	return &Policy{Strategy: StrategyNone}
}

// Delay 返回第 attempt 次尝试前的等待时间，attempt 从 1 开始，首次尝试不等待
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.InitialDelay <= 0 {
		return 0
	}

	var delay float64
	initial := float64(p.InitialDelay)
	switch p.Strategy {
	case StrategyLinear:
		delay = initial * float64(attempt)
	case StrategyExponential:
		delay = initial * math.Pow(2, float64(attempt-1))
	default:
		delay = initial
	}

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Attempts 返回总尝试次数 1 + MaxRetries
func (p *Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return 1 + p.MaxRetries
}

// ShouldRetry 判断错误是否命中策略的重试条件
func (p *Policy) ShouldRetry(err error) bool {
	conds := p.Conditions
	if len(conds) == 0 {
		conds = DefaultConditions
	}
	return Matches(err, conds)
}

// Matches 判断错误是否属于给定条件之一
func Matches(err error, conds []Condition) bool {
	c, ok := Classify(err)
	if !ok {
		return false
	}
	for _, want := range conds {
		if want == c {
			return true
		}
	}
	return false
}

var (
	timeoutHints  = []string{"timeout", "timed out", "deadline exceeded"}
	networkHints  = []string{"network", "connection refused", "connection reset", "econnrefused", "econnreset", "unreachable", "broken pipe", "no such host"}
	resourceHints = []string{"resource unavailable", "resource_unavailable", "resource exhausted", "insufficient resources", "out of memory", "quota exceeded"}
)

// Classify 将错误归类为某个重试条件
func Classify(err error) (Condition, bool) {
	if err == nil {
		return "", false
	}

	switch types.GetErrorCode(err) {
	case types.ErrExecutionTimeout:
		return ConditionTimeout, true
	case types.ErrNetwork:
		return ConditionNetworkError, true
	case types.ErrResourceUnavailable:
		return ConditionResourceUnavailable, true
	case types.ErrShutdownInterrupt:
		return "", false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ConditionTimeout, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ConditionTimeout, true
		}
		return ConditionNetworkError, true
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, timeoutHints):
		return ConditionTimeout, true
	case containsAny(msg, networkHints):
		return ConditionNetworkError, true
	case containsAny(msg, resourceHints):
		return ConditionResourceUnavailable, true
	}
	return "", false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
