package observability

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentdelegation/agent/lifecycle"
	"github.com/BaSui01/agentdelegation/internal/metrics"
	"github.com/BaSui01/agentdelegation/internal/pool"
	"github.com/BaSui01/agentdelegation/types"
)

// Config 遥测收集器配置
type Config struct {
	// BufferSize 缓冲区达到该数量时触发 flush
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`

	// MaxBufferSize 缓冲区上限，超出时丢弃最旧的事件
	MaxBufferSize int `json:"max_buffer_size" yaml:"max_buffer_size"`

	// FlushInterval 周期 flush 间隔，0 表示每条事件立即 flush
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`

	// FlushTimeout 单次后台 flush 的超时
	FlushTimeout time.Duration `json:"flush_timeout" yaml:"flush_timeout"`

	// SamplingRate 采样率 (0,1]，非正数视为 1
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate"`

	// MinSeverity 低于该级别的事件不入缓冲
	MinSeverity lifecycle.Severity `json:"min_severity" yaml:"min_severity"`

	// HistorySize 可查询的历史事件数
	HistorySize int `json:"history_size" yaml:"history_size"`

	// ChainEvents 是否在链创建和结束时记录 chain_started / chain_completed
	ChainEvents bool `json:"chain_events" yaml:"chain_events"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		BufferSize:    100,
		MaxBufferSize: 10000,
		FlushInterval: 5 * time.Second,
		FlushTimeout:  10 * time.Second,
		SamplingRate:  1.0,
		MinSeverity:   lifecycle.SeverityDebug,
		HistorySize:   10000,
		ChainEvents:   true,
	}
}

// CollectorStats 收集器统计
type CollectorStats struct {
	Recorded      int64 `json:"recorded"`
	Filtered      int64 `json:"filtered"`
	Sampled       int64 `json:"sampled"`
	Dropped       int64 `json:"dropped"`
	Flushes       int64 `json:"flushes"`
	FlushedEvents int64 `json:"flushed_events"`
	SinkFailures  int64 `json:"sink_failures"`
}

// Option 收集器选项
type Option func(*Collector)

// WithMetrics 设置 Prometheus 指标收集器
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Collector) { c.metrics = m }
}

// WithSampler 设置采样随机源，返回 [0,1) 的值
func WithSampler(fn func() float64) Option {
	return func(c *Collector) { c.sample = fn }
}

// WithClock 设置时钟
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// Collector 遥测关联引擎：过滤、缓冲并导出事件，同时维护链关联与 Agent 指标。
// 实现 lifecycle.Listener。
type Collector struct {
	config  *Config
	sinks   []Sink
	chains  *ChainTracker
	perf    *performanceTracker
	metrics *metrics.Collector
	sample  func() float64
	now     func() time.Time
	logger  *zap.Logger

	mu      sync.Mutex
	buffer  []TelemetryEvent
	history *pool.Ring[TelemetryEvent]
	stats   CollectorStats

	flushMu   sync.Mutex
	flushCh   chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewCollector 创建收集器
func NewCollector(config *Config, sinks []Sink, logger *zap.Logger, opts ...Option) *Collector {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 100
	}
	if config.MaxBufferSize < config.BufferSize {
		config.MaxBufferSize = config.BufferSize * 100
	}
	if config.SamplingRate <= 0 || config.SamplingRate > 1 {
		config.SamplingRate = 1
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 10000
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = 10 * time.Second
	}

	c := &Collector{
		config:  config,
		sinks:   sinks,
		chains:  NewChainTracker(),
		perf:    newPerformanceTracker(),
		sample:  rand.Float64,
		now:     time.Now,
		logger:  logger.With(zap.String("component", "telemetry_collector")),
		history: pool.NewRing[TelemetryEvent](config.HistorySize),
		flushCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnEvent 实现 lifecycle.Listener
func (c *Collector) OnEvent(e lifecycle.Event) {
	c.ingest(fromLifecycle(e), linkFromLifecycle(e))
}

// Record 记录一条事件，返回是否通过过滤进入缓冲。
// 事件 ID 与时间未设置时自动补齐，链快照由收集器重新计算。
func (c *Collector) Record(e TelemetryEvent) bool {
	return c.ingest(e, linkFromRecord(&e))
}

func (c *Collector) ingest(e TelemetryEvent, link chainLink) bool {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = c.now()
	}

	upd := c.chains.observe(e.ContractID, e.AgentID, e.EventType, link, e.Timestamp)
	if upd.snapshot != nil {
		e.Chain = upd.snapshot
	}
	c.perf.observe(&e)

	if upd.created && c.config.ChainEvents {
		c.admit(c.chainEvent(lifecycle.EventChainStarted, e.AgentID, upd.snapshot, e.Timestamp))
	}
	ok := c.admit(e)
	if upd.closed && c.config.ChainEvents {
		c.admit(c.chainEvent(lifecycle.EventChainCompleted, e.AgentID, upd.snapshot, e.Timestamp))
	}
	return ok
}

func (c *Collector) chainEvent(t lifecycle.EventType, agentID string, chain *ChainCorrelation, at time.Time) TelemetryEvent {
	return TelemetryEvent{
		EventID:    uuid.NewString(),
		EventType:  t,
		Timestamp:  at,
		AgentID:    agentID,
		ContractID: chain.RootDelegationID,
		Chain:      chain.Clone(),
		Severity:   lifecycle.SeverityInfo,
		Payload:    map[string]any{"chain_status": string(chain.ChainStatus)},
	}
}

// admit 过滤后写入历史与缓冲区
func (c *Collector) admit(e TelemetryEvent) bool {
	if e.Severity < c.config.MinSeverity {
		c.count(func(s *CollectorStats) { s.Filtered++ })
		c.metrics.RecordEventDropped("severity")
		return false
	}
	if c.config.SamplingRate < 1 && c.sample() >= c.config.SamplingRate {
		c.count(func(s *CollectorStats) { s.Sampled++ })
		c.metrics.RecordEventDropped("sampled")
		return false
	}

	c.mu.Lock()
	c.history.Push(e)
	c.buffer = append(c.buffer, e)
	dropped := 0
	if over := len(c.buffer) - c.config.MaxBufferSize; over > 0 {
		c.buffer = append(c.buffer[:0:0], c.buffer[over:]...)
		dropped = over
		c.stats.Dropped += int64(over)
	}
	c.stats.Recorded++
	full := len(c.buffer) >= c.config.BufferSize
	c.mu.Unlock()

	c.metrics.RecordEvent(string(e.EventType))
	for i := 0; i < dropped; i++ {
		c.metrics.RecordEventDropped("buffer_full")
	}
	if full || c.config.FlushInterval == 0 {
		c.signal()
	}
	return true
}

func (c *Collector) count(fn func(*CollectorStats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

func (c *Collector) signal() {
	select {
	case c.flushCh <- struct{}{}:
	default:
	}
}

// Start 启动后台 flush 循环
func (c *Collector) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)
		c.done = make(chan struct{})
		go c.loop(ctx)
		c.logger.Info("telemetry collector started",
			zap.Int("sinks", len(c.sinks)),
			zap.Duration("flush_interval", c.config.FlushInterval),
			zap.Int("buffer_size", c.config.BufferSize),
		)
	})
}

func (c *Collector) loop(ctx context.Context) {
	defer close(c.done)

	var tick <-chan time.Time
	if c.config.FlushInterval > 0 {
		ticker := time.NewTicker(c.config.FlushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			c.flushInBackground(ctx)
		case <-c.flushCh:
			c.flushInBackground(ctx)
		}
	}
}

func (c *Collector) flushInBackground(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, c.config.FlushTimeout)
	defer cancel()
	if err := c.Flush(fctx); err != nil {
		c.logger.Warn("telemetry flush incomplete", zap.Error(err))
	}
}

// Flush 交换缓冲区后将批次并行写入所有 Sink。
// 单个 Sink 失败只会被记录，不影响其他 Sink；返回值汇总失败的 Sink。
func (c *Collector) Flush(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	batch := c.buffer
	c.buffer = nil
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	var (
		g      errgroup.Group
		errMu  sync.Mutex
		errs   []error
		failed int64
	)
	for _, s := range c.sinks {
		g.Go(func() error {
			if err := s.Write(ctx, batch); err != nil {
				c.logger.Error("telemetry sink write failed",
					zap.String("sink", s.Name()),
					zap.Int("events", len(batch)),
					zap.Error(err),
				)
				c.metrics.RecordSinkFailure(s.Name())

				errMu.Lock()
				errs = append(errs, types.NewError(types.ErrSinkWriteFailed,
					fmt.Sprintf("sink %s", s.Name())).WithCause(err))
				failed++
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	c.count(func(s *CollectorStats) {
		s.Flushes++
		s.FlushedEvents += int64(len(batch))
		s.SinkFailures += failed
	})
	c.metrics.RecordFlush(len(batch), time.Since(start))

	c.logger.Debug("telemetry flushed",
		zap.Int("events", len(batch)),
		zap.Int("sinks", len(c.sinks)),
		zap.Duration("duration", time.Since(start)),
	)
	return errors.Join(errs...)
}

// Close 停止后台循环，执行最后一次 flush 并关闭所有 Sink
func (c *Collector) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
			<-c.done
		}
		errs := []error{c.Flush(ctx)}
		for _, s := range c.sinks {
			if cerr := s.Close(); cerr != nil {
				errs = append(errs, fmt.Errorf("close sink %s: %w", s.Name(), cerr))
			}
		}
		err = errors.Join(errs...)
		c.logger.Info("telemetry collector closed")
	})
	return err
}

// Events 返回历史事件，从旧到新
func (c *Collector) Events() []TelemetryEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Items()
}

// Query 按条件查询历史事件
func (c *Collector) Query(filter EventFilter) []TelemetryEvent {
	return filter.Apply(c.Events())
}

// BufferLen 返回尚未 flush 的事件数
func (c *Collector) BufferLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Stats 返回统计信息
func (c *Collector) Stats() CollectorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Chain 返回链快照
func (c *Collector) Chain(rootID string) (*ChainCorrelation, bool) {
	return c.chains.Get(rootID)
}

// Chains 返回所有链快照
func (c *Collector) Chains() []*ChainCorrelation {
	return c.chains.List()
}

// CancelChain 将活跃链标记为 cancelled；已结束的链不受影响
func (c *Collector) CancelChain(rootID string) (*ChainCorrelation, error) {
	snapshot, changed, err := c.chains.Cancel(rootID, c.now())
	if err != nil {
		return nil, err
	}
	if changed && c.config.ChainEvents {
		c.admit(c.chainEvent(lifecycle.EventChainCompleted, "", snapshot, *snapshot.ChainCompletedAt))
	}
	return snapshot, nil
}

// AgentPerformance 返回单个 Agent 的聚合指标
func (c *Collector) AgentPerformance(agentID string) (*AgentPerformance, bool) {
	return c.perf.get(agentID)
}

// AllAgentPerformance 返回所有 Agent 的聚合指标
func (c *Collector) AllAgentPerformance() map[string]*AgentPerformance {
	return c.perf.all()
}

// AnalyzeChain 基于历史事件分析一条链
func (c *Collector) AnalyzeChain(rootID string) (*ChainAnalysis, error) {
	return AnalyzeChain(c.Events(), rootID)
}

// Anomalies 基于历史事件检测异常并计入指标
func (c *Collector) Anomalies(th AnomalyThresholds) []Anomaly {
	anomalies := FindAnomalies(c.Events(), th)
	for _, a := range anomalies {
		c.metrics.RecordAnomaly(string(a.Type), a.Severity.String())
	}
	return anomalies
}

var _ lifecycle.Listener = (*Collector)(nil)
