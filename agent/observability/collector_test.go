package observability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentdelegation/agent/lifecycle"
	"github.com/BaSui01/agentdelegation/internal/metrics"
	"github.com/BaSui01/agentdelegation/types"
)

type failingSink struct {
	calls atomic.Int32
}

func (s *failingSink) Name() string { return "failing" }

func (s *failingSink) Write(context.Context, []TelemetryEvent) error {
	s.calls.Add(1)
	return errors.New("disk full")
}

func (s *failingSink) Close() error { return nil }

func quietConfig() *Config {
	cfg := DefaultConfig()
	cfg.FlushInterval = time.Hour
	cfg.ChainEvents = false
	return cfg
}

func lifecycleEvent(t lifecycle.EventType, contractID, root string, depth int) lifecycle.Event {
	parent := ""
	if contractID != root {
		parent = root
	}
	return lifecycle.Event{
		Type:             t,
		AgentID:          "worker",
		ContractID:       contractID,
		RootContractID:   root,
		ParentContractID: parent,
		Depth:            depth,
		Participants:     []string{"boss", "worker"},
		Severity:         lifecycle.SeverityInfo,
	}
}

func TestCollector_RecordStampsAndCorrelates(t *testing.T) {
	c := NewCollector(quietConfig(), nil, zap.NewNop())

	ok := c.Record(TelemetryEvent{EventType: lifecycle.EventContractCreated, AgentID: "boss", ContractID: "c1", Severity: lifecycle.SeverityInfo})
	require.True(t, ok)

	events := c.Events()
	require.Len(t, events, 1)
	e := events[0]
	assert.NotEmpty(t, e.EventID)
	assert.False(t, e.Timestamp.IsZero())
	require.NotNil(t, e.Chain)
	assert.Equal(t, "c1", e.Chain.RootDelegationID)
	assert.Equal(t, 1, e.Chain.TotalChainContracts)
	assert.Equal(t, ChainActive, e.Chain.ChainStatus)
	assert.Equal(t, 1, c.BufferLen())
}

func TestCollector_SeverityFilter(t *testing.T) {
	cfg := quietConfig()
	cfg.MinSeverity = lifecycle.SeverityWarning
	c := NewCollector(cfg, nil, zap.NewNop())

	assert.False(t, c.Record(TelemetryEvent{EventType: lifecycle.EventProgress, ContractID: "c", Severity: lifecycle.SeverityInfo}))
	assert.True(t, c.Record(TelemetryEvent{EventType: lifecycle.EventContractFailed, ContractID: "c", Severity: lifecycle.SeverityError}))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Filtered)
	assert.Equal(t, int64(1), stats.Recorded)

	// 被过滤的事件仍参与链关联
	chain, ok := c.Chain("c")
	require.True(t, ok)
	assert.Equal(t, 1, chain.TotalChainContracts)
}

func TestCollector_Sampling(t *testing.T) {
	cfg := quietConfig()
	cfg.SamplingRate = 0.5

	var next float64
	c := NewCollector(cfg, nil, zap.NewNop(), WithSampler(func() float64 { return next }))

	next = 0.7
	assert.False(t, c.Record(TelemetryEvent{EventType: lifecycle.EventProgress, ContractID: "c"}))
	next = 0.2
	assert.True(t, c.Record(TelemetryEvent{EventType: lifecycle.EventProgress, ContractID: "c"}))
	assert.Equal(t, int64(1), c.Stats().Sampled)
}

func TestCollector_FlushOnBufferSize(t *testing.T) {
	cfg := quietConfig()
	cfg.BufferSize = 3
	sink := NewMemorySink()
	c := NewCollector(cfg, []Sink{sink}, zap.NewNop())
	c.Start(context.Background())
	defer c.Close(context.Background())

	for i := 0; i < 2; i++ {
		c.Record(TelemetryEvent{EventType: lifecycle.EventProgress, ContractID: "c"})
	}
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sink.Events())

	c.Record(TelemetryEvent{EventType: lifecycle.EventProgress, ContractID: "c"})
	assert.Eventually(t, func() bool { return len(sink.Events()) == 3 }, time.Second, 5*time.Millisecond)
}

func TestCollector_ImmediateFlushWhenIntervalZero(t *testing.T) {
	cfg := quietConfig()
	cfg.FlushInterval = 0
	sink := NewMemorySink()
	c := NewCollector(cfg, []Sink{sink}, zap.NewNop())
	c.Start(context.Background())
	defer c.Close(context.Background())

	c.Record(TelemetryEvent{EventType: lifecycle.EventContractCreated, ContractID: "c"})
	assert.Eventually(t, func() bool { return len(sink.Events()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestCollector_PeriodicFlush(t *testing.T) {
	cfg := quietConfig()
	cfg.FlushInterval = 20 * time.Millisecond
	sink := NewMemorySink()
	c := NewCollector(cfg, []Sink{sink}, zap.NewNop())
	c.Start(context.Background())
	defer c.Close(context.Background())

	c.Record(TelemetryEvent{EventType: lifecycle.EventContractCreated, ContractID: "c"})
	assert.Eventually(t, func() bool { return len(sink.Events()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestCollector_SinkFailureDoesNotAbortFlush(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCollectorWithRegisterer(reg, "test", zap.NewNop())

	bad := &failingSink{}
	good := NewMemorySink()
	c := NewCollector(quietConfig(), []Sink{bad, good}, zap.NewNop(), WithMetrics(m))

	c.Record(TelemetryEvent{EventType: lifecycle.EventContractCreated, ContractID: "c"})
	c.Record(TelemetryEvent{EventType: lifecycle.EventContractAccepted, ContractID: "c"})

	err := c.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrSinkWriteFailed, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "disk full")

	assert.Len(t, good.Events(), 2)
	assert.Equal(t, int32(1), bad.calls.Load())
	assert.Zero(t, c.BufferLen())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Flushes)
	assert.Equal(t, int64(2), stats.FlushedEvents)
	assert.Equal(t, int64(1), stats.SinkFailures)
	count, err := testutil.GatherAndCount(reg, "test_telemetry_sink_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollector_FlushEmptyBufferIsNoop(t *testing.T) {
	sink := NewMemorySink()
	c := NewCollector(quietConfig(), []Sink{sink}, zap.NewNop())
	require.NoError(t, c.Flush(context.Background()))
	assert.Zero(t, sink.Writes())
}

func TestCollector_BufferBoundDropsOldest(t *testing.T) {
	cfg := quietConfig()
	cfg.BufferSize = 2
	cfg.MaxBufferSize = 3
	sink := NewMemorySink()
	c := NewCollector(cfg, []Sink{sink}, zap.NewNop())

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		c.Record(TelemetryEvent{EventID: id, EventType: lifecycle.EventProgress, ContractID: "x"})
	}
	assert.Equal(t, 3, c.BufferLen())
	assert.Equal(t, int64(2), c.Stats().Dropped)

	require.NoError(t, c.Flush(context.Background()))
	var ids []string
	for _, e := range sink.Events() {
		ids = append(ids, e.EventID)
	}
	assert.Equal(t, []string{"c", "d", "e"}, ids)
	assert.Len(t, c.Events(), 5)
}

func TestCollector_ChainLifecycle(t *testing.T) {
	cfg := quietConfig()
	cfg.ChainEvents = true
	c := NewCollector(cfg, nil, zap.NewNop())

	hub := lifecycle.NewHub(zap.NewNop())
	hub.Subscribe(c)

	hub.Publish(lifecycleEvent(lifecycle.EventContractAccepted, "root", "root", 0))
	hub.Publish(lifecycleEvent(lifecycle.EventContractAccepted, "child", "root", 1))
	grandchild := lifecycleEvent(lifecycle.EventContractAccepted, "grandchild", "", 2)
	grandchild.ParentContractID = "child"
	grandchild.AgentID = "helper"
	hub.Publish(grandchild)
	hub.Publish(lifecycleEvent(lifecycle.EventProgress, "child", "root", 1))

	chain, ok := c.Chain("root")
	require.True(t, ok)
	assert.Equal(t, 2, chain.ChainDepth)
	assert.Equal(t, 3, chain.TotalChainContracts)
	assert.Equal(t, []string{"worker", "boss", "helper"}, chain.ChainParticipants)
	assert.Equal(t, ChainActive, chain.ChainStatus)

	root, ok := c.chains.RootOf("grandchild")
	require.True(t, ok)
	assert.Equal(t, "root", root)

	// 子合约失败不影响链状态
	hub.Publish(lifecycleEvent(lifecycle.EventContractFailed, "child", "root", 1))
	chain, _ = c.Chain("root")
	assert.Equal(t, ChainActive, chain.ChainStatus)

	hub.Publish(lifecycleEvent(lifecycle.EventContractCompleted, "root", "root", 0))
	chain, _ = c.Chain("root")
	assert.Equal(t, ChainCompleted, chain.ChainStatus)
	require.NotNil(t, chain.ChainCompletedAt)

	// 终态只迁移一次
	hub.Publish(lifecycleEvent(lifecycle.EventContractFailed, "root", "root", 0))
	chain, _ = c.Chain("root")
	assert.Equal(t, ChainCompleted, chain.ChainStatus)

	started := c.Query(EventFilter{EventTypes: []lifecycle.EventType{lifecycle.EventChainStarted}})
	completed := c.Query(EventFilter{EventTypes: []lifecycle.EventType{lifecycle.EventChainCompleted}})
	assert.Len(t, started, 1)
	assert.Len(t, completed, 1)
}

func TestCollector_InterruptDoesNotAdvanceChain(t *testing.T) {
	c := NewCollector(quietConfig(), nil, zap.NewNop())
	c.OnEvent(lifecycleEvent(lifecycle.EventExecutionStarted, "r", "r", 0))
	c.OnEvent(lifecycleEvent(lifecycle.EventExecutionInterrupted, "r", "r", 0))

	chain, ok := c.Chain("r")
	require.True(t, ok)
	assert.Equal(t, ChainActive, chain.ChainStatus)
}

func TestCollector_CancelChain(t *testing.T) {
	c := NewCollector(quietConfig(), nil, zap.NewNop())
	c.OnEvent(lifecycleEvent(lifecycle.EventContractAccepted, "r", "r", 0))

	chain, err := c.CancelChain("r")
	require.NoError(t, err)
	assert.Equal(t, ChainCancelled, chain.ChainStatus)

	c.OnEvent(lifecycleEvent(lifecycle.EventContractCompleted, "r", "r", 0))
	chain, _ = c.Chain("r")
	assert.Equal(t, ChainCancelled, chain.ChainStatus)

	_, err = c.CancelChain("missing")
	assert.Equal(t, types.ErrChainNotFound, types.GetErrorCode(err))
}

func TestCollector_Query(t *testing.T) {
	c := NewCollector(quietConfig(), nil, zap.NewNop())
	c.OnEvent(lifecycleEvent(lifecycle.EventContractAccepted, "r", "r", 0))
	c.OnEvent(lifecycleEvent(lifecycle.EventContractAccepted, "c1", "r", 1))
	warn := lifecycleEvent(lifecycle.EventRetryAttempted, "c1", "r", 1)
	warn.Severity = lifecycle.SeverityWarning
	c.OnEvent(warn)
	other := lifecycleEvent(lifecycle.EventContractAccepted, "x", "x", 0)
	other.AgentID = "someone"
	c.OnEvent(other)

	assert.Len(t, c.Query(EventFilter{ChainRoot: "r"}), 3)
	assert.Len(t, c.Query(EventFilter{ContractID: "c1"}), 2)
	assert.Len(t, c.Query(EventFilter{AgentID: "someone"}), 1)
	assert.Len(t, c.Query(EventFilter{Severities: []lifecycle.Severity{lifecycle.SeverityWarning}}), 1)

	minDepth := 1
	assert.Len(t, c.Query(EventFilter{MinDepth: &minDepth}), 2)

	limited := c.Query(EventFilter{Limit: 2})
	require.Len(t, limited, 2)
	assert.Equal(t, "x", limited[1].ContractID)

	future := time.Now().Add(time.Hour)
	assert.Empty(t, c.Query(EventFilter{Since: future}))
}

func TestCollector_AgentPerformance(t *testing.T) {
	c := NewCollector(quietConfig(), nil, zap.NewNop())

	accepted := lifecycleEvent(lifecycle.EventContractAccepted, "a", "a", 0)
	accepted.Metrics = &lifecycle.PerformanceMetrics{NegotiationTimeMs: lifecycle.Float(12), Confidence: lifecycle.Float(0.9)}
	c.OnEvent(accepted)

	done := lifecycleEvent(lifecycle.EventContractCompleted, "a", "a", 0)
	done.Metrics = &lifecycle.PerformanceMetrics{ExecutionTimeMs: lifecycle.Float(100), RetryCount: 1}
	c.OnEvent(done)

	failed := lifecycleEvent(lifecycle.EventContractFailed, "b", "b", 0)
	failed.Metrics = &lifecycle.PerformanceMetrics{ExecutionTimeMs: lifecycle.Float(300), RetryCount: 2}
	c.OnEvent(failed)

	perf, ok := c.AgentPerformance("worker")
	require.True(t, ok)
	assert.Equal(t, int64(3), perf.TotalEvents)
	assert.Equal(t, int64(1), perf.ContractsAccepted)
	assert.Equal(t, int64(1), perf.ContractsCompleted)
	assert.Equal(t, int64(1), perf.ContractsFailed)
	assert.InDelta(t, 0.5, perf.SuccessRate, 1e-9)
	assert.InDelta(t, 200, perf.AvgExecutionTimeMs, 1e-9)
	assert.InDelta(t, 12, perf.AvgNegotiationTimeMs, 1e-9)
	assert.InDelta(t, 0.9, perf.AvgConfidence, 1e-9)
	assert.Equal(t, int64(3), perf.TotalRetries)
	assert.InDelta(t, 300, perf.P95ExecutionTimeMs, 1e-9)

	_, ok = c.AgentPerformance("nobody")
	assert.False(t, ok)
	assert.Len(t, c.AllAgentPerformance(), 1)
}

func TestCollector_AnomaliesRecordMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCollectorWithRegisterer(reg, "test", zap.NewNop())
	c := NewCollector(quietConfig(), nil, zap.NewNop(), WithMetrics(m))

	c.OnEvent(lifecycleEvent(lifecycle.EventContractAccepted, "deep", "r", 16))

	anomalies := c.Anomalies(DefaultAnomalyThresholds())
	require.Len(t, anomalies, 1)
	assert.Equal(t, AnomalyExcessiveDepth, anomalies[0].Type)
	count, err := testutil.GatherAndCount(reg, "test_chain_anomalies_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCollector_CloseFlushesAndClosesSinks(t *testing.T) {
	sink := NewMemorySink()
	c := NewCollector(quietConfig(), []Sink{sink}, zap.NewNop())
	c.Start(context.Background())

	c.Record(TelemetryEvent{EventType: lifecycle.EventContractCreated, ContractID: "c"})
	require.NoError(t, c.Close(context.Background()))
	assert.Len(t, sink.Events(), 1)

	// 重复关闭是安全的
	require.NoError(t, c.Close(context.Background()))
}
