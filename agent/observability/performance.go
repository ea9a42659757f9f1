package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/agentdelegation/agent/lifecycle"
	"github.com/BaSui01/agentdelegation/internal/pool"
)

// latencyWindow 每个 Agent 保留的执行耗时样本数
const latencyWindow = 1000

// AgentPerformance Agent 维度的聚合指标
type AgentPerformance struct {
	AgentID string `json:"agent_id"`

	// 计数
	TotalEvents        int64 `json:"total_events"`
	ContractsAccepted  int64 `json:"contracts_accepted"`
	ContractsRejected  int64 `json:"contracts_rejected"`
	ContractsCompleted int64 `json:"contracts_completed"`
	ContractsFailed    int64 `json:"contracts_failed"`
	ContractsTimedOut  int64 `json:"contracts_timed_out"`
	FirebreakTriggers  int64 `json:"firebreak_triggers"`
	TotalRetries       int64 `json:"total_retries"`

	// 成功率（完成类事件中成功的比例）
	SuccessRate float64 `json:"success_rate"`

	// 耗时
	AvgExecutionTimeMs   float64 `json:"avg_execution_time_ms"`
	P50ExecutionTimeMs   float64 `json:"p50_execution_time_ms"`
	P95ExecutionTimeMs   float64 `json:"p95_execution_time_ms"`
	P99ExecutionTimeMs   float64 `json:"p99_execution_time_ms"`
	AvgNegotiationTimeMs float64 `json:"avg_negotiation_time_ms"`

	// 置信度
	AvgConfidence float64 `json:"avg_confidence"`

	// 时间
	FirstEventAt time.Time `json:"first_event_at"`
	LastEventAt  time.Time `json:"last_event_at"`
}

// agentStats 单个 Agent 的累积状态
type agentStats struct {
	perf AgentPerformance

	execSamples  *pool.Ring[float64]
	execSum      float64
	execCount    int64
	negotiateSum float64
	negotiateCnt int64
	confSum      float64
	confCount    int64
}

// performanceTracker 按 Agent 聚合遥测事件
type performanceTracker struct {
	mu     sync.RWMutex
	agents map[string]*agentStats
}

func newPerformanceTracker() *performanceTracker {
	return &performanceTracker{agents: make(map[string]*agentStats)}
}

func (p *performanceTracker) observe(e *TelemetryEvent) {
	if e.AgentID == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.agents[e.AgentID]
	if !ok {
		s = &agentStats{
			perf:        AgentPerformance{AgentID: e.AgentID, FirstEventAt: e.Timestamp},
			execSamples: pool.NewRing[float64](latencyWindow),
		}
		p.agents[e.AgentID] = s
	}

	s.perf.TotalEvents++
	s.perf.LastEventAt = e.Timestamp

	switch e.EventType {
	case lifecycle.EventContractAccepted:
		s.perf.ContractsAccepted++
	case lifecycle.EventContractRejected:
		s.perf.ContractsRejected++
	case lifecycle.EventContractCompleted:
		s.perf.ContractsCompleted++
	case lifecycle.EventContractFailed:
		s.perf.ContractsFailed++
	case lifecycle.EventExecutionTimeout:
		s.perf.ContractsTimedOut++
	case lifecycle.EventFirebreakTriggered:
		s.perf.FirebreakTriggers++
	}

	if pm := e.PerformanceMetrics; pm != nil {
		s.perf.TotalRetries += int64(pm.RetryCount)
		if pm.ExecutionTimeMs != nil {
			s.execSum += *pm.ExecutionTimeMs
			s.execCount++
			s.execSamples.Push(*pm.ExecutionTimeMs)
		}
		if pm.NegotiationTimeMs != nil {
			s.negotiateSum += *pm.NegotiationTimeMs
			s.negotiateCnt++
		}
		if pm.Confidence != nil {
			s.confSum += *pm.Confidence
			s.confCount++
		}
	}
}

func (p *performanceTracker) get(agentID string) (*AgentPerformance, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s, ok := p.agents[agentID]
	if !ok {
		return nil, false
	}
	return s.snapshot(), true
}

func (p *performanceTracker) all() map[string]*AgentPerformance {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make(map[string]*AgentPerformance, len(p.agents))
	for id, s := range p.agents {
		result[id] = s.snapshot()
	}
	return result
}

// snapshot 返回计算好派生字段的副本
func (s *agentStats) snapshot() *AgentPerformance {
	perf := s.perf

	finished := perf.ContractsCompleted + perf.ContractsFailed + perf.ContractsTimedOut
	if finished > 0 {
		perf.SuccessRate = float64(perf.ContractsCompleted) / float64(finished)
	}
	if s.execCount > 0 {
		perf.AvgExecutionTimeMs = s.execSum / float64(s.execCount)
	}
	if s.negotiateCnt > 0 {
		perf.AvgNegotiationTimeMs = s.negotiateSum / float64(s.negotiateCnt)
	}
	if s.confCount > 0 {
		perf.AvgConfidence = s.confSum / float64(s.confCount)
	}

	samples := s.execSamples.Items()
	sort.Float64s(samples)
	perf.P50ExecutionTimeMs = percentile(samples, 0.5)
	perf.P95ExecutionTimeMs = percentile(samples, 0.95)
	perf.P99ExecutionTimeMs = percentile(samples, 0.99)
	return &perf
}

// percentile 对已排序样本取对应位置
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
