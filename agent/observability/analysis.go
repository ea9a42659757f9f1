package observability

import (
	"fmt"
	"sort"
	"time"

	"github.com/BaSui01/agentdelegation/agent/lifecycle"
	"github.com/BaSui01/agentdelegation/types"
)

// TimelineEntry 链时间线中的一项
type TimelineEntry struct {
	Timestamp  time.Time           `json:"timestamp"`
	EventType  lifecycle.EventType `json:"event_type"`
	AgentID    string              `json:"agent_id"`
	ContractID string              `json:"contract_id"`
	Severity   lifecycle.Severity  `json:"severity"`
	// Depth 事件所属合约的委托深度
	Depth int `json:"depth"`
	// ChainDepth 事件发生时链的最大深度快照
	ChainDepth int `json:"chain_depth"`
}

// ChainAnalysis 单条委托链的分析结果
type ChainAnalysis struct {
	RootDelegationID string   `json:"root_delegation_id"`
	TotalContracts   int      `json:"total_contracts"`
	MaxDepth         int      `json:"max_depth"`
	Participants     []string `json:"participants"`
	DurationMs       int64    `json:"duration_ms"`

	// CompletionEvents 为 0 时 SuccessRate 无意义
	CompletionEvents int     `json:"completion_events"`
	SuccessRate      float64 `json:"success_rate"`

	AvgExecutionTimeMs   float64 `json:"avg_execution_time_ms"`
	AvgNegotiationTimeMs float64 `json:"avg_negotiation_time_ms"`
	AvgConfidence        float64 `json:"avg_confidence"`
	TotalRetries         int     `json:"total_retries"`

	// StatusCounts 每个合约的最终状态分布（无完成事件的计为 active）
	StatusCounts map[string]int `json:"status_counts"`
	// EventCounts 事件类型分布
	EventCounts map[lifecycle.EventType]int `json:"event_counts"`

	Timeline []TimelineEntry `json:"timeline"`
}

// AnalyzeChain 分析根为 rootID 的委托链。没有任何事件属于该链时返回 CHAIN_NOT_FOUND。
func AnalyzeChain(events []TelemetryEvent, rootID string) (*ChainAnalysis, error) {
	var chainEvents []TelemetryEvent
	for i := range events {
		if events[i].RootID() == rootID {
			chainEvents = append(chainEvents, events[i])
		}
	}
	if len(chainEvents) == 0 {
		return nil, types.NewError(types.ErrChainNotFound,
			fmt.Sprintf("no events for chain %s", rootID)).WithHTTPStatus(404)
	}

	sort.SliceStable(chainEvents, func(i, j int) bool {
		return chainEvents[i].Timestamp.Before(chainEvents[j].Timestamp)
	})

	a := &ChainAnalysis{
		RootDelegationID: rootID,
		StatusCounts:     make(map[string]int),
		EventCounts:      make(map[lifecycle.EventType]int),
		Timeline:         make([]TimelineEntry, 0, len(chainEvents)),
	}

	contracts := make(map[string]string)
	var contractOrder []string
	participants := make(map[string]struct{})
	addParticipant := func(id string) {
		if id == "" {
			return
		}
		if _, ok := participants[id]; !ok {
			participants[id] = struct{}{}
			a.Participants = append(a.Participants, id)
		}
	}

	var (
		successes                      int
		execSum, negotiateSum, confSum float64
		execCnt, negotiateCnt, confCnt int
		chainStart, chainEnd           time.Time
	)

	for i := range chainEvents {
		e := &chainEvents[i]

		if e.ContractID != "" {
			if _, ok := contracts[e.ContractID]; !ok {
				contracts[e.ContractID] = string(ChainActive)
				contractOrder = append(contractOrder, e.ContractID)
			}
		}
		if d := max(e.Depth(), e.DelegationDepth); d > a.MaxDepth {
			a.MaxDepth = d
		}
		addParticipant(e.AgentID)
		if e.Chain != nil {
			for _, p := range e.Chain.ChainParticipants {
				addParticipant(p)
			}
		}

		a.EventCounts[e.EventType]++
		switch e.EventType {
		case lifecycle.EventChainStarted:
			if chainStart.IsZero() {
				chainStart = e.Timestamp
			}
		case lifecycle.EventChainCompleted:
			chainEnd = e.Timestamp
		}

		if e.EventType.IsCompletion() {
			a.CompletionEvents++
			if e.EventType == lifecycle.EventContractCompleted {
				successes++
			}
			if e.ContractID != "" {
				contracts[e.ContractID] = completionStatus(e.EventType)
			}
		}

		if pm := e.PerformanceMetrics; pm != nil {
			a.TotalRetries += pm.RetryCount
			if pm.ExecutionTimeMs != nil {
				execSum += *pm.ExecutionTimeMs
				execCnt++
			}
			if pm.NegotiationTimeMs != nil {
				negotiateSum += *pm.NegotiationTimeMs
				negotiateCnt++
			}
			if pm.Confidence != nil {
				confSum += *pm.Confidence
				confCnt++
			}
		}

		a.Timeline = append(a.Timeline, TimelineEntry{
			Timestamp:  e.Timestamp,
			EventType:  e.EventType,
			AgentID:    e.AgentID,
			ContractID: e.ContractID,
			Severity:   e.Severity,
			Depth:      e.DelegationDepth,
			ChainDepth: e.Depth(),
		})
	}

	a.TotalContracts = len(contracts)
	for _, id := range contractOrder {
		a.StatusCounts[contracts[id]]++
	}
	if a.CompletionEvents > 0 {
		a.SuccessRate = float64(successes) / float64(a.CompletionEvents)
	}
	if execCnt > 0 {
		a.AvgExecutionTimeMs = execSum / float64(execCnt)
	}
	if negotiateCnt > 0 {
		a.AvgNegotiationTimeMs = negotiateSum / float64(negotiateCnt)
	}
	if confCnt > 0 {
		a.AvgConfidence = confSum / float64(confCnt)
	}

	start := chainEvents[0].Timestamp
	end := chainEvents[len(chainEvents)-1].Timestamp
	if !chainStart.IsZero() {
		start = chainStart
	}
	if !chainEnd.IsZero() {
		end = chainEnd
	}
	if end.After(start) {
		a.DurationMs = end.Sub(start).Milliseconds()
	}
	return a, nil
}

func completionStatus(t lifecycle.EventType) string {
	switch t {
	case lifecycle.EventContractCompleted:
		return "completed"
	case lifecycle.EventExecutionTimeout:
		return "timeout"
	}
	return "failed"
}

// =============================================================================
// 🎯 异常检测
// =============================================================================

// AnomalyType 异常类型
type AnomalyType string

const (
	AnomalyExcessiveDepth    AnomalyType = "excessive_depth"
	AnomalyExcessiveDuration AnomalyType = "excessive_duration"
	AnomalyLowSuccessRate    AnomalyType = "low_success_rate"
	AnomalyExcessiveRetries  AnomalyType = "excessive_retries"
)

// AnomalyThresholds 异常阈值
type AnomalyThresholds struct {
	MaxDepth       int     `json:"max_depth" yaml:"max_depth"`
	MaxDurationMs  int64   `json:"max_duration_ms" yaml:"max_duration_ms"`
	MinSuccessRate float64 `json:"min_success_rate" yaml:"min_success_rate"`
	MaxRetries     int     `json:"max_retries" yaml:"max_retries"`
}

// DefaultAnomalyThresholds 默认阈值
func DefaultAnomalyThresholds() AnomalyThresholds {
	return AnomalyThresholds{
		MaxDepth:       10,
		MaxDurationMs:  300000,
		MinSuccessRate: 0.8,
		MaxRetries:     5,
	}
}

// Anomaly 一条链上检测到的异常
type Anomaly struct {
	Type             AnomalyType        `json:"type"`
	Severity         lifecycle.Severity `json:"severity"`
	RootDelegationID string             `json:"root_delegation_id"`
	Value            float64            `json:"value"`
	Threshold        float64            `json:"threshold"`
	Message          string             `json:"message"`
}

// FindAnomalies 按链根分组分析事件并标记超出阈值的链。
// 结果按链根、异常类型排序。没有完成类事件的链不参与成功率判断。
func FindAnomalies(events []TelemetryEvent, th AnomalyThresholds) []Anomaly {
	roots := make(map[string]struct{})
	for i := range events {
		if root := events[i].RootID(); root != "" {
			roots[root] = struct{}{}
		}
	}
	ordered := make([]string, 0, len(roots))
	for root := range roots {
		ordered = append(ordered, root)
	}
	sort.Strings(ordered)

	var out []Anomaly
	for _, root := range ordered {
		a, err := AnalyzeChain(events, root)
		if err != nil {
			continue
		}
		out = append(out, checkChain(a, th)...)
	}
	return out
}

func checkChain(a *ChainAnalysis, th AnomalyThresholds) []Anomaly {
	var out []Anomaly
	root := a.RootDelegationID

	if th.MaxDepth > 0 && a.MaxDepth > th.MaxDepth {
		out = append(out, Anomaly{
			Type:             AnomalyExcessiveDepth,
			Severity:         graded(float64(a.MaxDepth) >= 1.5*float64(th.MaxDepth)),
			RootDelegationID: root,
			Value:            float64(a.MaxDepth),
			Threshold:        float64(th.MaxDepth),
			Message:          fmt.Sprintf("chain depth %d exceeds %d", a.MaxDepth, th.MaxDepth),
		})
	}
	if th.MaxDurationMs > 0 && a.DurationMs > th.MaxDurationMs {
		out = append(out, Anomaly{
			Type:             AnomalyExcessiveDuration,
			Severity:         graded(a.DurationMs >= 2*th.MaxDurationMs),
			RootDelegationID: root,
			Value:            float64(a.DurationMs),
			Threshold:        float64(th.MaxDurationMs),
			Message:          fmt.Sprintf("chain duration %dms exceeds %dms", a.DurationMs, th.MaxDurationMs),
		})
	}
	if a.CompletionEvents > 0 && a.SuccessRate < th.MinSuccessRate {
		out = append(out, Anomaly{
			Type:             AnomalyLowSuccessRate,
			Severity:         graded(a.SuccessRate <= 0.5*th.MinSuccessRate),
			RootDelegationID: root,
			Value:            a.SuccessRate,
			Threshold:        th.MinSuccessRate,
			Message:          fmt.Sprintf("chain success rate %.2f below %.2f", a.SuccessRate, th.MinSuccessRate),
		})
	}
	if th.MaxRetries > 0 && a.TotalRetries > th.MaxRetries {
		out = append(out, Anomaly{
			Type:             AnomalyExcessiveRetries,
			Severity:         graded(a.TotalRetries >= 2*th.MaxRetries),
			RootDelegationID: root,
			Value:            float64(a.TotalRetries),
			Threshold:        float64(th.MaxRetries),
			Message:          fmt.Sprintf("chain retried %d times, more than %d", a.TotalRetries, th.MaxRetries),
		})
	}
	return out
}

func graded(critical bool) lifecycle.Severity {
	if critical {
		return lifecycle.SeverityCritical
	}
	return lifecycle.SeverityWarning
}
