package observability

import (
	"time"

	"github.com/BaSui01/agentdelegation/agent/lifecycle"
)

// ChainStatus 委托链状态
type ChainStatus string

const (
	ChainActive    ChainStatus = "active"
	ChainCompleted ChainStatus = "completed"
	ChainFailed    ChainStatus = "failed"
	ChainCancelled ChainStatus = "cancelled"
)

// IsTerminal 是否为终态
func (s ChainStatus) IsTerminal() bool {
	return s == ChainCompleted || s == ChainFailed || s == ChainCancelled
}

// ChainCorrelation 一棵委托树的关联记录
type ChainCorrelation struct {
	RootDelegationID    string      `json:"root_delegation_id"`
	ParentDelegationID  string      `json:"parent_delegation_id,omitempty"`
	ChainDepth          int         `json:"chain_depth"`
	TotalChainContracts int         `json:"total_chain_contracts"`
	ChainParticipants   []string    `json:"chain_participants"`
	ChainStartedAt      time.Time   `json:"chain_started_at"`
	ChainCompletedAt    *time.Time  `json:"chain_completed_at,omitempty"`
	ChainStatus         ChainStatus `json:"chain_status"`
}

// Clone 深拷贝
func (c *ChainCorrelation) Clone() *ChainCorrelation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.ChainParticipants = append([]string(nil), c.ChainParticipants...)
	if c.ChainCompletedAt != nil {
		t := *c.ChainCompletedAt
		cp.ChainCompletedAt = &t
	}
	return &cp
}

// TelemetryEvent 不可变的遥测事件
type TelemetryEvent struct {
	EventID            string                        `json:"event_id"`
	EventType          lifecycle.EventType           `json:"event_type"`
	Timestamp          time.Time                     `json:"timestamp"`
	AgentID            string                        `json:"agent_id"`
	ContractID         string                        `json:"contract_id"`
	ExecutionID        string                        `json:"execution_id,omitempty"`
	DelegationDepth    int                           `json:"delegation_depth,omitempty"`
	Chain              *ChainCorrelation             `json:"chain,omitempty"`
	Severity           lifecycle.Severity            `json:"severity"`
	Payload            map[string]any                `json:"payload,omitempty"`
	PerformanceMetrics *lifecycle.PerformanceMetrics `json:"performance_metrics,omitempty"`
}

// RootID 返回事件所属链的根合约 ID
func (e *TelemetryEvent) RootID() string {
	if e.Chain != nil {
		return e.Chain.RootDelegationID
	}
	return ""
}

// Depth 返回事件发生时的链深度快照，即链上已观测到的最大合约深度。
// 事件所属合约自身的深度见 DelegationDepth。
func (e *TelemetryEvent) Depth() int {
	if e.Chain != nil {
		return e.Chain.ChainDepth
	}
	return 0
}

// chainLink 事件携带的链定位信息
type chainLink struct {
	root         string
	parent       string
	depth        int
	participants []string
}

func linkFromLifecycle(e lifecycle.Event) chainLink {
	return chainLink{
		root:         e.RootContractID,
		parent:       e.ParentContractID,
		depth:        e.Depth,
		participants: e.Participants,
	}
}

// linkFromRecord 外部记录的事件以链快照定位，合约深度更大时以其为准
func linkFromRecord(e *TelemetryEvent) chainLink {
	link := chainLink{depth: e.DelegationDepth}
	if c := e.Chain; c != nil {
		link.root = c.RootDelegationID
		link.parent = c.ParentDelegationID
		link.participants = c.ChainParticipants
		if c.ChainDepth > link.depth {
			link.depth = c.ChainDepth
		}
	}
	return link
}

func fromLifecycle(e lifecycle.Event) TelemetryEvent {
	return TelemetryEvent{
		EventType:          e.Type,
		Timestamp:          e.Timestamp,
		AgentID:            e.AgentID,
		ContractID:         e.ContractID,
		ExecutionID:        e.ExecutionID,
		DelegationDepth:    e.Depth,
		Severity:           e.Severity,
		Payload:            e.Payload,
		PerformanceMetrics: e.Metrics,
	}
}
