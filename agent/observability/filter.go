package observability

import (
	"slices"
	"time"

	"github.com/BaSui01/agentdelegation/agent/lifecycle"
)

// EventFilter 事件查询条件，零值字段不参与过滤
type EventFilter struct {
	AgentID    string                `json:"agent_id,omitempty"`
	ContractID string                `json:"contract_id,omitempty"`
	EventTypes []lifecycle.EventType `json:"event_types,omitempty"`
	Severities []lifecycle.Severity  `json:"severities,omitempty"`
	Since      time.Time             `json:"since,omitempty"`
	Until      time.Time             `json:"until,omitempty"`
	ChainRoot  string                `json:"chain_root,omitempty"`
	MinDepth   *int                  `json:"min_depth,omitempty"`
	MaxDepth   *int                  `json:"max_depth,omitempty"`

	// Limit 限制返回最新的 N 条，0 表示不限制
	Limit int `json:"limit,omitempty"`
}

// Match 判断事件是否满足条件
func (f *EventFilter) Match(e *TelemetryEvent) bool {
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if f.ContractID != "" && e.ContractID != f.ContractID {
		return false
	}
	if len(f.EventTypes) > 0 && !slices.Contains(f.EventTypes, e.EventType) {
		return false
	}
	if len(f.Severities) > 0 && !slices.Contains(f.Severities, e.Severity) {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	if f.ChainRoot != "" && e.RootID() != f.ChainRoot {
		return false
	}
	if f.MinDepth != nil && e.Depth() < *f.MinDepth {
		return false
	}
	if f.MaxDepth != nil && e.Depth() > *f.MaxDepth {
		return false
	}
	return true
}

// Apply 过滤事件并按 Limit 保留最新的若干条，保持原有顺序
func (f *EventFilter) Apply(events []TelemetryEvent) []TelemetryEvent {
	var out []TelemetryEvent
	for i := range events {
		if f.Match(&events[i]) {
			out = append(out, events[i])
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}
