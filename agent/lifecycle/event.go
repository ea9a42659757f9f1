package lifecycle

import (
	"fmt"
	"strings"
	"time"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	EventContractCreated      EventType = "contract_created"
	EventContractAccepted     EventType = "contract_accepted"
	EventContractRejected     EventType = "contract_rejected"
	EventExecutionStarted     EventType = "execution_started"
	EventProgress             EventType = "progress"
	EventCheckpointReached    EventType = "checkpoint_reached"
	EventRetryAttempted       EventType = "retry_attempted"
	EventContractCompleted    EventType = "contract_completed"
	EventContractFailed       EventType = "contract_failed"
	EventExecutionTimeout     EventType = "execution_timeout"
	EventExecutionInterrupted EventType = "execution_interrupted"
	EventFirebreakTriggered   EventType = "firebreak_triggered"
	EventConfidenceUpdated    EventType = "confidence_updated"
	EventChainStarted         EventType = "chain_started"
	EventChainCompleted       EventType = "chain_completed"
)

// IsCompletion reports whether the event closes out a contract's execution.
func (t EventType) IsCompletion() bool {
	switch t {
	case EventContractCompleted, EventContractFailed, EventExecutionTimeout:
		return true
	}
	return false
}

// Severity is an ordinal event severity.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = [...]string{"debug", "info", "warning", "error", "critical"}

// String returns the lowercase severity name.
func (s Severity) String() string {
	if s < SeverityDebug || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity parses a severity name. "warn" is accepted for warning.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return SeverityDebug, nil
	case "info", "":
		return SeverityInfo, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	case "critical":
		return SeverityCritical, nil
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// PerformanceMetrics carries optional measurements attached to an event.
// Nil pointer fields are absent and excluded from averages.
type PerformanceMetrics struct {
	ExecutionTimeMs   *float64 `json:"execution_time_ms,omitempty"`
	NegotiationTimeMs *float64 `json:"negotiation_time_ms,omitempty"`
	Confidence        *float64 `json:"confidence,omitempty"`
	RetryCount        int      `json:"retry_count,omitempty"`
	MemoryBytes       uint64   `json:"memory_bytes,omitempty"`
	CPUTimeMs         float64  `json:"cpu_time_ms,omitempty"`
	NetworkBytes      int64    `json:"network_bytes,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Event is a single lifecycle notification.
type Event struct {
	Type        EventType `json:"event_type"`
	AgentID     string    `json:"agent_id"`
	ContractID  string    `json:"contract_id"`
	ExecutionID string    `json:"execution_id,omitempty"`

	// Chain placement of the contract at emit time.
	RootContractID   string   `json:"root_contract_id,omitempty"`
	ParentContractID string   `json:"parent_contract_id,omitempty"`
	Depth            int      `json:"delegation_depth"`
	Participants     []string `json:"participants,omitempty"`

	Severity  Severity            `json:"severity"`
	Payload   map[string]any      `json:"payload,omitempty"`
	Metrics   *PerformanceMetrics `json:"performance_metrics,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}
