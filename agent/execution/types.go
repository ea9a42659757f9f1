package execution

import (
	"time"

	"github.com/BaSui01/agentdelegation/agent/contract"
	"github.com/BaSui01/agentdelegation/types"
)

// Status is the state of one execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// IsTerminal reports whether the execution has finished.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimeout
}

// ResourceUsage is a snapshot of resources consumed by an execution.
type ResourceUsage struct {
	MemoryBytes  uint64  `json:"memory_bytes"`
	CPUTimeMs    float64 `json:"cpu_time_ms"`
	NetworkBytes int64   `json:"network_bytes"`
	Goroutines   int     `json:"goroutines"`
}

// ExecutionContext is the observable state of a running or finished task.
type ExecutionContext struct {
	ExecutionID     string         `json:"execution_id"`
	ContractID      string         `json:"contract_id"`
	AgentID         string         `json:"agent_id"`
	TaskDescription string         `json:"task_description"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	Status          Status         `json:"status"`
	Progress        float64        `json:"progress"`
	Attempt         int            `json:"attempt"`
	Checkpoints     []Checkpoint   `json:"checkpoints"`
	Usage           ResourceUsage  `json:"resource_usage"`
	Interrupted     bool           `json:"interrupted,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     time.Time      `json:"completed_at,omitempty"`
}

func (e *ExecutionContext) clone() *ExecutionContext {
	cp := *e
	cp.Checkpoints = append([]Checkpoint(nil), e.Checkpoints...)
	if e.Parameters != nil {
		cp.Parameters = make(map[string]any, len(e.Parameters))
		for k, v := range e.Parameters {
			cp.Parameters[k] = v
		}
	}
	return &cp
}

// ResultError is the structured error carried by a failed result.
type ResultError struct {
	Code      types.ErrorCode `json:"code"`
	Message   string          `json:"message"`
	Retryable bool            `json:"retryable"`
	Attempts  int             `json:"attempts"`
}

// ResultMetrics are the measurements of a finished execution.
type ResultMetrics struct {
	ExecutionTimeMs float64 `json:"execution_time_ms"`
	MemoryBytes     uint64  `json:"memory_bytes"`
	CPUTimeMs       float64 `json:"cpu_time_ms"`
	NetworkBytes    int64   `json:"network_bytes"`
	Attempts        int     `json:"attempts"`
	Retries         int     `json:"retries"`
}

// VerificationResult is a verifier's verdict on a result.
type VerificationResult struct {
	Verified     bool                        `json:"verified"`
	Method       contract.VerificationPolicy `json:"method"`
	QualityScore float64                     `json:"quality_score"`
	Findings     []string                    `json:"findings,omitempty"`
	VerifiedAt   time.Time                   `json:"verified_at"`
}

// ExecutionResult is the outcome of Engine.Execute.
type ExecutionResult struct {
	ExecutionID  string              `json:"execution_id"`
	ContractID   string              `json:"contract_id"`
	AgentID      string              `json:"agent_id"`
	Status       Status              `json:"status"`
	Success      bool                `json:"success"`
	Output       any                 `json:"output,omitempty"`
	Error        *ResultError        `json:"error,omitempty"`
	Metrics      ResultMetrics       `json:"metrics"`
	Verification *VerificationResult `json:"verification,omitempty"`
	Checkpoints  []Checkpoint        `json:"checkpoints,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	CompletedAt  time.Time           `json:"completed_at"`
}

// ExecutorStats tracks execution statistics.
type ExecutorStats struct {
	TotalExecutions       int64         `json:"total_executions"`
	SuccessExecutions     int64         `json:"success_executions"`
	FailedExecutions      int64         `json:"failed_executions"`
	TimeoutExecutions     int64         `json:"timeout_executions"`
	InterruptedExecutions int64         `json:"interrupted_executions"`
	TotalRetries          int64         `json:"total_retries"`
	TotalDuration         time.Duration `json:"total_duration"`
}
