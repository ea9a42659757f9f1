package admission

import (
	"time"

	"github.com/BaSui01/agentdelegation/agent/contract"
	"github.com/BaSui01/agentdelegation/types"
)

// Gate names an admission gate.
type Gate string

const (
	GateValidation  Gate = "validation"
	GateRegistry    Gate = "registry"
	GateConcurrency Gate = "concurrency"
	GateReputation  Gate = "reputation"
	GatePermission  Gate = "permission"
	GateFirebreak   Gate = "firebreak"
	GateResources   Gate = "resources"
	GateCapability  Gate = "capability"
	GateTimeout     Gate = "timeout"
)

// Assessment holds the component scores behind a decision.
type Assessment struct {
	CapabilityMatch      float64 `json:"capability_match"`
	ResourceAvailability float64 `json:"resource_availability"`
	WorkloadCapacity     float64 `json:"workload_capacity"`
	ReputationCompliance float64 `json:"reputation_compliance"`
	FirebreakCompliance  float64 `json:"firebreak_compliance"`
	Reputation           float64 `json:"reputation"`
	TimeRatio            float64 `json:"time_ratio"`
}

// Decision is the outcome of an admission evaluation.
type Decision struct {
	ContractID            string     `json:"contract_id"`
	AgentID               string     `json:"agent_id"`
	CanAccept             bool       `json:"can_accept"`
	Confidence            float64    `json:"confidence"`
	EstimatedCompletionMs int64      `json:"estimated_completion_ms"`
	Reason                string     `json:"reason,omitempty"`
	Gate                  Gate       `json:"gate,omitempty"`
	Assessment            Assessment `json:"assessment"`

	// TriggeredFirebreaks lists every firebreak that tripped, including a
	// human review with notify that did not block acceptance.
	TriggeredFirebreaks []contract.FirebreakType `json:"triggered_firebreaks,omitempty"`

	EvaluatedAt time.Time     `json:"evaluated_at"`
	Duration    time.Duration `json:"duration_ns"`
}

// Err returns an ADMISSION_REJECTED error for a rejected decision, nil
// otherwise.
func (d *Decision) Err() error {
	if d.CanAccept {
		return nil
	}
	return types.NewError(types.ErrAdmissionRejected, d.Reason).WithHTTPStatus(422)
}

func (d *Decision) reject(gate Gate, reason string) *Decision {
	d.CanAccept = false
	d.Confidence = 0
	d.Gate = gate
	d.Reason = reason
	return d
}
