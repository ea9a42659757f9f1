package execution

import "time"

// Phase is a stage of a delegation whose progress is reported.
type Phase string

const (
	PhaseNegotiation  Phase = "negotiation"
	PhaseExecution    Phase = "execution"
	PhaseVerification Phase = "verification"
)

// CheckpointDef is a named milestone reached at a percentage threshold.
type CheckpointDef struct {
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold"`
}

var checkpointTable = map[Phase][]CheckpointDef{
	PhaseNegotiation: {
		{Name: "contract_validation", Threshold: 25},
		{Name: "capability_assessment", Threshold: 50},
		{Name: "resource_allocation", Threshold: 75},
		{Name: "contract_accepted", Threshold: 100},
	},
	PhaseExecution: {
		{Name: "task_started", Threshold: 25},
		{Name: "halfway_milestone", Threshold: 50},
		{Name: "near_completion", Threshold: 75},
		{Name: "task_completed", Threshold: 100},
	},
	PhaseVerification: {
		{Name: "output_validated", Threshold: 50},
		{Name: "verification_complete", Threshold: 100},
	},
}

// Checkpoints returns the checkpoint table for phase in threshold order.
func Checkpoints(phase Phase) []CheckpointDef {
	return append([]CheckpointDef(nil), checkpointTable[phase]...)
}

// CompletedCheckpoints returns the checkpoints of phase whose threshold is
// at or below pct.
func CompletedCheckpoints(phase Phase, pct float64) []CheckpointDef {
	var out []CheckpointDef
	for _, def := range checkpointTable[phase] {
		if def.Threshold <= pct {
			out = append(out, def)
		}
	}
	return out
}

// Checkpoint is a milestone reached by an execution.
type Checkpoint struct {
	Phase     Phase     `json:"phase"`
	Name      string    `json:"name"`
	Threshold float64   `json:"threshold"`
	ReachedAt time.Time `json:"reached_at"`
}

// ProgressReporter receives (phase, percentage) progress updates.
// Percentages are in [0,100].
type ProgressReporter interface {
	Report(phase Phase, pct float64)
}
