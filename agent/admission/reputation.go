package admission

import (
	"sync"
	"time"

	"github.com/BaSui01/agentdelegation/internal/pool"
)

// DefaultReputationWindow is the number of recent outcomes a reputation
// score is computed over.
const DefaultReputationWindow = 20

// NeutralReputation is reported for agents with no recorded outcomes.
const NeutralReputation = 0.5

// Outcome is one completed task as seen by the reputation tracker.
type Outcome struct {
	ContractID string `json:"contract_id,omitempty"`
	Success    bool   `json:"success"`

	// VerificationQuality is the verifier's quality score in [0,1]. Nil
	// means the result was not verified; success then counts as 1 and
	// failure as 0.
	VerificationQuality *float64  `json:"verification_quality,omitempty"`
	CompletedAt         time.Time `json:"completed_at"`
}

func (o Outcome) quality() float64 {
	if o.VerificationQuality != nil {
		return clamp01(*o.VerificationQuality)
	}
	if o.Success {
		return 1
	}
	return 0
}

// ReputationSnapshot is a point-in-time view of one agent's reputation.
type ReputationSnapshot struct {
	Score               float64 `json:"score"`
	SuccessRate         float64 `json:"success_rate"`
	MeanQuality         float64 `json:"mean_quality"`
	Samples             int     `json:"samples"`
	TasksCompleted      int     `json:"tasks_completed"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
}

// ReputationSource reports an agent's rolling reputation.
type ReputationSource interface {
	Snapshot(agentID string) ReputationSnapshot
}

type agentHistory struct {
	recent              *pool.Ring[Outcome]
	tasksCompleted      int
	consecutiveFailures int
}

// ReputationTracker keeps a bounded outcome window per agent. Score is
// 0.7 x success rate + 0.3 x mean verification quality over the window.
type ReputationTracker struct {
	window int

	mu     sync.RWMutex
	agents map[string]*agentHistory
}

// NewReputationTracker creates a tracker. window <= 0 uses the default.
func NewReputationTracker(window int) *ReputationTracker {
	if window <= 0 {
		window = DefaultReputationWindow
	}
	return &ReputationTracker{
		window: window,
		agents: make(map[string]*agentHistory),
	}
}

// Record appends an outcome for agentID.
func (t *ReputationTracker) Record(agentID string, o Outcome) {
	if o.CompletedAt.IsZero() {
		o.CompletedAt = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.agents[agentID]
	if !ok {
		h = &agentHistory{recent: pool.NewRing[Outcome](t.window)}
		t.agents[agentID] = h
	}
	h.recent.Push(o)
	if o.Success {
		h.tasksCompleted++
		h.consecutiveFailures = 0
	} else {
		h.consecutiveFailures++
	}
}

// Snapshot returns the agent's current reputation. Unknown agents get a
// neutral score and zero counters.
func (t *ReputationTracker) Snapshot(agentID string) ReputationSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.agents[agentID]
	if !ok || h.recent.Len() == 0 {
		return ReputationSnapshot{Score: NeutralReputation}
	}

	var successes int
	var quality float64
	for _, o := range h.recent.Items() {
		if o.Success {
			successes++
		}
		quality += o.quality()
	}
	n := float64(h.recent.Len())
	rate := float64(successes) / n
	meanQ := quality / n

	return ReputationSnapshot{
		Score:               clamp01(0.7*rate + 0.3*meanQ),
		SuccessRate:         rate,
		MeanQuality:         meanQ,
		Samples:             h.recent.Len(),
		TasksCompleted:      h.tasksCompleted,
		ConsecutiveFailures: h.consecutiveFailures,
	}
}

// Reset drops all history for agentID.
func (t *ReputationTracker) Reset(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.agents, agentID)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
