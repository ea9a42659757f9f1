package discovery

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/BaSui01/agentdelegation/internal/pool"
	"go.uber.org/zap"
)

// TaskOutcome is one completed task as seen by self-assessment.
type TaskOutcome struct {
	// TaskDescription is matched against capability patterns.
	TaskDescription string `json:"task_description"`

	// CapabilityID, when set, attributes the outcome directly.
	CapabilityID string `json:"capability_id,omitempty"`

	Success      bool      `json:"success"`
	QualityScore float64   `json:"quality_score"`
	DurationMs   int64     `json:"duration_ms"`
	CompletedAt  time.Time `json:"completed_at"`
}

// AssessmentEvent records a significant confidence change.
type AssessmentEvent struct {
	AgentID       string    `json:"agent_id"`
	CapabilityID  string    `json:"capability_id"`
	OldConfidence float64   `json:"old_confidence"`
	NewConfidence float64   `json:"new_confidence"`
	Delta         float64   `json:"delta"`
	SuccessRate   float64   `json:"success_rate"`
	SampleSize    int       `json:"sample_size"`
	Timestamp     time.Time `json:"timestamp"`
}

// AssessmentHandler receives significant assessment events.
type AssessmentHandler func(event AssessmentEvent)

// AssessorConfig tunes self-assessment.
type AssessorConfig struct {
	// Window is how many recent matched outcomes are considered per capability.
	Window int `json:"window" yaml:"window"`

	// OutcomeHistory bounds the per-agent outcome history.
	OutcomeHistory int `json:"outcome_history" yaml:"outcome_history"`

	// ConfidenceHistory bounds the per-capability change history.
	ConfidenceHistory int `json:"confidence_history" yaml:"confidence_history"`

	// RaiseAbove and LowerBelow are the success-rate bands.
	RaiseAbove float64 `json:"raise_above" yaml:"raise_above"`
	LowerBelow float64 `json:"lower_below" yaml:"lower_below"`

	// RaiseStep and LowerStep are the confidence adjustments.
	RaiseStep float64 `json:"raise_step" yaml:"raise_step"`
	LowerStep float64 `json:"lower_step" yaml:"lower_step"`

	// Floor is the lowest confidence self-assessment will set.
	Floor float64 `json:"floor" yaml:"floor"`

	// SignificanceThreshold is the |delta| that must be exceeded for an
	// event to be emitted and recorded.
	SignificanceThreshold float64 `json:"significance_threshold" yaml:"significance_threshold"`

	// Matcher attributes outcomes without a CapabilityID.
	Matcher TaskMatcher `json:"-" yaml:"-"`
}

// DefaultAssessorConfig returns the standard assessment bands.
func DefaultAssessorConfig() *AssessorConfig {
	return &AssessorConfig{
		Window:                10,
		OutcomeHistory:        200,
		ConfidenceHistory:     50,
		RaiseAbove:            0.9,
		LowerBelow:            0.7,
		RaiseStep:             0.05,
		LowerStep:             0.1,
		Floor:                 0.1,
		SignificanceThreshold: 0.1,
	}
}

// Assessor adjusts capability confidence from recent task outcomes.
type Assessor struct {
	registry *CapabilityRegistry
	config   *AssessorConfig
	matcher  TaskMatcher

	mu       sync.Mutex
	outcomes map[string]*pool.Ring[TaskOutcome]
	history  map[string]*pool.Ring[AssessmentEvent]

	handlerMu sync.RWMutex
	handlers  []AssessmentHandler

	logger *zap.Logger
}

// NewAssessor creates an assessor bound to a registry.
func NewAssessor(registry *CapabilityRegistry, config *AssessorConfig, logger *zap.Logger) *Assessor {
	if config == nil {
		config = DefaultAssessorConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	matcher := config.Matcher
	if matcher == nil {
		matcher = NewPatternMatcher()
	}
	return &Assessor{
		registry: registry,
		config:   config,
		matcher:  matcher,
		outcomes: make(map[string]*pool.Ring[TaskOutcome]),
		history:  make(map[string]*pool.Ring[AssessmentEvent]),
		logger:   logger.With(zap.String("component", "capability_assessor")),
	}
}

// OnSignificantChange registers a handler for significant changes.
func (a *Assessor) OnSignificantChange(h AssessmentHandler) {
	a.handlerMu.Lock()
	defer a.handlerMu.Unlock()
	a.handlers = append(a.handlers, h)
}

// RecordOutcome appends an outcome to the agent's bounded history.
func (a *Assessor) RecordOutcome(agentID string, outcome TaskOutcome) {
	if outcome.CompletedAt.IsZero() {
		outcome.CompletedAt = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ring, ok := a.outcomes[agentID]
	if !ok {
		ring = pool.NewRing[TaskOutcome](a.config.OutcomeHistory)
		a.outcomes[agentID] = ring
	}
	ring.Push(outcome)
}

// Assess re-evaluates every capability of an agent. The new confidence is
// always applied; events are returned (and delivered to handlers) only for
// changes whose magnitude exceeds the significance threshold.
func (a *Assessor) Assess(ctx context.Context, agentID string) ([]AssessmentEvent, error) {
	manifest, err := a.registry.GetManifest(ctx, agentID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	var recent []TaskOutcome
	if ring, ok := a.outcomes[agentID]; ok {
		recent = ring.Items()
	}
	a.mu.Unlock()

	var events []AssessmentEvent
	for i := range manifest.Capabilities {
		c := &manifest.Capabilities[i]
		sample := a.recentMatches(recent, c)
		if len(sample) == 0 {
			continue
		}

		successes := 0
		for _, o := range sample {
			if o.Success {
				successes++
			}
		}
		rate := float64(successes) / float64(len(sample))

		next := a.adjust(c.ConfidenceLevel, rate)
		if next == c.ConfidenceLevel {
			continue
		}

		old, err := a.registry.setConfidence(agentID, c.CapabilityID, next, true)
		if err != nil {
			return events, fmt.Errorf("apply assessment for %s/%s: %w", agentID, c.CapabilityID, err)
		}

		delta := next - old
		if !a.significant(delta) {
			continue
		}

		ev := AssessmentEvent{
			AgentID:       agentID,
			CapabilityID:  c.CapabilityID,
			OldConfidence: old,
			NewConfidence: next,
			Delta:         delta,
			SuccessRate:   rate,
			SampleSize:    len(sample),
			Timestamp:     time.Now(),
		}
		a.appendHistory(ev)
		events = append(events, ev)

		a.logger.Info("capability confidence changed",
			zap.String("agent_id", agentID),
			zap.String("capability_id", c.CapabilityID),
			zap.Float64("old", old),
			zap.Float64("new", next),
			zap.Float64("success_rate", rate),
		)
	}

	a.handlerMu.RLock()
	handlers := append([]AssessmentHandler(nil), a.handlers...)
	a.handlerMu.RUnlock()
	for _, ev := range events {
		for _, h := range handlers {
			h(ev)
		}
	}
	return events, nil
}

// History returns the recorded significant changes for one capability,
// oldest first.
func (a *Assessor) History(agentID, capabilityID string) []AssessmentEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	ring, ok := a.history[historyKey(agentID, capabilityID)]
	if !ok {
		return nil
	}
	return ring.Items()
}

// recentMatches returns up to Window of the newest outcomes attributed to c.
func (a *Assessor) recentMatches(outcomes []TaskOutcome, c *Capability) []TaskOutcome {
	window := a.config.Window
	if window <= 0 {
		window = 10
	}
	var out []TaskOutcome
	for i := len(outcomes) - 1; i >= 0 && len(out) < window; i-- {
		o := outcomes[i]
		if o.CapabilityID == c.CapabilityID || (o.CapabilityID == "" && a.matcher.Match(o.TaskDescription, c)) {
			out = append(out, o)
		}
	}
	return out
}

func (a *Assessor) adjust(current, rate float64) float64 {
	switch {
	case rate > a.config.RaiseAbove:
		return math.Min(1, round9(current+a.config.RaiseStep))
	case rate < a.config.LowerBelow:
		lowered := round9(current - a.config.LowerStep)
		if lowered < a.config.Floor {
			lowered = a.config.Floor
		}
		return lowered
	}
	return current
}

func (a *Assessor) significant(delta float64) bool {
	return round9(math.Abs(delta)) > round9(a.config.SignificanceThreshold)
}

func (a *Assessor) appendHistory(ev AssessmentEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := historyKey(ev.AgentID, ev.CapabilityID)
	ring, ok := a.history[key]
	if !ok {
		ring = pool.NewRing[AssessmentEvent](a.config.ConfidenceHistory)
		a.history[key] = ring
	}
	ring.Push(ev)
}

func historyKey(agentID, capabilityID string) string {
	return agentID + "/" + capabilityID
}

// round9 rounds to 1e-9 so repeated float steps compare exactly.
func round9(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}
