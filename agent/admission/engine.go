package admission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentdelegation/agent/contract"
	"github.com/BaSui01/agentdelegation/agent/discovery"
	"github.com/BaSui01/agentdelegation/agent/lifecycle"
	"github.com/BaSui01/agentdelegation/internal/metrics"
	"github.com/BaSui01/agentdelegation/types"
)

const instrumentationName = "github.com/BaSui01/agentdelegation/agent/admission"

// ManifestSource provides read-only manifest snapshots.
type ManifestSource interface {
	GetManifest(ctx context.Context, agentID string) (*discovery.CapabilityManifest, error)
}

// Config tunes admission scoring.
type Config struct {
	// ResourceLimits caps what one contract may request. Zero entries are
	// unlimited and do not contribute to resource availability.
	ResourceLimits types.ResourceRequirements `json:"resource_limits" yaml:"resource_limits"`

	// ComplexityThreshold and ComplexityPenalty: confidence is multiplied by
	// (1 - penalty) when estimated complexity exceeds the threshold.
	ComplexityThreshold int     `json:"complexity_threshold" yaml:"complexity_threshold"`
	ComplexityPenalty   float64 `json:"complexity_penalty" yaml:"complexity_penalty"`

	// TimeRatioThreshold: above this estimate/timeout ratio confidence is
	// multiplied by 1 - (ratio - threshold).
	TimeRatioThreshold float64 `json:"time_ratio_threshold" yaml:"time_ratio_threshold"`

	Estimator DurationEstimator `json:"-" yaml:"-"`
}

// DefaultConfig returns the standard admission configuration.
func DefaultConfig() *Config {
	return &Config{
		ResourceLimits: types.ResourceRequirements{
			MemoryMB:    4096,
			CPUCores:    4,
			NetworkMbps: 100,
			StorageMB:   10240,
			APICalls:    1000,
		},
		ComplexityThreshold: 7,
		ComplexityPenalty:   0.1,
		TimeRatioThreshold:  0.8,
		Estimator:           DefaultEstimator(),
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets the lifecycle publisher for firebreak events.
func WithPublisher(p lifecycle.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithMetrics sets the Prometheus collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides time.Now, used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine evaluates contracts against a delegatee's manifest and reputation.
type Engine struct {
	manifests  ManifestSource
	reputation ReputationSource
	config     *Config
	estimator  DurationEstimator

	publisher lifecycle.Publisher
	metrics   *metrics.Collector
	tracer    trace.Tracer
	now       func() time.Time

	logger *zap.Logger
}

// NewEngine creates an admission engine. A nil reputation source treats
// every agent as having no history.
func NewEngine(manifests ManifestSource, reputation ReputationSource, config *Config, logger *zap.Logger, opts ...Option) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if reputation == nil {
		reputation = NewReputationTracker(0)
	}
	estimator := config.Estimator
	if estimator == nil {
		estimator = DefaultEstimator()
	}

	e := &Engine{
		manifests:  manifests,
		reputation: reputation,
		config:     config,
		estimator:  estimator,
		publisher:  lifecycle.Nop,
		tracer:     otel.Tracer(instrumentationName),
		now:        time.Now,
		logger:     logger.With(zap.String("component", "admission_engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate returns the engine's duration estimate for c.
func (e *Engine) Estimate(c *contract.DelegationContract) time.Duration {
	return e.estimator.Estimate(c)
}

// Evaluate runs every gate against the contract's delegatee. It never
// returns an error: failures are rejections.
func (e *Engine) Evaluate(ctx context.Context, c *contract.DelegationContract) *Decision {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "admission.evaluate",
		trace.WithAttributes(
			attribute.String("contract.id", c.ContractID),
			attribute.String("agent.id", c.DelegateeAgentID),
			attribute.Int("contract.depth", c.Metadata.DelegationDepth),
		))
	defer span.End()

	d := e.evaluate(ctx, c, start)
	d.EvaluatedAt = start
	d.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Bool("admission.accepted", d.CanAccept),
		attribute.Float64("admission.confidence", d.Confidence),
		attribute.Int64("admission.estimated_ms", d.EstimatedCompletionMs),
	)
	if !d.CanAccept {
		span.SetAttributes(attribute.String("admission.gate", string(d.Gate)))
		span.SetStatus(codes.Error, d.Reason)
	}

	e.metrics.RecordAdmission(d.AgentID, d.CanAccept, string(d.Gate), d.Confidence)

	if d.CanAccept {
		e.logger.Debug("contract admitted",
			zap.String("contract_id", c.ContractID),
			zap.String("agent_id", d.AgentID),
			zap.Float64("confidence", d.Confidence),
		)
	} else {
		e.logger.Info("contract rejected",
			zap.String("contract_id", c.ContractID),
			zap.String("agent_id", d.AgentID),
			zap.String("gate", string(d.Gate)),
			zap.String("reason", d.Reason),
		)
	}
	return d
}

func (e *Engine) evaluate(ctx context.Context, c *contract.DelegationContract, now time.Time) *Decision {
	d := &Decision{ContractID: c.ContractID, AgentID: c.DelegateeAgentID}

	if err := c.Validate(); err != nil {
		return d.reject(GateValidation, fmt.Sprintf("invalid contract: %v", err))
	}

	manifest, err := e.manifests.GetManifest(ctx, c.DelegateeAgentID)
	if err != nil {
		return d.reject(GateRegistry, fmt.Sprintf("agent %s has no registered capability manifest", c.DelegateeAgentID))
	}

	// 1. concurrency
	if manifest.CurrentWorkload >= manifest.MaxConcurrentTasks {
		return d.reject(GateConcurrency, fmt.Sprintf("maximum concurrent tasks reached (%d/%d)",
			manifest.CurrentWorkload, manifest.MaxConcurrentTasks))
	}
	d.Assessment.WorkloadCapacity = clamp01(1 - manifest.WorkloadRatio())

	// 2. reputation
	rep := e.reputation.Snapshot(manifest.AgentID)
	d.Assessment.Reputation = rep.Score
	if reason := checkReputation(c.ReputationRequirements, rep, manifest); reason != "" {
		return d.reject(GateReputation, reason)
	}
	d.Assessment.ReputationCompliance = 1

	// 3. permission token
	if reason := checkPermission(c.PermissionToken, now); reason != "" {
		return d.reject(GatePermission, reason)
	}

	estimate := e.estimator.Estimate(c)
	d.EstimatedCompletionMs = estimate.Milliseconds()

	// 4. firebreaks
	if reason := e.checkFirebreaks(c, estimate, d); reason != "" {
		return d.reject(GateFirebreak, reason)
	}
	d.Assessment.FirebreakCompliance = 1

	// 5. resource fit
	availability, reason := e.resourceAvailability(c.ResourceRequirements)
	if reason != "" {
		return d.reject(GateResources, reason)
	}
	d.Assessment.ResourceAvailability = availability

	// 6. capability fit
	match, reason := capabilityMatch(c.RequiredCapabilities, manifest)
	if reason != "" {
		return d.reject(GateCapability, reason)
	}
	d.Assessment.CapabilityMatch = match

	// 7. timeout feasibility
	if d.EstimatedCompletionMs > c.TimeoutMs {
		return d.reject(GateTimeout, fmt.Sprintf("estimated completion time %dms would exceed timeout %dms",
			d.EstimatedCompletionMs, c.TimeoutMs))
	}
	d.Assessment.TimeRatio = float64(d.EstimatedCompletionMs) / float64(c.TimeoutMs)

	d.CanAccept = true
	d.Confidence = e.confidence(d.Assessment, c.Complexity())
	return d
}

func (e *Engine) confidence(a Assessment, complexity int) float64 {
	conf := 0.3*a.CapabilityMatch +
		0.2*a.ResourceAvailability +
		0.2*a.WorkloadCapacity +
		0.15*a.ReputationCompliance +
		0.15*a.FirebreakCompliance

	if complexity > e.config.ComplexityThreshold {
		conf *= 1 - e.config.ComplexityPenalty
	}
	if a.TimeRatio > e.config.TimeRatioThreshold {
		conf *= 1 - (a.TimeRatio - e.config.TimeRatioThreshold)
	}
	return clamp01(conf)
}

func checkReputation(req *contract.ReputationRequirements, rep ReputationSnapshot, m *discovery.CapabilityManifest) string {
	if req == nil {
		return ""
	}
	if req.MinSecurityScore != nil && rep.Score < *req.MinSecurityScore {
		return fmt.Sprintf("reputation score %.2f below required security score %.2f", rep.Score, *req.MinSecurityScore)
	}
	if req.MinTasksCompleted != nil && rep.TasksCompleted < *req.MinTasksCompleted {
		return fmt.Sprintf("completed %d tasks, %d required", rep.TasksCompleted, *req.MinTasksCompleted)
	}
	if req.MinConfidenceScore != nil && m.OverallConfidence < *req.MinConfidenceScore {
		return fmt.Sprintf("overall confidence %.2f below required %.2f", m.OverallConfidence, *req.MinConfidenceScore)
	}
	if req.MaxConsecutiveFailures != nil && rep.ConsecutiveFailures > *req.MaxConsecutiveFailures {
		return fmt.Sprintf("%d consecutive failures exceed allowed %d", rep.ConsecutiveFailures, *req.MaxConsecutiveFailures)
	}
	var missing []string
	for _, s := range req.RequiredSpecializations {
		if !m.HasSpecialization(s) {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		return "missing required specializations: " + strings.Join(missing, ", ")
	}
	return ""
}

func checkPermission(tok *contract.PermissionToken, now time.Time) string {
	switch {
	case tok == nil:
		return ""
	case tok.Expired(now):
		return fmt.Sprintf("permission token %s expired at %s", tok.TokenID, tok.ExpiresAt.Format(time.RFC3339))
	case len(tok.Scopes) == 0:
		return "permission token grants no scopes"
	case len(tok.Actions) == 0:
		return "permission token grants no actions"
	case len(tok.Resources) == 0:
		return "permission token grants no resources"
	}
	return ""
}

// checkFirebreaks evaluates every firebreak. All trips are published and
// every tripped limit blocks acceptance; the action only sets what is
// recorded. A human review firebreak blocks only with require_approval.
func (e *Engine) checkFirebreaks(c *contract.DelegationContract, estimate time.Duration, d *Decision) string {
	var blocking []string
	for _, fb := range c.Firebreaks {
		reason, tripped := tripFirebreak(fb, c, estimate)
		if !tripped {
			continue
		}

		action := fb.Base().Action
		if action == "" {
			action = contract.ActionHalt
		}
		blocks := true
		if fb.Type() == contract.FirebreakHumanReview {
			blocks = action == contract.ActionRequireApproval
		}

		d.TriggeredFirebreaks = append(d.TriggeredFirebreaks, fb.Type())
		e.metrics.RecordFirebreak(string(fb.Type()), string(action))
		e.publishFirebreak(c, fb, action, reason, blocks)

		if blocks {
			blocking = append(blocking, reason)
		}
	}
	return strings.Join(blocking, "; ")
}

func tripFirebreak(fb contract.Firebreak, c *contract.DelegationContract, estimate time.Duration) (string, bool) {
	switch f := fb.(type) {
	case contract.MaxDepthFirebreak:
		if c.Metadata.DelegationDepth >= f.Threshold {
			return fmt.Sprintf("delegation depth %d reaches max depth firebreak %d",
				c.Metadata.DelegationDepth, f.Threshold), true
		}
	case contract.TLPEscalationFirebreak:
		if c.TLPClassification.Exceeds(f.AllowedLevel) {
			return fmt.Sprintf("TLP classification %s exceeds allowed level %s",
				c.TLPClassification, f.AllowedLevel), true
		}
	case contract.TimeoutFirebreak:
		if estimate.Milliseconds() > f.ThresholdMs {
			return fmt.Sprintf("estimated time %dms exceeds timeout firebreak %dms",
				estimate.Milliseconds(), f.ThresholdMs), true
		}
	case contract.ResourceLimitFirebreak:
		if v, ok := c.ResourceRequirements.Get(f.Resource); ok && v > f.Threshold {
			return fmt.Sprintf("requested %s %.2f exceeds resource firebreak %.2f", f.Resource, v, f.Threshold), true
		}
	case contract.HumanReviewFirebreak:
		return "human review required before acceptance", true
	}
	return "", false
}

func (e *Engine) publishFirebreak(c *contract.DelegationContract, fb contract.Firebreak, action contract.FirebreakAction, reason string, blocks bool) {
	severity := lifecycle.SeverityWarning
	if blocks {
		severity = lifecycle.SeverityError
	}
	e.publisher.Publish(lifecycle.Event{
		Type:             lifecycle.EventFirebreakTriggered,
		AgentID:          c.DelegateeAgentID,
		ContractID:       c.ContractID,
		RootContractID:   c.RootID(),
		ParentContractID: c.Metadata.ParentContractID,
		Depth:            c.Metadata.DelegationDepth,
		Participants:     []string{c.DelegatorAgentID, c.DelegateeAgentID},
		Severity:         severity,
		Payload: map[string]any{
			"firebreak_type": string(fb.Type()),
			"action":         string(action),
			"reason":         reason,
			"blocking":       blocks,
			"description":    fb.Base().Description,
		},
	})
}

// resourceAvailability returns the product of (1 - requested/limit) over
// limited resources, or a reason when a request exceeds its limit.
func (e *Engine) resourceAvailability(req types.ResourceRequirements) (float64, string) {
	availability := 1.0
	var reason string
	req.Each(func(name string, requested float64) {
		if reason != "" {
			return
		}
		limit, _ := e.config.ResourceLimits.Get(name)
		if limit <= 0 {
			return
		}
		if requested > limit {
			reason = fmt.Sprintf("requested %s %.2f exceeds resource limit %.2f", name, requested, limit)
			return
		}
		availability *= 1 - requested/limit
	})
	if reason != "" {
		return 0, reason
	}
	return clamp01(availability), ""
}

func capabilityMatch(required []contract.RequiredCapability, m *discovery.CapabilityManifest) (float64, string) {
	if len(required) == 0 {
		return clamp01(m.OverallConfidence), ""
	}
	var sum float64
	for _, rc := range required {
		c, ok := m.Capability(rc.CapabilityID)
		if !ok {
			return 0, fmt.Sprintf("missing required capability %s", rc.CapabilityID)
		}
		if c.ConfidenceLevel < rc.MinConfidence {
			return 0, fmt.Sprintf("capability %s confidence %.2f below required %.2f",
				rc.CapabilityID, c.ConfidenceLevel, rc.MinConfidence)
		}
		sum += c.ConfidenceLevel
	}
	return clamp01(sum / float64(len(required))), ""
}
