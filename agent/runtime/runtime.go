package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentdelegation/agent/admission"
	"github.com/BaSui01/agentdelegation/agent/contract"
	"github.com/BaSui01/agentdelegation/agent/discovery"
	"github.com/BaSui01/agentdelegation/agent/execution"
	"github.com/BaSui01/agentdelegation/agent/lifecycle"
	"github.com/BaSui01/agentdelegation/agent/observability"
	"github.com/BaSui01/agentdelegation/internal/metrics"
	"github.com/BaSui01/agentdelegation/types"
)

// Config assembles the configuration of every component. Nil sections use
// their package defaults.
type Config struct {
	Registry         *discovery.RegistryConfig
	Assessor         *discovery.AssessorConfig
	Admission        *admission.Config
	Execution        *execution.Config
	Telemetry        *observability.Config
	ReputationWindow int
}

// DefaultConfig returns a Config with every section defaulted.
func DefaultConfig() *Config {
	return &Config{
		Registry:         discovery.DefaultRegistryConfig(),
		Assessor:         discovery.DefaultAssessorConfig(),
		Admission:        admission.DefaultConfig(),
		Execution:        execution.DefaultConfig(),
		Telemetry:        observability.DefaultConfig(),
		ReputationWindow: admission.DefaultReputationWindow,
	}
}

type options struct {
	sinks         []observability.Sink
	collectorOpts []observability.Option
	verifiers     []execution.Verifier
	metrics       *metrics.Collector
	lookup        AgentLookup
	formatter     ResultFormatter
}

// Option configures a Runtime.
type Option func(*options)

// WithSinks adds telemetry sinks.
func WithSinks(sinks ...observability.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// WithCollectorOptions passes options through to the telemetry collector.
func WithCollectorOptions(opts ...observability.Option) Option {
	return func(o *options) { o.collectorOpts = append(o.collectorOpts, opts...) }
}

// WithVerifier registers an execution verifier.
func WithVerifier(v execution.Verifier) Option {
	return func(o *options) { o.verifiers = append(o.verifiers, v) }
}

// WithMetrics shares a Prometheus collector with every component.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithLookup sets the agent lookup used by RegisterAgent.
func WithLookup(l AgentLookup) Option {
	return func(o *options) { o.lookup = l }
}

// WithFormatter sets the result formatter used by Format.
func WithFormatter(f ResultFormatter) Option {
	return func(o *options) { o.formatter = f }
}

// Runtime is one delegation runtime: a registry of delegatees, the
// admission and execution engines acting for them, and the telemetry
// collector correlating their lifecycle events.
type Runtime struct {
	registry   *discovery.CapabilityRegistry
	assessor   *discovery.Assessor
	reputation *admission.ReputationTracker
	admission  *admission.Engine
	probe      *admission.Engine
	execution  *execution.Engine
	hub        *lifecycle.Hub
	collector  *observability.Collector

	lookup    AgentLookup
	formatter ResultFormatter

	hooksMu sync.RWMutex
	hooks   map[string]*Hooks

	closeOnce sync.Once
	closeErr  error

	logger *zap.Logger
}

// New wires a runtime. Call Start to begin periodic telemetry flushing and
// Shutdown to stop it.
func New(config *Config, logger *zap.Logger, opts ...Option) *Runtime {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.Registry == nil {
		config.Registry = defaults.Registry
	}
	if config.Assessor == nil {
		config.Assessor = defaults.Assessor
	}
	if config.Admission == nil {
		config.Admission = defaults.Admission
	}
	if config.Execution == nil {
		config.Execution = defaults.Execution
	}
	if config.Telemetry == nil {
		config.Telemetry = defaults.Telemetry
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	registryConfig := *config.Registry
	if registryConfig.Metrics == nil {
		registryConfig.Metrics = o.metrics
	}

	hub := lifecycle.NewHub(logger)
	collectorOpts := append([]observability.Option{observability.WithMetrics(o.metrics)}, o.collectorOpts...)
	collector := observability.NewCollector(config.Telemetry, o.sinks, logger, collectorOpts...)
	hub.Subscribe(collector)

	registry := discovery.NewCapabilityRegistry(&registryConfig, logger)
	reputation := admission.NewReputationTracker(config.ReputationWindow)

	execOpts := []execution.Option{
		execution.WithPublisher(hub),
		execution.WithMetrics(o.metrics),
	}
	for _, v := range o.verifiers {
		execOpts = append(execOpts, execution.WithVerifier(v))
	}

	return &Runtime{
		registry:   registry,
		assessor:   discovery.NewAssessor(registry, config.Assessor, logger),
		reputation: reputation,
		admission: admission.NewEngine(registry, reputation, config.Admission, logger,
			admission.WithPublisher(hub),
			admission.WithMetrics(o.metrics),
		),
		// probe ranks Delegate candidates without publishing or counting.
		probe:     admission.NewEngine(registry, reputation, config.Admission, zap.NewNop()),
		execution: execution.NewEngine(config.Execution, logger, execOpts...),
		hub:       hub,
		collector: collector,
		lookup:    o.lookup,
		formatter: o.formatter,
		hooks:     make(map[string]*Hooks),
		logger:    logger.With(zap.String("component", "delegation_runtime")),
	}
}

// Registry returns the capability registry.
func (rt *Runtime) Registry() *discovery.CapabilityRegistry { return rt.registry }

// Assessor returns the capability self-assessor.
func (rt *Runtime) Assessor() *discovery.Assessor { return rt.assessor }

// Reputation returns the reputation tracker.
func (rt *Runtime) Reputation() *admission.ReputationTracker { return rt.reputation }

// Admission returns the admission engine.
func (rt *Runtime) Admission() *admission.Engine { return rt.admission }

// Execution returns the execution engine.
func (rt *Runtime) Execution() *execution.Engine { return rt.execution }

// Collector returns the telemetry collector.
func (rt *Runtime) Collector() *observability.Collector { return rt.collector }

// Hub returns the lifecycle hub. Extra listeners may subscribe to it.
func (rt *Runtime) Hub() *lifecycle.Hub { return rt.hub }

// Start begins periodic telemetry flushing.
func (rt *Runtime) Start(ctx context.Context) {
	rt.collector.Start(ctx)
}

// RegisterAgent resolves name through the configured lookup and registers
// its manifest. Hooks from the definition are attached to the agent.
func (rt *Runtime) RegisterAgent(ctx context.Context, name string) (*discovery.CapabilityManifest, error) {
	if rt.lookup == nil {
		return nil, types.NewError(types.ErrAgentNotFound, "no agent lookup configured").WithHTTPStatus(404)
	}
	def, ok := rt.lookup.Lookup(name)
	if !ok {
		return nil, types.NewError(types.ErrAgentNotFound, fmt.Sprintf("agent %q not found", name)).WithHTTPStatus(404)
	}
	if def.Manifest == nil {
		return nil, types.NewValidationError("manifest", "agent %q has no capability manifest", name)
	}

	m := def.Manifest.Clone()
	if m.AgentID == "" {
		m.AgentID = def.Name
	}
	if err := rt.registry.RegisterManifest(ctx, m); err != nil {
		return nil, fmt.Errorf("register agent %s: %w", name, err)
	}
	if def.Hooks != nil {
		rt.SetHooks(m.AgentID, def.Hooks)
	}
	return rt.registry.GetManifest(ctx, m.AgentID)
}

// SetHooks attaches lifecycle hooks to an agent, replacing earlier ones.
func (rt *Runtime) SetHooks(agentID string, h *Hooks) {
	rt.hooksMu.Lock()
	defer rt.hooksMu.Unlock()
	if h == nil {
		delete(rt.hooks, agentID)
		return
	}
	rt.hooks[agentID] = h
}

func (rt *Runtime) hooksFor(agentID string) *Hooks {
	rt.hooksMu.RLock()
	defer rt.hooksMu.RUnlock()
	if h, ok := rt.hooks[agentID]; ok {
		return h
	}
	return &Hooks{}
}

// Propose negotiates a pending contract with its delegatee. A rejection is
// not an error: the decision carries the reason and the contract moves to
// rejected. Errors are returned only for unusable input.
func (rt *Runtime) Propose(ctx context.Context, c *contract.DelegationContract) (*admission.Decision, error) {
	if c == nil {
		return nil, types.NewValidationError("contract", "contract is nil")
	}
	if c.Status != contract.StatusPending {
		return nil, types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("contract %s is %s, only pending contracts can be proposed", c.ContractID, c.Status)).
			WithHTTPStatus(409)
	}

	start := time.Now()
	rt.publish(c, lifecycle.EventContractCreated, lifecycle.SeverityInfo, map[string]any{
		"task_description": c.TaskDescription,
		"priority":         c.Priority,
		"timeout_ms":       c.TimeoutMs,
	}, nil)

	d := rt.admission.Evaluate(ctx, c)

	for _, def := range execution.CompletedCheckpoints(execution.PhaseNegotiation, negotiationProgress(d)) {
		rt.publish(c, lifecycle.EventCheckpointReached, lifecycle.SeverityInfo, map[string]any{
			"phase":      string(execution.PhaseNegotiation),
			"checkpoint": def.Name,
			"threshold":  def.Threshold,
		}, nil)
	}

	pm := &lifecycle.PerformanceMetrics{
		NegotiationTimeMs: lifecycle.Float(float64(time.Since(start).Microseconds()) / 1000),
	}
	hooks := rt.hooksFor(c.DelegateeAgentID)

	if !d.CanAccept {
		if err := c.Transition(contract.StatusRejected); err != nil {
			return d, err
		}
		rt.publish(c, lifecycle.EventContractRejected, lifecycle.SeverityWarning, map[string]any{
			"reason": d.Reason,
			"gate":   string(d.Gate),
		}, pm)
		if hooks.OnRejected != nil {
			hooks.OnRejected(ctx, c, d)
		}
		return d, nil
	}

	if err := c.Transition(contract.StatusAccepted); err != nil {
		return d, err
	}
	pm.Confidence = lifecycle.Float(d.Confidence)
	payload := map[string]any{
		"estimated_completion_ms": d.EstimatedCompletionMs,
	}
	if len(d.TriggeredFirebreaks) > 0 {
		payload["triggered_firebreaks"] = d.TriggeredFirebreaks
	}
	rt.publish(c, lifecycle.EventContractAccepted, lifecycle.SeverityInfo, payload, pm)
	if hooks.OnAccepted != nil {
		hooks.OnAccepted(ctx, c, d)
	}
	return d, nil
}

// negotiationProgress maps a decision onto the negotiation checkpoint
// table: validation passes at 25, every assessment gate at 75, acceptance
// at 100.
func negotiationProgress(d *admission.Decision) float64 {
	switch {
	case d.CanAccept:
		return 100
	case d.Gate == admission.GateValidation:
		return 0
	case d.Gate == admission.GateTimeout:
		return 75
	}
	return 25
}

// Execute runs an accepted contract on its delegatee. The delegatee's
// workload is held for the duration of the run, and the outcome feeds
// reputation, capability statistics and self-assessment. Interrupted
// executions produce no feedback.
func (rt *Runtime) Execute(ctx context.Context, c *contract.DelegationContract, task execution.TaskFunc) (*execution.ExecutionResult, error) {
	if c == nil {
		return nil, types.NewValidationError("contract", "contract is nil")
	}
	agentID := c.DelegateeAgentID

	if c.Status == contract.StatusAccepted {
		if _, err := rt.registry.IncrementWorkload(ctx, agentID); err != nil {
			return nil, fmt.Errorf("reserve workload: %w", err)
		}
		defer func() {
			if _, err := rt.registry.DecrementWorkload(context.WithoutCancel(ctx), agentID); err != nil {
				rt.logger.Warn("release workload failed", zap.String("agent_id", agentID), zap.Error(err))
			}
		}()
	}

	result, err := rt.execution.Execute(ctx, c, task)
	if result == nil {
		return nil, err
	}
	if result.Error != nil && result.Error.Code == types.ErrShutdownInterrupt {
		return result, err
	}

	rt.feedback(ctx, c, result)
	if h := rt.hooksFor(agentID); h.OnCompleted != nil {
		h.OnCompleted(ctx, c, result)
	}
	return result, err
}

func (rt *Runtime) feedback(ctx context.Context, c *contract.DelegationContract, result *execution.ExecutionResult) {
	agentID := c.DelegateeAgentID

	quality := 0.0
	if result.Success {
		quality = 1
	}
	var verified *float64
	if v := result.Verification; v != nil {
		q := v.QualityScore
		verified = &q
		quality = q
	}
	rt.reputation.Record(agentID, admission.Outcome{
		ContractID:          c.ContractID,
		Success:             result.Success,
		VerificationQuality: verified,
		CompletedAt:         result.CompletedAt,
	})

	outcome := discovery.TaskOutcome{
		TaskDescription: c.TaskDescription,
		Success:         result.Success,
		QualityScore:    quality,
		DurationMs:      int64(result.Metrics.ExecutionTimeMs),
		CompletedAt:     result.CompletedAt,
	}
	if len(c.RequiredCapabilities) == 0 {
		rt.assessor.RecordOutcome(agentID, outcome)
	}
	for _, rc := range c.RequiredCapabilities {
		if err := rt.registry.RecordCompletion(ctx, agentID, rc.CapabilityID, result.Success); err != nil {
			rt.logger.Debug("completion not recorded",
				zap.String("agent_id", agentID),
				zap.String("capability_id", rc.CapabilityID),
				zap.Error(err),
			)
		}
		o := outcome
		o.CapabilityID = rc.CapabilityID
		rt.assessor.RecordOutcome(agentID, o)
	}

	changes, err := rt.assessor.Assess(ctx, agentID)
	if err != nil {
		rt.logger.Warn("self-assessment failed", zap.String("agent_id", agentID), zap.Error(err))
	}
	for _, ch := range changes {
		rt.publish(c, lifecycle.EventConfidenceUpdated, lifecycle.SeverityInfo, map[string]any{
			"capability_id":  ch.CapabilityID,
			"old_confidence": ch.OldConfidence,
			"new_confidence": ch.NewConfidence,
			"delta":          ch.Delta,
			"success_rate":   ch.SuccessRate,
			"sample_size":    ch.SampleSize,
		}, nil)
	}
}

// Delegate proposes c, choosing a delegatee first when none is set. With a
// nil query, candidates are agents advertising every required capability,
// excluding the delegator. The first candidate that would accept is
// proposed to; if none would, the best ranked one is, so the rejection is
// recorded.
func (rt *Runtime) Delegate(ctx context.Context, c *contract.DelegationContract, query *discovery.CapabilityQuery) (*admission.Decision, error) {
	if c == nil {
		return nil, types.NewValidationError("contract", "contract is nil")
	}
	if c.DelegateeAgentID != "" {
		return rt.Propose(ctx, c)
	}
	if query == nil {
		query = queryFor(c)
	}

	matches, err := rt.registry.QueryCapabilities(ctx, query)
	if err != nil {
		return nil, err
	}
	candidates := candidateAgents(matches)
	if len(candidates) == 0 {
		return nil, types.NewError(types.ErrCapabilityNotFound,
			fmt.Sprintf("no agent can take contract %s", c.ContractID)).WithHTTPStatus(404)
	}

	chosen := candidates[0]
	for _, id := range candidates {
		probe := c.Clone()
		probe.DelegateeAgentID = id
		if rt.probe.Evaluate(ctx, probe).CanAccept {
			chosen = id
			break
		}
	}
	rt.logger.Debug("delegatee selected",
		zap.String("contract_id", c.ContractID),
		zap.String("agent_id", chosen),
		zap.Int("candidates", len(candidates)),
	)

	c.DelegateeAgentID = chosen
	return rt.Propose(ctx, c)
}

func queryFor(c *contract.DelegationContract) *discovery.CapabilityQuery {
	q := &discovery.CapabilityQuery{OnlyAvailable: true}
	for _, rc := range c.RequiredCapabilities {
		q.RequiredCapabilities = append(q.RequiredCapabilities, rc.CapabilityID)
	}
	if c.DelegatorAgentID != "" {
		q.ExcludeAgents = []string{c.DelegatorAgentID}
	}
	return q
}

// candidateAgents returns agent ids in match rank order, once each.
func candidateAgents(matches []discovery.CapabilityMatch) []string {
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		if _, ok := seen[m.AgentID]; ok {
			continue
		}
		seen[m.AgentID] = struct{}{}
		out = append(out, m.AgentID)
	}
	return out
}

// SubDelegate creates a child of parent and delegates it. An empty
// delegateeID selects a delegatee from the registry. configure, when not
// nil, adjusts the child before it is proposed.
func (rt *Runtime) SubDelegate(ctx context.Context, parent *contract.DelegationContract, delegateeID, description string,
	configure func(*contract.DelegationContract)) (*contract.DelegationContract, *admission.Decision, error) {
	if parent == nil {
		return nil, nil, types.NewValidationError("parent", "parent contract is nil")
	}
	if parent.Status != contract.StatusAccepted && parent.Status != contract.StatusActive {
		return nil, nil, types.NewError(types.ErrInvalidTransition,
			fmt.Sprintf("contract %s is %s, only accepted or active contracts can sub-delegate", parent.ContractID, parent.Status)).
			WithHTTPStatus(409)
	}

	child := contract.NewChild(parent, delegateeID, description)
	if configure != nil {
		configure(child)
	}
	d, err := rt.Delegate(ctx, child, nil)
	return child, d, err
}

// Run delegates c and, once accepted, executes it. A rejection is returned
// as an ADMISSION_REJECTED error alongside the decision.
func (rt *Runtime) Run(ctx context.Context, c *contract.DelegationContract, task execution.TaskFunc) (*admission.Decision, *execution.ExecutionResult, error) {
	d, err := rt.Delegate(ctx, c, nil)
	if err != nil {
		return d, nil, err
	}
	if !d.CanAccept {
		return d, nil, d.Err()
	}
	result, err := rt.Execute(ctx, c, task)
	return d, result, err
}

// Format renders a result with the configured formatter.
func (rt *Runtime) Format(result *execution.ExecutionResult, c *contract.DelegationContract, format string) (string, error) {
	if rt.formatter == nil {
		return "", types.NewError(types.ErrInvalidRequest, "no result formatter configured")
	}
	return rt.formatter.Format(result, c, format)
}

// Shutdown interrupts in-flight executions, then flushes and closes the
// telemetry collector. It is safe to call more than once.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.closeOnce.Do(func() {
		rt.logger.Info("delegation runtime shutting down")
		execErr := rt.execution.Shutdown(ctx)
		telemetryErr := rt.collector.Close(ctx)
		rt.closeErr = errors.Join(execErr, telemetryErr)
	})
	return rt.closeErr
}

func (rt *Runtime) publish(c *contract.DelegationContract, t lifecycle.EventType, sev lifecycle.Severity, payload map[string]any, pm *lifecycle.PerformanceMetrics) {
	rt.hub.Publish(lifecycle.Event{
		Type:             t,
		AgentID:          c.DelegateeAgentID,
		ContractID:       c.ContractID,
		RootContractID:   c.RootID(),
		ParentContractID: c.Metadata.ParentContractID,
		Depth:            c.Metadata.DelegationDepth,
		Participants:     []string{c.DelegatorAgentID, c.DelegateeAgentID},
		Severity:         sev,
		Payload:          payload,
		Metrics:          pm,
	})
}
