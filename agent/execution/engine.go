package execution

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentdelegation/agent/contract"
	"github.com/BaSui01/agentdelegation/agent/lifecycle"
	"github.com/BaSui01/agentdelegation/internal/metrics"
	"github.com/BaSui01/agentdelegation/internal/pool"
	"github.com/BaSui01/agentdelegation/internal/retry"
	"github.com/BaSui01/agentdelegation/types"
)

const instrumentationName = "github.com/BaSui01/agentdelegation/agent/execution"

// TaskFunc is the opaque task body. It should honour ctx cancellation;
// a task that ignores it is abandoned when its attempt times out.
type TaskFunc func(ctx context.Context, tc *TaskContext) (any, error)

// Config configures the execution engine.
type Config struct {
	// DefaultRetry applies to contracts without a retry policy.
	DefaultRetry *retry.Policy `json:"-" yaml:"-"`

	// HistorySize bounds how many finished executions stay queryable.
	HistorySize int `json:"history_size" yaml:"history_size"`

	// SampleMemory enables runtime.MemStats sampling around each execution.
	SampleMemory bool `json:"sample_memory" yaml:"sample_memory"`
}

// DefaultConfig returns the standard execution configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultRetry: retry.DefaultPolicy(),
		HistorySize:  100,
		SampleMemory: true,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets the lifecycle publisher.
func WithPublisher(p lifecycle.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithMetrics sets the Prometheus collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithVerifier registers a verifier for its policy.
func WithVerifier(v Verifier) Option {
	return func(e *Engine) { e.verifiers[v.Method()] = v }
}

// Engine runs accepted contracts under timeout and retry policy.
type Engine struct {
	config    *Config
	publisher lifecycle.Publisher
	metrics   *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger

	verifierMu sync.RWMutex
	verifiers  map[contract.VerificationPolicy]Verifier

	mu       sync.Mutex
	active   map[string]*run
	history  *pool.Ring[*ExecutionContext]
	stats    ExecutorStats
	stopCh   chan struct{}
	stopped  bool
	inflight sync.WaitGroup
}

// NewEngine creates an execution engine with a direct inspection verifier
// registered.
func NewEngine(config *Config, logger *zap.Logger, opts ...Option) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultRetry == nil {
		config.DefaultRetry = retry.DefaultPolicy()
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 100
	}

	e := &Engine{
		config:    config,
		publisher: lifecycle.Nop,
		tracer:    otel.Tracer(instrumentationName),
		logger:    logger.With(zap.String("component", "execution_engine")),
		verifiers: make(map[contract.VerificationPolicy]Verifier),
		active:    make(map[string]*run),
		history:   pool.NewRing[*ExecutionContext](config.HistorySize),
		stopCh:    make(chan struct{}),
	}
	e.verifiers[contract.VerificationDirectInspection] = DirectInspectionVerifier{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterVerifier registers or replaces the verifier for its policy.
func (e *Engine) RegisterVerifier(v Verifier) {
	e.verifierMu.Lock()
	defer e.verifierMu.Unlock()
	e.verifiers[v.Method()] = v
}

// Execute runs an accepted contract. The contract moves to active, then to
// completed, failed or timeout. On failure both the result and the error
// are returned; the result carries metrics and the structured error.
func (e *Engine) Execute(ctx context.Context, c *contract.DelegationContract, task TaskFunc) (*ExecutionResult, error) {
	if c.Status != contract.StatusAccepted {
		return nil, types.NewError(types.ErrNotAccepted,
			fmt.Sprintf("contract %s is %s, only accepted contracts can execute", c.ContractID, c.Status)).
			WithHTTPStatus(409)
	}
	if task == nil {
		return nil, types.NewValidationError("task", "task function is required")
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, types.NewError(types.ErrShutdownInterrupt, "execution engine is shut down")
	}
	if err := c.Transition(contract.StatusActive); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	execCtx, cancel := context.WithCancel(ctx)
	r := newRun(e, c, cancel)
	e.active[r.exec.ExecutionID] = r
	e.inflight.Add(1)
	e.mu.Unlock()

	defer e.inflight.Done()
	defer cancel()

	execCtx, span := e.tracer.Start(execCtx, "execution.execute",
		trace.WithAttributes(
			attribute.String("contract.id", c.ContractID),
			attribute.String("execution.id", r.exec.ExecutionID),
			attribute.String("agent.id", c.DelegateeAgentID),
			attribute.Int64("contract.timeout_ms", c.TimeoutMs),
		))
	defer span.End()

	var memBefore uint64
	if e.config.SampleMemory {
		memBefore = totalAlloc()
	}
	e.metrics.ExecutionStarted()

	policy := e.policyFor(c)
	r.mu.Lock()
	e.publishLocked(r, lifecycle.EventExecutionStarted, lifecycle.SeverityInfo, map[string]any{
		"max_attempts": policy.Attempts(),
		"timeout_ms":   c.TimeoutMs,
	}, nil)
	r.mu.Unlock()

	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		cond, _ := retry.Classify(err)
		e.metrics.RecordRetry(c.DelegateeAgentID, string(cond))

		r.mu.Lock()
		defer r.mu.Unlock()
		r.retries++
		if r.interrupted {
			return
		}
		e.publishLocked(r, lifecycle.EventRetryAttempted, lifecycle.SeverityWarning, map[string]any{
			"attempt":   attempt,
			"delay_ms":  delay.Milliseconds(),
			"condition": string(cond),
			"error":     err.Error(),
		}, nil)
	}

	var output any
	attempts, err := retry.New(policy, e.logger).WithStop(e.stopCh).Do(execCtx,
		func(ctx context.Context, attempt int) error {
			out, err := e.attempt(ctx, r, c, task, attempt)
			if err == nil {
				output = out
			}
			return err
		})

	result := e.finish(execCtx, r, c, policy, output, attempts, err, memBefore)

	span.SetAttributes(
		attribute.String("execution.status", string(result.Status)),
		attribute.Int("execution.attempts", result.Metrics.Attempts),
	)
	if result.Error != nil {
		span.SetStatus(codes.Error, result.Error.Message)
		return result, r.finalErr
	}
	return result, nil
}

// attempt races one run of the task against the contract timeout.
func (e *Engine) attempt(ctx context.Context, r *run, c *contract.DelegationContract, task TaskFunc, attempt int) (any, error) {
	tc := r.beginAttempt(attempt)

	attemptCtx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	type outcome struct {
		out any
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: types.NewError(types.ErrExecutionFailure, fmt.Sprintf("task panicked: %v", p))}
			}
		}()
		out, err := task(attemptCtx, tc)
		done <- outcome{out: out, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-attemptCtx.Done():
		res.err = attemptCtx.Err()
	}
	r.endAttempt(tc, time.Since(start))

	if res.err != nil && attemptCtx.Err() != nil {
		res.err = r.contextError(ctx, attemptCtx, c, res.err)
	}
	if res.err != nil {
		e.logger.Debug("attempt failed",
			zap.String("execution_id", r.exec.ExecutionID),
			zap.Int("attempt", attempt),
			zap.Error(res.err),
		)
	}
	return res.out, res.err
}

func (e *Engine) finish(ctx context.Context, r *run, c *contract.DelegationContract, policy *retry.Policy,
	output any, attempts int, err error, memBefore uint64) *ExecutionResult {

	r.mu.Lock()
	interrupted := r.interrupted
	if interrupted && err == nil {
		err = shutdownError()
	}
	var status Status
	switch {
	case err == nil:
		status = StatusCompleted
	case interrupted:
		status = StatusFailed
	case types.IsCode(err, types.ErrExecutionTimeout):
		status = StatusTimeout
	default:
		status = StatusFailed
	}
	r.mu.Unlock()

	result := &ExecutionResult{
		ExecutionID: r.exec.ExecutionID,
		ContractID:  c.ContractID,
		AgentID:     c.DelegateeAgentID,
		Status:      status,
		Success:     err == nil,
		Output:      output,
		StartedAt:   r.exec.StartedAt,
	}

	if err == nil {
		r.report(PhaseExecution, 100)
		result.Verification = e.verify(ctx, r, c, result)
	} else {
		if interrupted {
			err = r.interruptError(err)
		}
		r.finalErr = finalError(err, attempts, policy.Conditions)
		result.Error = toResultError(r.finalErr, attempts)
	}

	completedAt := time.Now()
	duration := completedAt.Sub(r.exec.StartedAt)

	r.mu.Lock()
	r.exec.Status = status
	if interrupted {
		r.exec.Status = StatusFailed
	}
	r.exec.CompletedAt = completedAt
	r.sealed = true
	if e.config.SampleMemory {
		if after := totalAlloc(); after > memBefore {
			r.exec.Usage.MemoryBytes = after - memBefore
		}
	}
	r.exec.Usage.NetworkBytes = r.networkBytes
	r.exec.Usage.CPUTimeMs = float64(r.busy.Microseconds()) / 1000
	r.exec.Usage.Goroutines = runtime.NumGoroutine()
	usage := r.exec.Usage
	retries := r.retries
	result.Checkpoints = append([]Checkpoint(nil), r.exec.Checkpoints...)
	r.mu.Unlock()

	result.CompletedAt = completedAt
	result.Metrics = ResultMetrics{
		ExecutionTimeMs: float64(duration.Microseconds()) / 1000,
		MemoryBytes:     usage.MemoryBytes,
		CPUTimeMs:       usage.CPUTimeMs,
		NetworkBytes:    usage.NetworkBytes,
		Attempts:        attempts,
		Retries:         retries,
	}

	if err := c.Transition(contractStatus(result.Status)); err != nil {
		e.logger.Error("contract transition failed", zap.String("contract_id", c.ContractID), zap.Error(err))
	}

	if !interrupted {
		e.publishCompletion(r, result)
	}

	e.metrics.RecordExecution(c.DelegateeAgentID, string(result.Status), duration)
	e.record(r, result, interrupted, duration)

	fields := []zap.Field{
		zap.String("execution_id", result.ExecutionID),
		zap.String("contract_id", c.ContractID),
		zap.String("status", string(result.Status)),
		zap.Int("attempts", attempts),
		zap.Duration("duration", duration),
	}
	if result.Success {
		e.logger.Info("execution completed", fields...)
	} else {
		e.logger.Warn("execution failed", append(fields, zap.Error(r.finalErr))...)
	}
	return result
}

func (e *Engine) verify(ctx context.Context, r *run, c *contract.DelegationContract, result *ExecutionResult) *VerificationResult {
	if c.VerificationPolicy == "" || c.VerificationPolicy == contract.VerificationNone {
		return nil
	}

	e.verifierMu.RLock()
	v, ok := e.verifiers[c.VerificationPolicy]
	e.verifierMu.RUnlock()
	if !ok {
		e.logger.Debug("no verifier registered", zap.String("policy", string(c.VerificationPolicy)))
		return nil
	}

	vr, err := v.Verify(ctx, c, result)
	if err != nil {
		e.logger.Warn("verification failed", zap.String("contract_id", c.ContractID), zap.Error(err))
		return &VerificationResult{
			Method:     c.VerificationPolicy,
			Findings:   []string{err.Error()},
			VerifiedAt: time.Now(),
		}
	}
	r.report(PhaseVerification, 50)
	r.report(PhaseVerification, 100)
	return vr
}

func (e *Engine) publishCompletion(r *run, result *ExecutionResult) {
	eventType := lifecycle.EventContractCompleted
	severity := lifecycle.SeverityInfo
	switch result.Status {
	case StatusTimeout:
		eventType = lifecycle.EventExecutionTimeout
		severity = lifecycle.SeverityWarning
	case StatusFailed:
		eventType = lifecycle.EventContractFailed
		severity = lifecycle.SeverityError
	}

	payload := map[string]any{
		"status":   string(result.Status),
		"attempts": result.Metrics.Attempts,
	}
	if result.Error != nil {
		payload["error_code"] = string(result.Error.Code)
		payload["error"] = result.Error.Message
	}
	if result.Verification != nil {
		payload["verified"] = result.Verification.Verified
		payload["quality_score"] = result.Verification.QualityScore
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e.publishLocked(r, eventType, severity, payload, &lifecycle.PerformanceMetrics{
		ExecutionTimeMs: lifecycle.Float(result.Metrics.ExecutionTimeMs),
		RetryCount:      result.Metrics.Retries,
		MemoryBytes:     result.Metrics.MemoryBytes,
		CPUTimeMs:       result.Metrics.CPUTimeMs,
		NetworkBytes:    result.Metrics.NetworkBytes,
	})
}

func (e *Engine) record(r *run, result *ExecutionResult, interrupted bool, duration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.active, r.exec.ExecutionID)
	e.history.Push(r.snapshot())

	e.stats.TotalExecutions++
	e.stats.TotalRetries += int64(result.Metrics.Retries)
	e.stats.TotalDuration += duration
	switch {
	case result.Success:
		e.stats.SuccessExecutions++
	case interrupted:
		e.stats.FailedExecutions++
		e.stats.InterruptedExecutions++
	case result.Status == StatusTimeout:
		e.stats.FailedExecutions++
		e.stats.TimeoutExecutions++
	default:
		e.stats.FailedExecutions++
	}
}

// publishLocked emits an event for r. r.mu must be held so events of one
// execution are published in causal order.
func (e *Engine) publishLocked(r *run, t lifecycle.EventType, sev lifecycle.Severity, payload map[string]any, pm *lifecycle.PerformanceMetrics) {
	c := r.contract
	e.publisher.Publish(lifecycle.Event{
		Type:             t,
		AgentID:          c.DelegateeAgentID,
		ContractID:       c.ContractID,
		ExecutionID:      r.exec.ExecutionID,
		RootContractID:   c.RootID(),
		ParentContractID: c.Metadata.ParentContractID,
		Depth:            c.Metadata.DelegationDepth,
		Participants:     []string{c.DelegatorAgentID, c.DelegateeAgentID},
		Severity:         sev,
		Payload:          payload,
		Metrics:          pm,
	})
}

func (e *Engine) policyFor(c *contract.DelegationContract) *retry.Policy {
	if c.RetryPolicy != nil {
		return c.RetryPolicy.ToPolicy()
	}
	p := *e.config.DefaultRetry
	p.Conditions = append([]retry.Condition(nil), retry.DefaultConditions...)
	p.OnRetry = nil
	return &p
}

// Shutdown marks every in-flight execution failed, cancels it and stops
// further retries, then waits for Execute calls to return or ctx to end.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.stopped {
		e.stopped = true
		close(e.stopCh)
	}
	runs := make([]*run, 0, len(e.active))
	for _, r := range e.active {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	for _, r := range runs {
		r.interrupt()
	}
	if len(runs) > 0 {
		e.logger.Warn("execution engine shutting down with active executions", zap.Int("active", len(runs)))
	}

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// Get returns a snapshot of an active or recently finished execution.
func (e *Engine) Get(executionID string) (*ExecutionContext, bool) {
	e.mu.Lock()
	r, ok := e.active[executionID]
	e.mu.Unlock()
	if ok {
		return r.snapshot(), true
	}

	var found *ExecutionContext
	e.mu.Lock()
	e.history.Reverse(func(ec *ExecutionContext) bool {
		if ec.ExecutionID == executionID {
			found = ec.clone()
			return false
		}
		return true
	})
	e.mu.Unlock()
	return found, found != nil
}

// Active returns snapshots of all in-flight executions.
func (e *Engine) Active() []*ExecutionContext {
	e.mu.Lock()
	runs := make([]*run, 0, len(e.active))
	for _, r := range e.active {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	out := make([]*ExecutionContext, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.snapshot())
	}
	return out
}

// Stats returns execution statistics.
func (e *Engine) Stats() ExecutorStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func contractStatus(s Status) contract.Status {
	switch s {
	case StatusCompleted:
		return contract.StatusCompleted
	case StatusTimeout:
		return contract.StatusTimeout
	}
	return contract.StatusFailed
}

func timeoutError(c *contract.DelegationContract) *types.Error {
	return types.NewError(types.ErrExecutionTimeout,
		fmt.Sprintf("execution exceeded timeout of %dms", c.TimeoutMs)).WithRetryable(true)
}

func shutdownError() *types.Error {
	return types.NewError(types.ErrShutdownInterrupt, "execution interrupted by shutdown")
}

// finalError attaches the attempt count. Engine errors keep their code;
// task errors are wrapped as EXECUTION_FAILURE with the original as cause.
func finalError(err error, attempts int, conds []retry.Condition) error {
	if te, ok := types.AsError(err); ok {
		switch te.Code {
		case types.ErrExecutionTimeout, types.ErrShutdownInterrupt, types.ErrExecutionFailure:
			cp := *te
			cp.Attempts = attempts
			return &cp
		}
	}
	return types.NewError(types.ErrExecutionFailure, "task failed").
		WithCause(err).
		WithAttempts(attempts).
		WithRetryable(retry.Matches(err, conds))
}

func toResultError(err error, attempts int) *ResultError {
	re := &ResultError{Code: types.ErrExecutionFailure, Message: err.Error(), Attempts: attempts}
	if te, ok := types.AsError(err); ok {
		re.Code = te.Code
		re.Retryable = te.Retryable
	}
	return re
}

func totalAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.TotalAlloc
}

// =============================================================================
// run
// =============================================================================

// run is the mutable state of one execution.
type run struct {
	mu           sync.Mutex
	engine       *Engine
	exec         *ExecutionContext
	contract     *contract.DelegationContract
	cancel       context.CancelFunc
	current      *TaskContext
	reached      map[string]bool
	retries      int
	networkBytes int64
	busy         time.Duration
	interrupted  bool
	sealed       bool
	finalErr     error
}

func newRun(e *Engine, c *contract.DelegationContract, cancel context.CancelFunc) *run {
	return &run{
		exec: &ExecutionContext{
			ExecutionID:     uuid.NewString(),
			ContractID:      c.ContractID,
			AgentID:         c.DelegateeAgentID,
			TaskDescription: c.TaskDescription,
			Status:          StatusPending,
			StartedAt:       time.Now(),
		},
		engine:   e,
		contract: c.Clone(),
		cancel:   cancel,
		reached:  make(map[string]bool),
	}
}

func (r *run) beginAttempt(attempt int) *TaskContext {
	tc := &TaskContext{
		ExecutionID: r.exec.ExecutionID,
		Attempt:     attempt,
		Contract:    r.contract.Clone(),
		run:         r,
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = tc
	r.exec.Attempt = attempt
	if !r.interrupted {
		r.exec.Status = StatusRunning
	}
	return tc
}

func (r *run) endAttempt(tc *TaskContext, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tc.closed = true
	r.busy += elapsed
	if r.current == tc {
		r.current = nil
	}
}

// contextError classifies an attempt that ended with its context done.
func (r *run) contextError(parent, attemptCtx context.Context, c *contract.DelegationContract, err error) error {
	r.mu.Lock()
	interrupted := r.interrupted
	r.mu.Unlock()

	switch {
	case interrupted:
		return shutdownError()
	case parent.Err() != nil:
		return types.NewError(types.ErrExecutionFailure, "execution cancelled").WithCause(parent.Err())
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return timeoutError(c)
	}
	return err
}

func (r *run) interruptError(err error) error {
	if types.IsCode(err, types.ErrShutdownInterrupt) {
		return err
	}
	return shutdownError().WithCause(err)
}

// interrupt marks the execution failed, publishes execution_interrupted
// and cancels the task.
func (r *run) interrupt() {
	r.mu.Lock()
	if r.interrupted || r.sealed {
		r.mu.Unlock()
		return
	}
	r.interrupted = true
	r.exec.Status = StatusFailed
	r.exec.Interrupted = true
	if r.current != nil {
		r.current.closed = true
	}
	r.engine.publishLocked(r, lifecycle.EventExecutionInterrupted, lifecycle.SeverityError, map[string]any{
		"reason":  "shutdown",
		"attempt": r.exec.Attempt,
	}, nil)
	r.mu.Unlock()

	r.cancel()
}

// report records progress and publishes progress and newly reached
// checkpoint events. Reports after the attempt closed are dropped.
func (r *run) report(phase Phase, pct float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reportLocked(phase, pct)
}

func (r *run) reportLocked(phase Phase, pct float64) {
	e := r.engine
	if r.interrupted || r.sealed {
		return
	}
	switch {
	case pct < 0:
		pct = 0
	case pct > 100:
		pct = 100
	}

	if phase == PhaseExecution && pct/100 > r.exec.Progress {
		r.exec.Progress = pct / 100
	}
	e.publishLocked(r, lifecycle.EventProgress, lifecycle.SeverityDebug, map[string]any{
		"phase":      string(phase),
		"percentage": pct,
	}, nil)

	for _, def := range CompletedCheckpoints(phase, pct) {
		key := string(phase) + "/" + def.Name
		if r.reached[key] {
			continue
		}
		r.reached[key] = true
		cp := Checkpoint{Phase: phase, Name: def.Name, Threshold: def.Threshold, ReachedAt: time.Now()}
		r.exec.Checkpoints = append(r.exec.Checkpoints, cp)
		e.publishLocked(r, lifecycle.EventCheckpointReached, lifecycle.SeverityInfo, map[string]any{
			"phase":      string(phase),
			"checkpoint": def.Name,
			"threshold":  def.Threshold,
		}, nil)
	}
}

func (r *run) snapshot() *ExecutionContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec.clone()
}

// =============================================================================
// TaskContext
// =============================================================================

// TaskContext is handed to a TaskFunc for one attempt. It implements
// ProgressReporter; reports after the attempt ends are ignored.
type TaskContext struct {
	ExecutionID string
	Attempt     int

	// Contract is a read-only copy of the executing contract.
	Contract *contract.DelegationContract

	run    *run
	closed bool
}

// Report implements ProgressReporter.
func (tc *TaskContext) Report(phase Phase, pct float64) {
	r := tc.run
	r.mu.Lock()
	defer r.mu.Unlock()
	if tc.closed {
		return
	}
	r.reportLocked(phase, pct)
}

// AddNetworkBytes accounts network traffic generated by the task.
func (tc *TaskContext) AddNetworkBytes(n int64) {
	r := tc.run
	r.mu.Lock()
	defer r.mu.Unlock()
	if tc.closed {
		return
	}
	r.networkBytes += n
}
