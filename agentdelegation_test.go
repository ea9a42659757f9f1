package agentdelegation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentdelegation/agent/discovery"
	"github.com/BaSui01/agentdelegation/agent/lifecycle"
	"github.com/BaSui01/agentdelegation/config"
	"github.com/BaSui01/agentdelegation/internal/retry"
)

func TestRuntimeConfig_Defaults(t *testing.T) {
	cfg := config.DefaultConfig()

	rc, err := RuntimeConfig(cfg)
	require.NoError(t, err)

	assert.InDelta(t, 0.1, rc.Registry.SuccessRateSmoothing, 1e-9)
	assert.IsType(t, &discovery.PatternMatcher{}, rc.Registry.Matcher)
	assert.Same(t, rc.Registry.Matcher, rc.Assessor.Matcher)
	assert.Equal(t, 10, rc.Assessor.Window)
	assert.Equal(t, 200, rc.Assessor.OutcomeHistory)
	assert.Equal(t, float64(4096), rc.Admission.ResourceLimits.MemoryMB)
	assert.NotNil(t, rc.Admission.Estimator)
	assert.Equal(t, 20, rc.ReputationWindow)
	assert.Equal(t, lifecycle.SeverityDebug, rc.Telemetry.MinSeverity)
	assert.Equal(t, 5*time.Second, rc.Telemetry.FlushInterval)

	require.NotNil(t, rc.Execution.DefaultRetry)
	assert.Equal(t, 3, rc.Execution.DefaultRetry.MaxRetries)
	assert.Equal(t, retry.StrategyExponential, rc.Execution.DefaultRetry.Strategy)
	assert.Equal(t, []retry.Condition{retry.ConditionTimeout, retry.ConditionNetworkError},
		rc.Execution.DefaultRetry.Conditions)
}

func TestRuntimeConfig_Overrides(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Registry.Matcher = "exact"
	cfg.Events.MinSeverity = "warn"
	cfg.Execution.RetryStrategy = "linear"
	cfg.Execution.RetryConditions = nil
	cfg.Admission.ResourceLimits.CPUCores = 0

	rc, err := RuntimeConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, discovery.ExactMatcher{}, rc.Registry.Matcher)
	assert.Equal(t, lifecycle.SeverityWarning, rc.Telemetry.MinSeverity)
	assert.Equal(t, retry.StrategyLinear, rc.Execution.DefaultRetry.Strategy)
	assert.Equal(t, retry.DefaultConditions, rc.Execution.DefaultRetry.Conditions)
	assert.Zero(t, rc.Admission.ResourceLimits.CPUCores)

	cfg.Registry.Matcher = "fuzzy"
	_, err = RuntimeConfig(cfg)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	rt, err := New(nil, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, rt)
	t.Cleanup(func() { _ = rt.Shutdown(context.Background()) })

	bad := config.DefaultConfig()
	bad.Events.SamplingRate = 2
	_, err = New(bad, nil)
	assert.Error(t, err)
}

func TestAnomalyThresholds(t *testing.T) {
	th := AnomalyThresholds(config.DefaultEventsConfig().Anomaly)
	assert.Equal(t, 10, th.MaxDepth)
	assert.Equal(t, int64(300000), th.MaxDurationMs)
	assert.InDelta(t, 0.8, th.MinSuccessRate, 1e-9)
	assert.Equal(t, 5, th.MaxRetries)
}

const manifestsYAML = `
- agent_id: coder
  max_concurrent_tasks: 2
  capabilities:
    - capability_id: code_generation
      confidence_level: 0.9
      success_rate: 0.95
      supported_patterns: ["write *"]
- agent_id: reviewer
  capabilities:
    - capability_id: code_review
      confidence_level: 0.7
      success_rate: 0.8
`

func TestRegisterManifests_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifests.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifestsYAML), 0o644))

	registry := discovery.NewCapabilityRegistry(nil, nil)
	n, err := RegisterManifests(context.Background(), registry, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	m, err := registry.GetManifest(context.Background(), "coder")
	require.NoError(t, err)
	assert.Equal(t, 2, m.MaxConcurrentTasks)
	require.Len(t, m.Capabilities, 1)
	assert.Equal(t, []string{"write *"}, m.Capabilities[0].SupportedPatterns)
}

func TestRegisterManifests_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifests.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`[{"agent_id":"a","capabilities":[{"capability_id":"x","confidence_level":0.5}]}]`), 0o644))

	registry := discovery.NewCapabilityRegistry(nil, nil)
	n, err := RegisterManifests(context.Background(), registry, path)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegisterManifests_Errors(t *testing.T) {
	dir := t.TempDir()
	registry := discovery.NewCapabilityRegistry(nil, nil)

	_, err := RegisterManifests(context.Background(), registry, filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("- agent_id: [unclosed"), 0o644))
	_, err = RegisterManifests(context.Background(), registry, bad)
	assert.Error(t, err)

	// the second manifest is out of range; the first stays registered
	partial := filepath.Join(dir, "partial.json")
	require.NoError(t, os.WriteFile(partial, []byte(`[
		{"agent_id":"ok","capabilities":[{"capability_id":"x","confidence_level":0.5}]},
		{"agent_id":"bad","capabilities":[{"capability_id":"x","confidence_level":1.5}]}
	]`), 0o644))
	n, err := RegisterManifests(context.Background(), registry, partial)
	assert.Error(t, err)
	assert.Equal(t, 1, n)
	_, err = registry.GetManifest(context.Background(), "ok")
	assert.NoError(t, err)
}
