// Package agentdelegation provides a top-level convenience entry point for
// creating a delegation runtime from a loaded configuration.
//
// Usage:
//
//	import "github.com/BaSui01/agentdelegation"
//
//	cfg := config.DefaultConfig()
//	rt, err := agentdelegation.New(cfg, logger)
//	rt, err := agentdelegation.New(cfg, logger, runtime.WithSinks(sink))
//
// The runtime itself lives in [runtime.Runtime]; this package only translates
// [config.Config] sections into the per-component configurations.
package agentdelegation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentdelegation/agent/admission"
	"github.com/BaSui01/agentdelegation/agent/discovery"
	"github.com/BaSui01/agentdelegation/agent/execution"
	"github.com/BaSui01/agentdelegation/agent/lifecycle"
	"github.com/BaSui01/agentdelegation/agent/observability"
	"github.com/BaSui01/agentdelegation/agent/runtime"
	"github.com/BaSui01/agentdelegation/config"
	"github.com/BaSui01/agentdelegation/internal/retry"
)

// New validates cfg and creates a runtime from it. A nil cfg uses
// [config.DefaultConfig].
func New(cfg *config.Config, logger *zap.Logger, opts ...runtime.Option) (*runtime.Runtime, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rc, err := RuntimeConfig(cfg)
	if err != nil {
		return nil, err
	}
	return runtime.New(rc, logger, opts...), nil
}

// RuntimeConfig converts the file/env configuration into a runtime.Config.
func RuntimeConfig(cfg *config.Config) (*runtime.Config, error) {
	matcher, err := Matcher(cfg.Registry.Matcher)
	if err != nil {
		return nil, err
	}

	severity, err := lifecycle.ParseSeverity(cfg.Events.MinSeverity)
	if err != nil {
		return nil, fmt.Errorf("events.min_severity: %w", err)
	}

	a := cfg.Registry.Assessment
	assessor := discovery.DefaultAssessorConfig()
	assessor.Window = a.Window
	assessor.RaiseAbove = a.RaiseAbove
	assessor.LowerBelow = a.LowerBelow
	assessor.RaiseStep = a.RaiseStep
	assessor.LowerStep = a.LowerStep
	assessor.Floor = a.Floor
	assessor.SignificanceThreshold = a.SignificanceThreshold
	assessor.Matcher = matcher

	adm := admission.DefaultConfig()
	adm.ResourceLimits = cfg.Admission.ResourceLimits.Requirements()
	adm.ComplexityThreshold = cfg.Admission.ComplexityThreshold
	adm.ComplexityPenalty = cfg.Admission.ComplexityPenalty
	adm.TimeRatioThreshold = cfg.Admission.TimeRatioThreshold

	exec := execution.DefaultConfig()
	exec.DefaultRetry = RetryPolicy(cfg.Execution)
	exec.HistorySize = cfg.Execution.HistorySize
	exec.SampleMemory = cfg.Execution.SampleMemory

	ev := cfg.Events
	return &runtime.Config{
		Registry: &discovery.RegistryConfig{
			QueryCacheTTL:        cfg.Registry.QueryCacheTTL,
			SuccessRateSmoothing: cfg.Registry.SuccessRateSmoothing,
			Matcher:              matcher,
		},
		Assessor:  assessor,
		Admission: adm,
		Execution: exec,
		Telemetry: &observability.Config{
			BufferSize:    ev.BufferSize,
			MaxBufferSize: ev.MaxBufferSize,
			FlushInterval: ev.FlushInterval,
			FlushTimeout:  ev.FlushTimeout,
			SamplingRate:  ev.SamplingRate,
			MinSeverity:   severity,
			HistorySize:   ev.HistorySize,
			ChainEvents:   ev.ChainEvents,
		},
		ReputationWindow: cfg.Admission.ReputationWindow,
	}, nil
}

// Matcher returns the task matcher registered under name. An empty name
// selects the pattern matcher.
func Matcher(name string) (discovery.TaskMatcher, error) {
	switch strings.ToLower(name) {
	case "", "pattern":
		return discovery.NewPatternMatcher(), nil
	case "exact":
		return discovery.ExactMatcher{}, nil
	}
	return nil, fmt.Errorf("unknown task matcher %q", name)
}

// RetryPolicy builds the default execution retry policy.
func RetryPolicy(cfg config.ExecutionConfig) *retry.Policy {
	conds := make([]retry.Condition, 0, len(cfg.RetryConditions))
	for _, c := range cfg.RetryConditions {
		conds = append(conds, retry.Condition(c))
	}
	if len(conds) == 0 {
		conds = retry.DefaultConditions
	}
	return &retry.Policy{
		MaxRetries:   cfg.MaxRetries,
		Strategy:     retry.Strategy(cfg.RetryStrategy),
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Conditions:   conds,
	}
}

// AnomalyThresholds converts the configured anomaly limits.
func AnomalyThresholds(cfg config.AnomalyConfig) observability.AnomalyThresholds {
	return observability.AnomalyThresholds{
		MaxDepth:       cfg.MaxDepth,
		MaxDurationMs:  cfg.MaxDurationMs,
		MinSuccessRate: cfg.MinSuccessRate,
		MaxRetries:     cfg.MaxRetries,
	}
}

// LoadManifests reads a list of capability manifests from a JSON or YAML
// file. YAML keys use the same snake_case names as the JSON documents.
func LoadManifests(path string) ([]*discovery.CapabilityManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifests file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse manifests yaml: %w", err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("convert manifests yaml: %w", err)
		}
	}

	var manifests []*discovery.CapabilityManifest
	if err := json.Unmarshal(data, &manifests); err != nil {
		return nil, fmt.Errorf("parse manifests: %w", err)
	}
	return manifests, nil
}

// RegisterManifests loads path and registers every manifest in it. The first
// failure stops registration.
func RegisterManifests(ctx context.Context, registry *discovery.CapabilityRegistry, path string) (int, error) {
	manifests, err := LoadManifests(path)
	if err != nil {
		return 0, err
	}
	for i, m := range manifests {
		if err := registry.RegisterManifest(ctx, m); err != nil {
			return i, fmt.Errorf("register manifest %d: %w", i, err)
		}
	}
	return len(manifests), nil
}
