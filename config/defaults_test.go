package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentdelegation/agent/admission"
	"github.com/BaSui01/agentdelegation/agent/observability"
	"github.com/BaSui01/agentdelegation/internal/retry"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, RegistryConfig{}, cfg.Registry)
	assert.NotEqual(t, AdmissionConfig{}, cfg.Admission)
	assert.NotEqual(t, EventsConfig{}, cfg.Events)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NoError(t, cfg.Validate())
}

// --- Individual Default*Config functions ---

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.Equal(t, 100.0, cfg.RateLimitRPS)
	assert.Equal(t, 200, cfg.RateLimitBurst)
}

func TestDefaultAuthConfig(t *testing.T) {
	cfg := DefaultAuthConfig()
	assert.False(t, cfg.Enabled())
	assert.Contains(t, cfg.SkipPaths, "/health")
	assert.Contains(t, cfg.SkipPaths, "/metrics")

	cfg.JWTSecret = "s3cret"
	assert.True(t, cfg.Enabled())
}

func TestDefaultAdmissionConfig_MatchesEngine(t *testing.T) {
	cfg := DefaultAdmissionConfig()
	engine := admission.DefaultConfig()

	assert.Equal(t, engine.ComplexityThreshold, cfg.ComplexityThreshold)
	assert.Equal(t, engine.ComplexityPenalty, cfg.ComplexityPenalty)
	assert.Equal(t, engine.TimeRatioThreshold, cfg.TimeRatioThreshold)
	assert.Equal(t, engine.ResourceLimits, cfg.ResourceLimits.Requirements())
	assert.Equal(t, admission.DefaultReputationWindow, cfg.ReputationWindow)
}

func TestDefaultExecutionConfig_MatchesRetryPolicy(t *testing.T) {
	cfg := DefaultExecutionConfig()
	p := retry.DefaultPolicy()

	assert.Equal(t, p.MaxRetries, cfg.MaxRetries)
	assert.Equal(t, string(p.Strategy), cfg.RetryStrategy)
	assert.Equal(t, p.InitialDelay, cfg.InitialDelay)
	assert.Equal(t, p.MaxDelay, cfg.MaxDelay)
	assert.True(t, cfg.SampleMemory)
}

func TestDefaultEventsConfig_MatchesCollector(t *testing.T) {
	cfg := DefaultEventsConfig()
	c := observability.DefaultConfig()

	assert.Equal(t, c.BufferSize, cfg.BufferSize)
	assert.Equal(t, c.MaxBufferSize, cfg.MaxBufferSize)
	assert.Equal(t, c.FlushInterval, cfg.FlushInterval)
	assert.Equal(t, c.SamplingRate, cfg.SamplingRate)
	assert.Equal(t, c.MinSeverity.String(), cfg.MinSeverity)

	th := observability.DefaultAnomalyThresholds()
	assert.Equal(t, th.MaxDepth, cfg.Anomaly.MaxDepth)
	assert.Equal(t, th.MaxDurationMs, cfg.Anomaly.MaxDurationMs)
	assert.Equal(t, th.MinSuccessRate, cfg.Anomaly.MinSuccessRate)
	assert.Equal(t, th.MaxRetries, cfg.Anomaly.MaxRetries)
}

func TestDefaultSinksConfig(t *testing.T) {
	cfg := DefaultSinksConfig()
	assert.True(t, cfg.Log.Enabled)
	assert.False(t, cfg.File.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Kafka.Enabled)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, "delegation:events", cfg.Redis.Stream)
	assert.Equal(t, "delegation.events", cfg.NATS.Subject)
}

func TestDefaultDatabaseConfig(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, 5432, cfg.Port)
	assert.Equal(t, "disable", cfg.SSLMode)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.True(t, cfg.EnableCaller)
	assert.False(t, cfg.EnableStacktrace)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "delegationd", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}
