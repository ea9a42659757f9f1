// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "pattern", cfg.Registry.Matcher)
	assert.Equal(t, "exponential", cfg.Execution.RetryStrategy)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "delegation.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s

registry:
  query_cache_ttl: 30s
  matcher: exact
  assessment:
    window: 5
    significance_threshold: 0.05

admission:
  complexity_threshold: 9
  resource_limits:
    memory_mb: 2048
    api_calls: 50

execution:
  max_retries: 1
  retry_strategy: linear
  retry_conditions: [timeout]

events:
  min_severity: warning
  sampling_rate: 0.5
  anomaly:
    max_depth: 4

sinks:
  kafka:
    enabled: true
    brokers: ["k1:9092", "k2:9092"]
    topic: chains

log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 验证 YAML 值覆盖了默认值
	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	// 未出现的字段保留默认值
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)

	assert.Equal(t, 30*time.Second, cfg.Registry.QueryCacheTTL)
	assert.Equal(t, "exact", cfg.Registry.Matcher)
	assert.Equal(t, 5, cfg.Registry.Assessment.Window)
	assert.Equal(t, 0.05, cfg.Registry.Assessment.SignificanceThreshold)
	assert.Equal(t, 0.9, cfg.Registry.Assessment.RaiseAbove)

	assert.Equal(t, 9, cfg.Admission.ComplexityThreshold)
	assert.Equal(t, 2048.0, cfg.Admission.ResourceLimits.MemoryMB)
	assert.Equal(t, 50.0, cfg.Admission.ResourceLimits.APICalls)
	assert.Equal(t, 4.0, cfg.Admission.ResourceLimits.CPUCores)

	assert.Equal(t, 1, cfg.Execution.MaxRetries)
	assert.Equal(t, "linear", cfg.Execution.RetryStrategy)
	assert.Equal(t, []string{"timeout"}, cfg.Execution.RetryConditions)

	assert.Equal(t, "warning", cfg.Events.MinSeverity)
	assert.Equal(t, 0.5, cfg.Events.SamplingRate)
	assert.Equal(t, 4, cfg.Events.Anomaly.MaxDepth)
	assert.Equal(t, 0.8, cfg.Events.Anomaly.MinSuccessRate)

	assert.True(t, cfg.Sinks.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Sinks.Kafka.Brokers)
	assert.Equal(t, "chains", cfg.Sinks.Kafka.Topic)
	assert.True(t, cfg.Sinks.Log.Enabled)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	require.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("DELEGATION_SERVER_HTTP_PORT", "7777")
	t.Setenv("DELEGATION_SERVER_RATE_LIMIT_RPS", "12.5")
	t.Setenv("DELEGATION_AUTH_API_KEYS", "k1,k2")
	t.Setenv("DELEGATION_REGISTRY_QUERY_CACHE_TTL", "1m")
	t.Setenv("DELEGATION_REGISTRY_ASSESSMENT_RAISE_STEP", "0.2")
	t.Setenv("DELEGATION_ADMISSION_RESOURCE_LIMITS_MEMORY_MB", "512")
	t.Setenv("DELEGATION_EXECUTION_RETRY_STRATEGY", "none")
	t.Setenv("DELEGATION_EVENTS_ANOMALY_MAX_DURATION_MS", "1000")
	t.Setenv("DELEGATION_SINKS_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("DELEGATION_SINKS_REDIS_DB", "3")
	t.Setenv("DELEGATION_SINKS_NATS_ENABLED", "true")
	t.Setenv("DELEGATION_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, 12.5, cfg.Server.RateLimitRPS)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Auth.APIKeys)
	assert.True(t, cfg.Auth.Enabled())
	assert.Equal(t, time.Minute, cfg.Registry.QueryCacheTTL)
	assert.Equal(t, 0.2, cfg.Registry.Assessment.RaiseStep)
	assert.Equal(t, 512.0, cfg.Admission.ResourceLimits.MemoryMB)
	assert.Equal(t, "none", cfg.Execution.RetryStrategy)
	assert.Equal(t, int64(1000), cfg.Events.Anomaly.MaxDurationMs)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Sinks.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Sinks.Redis.DB)
	assert.True(t, cfg.Sinks.NATS.Enabled)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "delegation.yaml")
	yamlContent := `
server:
  http_port: 8888
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	// 环境变量应该覆盖 YAML
	t.Setenv("DELEGATION_SERVER_HTTP_PORT", "9999")
	t.Setenv("DELEGATION_LOG_LEVEL", "error")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "error", cfg.Log.Level)
	// YAML 值应该保留
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")
	t.Setenv("MYAPP_EVENTS_BUFFER_SIZE", "7")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
	assert.Equal(t, 7, cfg.Events.BufferSize)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("DELEGATION_SERVER_HTTP_PORT", "not-a-port")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_WithValidator(t *testing.T) {
	validator := func(cfg *Config) error {
		if cfg.Server.HTTPPort < 1024 {
			return assert.AnError
		}
		return nil
	}

	t.Setenv("DELEGATION_SERVER_HTTP_PORT", "80")

	_, err := NewLoader().
		WithValidator(validator).
		Load()
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLoader_NonExistentFile(t *testing.T) {
	// 指定不存在的文件，应该使用默认值（不报错）
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/delegation.yaml").
		Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")

	invalidYAML := `
server:
  http_port: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	_, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:    "invalid HTTP port (negative)",
			modify:  func(c *Config) { c.Server.HTTPPort = -1 },
			wantErr: "invalid HTTP port",
		},
		{
			name:    "invalid HTTP port (too large)",
			modify:  func(c *Config) { c.Server.HTTPPort = 70000 },
			wantErr: "invalid HTTP port",
		},
		{
			name:    "unknown matcher",
			modify:  func(c *Config) { c.Registry.Matcher = "fuzzy" },
			wantErr: "unknown registry matcher",
		},
		{
			name:    "negative ready agents",
			modify:  func(c *Config) { c.Registry.ReadyMinAgents = -1 },
			wantErr: "ready_min_agents",
		},
		{
			name:    "smoothing out of range",
			modify:  func(c *Config) { c.Registry.SuccessRateSmoothing = 1.5 },
			wantErr: "success_rate_smoothing",
		},
		{
			name:    "complexity penalty out of range",
			modify:  func(c *Config) { c.Admission.ComplexityPenalty = -0.1 },
			wantErr: "complexity_penalty",
		},
		{
			name:    "unknown retry strategy",
			modify:  func(c *Config) { c.Execution.RetryStrategy = "fibonacci" },
			wantErr: "unknown retry strategy",
		},
		{
			name:    "unknown retry condition",
			modify:  func(c *Config) { c.Execution.RetryConditions = []string{"always"} },
			wantErr: "unknown retry condition",
		},
		{
			name:    "sampling rate out of range",
			modify:  func(c *Config) { c.Events.SamplingRate = 2 },
			wantErr: "sampling_rate",
		},
		{
			name:    "unknown severity",
			modify:  func(c *Config) { c.Events.MinSeverity = "loud" },
			wantErr: "unknown min_severity",
		},
		{
			name: "kafka sink without brokers",
			modify: func(c *Config) {
				c.Sinks.Kafka.Enabled = true
				c.Sinks.Kafka.Brokers = nil
			},
			wantErr: "kafka sink",
		},
		{
			name: "database sink with unknown driver",
			modify: func(c *Config) {
				c.Sinks.Database.Enabled = true
				c.Database.Driver = "oracle"
			},
			wantErr: "unsupported database driver",
		},
		{
			name: "file sink without path",
			modify: func(c *Config) {
				c.Sinks.File.Enabled = true
				c.Sinks.File.Path = ""
			},
			wantErr: "file sink requires a path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Events.SamplingRate = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port; sampling_rate")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver:   "postgres",
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
				SSLMode:  "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver:   "mysql",
				Host:     "localhost",
				Port:     3306,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name: "sqlite DSN",
			config: DatabaseConfig{
				Driver: "sqlite",
				Name:   "/path/to/db.sqlite",
			},
			expected: "/path/to/db.sqlite",
		},
		{
			name:     "unknown driver",
			config:   DatabaseConfig{Driver: "unknown"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

func TestResourceLimitsConfig_Requirements(t *testing.T) {
	r := DefaultAdmissionConfig().ResourceLimits.Requirements()
	assert.Equal(t, 4096.0, r.MemoryMB)
	assert.Equal(t, 4.0, r.CPUCores)
	assert.Equal(t, 1000.0, r.APICalls)
}

// --- MustLoad 测试 ---

func TestMustLoad_Success(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "delegation.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8181\n"), 0644))

	cfg := MustLoad(configPath)
	assert.Equal(t, 8181, cfg.Server.HTTPPort)
}

func TestMustLoad_Panics(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [oops"), 0644))

	assert.Panics(t, func() { MustLoad(configPath) })
}
