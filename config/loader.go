// =============================================================================
// 📦 委托运行时配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("delegation.yaml").
//	    WithEnvPrefix("DELEGATION").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// 环境变量名由段名与字段名拼接，例如 DELEGATION_SERVER_HTTP_PORT、
// DELEGATION_SINKS_KAFKA_BROKERS（切片使用逗号分隔）。
// =============================================================================
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentdelegation/types"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是委托运行时的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server"`

	// Auth API 认证配置
	Auth AuthConfig `yaml:"auth"`

	// Registry 能力注册表与自评估配置
	Registry RegistryConfig `yaml:"registry"`

	// Admission 准入引擎配置
	Admission AdmissionConfig `yaml:"admission"`

	// Execution 执行引擎配置
	Execution ExecutionConfig `yaml:"execution"`

	// Events 遥测收集器配置
	Events EventsConfig `yaml:"events"`

	// Sinks 事件导出配置
	Sinks SinksConfig `yaml:"sinks"`

	// Database SQL Sink 使用的数据库
	Database DatabaseConfig `yaml:"database"`

	// Log 日志配置
	Log LogConfig `yaml:"log"`

	// Telemetry OpenTelemetry 配置
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" split_words:"true"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" split_words:"true"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" split_words:"true"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" split_words:"true"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true"`
	// 请求体上限（字节）
	MaxBodyBytes int64 `yaml:"max_body_bytes" split_words:"true"`
	// 限流：每秒请求数
	RateLimitRPS float64 `yaml:"rate_limit_rps" split_words:"true"`
	// 限流：突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" split_words:"true"`
}

// AuthConfig API 认证配置。APIKeys 与 JWTSecret 均为空时不启用认证。
type AuthConfig struct {
	// 允许的 API Key（X-API-Key 头）
	APIKeys []string `yaml:"api_keys" split_words:"true"`
	// HMAC JWT 密钥（Authorization: Bearer）
	JWTSecret string `yaml:"jwt_secret" split_words:"true"`
	// 期望的签发者，为空不校验
	JWTIssuer string `yaml:"jwt_issuer" split_words:"true"`
	// 免认证路径
	SkipPaths []string `yaml:"skip_paths" split_words:"true"`
}

// Enabled 是否启用认证
func (a AuthConfig) Enabled() bool {
	return len(a.APIKeys) > 0 || a.JWTSecret != ""
}

// RegistryConfig 能力注册表配置
type RegistryConfig struct {
	// 查询缓存 TTL，0 关闭缓存
	QueryCacheTTL time.Duration `yaml:"query_cache_ttl" split_words:"true"`
	// 成功率 EMA 平滑系数
	SuccessRateSmoothing float64 `yaml:"success_rate_smoothing" split_words:"true"`
	// 任务匹配器: exact, pattern
	Matcher string `yaml:"matcher"`
	// 启动时加载的能力清单文件（JSON 数组）
	ManifestsFile string `yaml:"manifests_file" split_words:"true"`
	// 就绪检查要求的最少已注册 Agent 数，0 不要求
	ReadyMinAgents int `yaml:"ready_min_agents" split_words:"true"`
	// 自评估配置
	Assessment AssessmentConfig `yaml:"assessment"`
}

// AssessmentConfig 能力自评估配置
type AssessmentConfig struct {
	Window                int     `yaml:"window"`
	RaiseAbove            float64 `yaml:"raise_above" split_words:"true"`
	LowerBelow            float64 `yaml:"lower_below" split_words:"true"`
	RaiseStep             float64 `yaml:"raise_step" split_words:"true"`
	LowerStep             float64 `yaml:"lower_step" split_words:"true"`
	Floor                 float64 `yaml:"floor"`
	SignificanceThreshold float64 `yaml:"significance_threshold" split_words:"true"`
}

// AdmissionConfig 准入引擎配置
type AdmissionConfig struct {
	// 复杂度阈值与惩罚
	ComplexityThreshold int     `yaml:"complexity_threshold" split_words:"true"`
	ComplexityPenalty   float64 `yaml:"complexity_penalty" split_words:"true"`
	// 预计耗时 / 超时 的比例阈值
	TimeRatioThreshold float64 `yaml:"time_ratio_threshold" split_words:"true"`
	// 信誉窗口大小
	ReputationWindow int `yaml:"reputation_window" split_words:"true"`
	// 单个合约的资源上限，0 表示不限
	ResourceLimits ResourceLimitsConfig `yaml:"resource_limits" split_words:"true"`
}

// ResourceLimitsConfig 资源上限
type ResourceLimitsConfig struct {
	MemoryMB    float64 `yaml:"memory_mb" split_words:"true"`
	CPUCores    float64 `yaml:"cpu_cores" split_words:"true"`
	NetworkMbps float64 `yaml:"network_mbps" split_words:"true"`
	StorageMB   float64 `yaml:"storage_mb" split_words:"true"`
	APICalls    float64 `yaml:"api_calls" split_words:"true"`
}

// Requirements 转换为资源向量
func (r ResourceLimitsConfig) Requirements() types.ResourceRequirements {
	return types.ResourceRequirements{
		MemoryMB:    r.MemoryMB,
		CPUCores:    r.CPUCores,
		NetworkMbps: r.NetworkMbps,
		StorageMB:   r.StorageMB,
		APICalls:    r.APICalls,
	}
}

// ExecutionConfig 执行引擎配置，重试字段用于未携带 retry_policy 的合约
type ExecutionConfig struct {
	HistorySize     int           `yaml:"history_size" split_words:"true"`
	SampleMemory    bool          `yaml:"sample_memory" split_words:"true"`
	MaxRetries      int           `yaml:"max_retries" split_words:"true"`
	RetryStrategy   string        `yaml:"retry_strategy" split_words:"true"`
	InitialDelay    time.Duration `yaml:"initial_delay" split_words:"true"`
	MaxDelay        time.Duration `yaml:"max_delay" split_words:"true"`
	RetryConditions []string      `yaml:"retry_conditions" split_words:"true"`
}

// EventsConfig 遥测收集器配置
type EventsConfig struct {
	BufferSize    int           `yaml:"buffer_size" split_words:"true"`
	MaxBufferSize int           `yaml:"max_buffer_size" split_words:"true"`
	FlushInterval time.Duration `yaml:"flush_interval" split_words:"true"`
	FlushTimeout  time.Duration `yaml:"flush_timeout" split_words:"true"`
	SamplingRate  float64       `yaml:"sampling_rate" split_words:"true"`
	// 最低严重级别: debug, info, warning, error, critical
	MinSeverity string `yaml:"min_severity" split_words:"true"`
	HistorySize int    `yaml:"history_size" split_words:"true"`
	ChainEvents bool   `yaml:"chain_events" split_words:"true"`
	// 异常检测阈值
	Anomaly AnomalyConfig `yaml:"anomaly"`
}

// AnomalyConfig 链异常检测阈值
type AnomalyConfig struct {
	MaxDepth       int     `yaml:"max_depth" split_words:"true"`
	MaxDurationMs  int64   `yaml:"max_duration_ms" split_words:"true"`
	MinSuccessRate float64 `yaml:"min_success_rate" split_words:"true"`
	MaxRetries     int     `yaml:"max_retries" split_words:"true"`
}

// SinksConfig 事件导出配置
type SinksConfig struct {
	Log      LogSinkConfig      `yaml:"log"`
	File     FileSinkConfig     `yaml:"file"`
	Redis    RedisSinkConfig    `yaml:"redis"`
	Database DatabaseSinkConfig `yaml:"database"`
	Kafka    KafkaSinkConfig    `yaml:"kafka"`
	NATS     NATSSinkConfig     `yaml:"nats"`
}

// LogSinkConfig 日志 Sink
type LogSinkConfig struct {
	Enabled bool `yaml:"enabled"`
}

// FileSinkConfig JSONL 文件 Sink
type FileSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RedisSinkConfig Redis Stream Sink
type RedisSinkConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len" split_words:"true"`
}

// DatabaseSinkConfig SQL Sink，连接参数见 Config.Database
type DatabaseSinkConfig struct {
	Enabled     bool `yaml:"enabled"`
	BatchSize   int  `yaml:"batch_size" split_words:"true"`
	AutoMigrate bool `yaml:"auto_migrate" split_words:"true"`
}

// KafkaSinkConfig Kafka Sink
type KafkaSinkConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// NATSSinkConfig NATS Sink
type NATSSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver"`
	// 主机
	Host string `yaml:"host"`
	// 端口
	Port int `yaml:"port"`
	// 用户名
	User string `yaml:"user"`
	// 密码
	Password string `yaml:"password"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" split_words:"true"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" split_words:"true"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" split_words:"true"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" split_words:"true"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level"`
	// 输出格式: json, console
	Format string `yaml:"format"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" split_words:"true"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" split_words:"true"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" split_words:"true"`
}

// TelemetryConfig OpenTelemetry 配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" split_words:"true"`
	// 服务名称
	ServiceName string `yaml:"service_name" split_words:"true"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" split_words:"true"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "DELEGATION",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := envconfig.Process(l.envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

var (
	severities      = []string{"debug", "info", "warning", "warn", "error", "critical"}
	retryStrategies = []string{"none", "linear", "exponential"}
	retryConditions = []string{"timeout", "network_error", "resource_unavailable"}
	matchers        = []string{"exact", "pattern"}
	drivers         = []string{"postgres", "mysql", "sqlite"}
)

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "rate_limit_rps must not be negative")
	}

	if c.Registry.Matcher != "" && !slices.Contains(matchers, c.Registry.Matcher) {
		errs = append(errs, fmt.Sprintf("unknown registry matcher %q", c.Registry.Matcher))
	}
	if c.Registry.ReadyMinAgents < 0 {
		errs = append(errs, "ready_min_agents must not be negative")
	}
	if s := c.Registry.SuccessRateSmoothing; s < 0 || s > 1 {
		errs = append(errs, "success_rate_smoothing must be between 0 and 1")
	}

	if p := c.Admission.ComplexityPenalty; p < 0 || p > 1 {
		errs = append(errs, "complexity_penalty must be between 0 and 1")
	}

	if c.Execution.MaxRetries < 0 {
		errs = append(errs, "max_retries must not be negative")
	}
	if !slices.Contains(retryStrategies, c.Execution.RetryStrategy) {
		errs = append(errs, fmt.Sprintf("unknown retry strategy %q", c.Execution.RetryStrategy))
	}
	for _, cond := range c.Execution.RetryConditions {
		if !slices.Contains(retryConditions, cond) {
			errs = append(errs, fmt.Sprintf("unknown retry condition %q", cond))
		}
	}

	if r := c.Events.SamplingRate; r < 0 || r > 1 {
		errs = append(errs, "sampling_rate must be between 0 and 1")
	}
	if !slices.Contains(severities, strings.ToLower(c.Events.MinSeverity)) {
		errs = append(errs, fmt.Sprintf("unknown min_severity %q", c.Events.MinSeverity))
	}

	if c.Sinks.File.Enabled && c.Sinks.File.Path == "" {
		errs = append(errs, "file sink requires a path")
	}
	if c.Sinks.Redis.Enabled && c.Sinks.Redis.Addr == "" {
		errs = append(errs, "redis sink requires an addr")
	}
	if c.Sinks.Kafka.Enabled && (len(c.Sinks.Kafka.Brokers) == 0 || c.Sinks.Kafka.Topic == "") {
		errs = append(errs, "kafka sink requires brokers and a topic")
	}
	if c.Sinks.NATS.Enabled && c.Sinks.NATS.URL == "" {
		errs = append(errs, "nats sink requires a url")
	}
	if c.Sinks.Database.Enabled && !slices.Contains(drivers, c.Database.Driver) {
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
