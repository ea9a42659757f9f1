// =============================================================================
// 📦 委托运行时默认配置
// =============================================================================
// 提供所有配置项的合理默认值，与各组件的 DefaultConfig 保持一致
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Auth:      DefaultAuthConfig(),
		Registry:  DefaultRegistryConfig(),
		Admission: DefaultAdmissionConfig(),
		Execution: DefaultExecutionConfig(),
		Events:    DefaultEventsConfig(),
		Sinks:     DefaultSinksConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		MaxBodyBytes:    1 << 20,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultAuthConfig 返回默认认证配置（未配置密钥时不启用）
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		SkipPaths: []string{"/health", "/healthz", "/metrics"},
	}
}

// DefaultRegistryConfig 返回默认注册表配置
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		QueryCacheTTL:        0,
		SuccessRateSmoothing: 0.1,
		Matcher:              "pattern",
		Assessment: AssessmentConfig{
			Window:                10,
			RaiseAbove:            0.9,
			LowerBelow:            0.7,
			RaiseStep:             0.05,
			LowerStep:             0.1,
			Floor:                 0.1,
			SignificanceThreshold: 0.1,
		},
	}
}

// DefaultAdmissionConfig 返回默认准入配置
func DefaultAdmissionConfig() AdmissionConfig {
	return AdmissionConfig{
		ComplexityThreshold: 7,
		ComplexityPenalty:   0.1,
		TimeRatioThreshold:  0.8,
		ReputationWindow:    20,
		ResourceLimits: ResourceLimitsConfig{
			MemoryMB:    4096,
			CPUCores:    4,
			NetworkMbps: 100,
			StorageMB:   10240,
			APICalls:    1000,
		},
	}
}

// DefaultExecutionConfig 返回默认执行配置
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		HistorySize:     100,
		SampleMemory:    true,
		MaxRetries:      3,
		RetryStrategy:   "exponential",
		InitialDelay:    time.Second,
		MaxDelay:        30 * time.Second,
		RetryConditions: []string{"timeout", "network_error"},
	}
}

// DefaultEventsConfig 返回默认遥测收集配置
func DefaultEventsConfig() EventsConfig {
	return EventsConfig{
		BufferSize:    100,
		MaxBufferSize: 10000,
		FlushInterval: 5 * time.Second,
		FlushTimeout:  10 * time.Second,
		SamplingRate:  1.0,
		MinSeverity:   "debug",
		HistorySize:   10000,
		ChainEvents:   true,
		Anomaly: AnomalyConfig{
			MaxDepth:       10,
			MaxDurationMs:  300000,
			MinSuccessRate: 0.8,
			MaxRetries:     5,
		},
	}
}

// DefaultSinksConfig 返回默认 Sink 配置（仅日志 Sink 启用）
func DefaultSinksConfig() SinksConfig {
	return SinksConfig{
		Log:  LogSinkConfig{Enabled: true},
		File: FileSinkConfig{Path: "delegation-events.jsonl"},
		Redis: RedisSinkConfig{
			Addr:   "localhost:6379",
			Stream: "delegation:events",
			MaxLen: 100000,
		},
		Database: DatabaseSinkConfig{
			BatchSize:   100,
			AutoMigrate: true,
		},
		Kafka: KafkaSinkConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "delegation-events",
		},
		NATS: NATSSinkConfig{
			URL:     "nats://localhost:4222",
			Subject: "delegation.events",
		},
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "delegation",
		Password:        "",
		Name:            "delegation",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "delegationd",
		SampleRate:   0.1,
	}
}
