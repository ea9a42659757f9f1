package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/agentdelegation"
	"github.com/BaSui01/agentdelegation/agent/observability"
	"github.com/BaSui01/agentdelegation/agent/runtime"
	"github.com/BaSui01/agentdelegation/api/handlers"
	"github.com/BaSui01/agentdelegation/config"
	"github.com/BaSui01/agentdelegation/internal/database"
	"github.com/BaSui01/agentdelegation/internal/metrics"
	"github.com/BaSui01/agentdelegation/internal/server"
	"github.com/BaSui01/agentdelegation/internal/telemetry"
)

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the delegation API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(serveConfigPath)
		if err != nil {
			return err
		}

		logger, level := initLogger(cfg.Log)
		defer func() { _ = logger.Sync() }()

		logger.Info("Starting delegationd",
			zap.String("version", Version),
			zap.String("build_time", BuildTime),
			zap.String("git_commit", GitCommit),
		)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := NewServer(cfg, serveConfigPath, logger, level)
		if err := srv.Start(ctx); err != nil {
			srv.Shutdown(context.Background())
			return fmt.Errorf("start server: %w", err)
		}

		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received")
		case err := <-srv.httpManager.Errors():
			logger.Error("HTTP server failed", zap.Error(err))
		case err := <-srv.metricsManager.Errors():
			logger.Error("Metrics server failed", zap.Error(err))
		}

		srv.Shutdown(context.Background())
		logger.Info("delegationd stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to config file (YAML)")
}

// loadConfig 加载并校验配置：默认值 → YAML 文件 → 环境变量
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装委托运行时、HTTP API 与指标服务
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel

	registry *prometheus.Registry
	metrics  *metrics.Collector
	otel     *telemetry.Providers
	db       *database.PoolManager
	redis    *redis.Client
	runtime  *runtime.Runtime

	httpManager    *server.Manager
	metricsManager *server.Manager

	// 后台任务（限流清理、配置重载）的生命周期
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// 运行时不负责关闭的外部连接
	closers []io.Closer
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		level:      level,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有组件，任一步失败即返回，调用方负责 Shutdown
func (s *Server) Start(ctx context.Context) error {
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	// 1. 指标收集器使用独立注册表
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = metrics.NewCollectorWithRegisterer(s.registry, "delegation", s.logger)

	// 2. OpenTelemetry
	providers, err := telemetry.Init(ctx, s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.otel = providers

	// 3. 遥测 Sink
	sinks, err := s.buildSinks()
	if err != nil {
		return fmt.Errorf("build sinks: %w", err)
	}

	// 4. 委托运行时
	s.runtime, err = agentdelegation.New(s.cfg, s.logger,
		runtime.WithSinks(sinks...),
		runtime.WithMetrics(s.metrics),
	)
	if err != nil {
		// 运行时未创建时由这里关闭 Sink
		for _, sink := range sinks {
			_ = sink.Close()
		}
		return fmt.Errorf("create runtime: %w", err)
	}
	s.runtime.Start(bg)

	if path := s.cfg.Registry.ManifestsFile; path != "" {
		n, err := agentdelegation.RegisterManifests(ctx, s.runtime.Registry(), path)
		if err != nil {
			return fmt.Errorf("load manifests: %w", err)
		}
		s.logger.Info("Manifests loaded", zap.String("path", path), zap.Int("count", n))
	}

	// 5. Metrics 与 HTTP 服务器；API 的健康检查包含 Metrics 服务状态
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	if err := s.startHTTPServer(bg); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}

	// 6. 配置重载
	if s.configPath != "" {
		s.startReloader(bg)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("reload_enabled", s.configPath != ""),
	)
	return nil
}

// =============================================================================
// 📤 Sink 装配
// =============================================================================

// buildSinks 按配置创建遥测 Sink。失败时关闭已创建的 Sink。
func (s *Server) buildSinks() (sinks []observability.Sink, err error) {
	sc := s.cfg.Sinks
	defer func() {
		if err != nil {
			for _, sink := range sinks {
				_ = sink.Close()
			}
			sinks = nil
		}
	}()

	if sc.Log.Enabled {
		sinks = append(sinks, observability.NewLogSink(s.logger))
	}

	if sc.File.Enabled {
		fs, err := observability.NewFileSink(sc.File.Path)
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, fs)
	}

	if sc.Redis.Enabled {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
		})
		s.closers = append(s.closers, s.redis)
		sinks = append(sinks, observability.NewRedisStreamSink(s.redis, sc.Redis.Stream, sc.Redis.MaxLen))
	}

	if sc.Database.Enabled {
		s.db, err = database.Open(s.cfg.Database, s.logger, database.WithMetrics(s.metrics, s.cfg.Database.Driver))
		if err != nil {
			return sinks, err
		}
		s.closers = append(s.closers, s.db)
		gs, err := observability.NewGormSink(s.db.DB(), sc.Database.BatchSize, sc.Database.AutoMigrate)
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, gs)
	}

	if sc.Kafka.Enabled {
		sinks = append(sinks, observability.NewKafkaSink(sc.Kafka.Brokers, sc.Kafka.Topic))
	}

	if sc.NATS.Enabled {
		ns, err := observability.NewNATSSink(sc.NATS.URL, sc.NATS.Subject)
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, ns)
	}

	names := make([]string, 0, len(sinks))
	for _, sink := range sinks {
		names = append(names, sink.Name())
	}
	s.logger.Info("Telemetry sinks configured", zap.Strings("sinks", names))
	return sinks, nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 挂载全部 API 与健康检查路由
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	health := handlers.NewHealthHandler(s.logger)
	for _, check := range s.healthChecks() {
		health.RegisterCheck(check)
	}
	health.Register(mux)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	handlers.NewManifestHandler(s.runtime.Registry(), s.logger).Register(mux)
	handlers.NewContractHandler(s.runtime, s.logger).Register(mux)
	handlers.NewTelemetryHandler(
		s.runtime.Collector(),
		agentdelegation.AnomalyThresholds(s.cfg.Events.Anomaly),
		s.logger,
	).Register(mux)

	return mux
}

// healthChecks 返回委托组件与外部依赖的检查项
func (s *Server) healthChecks() []handlers.HealthCheck {
	checks := []handlers.HealthCheck{
		handlers.NewTelemetryBufferCheck(s.runtime.Collector(), s.cfg.Events.MaxBufferSize),
		handlers.NewRegistryCheck(s.runtime.Registry(), s.cfg.Registry.ReadyMinAgents),
	}
	if s.metricsManager != nil {
		checks = append(checks, s.metricsManager)
	}
	if s.db != nil {
		checks = append(checks, handlers.NewFuncCheck("database", s.db.Ping))
	}
	if s.redis != nil {
		checks = append(checks, handlers.NewFuncCheck("redis", func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		}))
	}
	return checks
}

// startHTTPServer 构建中间件链并启动 API 服务器
func (s *Server) startHTTPServer(ctx context.Context) error {
	sc := s.cfg.Server
	handler := Chain(s.routes(),
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.metrics),
		RequestLogger(s.logger),
		MaxBody(sc.MaxBodyBytes),
		Auth(s.cfg.Auth, s.logger),
		RateLimiter(ctx, sc.RateLimitRPS, sc.RateLimitBurst, s.logger),
	)

	s.httpManager = server.NewManager(handler, server.APIConfig(sc), s.logger)

	return s.httpManager.Start()
}

// startMetricsServer 在独立端口暴露 /metrics
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	}))

	s.metricsManager = server.NewManager(mux, server.MetricsConfig(s.cfg.Server), s.logger)

	return s.metricsManager.Start()
}

// =============================================================================
// 🔄 配置重载
// =============================================================================

// startReloader 轮询配置文件。日志级别即时生效，其余变更需重启。
func (s *Server) startReloader(ctx context.Context) {
	reloader := config.NewReloader(s.configPath, s.cfg, config.WithReloaderLogger(s.logger))
	reloader.OnReload(func(old, next *config.Config) {
		if old.Log.Level != next.Log.Level {
			s.level.SetLevel(parseLevel(next.Log.Level))
			s.logger.Info("Log level changed", zap.String("level", next.Log.Level))
		}
		if old.Server != next.Server || old.Sinks.Database != next.Sinks.Database {
			s.logger.Warn("Server or sink settings changed, restart required to apply")
		}
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		reloader.Run(ctx)
	}()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Shutdown 依次关闭 HTTP 服务器、运行时、OTel 与外部连接
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if s.httpManager != nil {
		errs = append(errs, s.httpManager.Shutdown(ctx))
	}
	if s.metricsManager != nil {
		errs = append(errs, s.metricsManager.Shutdown(ctx))
	}

	// 停止后台任务
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if s.runtime != nil {
		errs = append(errs, s.runtime.Shutdown(ctx))
	}
	if s.otel != nil {
		errs = append(errs, s.otel.Shutdown(ctx))
	}
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("Shutdown completed with errors", zap.Error(err))
		return
	}
	s.logger.Info("Graceful shutdown completed")
}
