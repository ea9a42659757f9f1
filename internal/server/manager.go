package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentdelegation/config"
)

// delegationd 承载的两个服务
const (
	NameAPI     = "api"
	NameMetrics = "metrics"
)

// =============================================================================
// 🌐 委托服务 HTTP 管理器
// =============================================================================

// Manager 管理一个委托服务端口（API 或指标）的监听、服务与关闭
type Manager struct {
	server   *http.Server
	listener net.Listener
	errCh    chan error
	config   Config
	logger   *zap.Logger
	mu       sync.RWMutex
	closed   bool
	serveErr error

	// 当前打开的连接数（含空闲 keep-alive 连接）
	active atomic.Int64
}

// Config 服务器配置
type Config struct {
	// 服务名：api 或 metrics
	Name string `yaml:"name" json:"name"`

	// 监听地址
	Addr string `yaml:"addr" json:"addr"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// 最大请求头大小
	MaxHeaderBytes int `yaml:"max_header_bytes" json:"max_header_bytes"`

	// 优雅关闭超时，进行中的委托请求在此期限内排空
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig 返回委托 API 的默认配置
func DefaultConfig() Config {
	return APIConfig(config.DefaultServerConfig())
}

// APIConfig 由 server 配置段构建委托 API 服务配置
func APIConfig(sc config.ServerConfig) Config {
	return Config{
		Name:            NameAPI,
		Addr:            fmt.Sprintf(":%d", sc.HTTPPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     4 * sc.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: sc.ShutdownTimeout,
	}
}

// MetricsConfig 由 server 配置段构建 Prometheus 指标服务配置。
// 抓取请求很小，请求头上限收紧到 64KB。
func MetricsConfig(sc config.ServerConfig) Config {
	return Config{
		Name:            NameMetrics,
		Addr:            fmt.Sprintf(":%d", sc.MetricsPort),
		ReadTimeout:     sc.ReadTimeout,
		WriteTimeout:    sc.WriteTimeout,
		IdleTimeout:     sc.ReadTimeout,
		MaxHeaderBytes:  64 << 10,
		ShutdownTimeout: sc.ShutdownTimeout,
	}
}

// NewManager 创建服务器管理器
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = NameAPI
	}

	m := &Manager{
		errCh:  make(chan error, 1),
		config: cfg,
		logger: logger.With(
			zap.String("component", "delegation_server"),
			zap.String("server", cfg.Name),
		),
	}
	m.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		ConnState:         m.trackConn,
		ErrorLog:          zap.NewStdLog(m.logger),
	}
	return m
}

func (m *Manager) trackConn(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		m.active.Add(1)
	case http.StateHijacked, http.StateClosed:
		m.active.Add(-1)
	}
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Start 启动服务器（非阻塞）
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("%s server is closed", m.config.Name)
	}
	if m.listener != nil {
		return fmt.Errorf("%s server already started", m.config.Name)
	}

	listener, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("%s server failed to listen on %s: %w", m.config.Name, m.config.Addr, err)
	}

	m.listener = listener
	m.logger.Info("delegation server listening", zap.String("addr", listener.Addr().String()))

	go m.serve(listener)
	return nil
}

func (m *Manager) serve(listener net.Listener) {
	if err := m.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error("delegation server failed", zap.Error(err))
		m.mu.Lock()
		m.serveErr = err
		m.mu.Unlock()
		select {
		case m.errCh <- err:
		default:
		}
	}
}

// Run 启动服务器并阻塞，直到 ctx 取消或服务异常退出，随后优雅关闭。
// ctx 正常取消时返回 nil。
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-m.errCh:
		m.logger.Error("delegation server exited unexpectedly", zap.Error(serveErr))
	}

	shutdownErr := m.Shutdown(context.WithoutCancel(ctx))
	return errors.Join(serveErr, shutdownErr)
}

// Shutdown 停止接受新连接，并在 ShutdownTimeout 内排空进行中的请求
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.logger.Info("draining delegation server", zap.Int64("connections", m.active.Load()))

	if m.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.ShutdownTimeout)
		defer cancel()
	}

	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Error("delegation server shutdown failed",
			zap.Error(err),
			zap.Int64("connections", m.active.Load()),
		)
		return fmt.Errorf("shutdown %s server: %w", m.config.Name, err)
	}

	m.logger.Info("delegation server stopped")
	return nil
}

// Errors 返回异步服务错误通道
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// =============================================================================
// 🔧 辅助方法
// =============================================================================

// Name 返回服务名
func (m *Manager) Name() string {
	return m.config.Name
}

// Addr 返回实际监听地址，未启动时返回配置地址
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.config.Addr
}

// IsRunning 报告服务器是否已启动且未关闭
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listener != nil && !m.closed
}

// ActiveConnections 返回当前打开的连接数
func (m *Manager) ActiveConnections() int64 {
	return m.active.Load()
}

// Check 实现健康检查：服务未运行或已异步失败时返回错误
func (m *Manager) Check(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.serveErr != nil {
		return fmt.Errorf("%s server failed: %w", m.config.Name, m.serveErr)
	}
	if m.listener == nil || m.closed {
		return fmt.Errorf("%s server is not running", m.config.Name)
	}
	return nil
}
