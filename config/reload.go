// 配置文件轮询重载实现。
//
// 周期检查配置文件修改时间，变更后重新加载并校验，
// 成功时通知回调，失败时保留当前配置。
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReloadCallback 配置变更回调
type ReloadCallback func(old, new *Config)

// ReloaderOption 配置 Reloader
type ReloaderOption func(*Reloader)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithReloaderLogger 设置日志记录器
func WithReloaderLogger(logger *zap.Logger) ReloaderOption {
	return func(r *Reloader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Reloader 监听配置文件并在修改后重新加载
type Reloader struct {
	mu sync.RWMutex

	path     string
	loader   *Loader
	interval time.Duration

	current *Config
	lastMod time.Time

	callbacks []ReloadCallback

	logger *zap.Logger
}

// NewReloader 创建重载器，initial 为当前生效配置
func NewReloader(path string, initial *Config, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		path:     path,
		loader:   NewLoader().WithConfigPath(path),
		interval: time.Second,
		current:  initial,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "config_reloader"))

	if info, err := os.Stat(path); err == nil {
		r.lastMod = info.ModTime()
	}
	return r
}

// OnReload 注册配置变更回调
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Current 返回当前生效配置
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Run 阻塞轮询直到 ctx 取消
func (r *Reloader) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("config reloader started",
		zap.String("path", r.path),
		zap.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Check(); err != nil {
				r.logger.Warn("config reload failed, keeping current config", zap.Error(err))
			}
		}
	}
}

// Check 检查文件是否变更，变更时重新加载。返回是否发生了重载。
func (r *Reloader) Check() (bool, error) {
	info, err := os.Stat(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat config file: %w", err)
	}

	r.mu.RLock()
	changed := info.ModTime().After(r.lastMod)
	r.mu.RUnlock()
	if !changed {
		return false, nil
	}

	next, err := r.loader.Load()
	if err == nil {
		err = next.Validate()
	}

	r.mu.Lock()
	// 无论成功与否都推进时间戳，避免对同一份错误文件反复报错
	r.lastMod = info.ModTime()
	if err != nil {
		r.mu.Unlock()
		return false, err
	}
	old := r.current
	r.current = next
	callbacks := make([]ReloadCallback, len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.logger.Info("config reloaded", zap.String("path", r.path))
	for _, cb := range callbacks {
		cb(old, next)
	}
	return true, nil
}
