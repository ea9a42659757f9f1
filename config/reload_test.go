package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path, content string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func TestReloader_CheckReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delegation.yaml")
	base := time.Now().Add(-time.Hour)
	writeConfig(t, path, "log:\n  level: info\n", base)

	initial, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	r := NewReloader(path, initial)

	var oldLevel, newLevel string
	r.OnReload(func(old, next *Config) {
		oldLevel = old.Log.Level
		newLevel = next.Log.Level
	})

	// 未修改时不重载
	reloaded, err := r.Check()
	require.NoError(t, err)
	assert.False(t, reloaded)

	writeConfig(t, path, "log:\n  level: debug\n", base.Add(time.Minute))

	reloaded, err = r.Check()
	require.NoError(t, err)
	assert.True(t, reloaded)
	assert.Equal(t, "info", oldLevel)
	assert.Equal(t, "debug", newLevel)
	assert.Equal(t, "debug", r.Current().Log.Level)

	// 同一时间戳不再触发
	reloaded, err = r.Check()
	require.NoError(t, err)
	assert.False(t, reloaded)
}

func TestReloader_InvalidConfigKeepsCurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delegation.yaml")
	base := time.Now().Add(-time.Hour)
	writeConfig(t, path, "server:\n  http_port: 8081\n", base)

	initial, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	r := NewReloader(path, initial)

	called := false
	r.OnReload(func(_, _ *Config) { called = true })

	writeConfig(t, path, "events:\n  sampling_rate: 3\n", base.Add(time.Minute))

	reloaded, err := r.Check()
	require.Error(t, err)
	assert.False(t, reloaded)
	assert.False(t, called)
	assert.Same(t, initial, r.Current())

	// 错误文件不会被重复报告
	reloaded, err = r.Check()
	require.NoError(t, err)
	assert.False(t, reloaded)
}

func TestReloader_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")
	r := NewReloader(path, DefaultConfig())

	reloaded, err := r.Check()
	require.NoError(t, err)
	assert.False(t, reloaded)
}

func TestReloader_RunPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delegation.yaml")
	base := time.Now().Add(-time.Hour)
	writeConfig(t, path, "log:\n  level: info\n", base)

	r := NewReloader(path, DefaultConfig(), WithPollInterval(10*time.Millisecond))

	done := make(chan string, 1)
	r.OnReload(func(_, next *Config) {
		select {
		case done <- next.Log.Level:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	writeConfig(t, path, "log:\n  level: error\n", base.Add(time.Minute))

	select {
	case level := <-done:
		assert.Equal(t, "error", level)
	case <-time.After(2 * time.Second):
		t.Fatal("reload not observed")
	}
}
