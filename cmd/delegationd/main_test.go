package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentdelegation/agent/contract"
	"github.com/BaSui01/agentdelegation/agent/discovery"
	"github.com/BaSui01/agentdelegation/agent/execution"
	"github.com/BaSui01/agentdelegation/agent/observability"
	"github.com/BaSui01/agentdelegation/agent/runtime"
	"github.com/BaSui01/agentdelegation/config"
)

func runRootCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// 命令与 flag 为包级变量，每次执行前恢复默认值
	for _, cmd := range rootCmd.Commands() {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	_, err := rootCmd.ExecuteC()
	rootCmd.SetArgs(nil)
	return strings.TrimSpace(buf.String()), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runRootCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "delegationd "+Version)
	assert.Contains(t, out, "Git Commit: "+GitCommit)
}

func TestHealthCommand_Unreachable(t *testing.T) {
	_, err := runRootCommand(t, "health", "--addr", "http://127.0.0.1:1")
	assert.Error(t, err)
}

// writeEvents 运行两条链（一条成功、一条失败），通过 FileSink 导出为 JSONL
func writeEvents(t *testing.T) (path string, ok, failed *contract.DelegationContract) {
	t.Helper()
	path = filepath.Join(t.TempDir(), "events.jsonl")
	sink, err := observability.NewFileSink(path)
	require.NoError(t, err)

	cfg := runtime.DefaultConfig()
	cfg.Telemetry.FlushInterval = time.Hour
	rt := runtime.New(cfg, zap.NewNop(), runtime.WithSinks(sink))

	ctx := context.Background()
	require.NoError(t, rt.Registry().RegisterManifest(ctx, &discovery.CapabilityManifest{
		AgentID:            "coder",
		MaxConcurrentTasks: 2,
		Capabilities: []discovery.Capability{
			{CapabilityID: "code_generation", ConfidenceLevel: 0.9, SuccessRate: 0.95, SuccessfulCompletions: 10},
		},
	}))

	run := func(desc string, task execution.TaskFunc) *contract.DelegationContract {
		c := contract.New("boss", "coder", desc)
		c.RequiredCapabilities = []contract.RequiredCapability{{CapabilityID: "code_generation"}}
		_, _, _ = rt.Run(ctx, c, task)
		return c
	}
	ok = run("write a parser", func(context.Context, *execution.TaskContext) (any, error) {
		return "done", nil
	})
	failed = run("write a compiler", func(context.Context, *execution.TaskContext) (any, error) {
		return nil, errors.New("syntax error")
	})

	require.NoError(t, rt.Shutdown(ctx))
	return path, ok, failed
}

func TestAnalyzeCommand(t *testing.T) {
	path, ok, failed := writeEvents(t)

	out, err := runRootCommand(t, "analyze", path)
	require.NoError(t, err)
	assert.Contains(t, out, "2 chains")
	assert.Contains(t, out, "Chain "+ok.RootID())
	assert.Contains(t, out, "Anomalies (1)")
	assert.Contains(t, out, "[CRITICAL] "+failed.RootID()+" low_success_rate")
}

func TestAnalyzeCommand_SingleChainJSON(t *testing.T) {
	path, ok, _ := writeEvents(t)

	out, err := runRootCommand(t, "analyze", path, "--root", ok.RootID(), "--json")
	require.NoError(t, err)

	var report analysisReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Chains, 1)
	assert.Equal(t, ok.RootID(), report.Chains[0].RootDelegationID)
	assert.Equal(t, 1, report.Chains[0].TotalContracts)
	assert.Empty(t, report.Anomalies)
}

func TestAnalyzeCommand_FailOn(t *testing.T) {
	path, _, _ := writeEvents(t)

	_, err := runRootCommand(t, "analyze", path, "--fail-on", "critical")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 anomalies at or above critical")

	// 放宽阈值后不再报异常
	_, err = runRootCommand(t, "analyze", path, "--fail-on", "warning", "--min-success-rate", "0")
	assert.NoError(t, err)
}

func TestAnalyzeCommand_Errors(t *testing.T) {
	path, _, _ := writeEvents(t)

	_, err := runRootCommand(t, "analyze", path, "--root", "ghost")
	assert.Error(t, err)

	_, err = runRootCommand(t, "analyze", path, "--min-success-rate", "1.5")
	assert.Error(t, err)

	_, err = runRootCommand(t, "analyze", path, "--fail-on", "loud")
	assert.Error(t, err)

	_, err = runRootCommand(t, "analyze", filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(bad, []byte("{not json}\n"), 0o644))
	_, err = runRootCommand(t, "analyze", bad)
	assert.Error(t, err)

	_, err = runRootCommand(t, "analyze")
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	cfg := config.DefaultLogConfig()
	cfg.Level = "warn"
	cfg.OutputPaths = []string{filepath.Join(t.TempDir(), "out.log")}

	logger, level := initLogger(cfg)
	require.NotNil(t, logger)
	assert.Equal(t, zapcore.WarnLevel, level.Level())
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	// 级别可在运行时调整
	level.SetLevel(zapcore.DebugLevel)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}
