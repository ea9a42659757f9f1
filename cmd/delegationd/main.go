// =============================================================================
// delegationd 主入口
// =============================================================================
// 委托运行时服务入口点，包含 HTTP API、健康检查、Prometheus 指标和离线链分析
//
// 使用方法:
//
//	delegationd serve                          # 启动服务
//	delegationd serve --config config.yaml     # 指定配置文件
//	delegationd analyze events.jsonl           # 分析导出的遥测事件
//	delegationd version                        # 显示版本信息
//	delegationd health --addr http://host:8080 # 健康检查
// =============================================================================

// @title Agent Delegation API
// @version 1.0.0
// @description Capability discovery, admission control, contract execution and
// @description delegation-chain telemetry for cooperating agents.

// @contact.name AgentFlow Team
// @contact.url https://github.com/BaSui01/agentdelegation

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for authentication

package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentdelegation/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const logo = "\n" +
	"     _      _                  _   _             _\n" +
	"  __| | ___| | ___  __ _  __ _| |_(_) ___  _ __ | |\n" +
	" / _` |/ _ \\ |/ _ \\/ _` |/ _` | __| |/ _ \\| '_ \\| |\n" +
	"| (_| |  __/ |  __/ (_| | (_| | |_| | (_) | | | |_|\n" +
	" \\__,_|\\___|_|\\___|\\__, |\\__,_|\\__|_|\\___/|_| |_(_)\n" +
	"                   |___/\n"

var rootCmd = &cobra.Command{
	Use:   "delegationd",
	Short: "delegationd - agent delegation runtime",
	Long: color.CyanString(logo) +
		"\nCapability discovery, admission control and delegation-chain telemetry.",
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "delegationd %s\n", Version)
		fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
		fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
	},
}

var healthAddr string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(strings.TrimRight(healthAddr, "/") + "/health")
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("health check failed: status %d", resp.StatusCode)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "OK")
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	healthCmd.Flags().StringVar(&healthAddr, "addr", "http://localhost:8080", "Server address")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(healthCmd)
}

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}

// =============================================================================
// 📝 日志初始化
// =============================================================================

// initLogger 按配置构建 logger，返回的 AtomicLevel 供配置重载时调整级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger, level
}

// parseLevel 解析日志级别，未知值回退到 info
func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
