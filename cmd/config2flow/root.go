package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/factory"
	"github.com/BaSui01/config2flow/internal/metrics"
	"github.com/BaSui01/config2flow/sandbox"
	"github.com/BaSui01/config2flow/store"
	"github.com/BaSui01/config2flow/tools"
)

// =============================================================================
// 🎯 根命令
// =============================================================================

// cli 保存全局参数与加载后的运行配置
type cli struct {
	settingsPath string
	logLevel     string
	logDir       string

	cfg *config.Config

	// newProvider 非 nil 时替换真实 LLM Provider
	newProvider factory.ProviderFunc
}

func newCLI() *cli {
	return &cli{logDir: "logs"}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "config2flow",
		Short:         "Run LLM agent workflows described in YAML",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.loadSettings()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.settingsPath, "settings", "", "runtime settings file (YAML)")
	flags.StringVar(&c.logLevel, "log-level", "", "override log level: debug, info, warn, error")
	flags.StringVar(&c.logDir, "log-dir", c.logDir, "directory for run log files (empty disables)")

	root.AddCommand(
		newRunCmd(c),
		newValidateCmd(c),
		newServeCmd(c),
		newMigrateCmd(c),
		newVersionCmd(),
	)
	return root
}

// execute 运行命令并返回进程退出码
func execute(ctx context.Context, c *cli, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(c)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// loadSettings 加载运行配置：默认值 → YAML → .env → 环境变量
func (c *cli) loadSettings() error {
	loader := config.NewLoader().WithDotEnv()
	if c.settingsPath != "" {
		loader = loader.WithConfigPath(c.settingsPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	c.cfg = cfg
	return nil
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// runLogger 运行单个应用时使用：stdout 留给输出，日志写 stderr 和 logDir 下的文件
func (c *cli) runLogger() *zap.Logger {
	cfg := c.cfg.Log
	paths := make([]string, 0, len(cfg.OutputPaths)+1)
	for _, p := range cfg.OutputPaths {
		if p == "stdout" {
			p = "stderr"
		}
		paths = append(paths, p)
	}
	if c.logDir != "" {
		if err := os.MkdirAll(c.logDir, 0o755); err == nil {
			paths = append(paths, filepath.Join(c.logDir, "config2flow.log"))
		}
	}
	cfg.OutputPaths = paths
	return initLogger(cfg)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       false,
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
	return logger
}

// =============================================================================
// 🧩 运行依赖
// =============================================================================

// runEnv 一次命令执行期间共享的存储与节点依赖
type runEnv struct {
	factory *factory.AppFactory
	runs    store.RunStore
	sandbox *sandbox.Executor
}

func (c *cli) newRunEnv(ctx context.Context, logger *zap.Logger, collector *metrics.Collector) (*runEnv, error) {
	runs, err := store.New(ctx, c.cfg.Store, logger, store.WithMetrics(collector))
	if err != nil {
		return nil, err
	}
	exec := sandbox.New(c.cfg.Sandbox, logger)
	deps := factory.Deps{
		Logger:      logger,
		Metrics:     collector,
		Tools:       tools.NewDefaultRegistry(logger),
		Sandbox:     exec,
		Engine:      c.cfg.Engine,
		NewProvider: c.newProvider,
	}
	return &runEnv{
		factory: factory.NewAppFactory(deps, runs),
		runs:    runs,
		sandbox: exec,
	}, nil
}

func (r *runEnv) Close(logger *zap.Logger) {
	if err := r.runs.Close(); err != nil {
		logger.Warn("close run store", zap.Error(err))
	}
	if r.sandbox != nil {
		if err := r.sandbox.Cleanup(); err != nil {
			logger.Warn("sandbox cleanup", zap.Error(err))
		}
	}
}
