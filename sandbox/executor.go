package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/types"
	"go.uber.org/zap"
)

// Language represents supported programming languages.
type Language string

const (
	LangPython Language = "python"
	LangLua    Language = "lua"
)

// Request represents a code execution request.
type Request struct {
	ID       string        `json:"id,omitempty"`
	Language Language      `json:"language"`
	Code     string        `json:"code"`
	Stdin    string        `json:"stdin,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// Result represents the result of code execution.
type Result struct {
	ID        string        `json:"id,omitempty"`
	Language  Language      `json:"language"`
	Success   bool          `json:"success"`
	ExitCode  int           `json:"exit_code"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Truncated bool          `json:"truncated,omitempty"`
}

// Feedback 返回回写给模型的文本：成功取 stdout，失败取 stderr（或错误描述）。
func (r *Result) Feedback() string {
	if r == nil {
		return ""
	}
	if r.Success {
		return strings.TrimSpace(r.Stdout)
	}
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(r.Error)
}

// Options configures execution limits shared by all backends.
type Options struct {
	Timeout        time.Duration
	MaxOutputBytes int
	MaxMemoryMB    int
	WorkDir        string
}

// Backend defines the interface for execution backends.
type Backend interface {
	Execute(ctx context.Context, req *Request, opts Options) (*Result, error)
	Cleanup() error
	Name() string
}

// Stats tracks execution statistics.
type Stats struct {
	TotalExecutions   int64         `json:"total_executions"`
	SuccessExecutions int64         `json:"success_executions"`
	FailedExecutions  int64         `json:"failed_executions"`
	TimeoutExecutions int64         `json:"timeout_executions"`
	TotalDuration     time.Duration `json:"total_duration"`
}

// Executor 按语言分发到不同后端
type Executor struct {
	opts     Options
	backends map[Language]Backend
	logger   *zap.Logger
	mu       sync.RWMutex
	stats    Stats
}

// NewExecutor creates an executor over explicit backends.
func NewExecutor(opts Options, backends map[Language]Backend, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = 64 * 1024
	}
	return &Executor{
		opts:     opts,
		backends: backends,
		logger:   logger.With(zap.String("component", "sandbox")),
	}
}

// New 根据运行配置组装执行器。禁用时返回 nil，调用方据此关闭代码执行。
func New(cfg config.SandboxConfig, logger *zap.Logger) *Executor {
	if !cfg.Enabled {
		return nil
	}
	opts := Options{
		Timeout:        cfg.Timeout,
		MaxOutputBytes: cfg.MaxOutputBytes,
		MaxMemoryMB:    cfg.MaxMemoryMB,
		WorkDir:        cfg.WorkDir,
	}
	var python Backend
	if cfg.Mode == "docker" {
		python = NewDockerBackend(cfg.DockerImage, logger)
	} else {
		python = NewProcessBackend(cfg.PythonPath, logger)
	}
	return NewExecutor(opts, map[Language]Backend{
		LangPython: python,
		LangLua:    NewLuaBackend(),
	}, logger)
}

// Supports reports whether a backend is registered for the language.
func (e *Executor) Supports(lang Language) bool {
	if e == nil {
		return false
	}
	_, ok := e.backends[lang]
	return ok
}

// Execute runs code in the sandbox. 只有请求本身无效时返回 error，
// 代码运行失败体现在 Result.Success / Stderr 中。
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, types.NewError(types.ErrSandbox, "code is required")
	}
	backend, ok := e.backends[req.Language]
	if !ok {
		return nil, types.NewError(types.ErrSandbox, fmt.Sprintf("language %s is not supported", req.Language)).
			WithSubject(string(req.Language))
	}

	timeout := e.opts.Timeout
	if req.Timeout > 0 && req.Timeout < timeout {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.logger.Debug("executing code",
		zap.String("id", req.ID),
		zap.String("language", string(req.Language)),
		zap.String("backend", backend.Name()),
		zap.Int("code_length", len(req.Code)))

	start := time.Now()
	result, err := backend.Execute(ctx, &req, e.opts)
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)

	e.mu.Lock()
	e.stats.TotalExecutions++
	e.stats.TotalDuration += time.Since(start)
	if err != nil || !result.Success {
		e.stats.FailedExecutions++
		if timedOut {
			e.stats.TimeoutExecutions++
		}
	} else {
		e.stats.SuccessExecutions++
	}
	e.mu.Unlock()

	if err != nil {
		return nil, types.NewError(types.ErrSandbox, "execution failed").WithCause(err)
	}
	if timedOut && !result.Success && result.Error == "" {
		result.Error = fmt.Sprintf("execution timeout after %s", timeout)
	}

	result.ID = req.ID
	result.Language = req.Language
	result.Duration = time.Since(start)
	if len(result.Stdout) > e.opts.MaxOutputBytes {
		result.Stdout = result.Stdout[:e.opts.MaxOutputBytes]
		result.Truncated = true
	}
	if len(result.Stderr) > e.opts.MaxOutputBytes {
		result.Stderr = result.Stderr[:e.opts.MaxOutputBytes]
		result.Truncated = true
	}
	return result, nil
}

// Stats returns execution statistics.
func (e *Executor) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// Cleanup releases resources held by every backend.
func (e *Executor) Cleanup() error {
	var errs []error
	for _, b := range e.backends {
		if err := b.Cleanup(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}
