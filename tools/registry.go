package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/config2flow/llm"
	"github.com/BaSui01/config2flow/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultTimeout = 30 * time.Second

// Tool 是可被 LLM 调用的本地函数
type Tool interface {
	Schema() llm.ToolSchema
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

// Options 单个工具的执行约束
type Options struct {
	Timeout time.Duration // 默认 30s
	// RatePerSecond 为 0 表示不限流
	RatePerSecond float64
	Burst         int
}

type entry struct {
	tool    Tool
	opts    Options
	limiter *rate.Limiter
}

// Registry 是线程安全的工具注册中心
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*entry
	logger *zap.Logger
}

// NewRegistry 创建空注册中心
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:  make(map[string]*entry),
		logger: logger.With(zap.String("component", "tools")),
	}
}

// NewDefaultRegistry 创建并注册全部内置工具
func NewDefaultRegistry(logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	for _, t := range Builtins() {
		if err := r.Register(t, Options{}); err != nil {
			r.logger.Error("register builtin tool", zap.Error(err))
		}
	}
	return r
}

func (r *Registry) Register(t Tool, opts Options) error {
	name := t.Schema().Name
	if name == "" {
		return fmt.Errorf("tool name is empty")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	e := &entry{tool: t, opts: opts}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	r.tools[name] = e
	r.logger.Debug("tool registered", zap.String("name", name), zap.Duration("timeout", opts.Timeout))
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Names 按字母序返回所有工具名
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schemas 返回指定工具的 Schema，按给定顺序。未注册的名称返回 INVALID_CONFIG。
func (r *Registry) Schemas(names []string) ([]llm.ToolSchema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolSchema, 0, len(names))
	for _, name := range names {
		e, ok := r.tools[name]
		if !ok {
			return nil, types.NewInvalidConfigError(name, fmt.Sprintf("unknown tool %q", name))
		}
		out = append(out, e.tool.Schema())
	}
	return out, nil
}

// Call 按名称执行工具。args 为 LLM 给出的 JSON 参数。
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", types.NewError(types.ErrTool, fmt.Sprintf("tool %q not found", name)).WithSubject(name)
	}
	if len(args) > 0 && !json.Valid(args) {
		return "", types.NewError(types.ErrTool, fmt.Sprintf("tool %q: invalid arguments", name)).WithSubject(name)
	}
	if e.limiter != nil && !e.limiter.Allow() {
		return "", types.NewError(types.ErrTool, fmt.Sprintf("tool %q: rate limit exceeded", name)).
			WithSubject(name).WithRetryable(true)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	type outcome struct {
		res string
		err error
	}
	// 带缓冲，超时后 goroutine 仍能退出
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		res, err := e.tool.Call(callCtx, args)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			r.logger.Warn("tool execution failed", zap.String("name", name), zap.Error(o.err))
			return "", types.NewError(types.ErrTool, fmt.Sprintf("tool %q failed", name)).WithSubject(name).WithCause(o.err)
		}
		r.logger.Debug("tool executed", zap.String("name", name), zap.Duration("duration", time.Since(start)))
		return o.res, nil
	case <-callCtx.Done():
		r.logger.Warn("tool execution timeout", zap.String("name", name), zap.Duration("timeout", e.opts.Timeout))
		return "", types.NewError(types.ErrTool, fmt.Sprintf("tool %q timed out after %s", name, e.opts.Timeout)).
			WithSubject(name).WithCause(callCtx.Err())
	}
}
