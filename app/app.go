package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/internal/metrics"
	"github.com/BaSui01/config2flow/store"
	"github.com/BaSui01/config2flow/types"
	"github.com/BaSui01/config2flow/workflow"
	"github.com/BaSui01/config2flow/workflow/expr"
)

// Options App 运行依赖，均可为空
type Options struct {
	Store   store.RunStore
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// App 是一次运行的顶层入口：持有根工作流，负责运行 ID、根 Trace、
// 输出模板渲染与运行记录持久化。每次运行都应由工厂构造新的 App。
type App struct {
	cfg     config.AppConfig
	root    workflow.Node
	store   store.RunStore
	logger  *zap.Logger
	metrics *metrics.Collector
}

// New 创建 App
func New(cfg *config.AppConfig, root workflow.Node, opts Options) (*App, error) {
	if cfg == nil {
		return nil, types.NewInvalidConfigError("app", "app config is nil")
	}
	if root == nil {
		return nil, types.NewInvalidConfigError(cfg.Name, fmt.Sprintf("app %q has no workflow", cfg.Name))
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &App{
		cfg:     *cfg,
		root:    root,
		store:   opts.Store,
		logger:  opts.Logger.With(zap.String("component", "app")),
		metrics: opts.Metrics,
	}, nil
}

func (a *App) Name() string             { return a.cfg.Name }
func (a *App) Description() string      { return a.cfg.Description }
func (a *App) Footer() string           { return a.cfg.Footer }
func (a *App) Config() config.AppConfig { return a.cfg }
func (a *App) Workflow() workflow.Node  { return a.root }
func (a *App) OutputTemplate() string   { return a.cfg.Output }
func (a *App) OutputNames() []string    { return a.root.OutputNames() }
func (a *App) Store() store.RunStore    { return a.store }

// =============================================================================
// 运行
// =============================================================================

// RunResult 一次运行的结果。出错时同样返回，Outputs 为空、Error 非空。
type RunResult struct {
	RunID      string             `json:"run_id"`
	App        string             `json:"app"`
	Status     string             `json:"status"`
	Outputs    workflow.Variables `json:"outputs,omitempty"`
	Output     string             `json:"output,omitempty"`
	Error      string             `json:"error,omitempty"`
	ErrorCode  string             `json:"error_code,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	DurationMS int64              `json:"duration_ms"`
	Trace      *workflow.Trace    `json:"trace,omitempty"`
}

// Run 运行根工作流。inputs 中缺失的输入先用声明的默认值补齐。
func (a *App) Run(ctx context.Context, inputs map[string]any) (*RunResult, error) {
	in := a.ApplyDefaults(inputs)
	res := &RunResult{
		RunID:     uuid.NewString(),
		App:       a.Name(),
		StartedAt: time.Now().UTC(),
	}

	tr := workflow.NewTrace(a.root.Name(), a.root.Kind())
	tr.Set("run_id", res.RunID)
	tr.Set("app", a.Name())
	tr.Start(in)

	ctx = types.WithAppName(types.WithRunID(ctx, res.RunID), a.Name())
	logger := a.logger.With(types.LogFields(ctx)...)
	logger.Info("app run started", zap.Strings("inputs", sortedKeys(in)))
	workflow.Emit(ctx, workflow.Event{
		Type: workflow.EventRunStart, Workflow: a.root.Name(), Kind: a.root.Kind(),
		Data: map[string]any{"run_id": res.RunID, "app": a.Name()},
	})

	out, err := a.root.Run(ctx, in, tr)
	if err == nil && a.cfg.Output != "" {
		res.Output, err = a.renderOutput(out)
	}
	tr.Finish(out, err)

	res.FinishedAt = time.Now().UTC()
	res.DurationMS = res.FinishedAt.Sub(res.StartedAt).Milliseconds()
	res.Trace = tr
	if err != nil {
		res.Status = store.StatusFailed
		res.Error = err.Error()
		res.ErrorCode = string(types.GetErrorCode(err))
		logger.Error("app run failed", zap.Int64("duration_ms", res.DurationMS), zap.Error(err))
	} else {
		res.Status = store.StatusSuccess
		res.Outputs = out
		logger.Info("app run completed", zap.Int64("duration_ms", res.DurationMS))
	}

	a.metrics.RecordAppRun(a.Name(), metrics.Status(err))
	a.persist(ctx, res, in, logger)

	ev := workflow.Event{
		Type: workflow.EventRunComplete, Workflow: a.root.Name(), Kind: a.root.Kind(),
		Data: map[string]any{"run_id": res.RunID, "status": res.Status, "duration_ms": res.DurationMS},
	}
	if err != nil {
		ev.Error = err.Error()
	} else {
		ev.Data["outputs"] = map[string]any(out)
		ev.Data["output"] = res.Output
	}
	workflow.Emit(ctx, ev)

	return res, err
}

// renderOutput 用输出变量渲染 App 的 output 模板
func (a *App) renderOutput(out workflow.Variables) (string, error) {
	s, err := expr.Render(a.cfg.Output, out)
	if err == nil {
		return s, nil
	}
	var missing *expr.MissingVarError
	if errors.As(err, &missing) {
		return "", types.NewTemplateError(a.Name(), "output", missing.Name)
	}
	return "", types.NewError(types.ErrTemplate, fmt.Sprintf("app %q: output: %v", a.Name(), err)).WithSubject("output")
}

// persist 写入运行记录。存储失败只记日志，不影响运行结果。
func (a *App) persist(ctx context.Context, res *RunResult, in workflow.Variables, logger *zap.Logger) {
	if a.store == nil {
		return
	}
	rec := &store.RunRecord{
		ID:         res.RunID,
		AppName:    a.Name(),
		Status:     res.Status,
		OutputText: res.Output,
		Error:      res.Error,
		ErrorCode:  res.ErrorCode,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		DurationMS: res.DurationMS,
	}
	var err error
	if rec.Inputs, err = store.MarshalJSONText(map[string]any(in)); err != nil {
		logger.Warn("cannot encode run inputs", zap.Error(err))
	}
	if res.Outputs != nil {
		if rec.Outputs, err = store.MarshalJSONText(map[string]any(res.Outputs)); err != nil {
			logger.Warn("cannot encode run outputs", zap.Error(err))
		}
	}
	if rec.Trace, err = store.MarshalJSONText(res.Trace); err != nil {
		logger.Warn("cannot encode run trace", zap.Error(err))
	}

	// 调用方取消后仍然保存
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := a.store.Save(saveCtx, rec); err != nil {
		logger.Warn("failed to save run record", zap.Error(err))
	}
}

func sortedKeys(v workflow.Variables) []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// 输入与描述
// =============================================================================

// InputSpec 根工作流声明的一个输入变量，供 CLI 提示或表单渲染
type InputSpec struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Label       string   `json:"label,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Component   string   `json:"component,omitempty"`
	Options     []any    `json:"options,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Default     any      `json:"default,omitempty"`
}

type nodeConfigured interface {
	NodeConfig() config.NodeConfig
}

// InputSpecs 返回根工作流的输入声明
func (a *App) InputSpecs() []InputSpec {
	nc, ok := a.root.(nodeConfigured)
	if !ok {
		specs := make([]InputSpec, 0, len(a.root.InputNames()))
		for _, name := range a.root.InputNames() {
			specs = append(specs, InputSpec{Name: name, Label: name})
		}
		return specs
	}
	vars := nc.NodeConfig().InputVars
	specs := make([]InputSpec, 0, len(vars))
	for _, v := range vars {
		label := v.Label
		if label == "" {
			label = v.Name
		}
		specs = append(specs, InputSpec{
			Name:        v.Name,
			Type:        v.Type,
			Description: v.Description,
			Label:       label,
			Placeholder: v.Placeholder,
			Component:   v.Component,
			Options:     v.Options,
			Min:         v.Min,
			Max:         v.Max,
			Default:     v.Default,
		})
	}
	return specs
}

// ApplyDefaults 复制 inputs，并为缺失的输入填入声明的默认值
func (a *App) ApplyDefaults(inputs map[string]any) workflow.Variables {
	in := workflow.Variables(inputs).Clone()
	for _, spec := range a.InputSpecs() {
		if _, ok := in[spec.Name]; !ok && spec.Default != nil {
			in[spec.Name] = spec.Default
		}
	}
	return in
}

// ToDict 描述整个节点图，运行前后都可调用
func (a *App) ToDict() map[string]any {
	d := map[string]any{
		"name":        a.cfg.Name,
		"description": a.cfg.Description,
		"inputs":      a.InputSpecs(),
		"workflow":    a.root.ToDict(),
	}
	if a.cfg.Footer != "" {
		d["footer"] = a.cfg.Footer
	}
	if a.cfg.Output != "" {
		d["output"] = a.cfg.Output
	}
	return d
}
