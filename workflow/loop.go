package workflow

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/internal/metrics"
	"github.com/BaSui01/config2flow/internal/telemetry"
	"github.com/BaSui01/config2flow/types"
	"github.com/BaSui01/config2flow/workflow/expr"
)

// LoopState 循环工作流状态
type LoopState string

const (
	StateRunning LoopState = "RUNNING"
	StateJudging LoopState = "JUDGING"
	StateDone    LoopState = "DONE"
)

// LoopWorkflow 反复运行内部工作流，每轮结束后由 watchdog Agent 产出判断变量，
// 再对 end_condition 求值决定是否结束。最多运行 max_loops 轮。
type LoopWorkflow struct {
	BaseNode
	cfg      config.LoopConfig
	inner    *DefaultWorkflow
	watchdog Node
	logger   *zap.Logger
	metrics  *metrics.Collector

	mu             sync.Mutex
	lastIterations int
}

// NewLoopWorkflow 创建循环工作流。内部工作流不限制输出，由循环自身按 output_vars 收敛。
func NewLoopWorkflow(cfg *config.LoopConfig, children []Node, watchdog Node, opts Options) (*LoopWorkflow, error) {
	if cfg == nil {
		return nil, types.NewInvalidConfigError("loop", "loop config is nil")
	}
	if watchdog == nil {
		return nil, types.NewInvalidConfigError(cfg.Name, fmt.Sprintf("loop %q: watchdog_agent is required", cfg.Name))
	}
	if cfg.MaxLoops < 1 {
		return nil, types.NewInvalidConfigError(cfg.Name, fmt.Sprintf("loop %q: max_loops must be >= 1", cfg.Name))
	}

	innerCfg := cfg.WorkflowConfig
	innerCfg.OutputVars = nil
	inner, err := NewDefaultWorkflow(&innerCfg, children, opts)
	if err != nil {
		return nil, err
	}

	opts = opts.withDefaults()
	return &LoopWorkflow{
		BaseNode: NewBaseNode(cfg.NodeConfig, KindLoop),
		cfg:      *cfg,
		inner:    inner,
		watchdog: watchdog,
		logger:   opts.Logger.With(zap.String("component", "loop"), zap.String("workflow", cfg.Name)),
		metrics:  opts.Metrics,
	}, nil
}

// Watchdog 返回判断 Agent
func (l *LoopWorkflow) Watchdog() Node { return l.watchdog }

// Inner 返回每轮运行的内部工作流
func (l *LoopWorkflow) Inner() *DefaultWorkflow { return l.inner }

// LastIterations 返回最近一次 Run 实际执行的轮数
func (l *LoopWorkflow) LastIterations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastIterations
}

// Run 运行循环
func (l *LoopWorkflow) Run(ctx context.Context, in Variables, tr *Trace) (Variables, error) {
	ctx, span := telemetry.StartSpan(ctx, "workflow.loop",
		attribute.String("workflow", l.Name()),
		attribute.Int("max_loops", l.cfg.MaxLoops))

	out, iterations, err := l.run(ctx, in, tr)

	l.mu.Lock()
	l.lastIterations = iterations
	l.mu.Unlock()
	tr.Set("iterations", iterations)
	l.metrics.RecordLoopIterations(l.Name(), iterations)
	span.SetAttributes(attribute.Int("iterations", iterations))
	telemetry.EndSpan(span, err)
	return out, err
}

func (l *LoopWorkflow) run(ctx context.Context, in Variables, tr *Trace) (Variables, int, error) {
	if missing := in.Missing(l.InputNames()); missing != "" {
		return nil, 0, types.NewMissingInputError(l.Name(), missing)
	}

	state := StateRunning
	counter := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, counter - 1, err
		}
		l.transition(tr, &state, StateRunning, counter)

		iter := tr.Child(fmt.Sprintf("%s#%d", l.Name(), counter), KindWorkflow)
		iter.Start(in)

		// 每轮都基于原始输入重新运行
		innerOut, err := l.inner.Run(ctx, in, iter)
		if err != nil {
			iter.Finish(nil, err)
			return nil, counter, err
		}

		l.transition(tr, &state, StateJudging, counter)
		verdictVars, err := runNode(ctx, l.Name(), l.watchdog, innerOut, iter, l.logger, l.metrics)
		if err != nil {
			iter.Finish(nil, err)
			return nil, counter, err
		}

		done, condition := l.judge(verdictVars)
		result := innerOut.Clone()
		result.Merge(verdictVars)
		iter.Finish(result, nil)

		tr.Record("loop_iteration", map[string]any{
			"iteration": counter,
			"condition": condition,
			"verdict":   done,
		})
		Emit(ctx, Event{Type: EventLoopIteration, Workflow: l.Name(), Node: l.Name(), Kind: KindLoop,
			Data: map[string]any{"iteration": counter, "condition": condition, "verdict": done}})
		l.logger.Info("loop iteration finished",
			zap.Int("iteration", counter),
			zap.String("condition", condition),
			zap.Bool("verdict", done))

		if done || counter >= l.cfg.MaxLoops {
			l.transition(tr, &state, StateDone, counter)
			out, err := l.collect(in, result)
			return out, counter, err
		}
		counter++
	}
}

// judge 渲染并求值 end_condition。模板或求值失败视为条件不成立（继续循环）。
func (l *LoopWorkflow) judge(vars Variables) (bool, string) {
	condition, err := expr.Render(l.cfg.EndCondition, vars.Map())
	if err != nil {
		l.logger.Error("end condition template failed, treating as false",
			zap.String("condition", l.cfg.EndCondition), zap.Error(err))
		return false, l.cfg.EndCondition
	}
	ok, err := expr.Evaluate(condition, vars.Map())
	if err != nil {
		l.logger.Error("end condition evaluation failed, treating as false",
			zap.String("condition", condition), zap.Error(err))
		return false, condition
	}
	return ok, condition
}

func (l *LoopWorkflow) collect(in, result Variables) (Variables, error) {
	names := l.OutputNames()
	if len(names) == 0 {
		return result, nil
	}
	pool := in.Clone()
	pool.Merge(result)
	out, missing := pool.Select(names)
	if missing != "" {
		return nil, types.NewInvalidOutputError(l.Name(),
			fmt.Sprintf("declared output %q was not produced", missing))
	}
	return out, nil
}

func (l *LoopWorkflow) transition(tr *Trace, state *LoopState, next LoopState, iteration int) {
	if *state != next {
		l.logger.Debug("loop state transition",
			zap.String("from", string(*state)),
			zap.String("to", string(next)),
			zap.Int("iteration", iteration))
		tr.Record("state", map[string]any{"from": string(*state), "to": string(next), "iteration": iteration})
	}
	*state = next
	tr.Set("state", string(next))
}

// ToDict 返回循环及其子节点、watchdog 的描述
func (l *LoopWorkflow) ToDict() map[string]any {
	d := l.inner.ToDict()
	for k, v := range l.Describe() {
		d[k] = v
	}
	d["end_condition"] = l.cfg.EndCondition
	d["max_loops"] = l.cfg.MaxLoops
	d["watchdog_agent"] = l.watchdog.ToDict()
	return d
}
