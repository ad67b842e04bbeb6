package workflow

import (
	"cmp"
	"context"
	"fmt"
	"runtime"
	"slices"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/internal/metrics"
	"github.com/BaSui01/config2flow/internal/telemetry"
	"github.com/BaSui01/config2flow/types"
)

// Options 工作流运行依赖
type Options struct {
	Logger *zap.Logger
	// MaxConcurrency 单层最大并发，<=0 时使用 runtime.NumCPU()
	MaxConcurrency int
	Metrics        *metrics.Collector
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = runtime.NumCPU()
	}
	return o
}

// =============================================================================
// DefaultWorkflow
// =============================================================================

// DefaultWorkflow 按 priority 分层运行子节点：层内并发，层间串行。
type DefaultWorkflow struct {
	BaseNode
	cfg      config.WorkflowConfig
	children []Node
	tiers    [][]Node
	limit    int
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// NewDefaultWorkflow 创建默认工作流。子节点名必须唯一。
func NewDefaultWorkflow(cfg *config.WorkflowConfig, children []Node, opts Options) (*DefaultWorkflow, error) {
	if cfg == nil {
		return nil, types.NewInvalidConfigError("workflow", "workflow config is nil")
	}
	seen := make(map[string]struct{}, len(children))
	for _, c := range children {
		if _, dup := seen[c.Name()]; dup {
			return nil, types.NewInvalidConfigError(c.Name(),
				fmt.Sprintf("workflow %q: duplicate node name %q", cfg.Name, c.Name()))
		}
		seen[c.Name()] = struct{}{}
	}

	opts = opts.withDefaults()
	limit := opts.MaxConcurrency
	if cfg.MaxConcurrency > 0 {
		limit = cfg.MaxConcurrency
	}

	return &DefaultWorkflow{
		BaseNode: NewBaseNode(cfg.NodeConfig, KindWorkflow),
		cfg:      *cfg,
		children: children,
		tiers:    partitionTiers(children),
		limit:    limit,
		logger:   opts.Logger.With(zap.String("component", "workflow"), zap.String("workflow", cfg.Name)),
		metrics:  opts.Metrics,
	}, nil
}

// Children 返回子节点（声明顺序）
func (w *DefaultWorkflow) Children() []Node { return w.children }

// Run 运行工作流
func (w *DefaultWorkflow) Run(ctx context.Context, in Variables, tr *Trace) (Variables, error) {
	ctx, span := telemetry.StartSpan(ctx, "workflow.run",
		attribute.String("workflow", w.Name()),
		attribute.Int("tiers", len(w.tiers)))
	out, err := w.run(ctx, in, tr)
	telemetry.EndSpan(span, err)
	return out, err
}

func (w *DefaultWorkflow) run(ctx context.Context, in Variables, tr *Trace) (Variables, error) {
	if missing := in.Missing(w.InputNames()); missing != "" {
		return nil, types.NewMissingInputError(w.Name(), missing)
	}

	w.logger.Info("running workflow", zap.Int("nodes", len(w.children)), zap.Int("tiers", len(w.tiers)))
	start := time.Now()

	pool := in.Clone()
	written := make(Variables)
	for i, tier := range w.tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results, err := w.runTier(ctx, i, tier, pool, tr)
		if err != nil {
			return nil, err
		}
		pool.Merge(results)
		written.Merge(results)
	}

	out, err := w.collect(pool, written)
	if err != nil {
		return nil, err
	}
	w.logger.Info("workflow completed", zap.Duration("duration", time.Since(start)))
	return out, nil
}

// runTier 并发运行一层节点，每个节点拿到变量池的独立快照。
// 不做取消：一个节点失败不会中断同层其他节点，等全部结束后返回最先出现的错误，
// 此时该层所有输出都被丢弃。
func (w *DefaultWorkflow) runTier(ctx context.Context, index int, tier []Node, pool Variables, tr *Trace) (Variables, error) {
	priority := tier[0].Priority()
	names := nodeNames(tier)
	w.logger.Info("running tier",
		zap.Int("tier", index),
		zap.Float64("priority", priority),
		zap.Strings("nodes", names))
	Emit(ctx, Event{Type: EventTierStart, Workflow: w.Name(), Data: map[string]any{
		"tier": index, "priority": priority, "nodes": names,
	}})

	ctx, span := telemetry.StartSpan(ctx, "workflow.tier",
		attribute.String("workflow", w.Name()),
		attribute.Float64("priority", priority),
		attribute.Int("nodes", len(tier)))

	var (
		mu     sync.Mutex
		merged = make(Variables)
		g      errgroup.Group
	)
	g.SetLimit(w.limit)
	for _, node := range tier {
		snapshot := pool.Clone()
		g.Go(func() error {
			out, err := runNode(ctx, w.Name(), node, snapshot, tr, w.logger, w.metrics)
			if err != nil {
				return err
			}
			// 按完成顺序合并，同名输出后完成者覆盖
			mu.Lock()
			merged.Merge(out)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	telemetry.EndSpan(span, err)

	if err != nil {
		w.logger.Error("tier aborted, outputs discarded",
			zap.Int("tier", index),
			zap.Float64("priority", priority),
			zap.Error(err))
		Emit(ctx, Event{Type: EventTierComplete, Workflow: w.Name(), Error: err.Error(), Data: map[string]any{
			"tier": index, "priority": priority,
		}})
		return nil, err
	}

	Emit(ctx, Event{Type: EventTierComplete, Workflow: w.Name(), Data: map[string]any{
		"tier": index, "priority": priority, "outputs": sortedKeys(merged),
	}})
	return merged, nil
}

// collect 声明了 output_vars 时只返回这些变量，否则返回子节点写入的全部变量。
func (w *DefaultWorkflow) collect(pool, written Variables) (Variables, error) {
	names := w.OutputNames()
	if len(names) == 0 {
		return written, nil
	}
	out, missing := pool.Select(names)
	if missing != "" {
		return nil, types.NewInvalidOutputError(w.Name(),
			fmt.Sprintf("declared output %q was not produced", missing))
	}
	return out, nil
}

// ToDict 返回工作流及其子节点的描述
func (w *DefaultWorkflow) ToDict() map[string]any {
	d := w.Describe()
	d["max_concurrency"] = w.limit
	if len(w.cfg.GlobalAgent) > 0 {
		d["global_agent"] = redact(w.cfg.GlobalAgent)
	}
	nodes := make([]any, 0, len(w.children))
	for _, c := range w.children {
		nodes = append(nodes, c.ToDict())
	}
	d["nodes"] = nodes
	tiers := make([]any, 0, len(w.tiers))
	for _, tier := range w.tiers {
		tiers = append(tiers, nodeNames(tier))
	}
	d["tiers"] = tiers
	return d
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// runNode 运行单个节点，负责 Trace、事件、日志与指标。节点 panic 被转换为错误。
func runNode(ctx context.Context, parent string, node Node, in Variables, tr *Trace,
	logger *zap.Logger, collector *metrics.Collector) (out Variables, err error) {
	child := tr.Child(node.Name(), node.Kind())
	child.Start(in)
	Emit(ctx, Event{Type: EventNodeStart, Workflow: parent, Node: node.Name(), Kind: node.Kind()})
	logger.Debug("node started", zap.String("node", node.Name()), zap.Float64("priority", node.Priority()))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("node %q panicked: %v", node.Name(), r)
		}
		duration := time.Since(start)
		child.Finish(out, err)
		collector.RecordNodeRun(string(node.Kind()), metrics.Status(err), duration)
		if err != nil {
			logger.Error("node failed",
				zap.String("node", node.Name()),
				zap.Float64("priority", node.Priority()),
				zap.Duration("duration", duration),
				zap.Error(err))
			Emit(ctx, Event{Type: EventNodeError, Workflow: parent, Node: node.Name(), Kind: node.Kind(), Error: err.Error()})
			return
		}
		logger.Info("node completed",
			zap.String("node", node.Name()),
			zap.Float64("priority", node.Priority()),
			zap.Duration("duration", duration))
		Emit(ctx, Event{Type: EventNodeComplete, Workflow: parent, Node: node.Name(), Kind: node.Kind(),
			Data: map[string]any{"outputs": map[string]any(out), "duration_ms": duration.Milliseconds()}})
	}()

	out, err = node.Run(ctx, in, child)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// partitionTiers 按 priority 升序分层，层内保持声明顺序
func partitionTiers(nodes []Node) [][]Node {
	sorted := slices.Clone(nodes)
	slices.SortStableFunc(sorted, func(a, b Node) int { return cmp.Compare(a.Priority(), b.Priority()) })

	// cmp.Compare 把所有 NaN 视为相等，不会产生空层
	var tiers [][]Node
	for len(sorted) > 0 {
		n := 1
		for n < len(sorted) && cmp.Compare(sorted[n].Priority(), sorted[0].Priority()) == 0 {
			n++
		}
		tiers = append(tiers, sorted[:n:n])
		sorted = sorted[n:]
	}
	return tiers
}

func nodeNames(nodes []Node) []string {
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name())
	}
	return names
}

func sortedKeys(v Variables) []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// redact 隐去凭据字段
func redact(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == "api_key" {
			out[k] = "***"
			continue
		}
		out[k] = sanitize(v)
	}
	return out
}
