package workflow

import (
	"context"

	"github.com/BaSui01/config2flow/config"
)

// fakeNode 是测试用节点，运行逻辑由 fn 提供
type fakeNode struct {
	BaseNode
	fn func(ctx context.Context, in Variables) (Variables, error)
}

func newFake(name string, priority float64, inputs, outputs []string,
	fn func(ctx context.Context, in Variables) (Variables, error)) *fakeNode {
	cfg := config.NodeConfig{
		Name:       name,
		NodeType:   config.NodeTypeAgent,
		Provider:   "fake",
		InputVars:  varsOf(inputs...),
		OutputVars: varsOf(outputs...),
		Priority:   priority,
	}
	return &fakeNode{BaseNode: NewBaseNode(cfg, KindAgent), fn: fn}
}

// constNode 总是返回固定输出
func constNode(name string, priority float64, out Variables) *fakeNode {
	names := make([]string, 0, len(out))
	for k := range out {
		names = append(names, k)
	}
	return newFake(name, priority, nil, names, func(context.Context, Variables) (Variables, error) {
		return out.Clone(), nil
	})
}

func (f *fakeNode) Run(ctx context.Context, in Variables, tr *Trace) (Variables, error) {
	tr.Record("fake", map[string]any{"inputs": len(in)})
	return f.fn(ctx, in)
}

func (f *fakeNode) ToDict() map[string]any { return f.Describe() }

func varsOf(names ...string) []config.VariableConfig {
	out := make([]config.VariableConfig, 0, len(names))
	for _, n := range names {
		out = append(out, config.VariableConfig{Name: n, Type: "string"})
	}
	return out
}

func workflowCfg(name string, inputs, outputs []string) *config.WorkflowConfig {
	return &config.WorkflowConfig{NodeConfig: config.NodeConfig{
		Name:       name,
		NodeType:   config.NodeTypeWorkflow,
		Provider:   "default",
		InputVars:  varsOf(inputs...),
		OutputVars: varsOf(outputs...),
		Priority:   config.DefaultPriority,
	}}
}

func loopCfg(name string, endCondition string, maxLoops int, inputs, outputs []string) *config.LoopConfig {
	wf := workflowCfg(name, inputs, outputs)
	wf.NodeType = config.NodeTypeLoop
	wf.Provider = "loop"
	return &config.LoopConfig{
		WorkflowConfig: *wf,
		EndCondition:   endCondition,
		MaxLoops:       maxLoops,
		WatchdogAgent:  map[string]any{"name": "watchdog"},
	}
}
