package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/config2flow/agent"
	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/internal/metrics"
	"github.com/BaSui01/config2flow/llm"
	llmfactory "github.com/BaSui01/config2flow/llm/factory"
	"github.com/BaSui01/config2flow/sandbox"
	"github.com/BaSui01/config2flow/tools"
	"github.com/BaSui01/config2flow/types"
	"github.com/BaSui01/config2flow/workflow"
)

// ProviderFunc 为 Agent 构造 LLM Provider
type ProviderFunc func(ctx context.Context, name string, cfg *config.AgentConfig) (llm.Provider, error)

// Deps 构建节点图时共享的依赖。零值可用：无工具、无沙箱、真实 Provider。
type Deps struct {
	Logger  *zap.Logger
	Metrics *metrics.Collector
	Tools   *tools.Registry
	Sandbox *sandbox.Executor
	Engine  config.EngineConfig

	// NewProvider 为 nil 时使用 llm/factory
	NewProvider ProviderFunc
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.NewProvider == nil {
		logger := d.Logger
		timeout := d.Engine.RequestTimeout
		d.NewProvider = func(ctx context.Context, name string, cfg *config.AgentConfig) (llm.Provider, error) {
			return llmfactory.NewProviderFromConfig(ctx, name, llmfactory.ProviderConfig{
				APIKey:  cfg.APIKey,
				BaseURL: cfg.BaseURL,
				Model:   cfg.Model,
				Timeout: timeout,
				Extra:   cfg.Extra,
			}, logger)
		}
	}
	return d
}

// =============================================================================
// 🤖 AgentFactory
// =============================================================================

// AgentFactory 按 provider 构造 Agent
type AgentFactory struct {
	*Registry[*agent.Proxy]
	deps Deps
}

// NewAgentFactory 注册全部内置 provider
func NewAgentFactory(deps Deps) *AgentFactory {
	deps = deps.withDefaults()
	f := &AgentFactory{
		Registry: NewRegistry[*agent.Proxy]("agent", "provider", deps.Logger.With(zap.String("component", "agent_factory"))),
		deps:     deps,
	}
	for _, name := range llmfactory.SupportedProviders() {
		f.Register(name, f.constructor(name))
	}
	return f
}

func (f *AgentFactory) constructor(provider string) Constructor[*agent.Proxy] {
	return func(ctx context.Context, raw map[string]any) (*agent.Proxy, error) {
		cfg, err := config.DecodeAgent(raw)
		if err != nil {
			return nil, err
		}
		cfg.Provider = provider

		llmProvider, err := f.deps.NewProvider(ctx, provider, cfg)
		if err != nil {
			return nil, types.NewInvalidConfigError(cfg.Name,
				fmt.Sprintf("agent %q: cannot create %s provider", cfg.Name, provider)).WithCause(err)
		}

		return agent.New(cfg, agent.Options{
			Provider:       llmProvider,
			Tools:          f.deps.Tools,
			Sandbox:        f.deps.Sandbox,
			Logger:         f.deps.Logger,
			Metrics:        f.deps.Metrics,
			MaxCodeRuns:    f.deps.Engine.MaxCodeRuns,
			MaxToolRounds:  f.deps.Engine.MaxToolRounds,
			RequestTimeout: f.deps.Engine.RequestTimeout,
		})
	}
}

// =============================================================================
// 🔀 WorkflowFactory
// =============================================================================

// WorkflowFactory 按 provider 构造工作流，子节点经 NodeFactory 递归构造
type WorkflowFactory struct {
	*Registry[workflow.Node]
	deps  Deps
	nodes *NodeFactory
}

func newWorkflowFactory(deps Deps, nodes *NodeFactory) *WorkflowFactory {
	f := &WorkflowFactory{
		Registry: NewRegistry[workflow.Node]("workflow", "provider", deps.Logger.With(zap.String("component", "workflow_factory"))),
		deps:     deps,
		nodes:    nodes,
	}
	f.Register("default", f.createDefault)
	f.Register("loop", f.createLoop)
	return f
}

func (f *WorkflowFactory) options() workflow.Options {
	return workflow.Options{
		Logger:         f.deps.Logger,
		MaxConcurrency: f.deps.Engine.MaxConcurrency,
		Metrics:        f.deps.Metrics,
	}
}

func (f *WorkflowFactory) createDefault(ctx context.Context, raw map[string]any) (workflow.Node, error) {
	cfg, err := config.DecodeWorkflow(raw)
	if err != nil {
		return nil, err
	}
	children, err := f.children(ctx, cfg.Name, cfg.Nodes, cfg.GlobalAgent)
	if err != nil {
		return nil, err
	}
	wf, err := workflow.NewDefaultWorkflow(cfg, children, f.options())
	if err != nil {
		return nil, err
	}
	return wf, nil
}

func (f *WorkflowFactory) createLoop(ctx context.Context, raw map[string]any) (workflow.Node, error) {
	cfg, err := config.DecodeLoop(raw)
	if err != nil {
		return nil, err
	}
	children, err := f.children(ctx, cfg.Name, cfg.Nodes, cfg.GlobalAgent)
	if err != nil {
		return nil, err
	}
	// watchdog 同样继承 global_agent
	watchdog, err := f.nodes.agents.Create(ctx, config.MergeDefaults(cfg.WatchdogAgent, cfg.GlobalAgent))
	if err != nil {
		return nil, fmt.Errorf("loop %q watchdog: %w", cfg.Name, err)
	}
	loop, err := workflow.NewLoopWorkflow(cfg, children, watchdog, f.options())
	if err != nil {
		return nil, err
	}
	return loop, nil
}

func (f *WorkflowFactory) children(ctx context.Context, parent string, raws []map[string]any, global map[string]any) ([]workflow.Node, error) {
	children := make([]workflow.Node, 0, len(raws))
	for _, raw := range raws {
		node, err := f.nodes.Create(ctx, config.InheritGlobalAgent(raw, global))
		if err != nil {
			return nil, fmt.Errorf("workflow %q: %w", parent, err)
		}
		children = append(children, node)
	}
	return children, nil
}

// =============================================================================
// 🧩 NodeFactory
// =============================================================================

// NodeFactory 按 node_type 分发到 AgentFactory / WorkflowFactory
type NodeFactory struct {
	*Registry[workflow.Node]
	agents    *AgentFactory
	workflows *WorkflowFactory
}

// NewNodeFactory 创建节点工厂及其委托的 Agent / 工作流工厂
func NewNodeFactory(deps Deps) *NodeFactory {
	deps = deps.withDefaults()
	f := &NodeFactory{
		Registry: NewRegistry[workflow.Node]("node", "node_type", deps.Logger.With(zap.String("component", "node_factory"))),
		agents:   NewAgentFactory(deps),
	}
	f.workflows = newWorkflowFactory(deps, f)

	f.Register(config.NodeTypeAgent, func(ctx context.Context, raw map[string]any) (workflow.Node, error) {
		a, err := f.agents.Create(ctx, raw)
		if err != nil {
			return nil, err
		}
		return a, nil
	})
	f.Register(config.NodeTypeWorkflow, func(ctx context.Context, raw map[string]any) (workflow.Node, error) {
		return f.workflows.Create(ctx, raw)
	})
	// loop 节点可以省略 provider；default 不会循环，直接拒绝
	f.Register(config.NodeTypeLoop, func(ctx context.Context, raw map[string]any) (workflow.Node, error) {
		provider := f.workflows.Discriminator(raw)
		switch provider {
		case "":
			provider = "loop"
		case "default":
			name, _ := raw["name"].(string)
			return nil, types.NewInvalidConfigError(name,
				fmt.Sprintf("loop node %q cannot use provider %q, use %q or omit it", name, provider, "loop"))
		}
		return f.workflows.Create(ctx, raw, provider)
	})
	return f
}

// Agents 返回 Agent 工厂
func (f *NodeFactory) Agents() *AgentFactory { return f.agents }

// Workflows 返回工作流工厂
func (f *NodeFactory) Workflows() *WorkflowFactory { return f.workflows }

// CreateNode 构造节点。nodeType / provider 非空时优先于配置中的同名字段。
func (f *NodeFactory) CreateNode(ctx context.Context, raw map[string]any, nodeType, provider string) (workflow.Node, error) {
	if provider != "" {
		raw = config.MergeDefaults(map[string]any{"provider": provider}, raw)
	}
	return f.Create(ctx, raw, nodeType)
}
