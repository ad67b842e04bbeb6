package factory

import (
	"context"
	"fmt"

	"github.com/BaSui01/config2flow/app"
	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/store"
	"github.com/BaSui01/config2flow/types"
)

// =============================================================================
// 📱 AppFactory
// =============================================================================

// AppFactory 从应用配置构造 App。每次 Create 都构造一张全新的节点图，
// 因此同一份配置的多次运行互不共享状态。
type AppFactory struct {
	nodes *NodeFactory
	deps  Deps
	runs  store.RunStore
}

// NewAppFactory 创建应用工厂。runs 为 nil 时运行记录不落库。
func NewAppFactory(deps Deps, runs store.RunStore) *AppFactory {
	deps = deps.withDefaults()
	return &AppFactory{nodes: NewNodeFactory(deps), deps: deps, runs: runs}
}

// Nodes 返回底层节点工厂，用于注册自定义 provider
func (f *AppFactory) Nodes() *NodeFactory { return f.nodes }

// Create 构造 App。根工作流按 provider（default / loop）分发，必须声明 provider。
func (f *AppFactory) Create(ctx context.Context, cfg *config.AppConfig) (*app.App, error) {
	if cfg == nil {
		return nil, types.NewInvalidConfigError("app", "app config is nil")
	}
	if len(cfg.Workflow) == 0 {
		return nil, types.NewInvalidConfigError("workflow", fmt.Sprintf("app %q has no workflow", cfg.Name))
	}

	root, err := f.nodes.Workflows().Create(ctx, cfg.Workflow)
	if err != nil {
		return nil, fmt.Errorf("app %q: %w", cfg.Name, err)
	}
	return app.New(cfg, root, app.Options{
		Store:   f.runs,
		Logger:  f.deps.Logger,
		Metrics: f.deps.Metrics,
	})
}

// CreateFromBytes 解析 YAML 并构造 App
func (f *AppFactory) CreateFromBytes(ctx context.Context, data []byte) (*app.App, error) {
	cfg, err := config.ParseApp(data)
	if err != nil {
		return nil, err
	}
	return f.Create(ctx, cfg)
}

// CreateFromFile 读取 YAML 文件并构造 App
func (f *AppFactory) CreateFromFile(ctx context.Context, path string) (*app.App, error) {
	cfg, err := config.LoadApp(path)
	if err != nil {
		return nil, err
	}
	return f.Create(ctx, cfg)
}
