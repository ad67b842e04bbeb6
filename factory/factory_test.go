package factory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/config2flow/agent"
	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/llm"
	llmfactory "github.com/BaSui01/config2flow/llm/factory"
	"github.com/BaSui01/config2flow/store"
	"github.com/BaSui01/config2flow/testutil/fixtures"
	"github.com/BaSui01/config2flow/testutil/mocks"
	"github.com/BaSui01/config2flow/types"
	"github.com/BaSui01/config2flow/workflow"
)

// =============================================================================
// 🧪 脚本化 Provider
// =============================================================================

// scripted 按 Agent 名返回脚本化回复，并记录每次构造时的配置
type scripted struct {
	mu      sync.Mutex
	replies map[string][]string
	built   []config.AgentConfig
}

func newScripted(replies map[string][]string) *scripted {
	return &scripted{replies: replies}
}

func (s *scripted) provider(_ context.Context, name string, cfg *config.AgentConfig) (llm.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.built = append(s.built, *cfg)
	return mocks.NewMockProvider().WithName(name).WithTextReplies(s.replies[cfg.Name]...), nil
}

func (s *scripted) config(name string) (config.AgentConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.built {
		if c.Name == name {
			return c, true
		}
	}
	return config.AgentConfig{}, false
}

func (s *scripted) deps() Deps {
	return Deps{NewProvider: s.provider}
}

// =============================================================================
// 🤖 AgentFactory
// =============================================================================

func TestAgentFactory_RegistersSupportedProviders(t *testing.T) {
	f := NewAgentFactory(newScripted(nil).deps())
	assert.ElementsMatch(t, llmfactory.SupportedProviders(), f.List())
}

func TestAgentFactory_Create(t *testing.T) {
	s := newScripted(nil)
	f := NewAgentFactory(s.deps())

	for _, provider := range llmfactory.SupportedProviders() {
		t.Run(provider, func(t *testing.T) {
			raw := fixtures.AgentNode("writer", []string{"topic"}, []string{"draft"})
			raw["provider"] = provider

			a, err := f.Create(context.Background(), raw)
			require.NoError(t, err)
			assert.Equal(t, "writer", a.Name())
			assert.Equal(t, workflow.KindAgent, a.Kind())
			assert.Equal(t, provider, a.Config().Provider)
		})
	}
}

func TestAgentFactory_OverrideProvider(t *testing.T) {
	f := NewAgentFactory(newScripted(nil).deps())
	raw := fixtures.AgentNode("writer", nil, []string{"draft"})

	a, err := f.Create(context.Background(), raw, "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", a.Config().Provider)
}

func TestAgentFactory_Errors(t *testing.T) {
	f := NewAgentFactory(newScripted(nil).deps())

	raw := fixtures.AgentNode("writer", nil, []string{"draft"})
	delete(raw, "provider")
	_, err := f.Create(context.Background(), raw)
	assert.True(t, types.IsMissingDiscriminator(err))

	raw["provider"] = "acme-llm"
	_, err = f.Create(context.Background(), raw)
	assert.True(t, types.IsUnsupportedProvider(err))
	assert.Equal(t, "acme-llm", types.ErrorSubject(err))

	raw["provider"] = "openai"
	delete(raw, "role")
	_, err = f.Create(context.Background(), raw)
	assert.True(t, types.HasCode(err, types.ErrInvalidConfig))
}

func TestAgentFactory_ProviderConstructionFails(t *testing.T) {
	boom := errors.New("no credentials")
	f := NewAgentFactory(Deps{NewProvider: func(context.Context, string, *config.AgentConfig) (llm.Provider, error) {
		return nil, boom
	}})

	_, err := f.Create(context.Background(), fixtures.AgentNode("writer", nil, []string{"draft"}))
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrInvalidConfig))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "writer", types.ErrorSubject(err))
}

func TestAgentFactory_RealProviders(t *testing.T) {
	// 不注入 NewProvider 时走 llm/factory，构造阶段不发请求
	f := NewAgentFactory(Deps{})
	for _, provider := range []string{"openai", "anthropic", "deepseek", "general"} {
		raw := fixtures.AgentNode("writer", nil, []string{"draft"})
		raw["provider"] = provider
		_, err := f.Create(context.Background(), raw)
		assert.NoError(t, err, provider)
	}
}

// =============================================================================
// 🧩 NodeFactory / WorkflowFactory
// =============================================================================

func TestNodeFactory_DispatchesByNodeType(t *testing.T) {
	f := NewNodeFactory(newScripted(nil).deps())
	assert.Equal(t, []string{"agent", "loop", "workflow"}, f.List())
	assert.Equal(t, []string{"default", "loop"}, f.Workflows().List())

	node, err := f.Create(context.Background(), fixtures.AgentNode("a", nil, []string{"x"}))
	require.NoError(t, err)
	assert.IsType(t, &agent.Proxy{}, node)

	node, err = f.Create(context.Background(),
		fixtures.WorkflowNode("wf", nil, []string{"x"}, fixtures.AgentNode("a", nil, []string{"x"})))
	require.NoError(t, err)
	assert.IsType(t, &workflow.DefaultWorkflow{}, node)

	raw := fixtures.AgentNode("a", nil, []string{"x"})
	delete(raw, "node_type")
	_, err = f.Create(context.Background(), raw)
	assert.True(t, types.IsMissingDiscriminator(err))
	assert.Equal(t, "node_type", types.ErrorSubject(err))
}

func TestNodeFactory_CreateNodeOverrides(t *testing.T) {
	f := NewNodeFactory(newScripted(nil).deps())

	raw := fixtures.AgentNode("a", nil, []string{"x"})
	raw["node_type"] = "bogus"
	raw["provider"] = "bogus"

	node, err := f.CreateNode(context.Background(), raw, "agent", "gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini", node.(*agent.Proxy).Config().Provider)
}

func TestWorkflowFactory_UnsupportedProvider(t *testing.T) {
	f := NewNodeFactory(newScripted(nil).deps())

	raw := fixtures.WorkflowNode("wf", nil, nil, fixtures.AgentNode("a", nil, []string{"x"}))
	raw["provider"] = "dag"
	_, err := f.Create(context.Background(), raw)
	assert.True(t, types.IsUnsupportedProvider(err))
	assert.Equal(t, "dag", types.ErrorSubject(err))
}

func TestWorkflowFactory_ChildErrorNamesParent(t *testing.T) {
	f := NewNodeFactory(newScripted(nil).deps())

	bad := fixtures.AgentNode("a", nil, []string{"x"})
	bad["provider"] = "acme"
	_, err := f.Create(context.Background(), fixtures.WorkflowNode("outer", nil, nil, bad))
	require.Error(t, err)
	assert.True(t, types.IsUnsupportedProvider(err))
	assert.Contains(t, err.Error(), `workflow "outer"`)
}

func TestWorkflowFactory_GlobalAgentInheritance(t *testing.T) {
	s := newScripted(nil)
	f := NewNodeFactory(s.deps())

	child := map[string]any{
		"name":        "writer",
		"node_type":   "agent",
		"role":        "You write.",
		"prompt":      "Write.",
		"model":       "child-model",
		"output_vars": fixtures.Vars("draft"),
	}
	nested := fixtures.WorkflowNode("inner", nil, []string{"note"}, map[string]any{
		"name":        "annotator",
		"node_type":   "agent",
		"role":        "You annotate.",
		"prompt":      "Annotate.",
		"output_vars": fixtures.Vars("note"),
	})
	outer := fixtures.WorkflowNode("outer", nil, []string{"draft", "note"}, child, nested)
	outer["global_agent"] = map[string]any{
		"provider": "anthropic",
		"model":    "global-model",
		"api_key":  "sk-global",
	}

	_, err := f.Create(context.Background(), outer)
	require.NoError(t, err)

	writer, ok := s.config("writer")
	require.True(t, ok)
	assert.Equal(t, "anthropic", writer.Provider)
	assert.Equal(t, "child-model", writer.Model, "child value wins")
	assert.Equal(t, "sk-global", writer.APIKey)

	annotator, ok := s.config("annotator")
	require.True(t, ok, "nested workflow passes global_agent down")
	assert.Equal(t, "anthropic", annotator.Provider)
	assert.Equal(t, "global-model", annotator.Model)
}

func TestWorkflowFactory_Loop(t *testing.T) {
	s := newScripted(map[string][]string{
		"writer": {"v1", "v2", "v3"},
		"judge":  {"3", "9"},
	})
	f := NewNodeFactory(s.deps())

	watchdog := map[string]any{
		"name":        "judge",
		"role":        "You judge drafts.",
		"prompt":      "Rate: {draft}",
		"input_vars":  fixtures.Vars("draft"),
		"output_vars": fixtures.Vars("score"),
	}
	loop := fixtures.LoopNode("refine", nil, []string{"draft"}, "{score} >= 8", 5, watchdog,
		fixtures.AgentNode("writer", nil, []string{"draft"}))
	delete(loop, "provider")
	loop["global_agent"] = map[string]any{"provider": "deepseek"}

	node, err := f.Create(context.Background(), loop)
	require.NoError(t, err)
	lw, ok := node.(*workflow.LoopWorkflow)
	require.True(t, ok, "loop provider defaults to loop")

	judge, ok := s.config("judge")
	require.True(t, ok)
	assert.Equal(t, "deepseek", judge.Provider, "watchdog inherits global_agent")

	out, err := lw.Run(context.Background(), workflow.Variables{}, workflow.NewTrace("refine", workflow.KindLoop))
	require.NoError(t, err)
	assert.Equal(t, workflow.Variables{"draft": "v2"}, out)
	assert.Equal(t, 2, lw.LastIterations())
}

func TestWorkflowFactory_LoopWatchdogWithoutProvider(t *testing.T) {
	f := NewNodeFactory(newScripted(nil).deps())
	watchdog := map[string]any{"name": "judge", "role": "r", "prompt": "p", "output_vars": fixtures.Vars("score")}
	loop := fixtures.LoopNode("refine", nil, nil, "{score} > 1", 2, watchdog,
		fixtures.AgentNode("writer", nil, []string{"draft"}))

	_, err := f.Create(context.Background(), loop)
	require.Error(t, err)
	assert.True(t, types.IsMissingDiscriminator(err))
	assert.Contains(t, err.Error(), "watchdog")
}

func TestWorkflowFactory_LoopRejectsDefaultProvider(t *testing.T) {
	f := NewNodeFactory(newScripted(nil).deps())
	loop := fixtures.LoopNode("refine", nil, nil, "{score} > 1", 2, nil,
		fixtures.AgentNode("writer", nil, []string{"draft"}))
	loop["provider"] = "default"

	_, err := f.Create(context.Background(), loop)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
	assert.Equal(t, "refine", types.ErrorSubject(err))
}

func TestAppFactory_RejectsNonFinitePriority(t *testing.T) {
	f := NewAppFactory(newScripted(translateReplies()).deps(), nil)
	for _, p := range []string{".nan", ".inf", "-.inf"} {
		t.Run(p, func(t *testing.T) {
			yml := strings.Replace(fixtures.TranslateAppYAML, "priority: 1", "priority: "+p, 1)
			require.NotEqual(t, fixtures.TranslateAppYAML, yml)

			_, err := f.CreateFromBytes(context.Background(), []byte(yml))
			require.Error(t, err)
			assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
		})
	}
}

// =============================================================================
// 📱 AppFactory
// =============================================================================

func translateReplies() map[string][]string {
	return map[string][]string{
		"translator": {"Bonjour"},
		"polisher":   {"Bonjour !"},
	}
}

func TestAppFactory_CreateAndRun(t *testing.T) {
	runs := store.NewMemoryStore()
	f := NewAppFactory(newScripted(translateReplies()).deps(), runs)

	a, err := f.CreateFromBytes(context.Background(), []byte(fixtures.TranslateAppYAML))
	require.NoError(t, err)
	assert.Equal(t, "translator", a.Name())

	res, err := a.Run(context.Background(), map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Bonjour !", res.Output)
	assert.Equal(t, workflow.Variables{"polished": "Bonjour !"}, res.Outputs)

	list, err := runs.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.RunID, list[0].ID)
}

func TestAppFactory_FreshGraphPerCreate(t *testing.T) {
	s := newScripted(translateReplies())
	f := NewAppFactory(s.deps(), nil)
	cfg, err := config.ParseApp([]byte(fixtures.TranslateAppYAML))
	require.NoError(t, err)

	first, err := f.Create(context.Background(), cfg)
	require.NoError(t, err)
	second, err := f.Create(context.Background(), cfg)
	require.NoError(t, err)
	assert.NotSame(t, first.Workflow(), second.Workflow())

	// 每张图拿到自己的 Provider，两次运行都能消费完整脚本
	r1, err := first.Run(context.Background(), map[string]any{"text": "a"})
	require.NoError(t, err)
	r2, err := second.Run(context.Background(), map[string]any{"text": "b"})
	require.NoError(t, err)
	assert.Equal(t, r1.Outputs, r2.Outputs)
	assert.NotEqual(t, r1.RunID, r2.RunID)
}

func TestAppFactory_Errors(t *testing.T) {
	f := NewAppFactory(newScripted(nil).deps(), nil)

	_, err := f.Create(context.Background(), nil)
	assert.True(t, types.HasCode(err, types.ErrInvalidConfig))

	_, err = f.Create(context.Background(), &config.AppConfig{Name: "empty"})
	assert.True(t, types.HasCode(err, types.ErrInvalidConfig))

	cfg := &config.AppConfig{Name: "x", Workflow: fixtures.WorkflowNode("wf", nil, nil,
		fixtures.AgentNode("a", nil, []string{"x"}))}
	delete(cfg.Workflow, "provider")
	_, err = f.Create(context.Background(), cfg)
	assert.True(t, types.IsMissingDiscriminator(err))

	_, err = f.CreateFromBytes(context.Background(), []byte("app: [unclosed"))
	assert.True(t, types.HasCode(err, types.ErrInvalidConfig))
}

func TestAppFactory_CreateFromFile(t *testing.T) {
	f := NewAppFactory(newScripted(translateReplies()).deps(), nil)

	_, err := f.CreateFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtures.TranslateAppYAML), 0o600))
	a, err := f.CreateFromFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "translate_flow", a.Workflow().Name())
}
