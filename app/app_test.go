package app

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/config2flow/agent"
	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/store"
	"github.com/BaSui01/config2flow/testutil/mocks"
	"github.com/BaSui01/config2flow/types"
	"github.com/BaSui01/config2flow/workflow"
)

// =============================================================================
// 🧪 辅助
// =============================================================================

func textVar(name string) config.VariableConfig {
	return config.VariableConfig{Name: name, Type: "str"}
}

func newAgent(t *testing.T, name string, priority float64, input, output, prompt string, replies ...string) *agent.Proxy {
	t.Helper()
	cfg := config.DefaultAgentConfig()
	cfg.Name = name
	cfg.Provider = "mock"
	cfg.Model = "test-model"
	cfg.Priority = priority
	cfg.Role = "You are " + name + "."
	cfg.Prompt = prompt
	cfg.InputVars = []config.VariableConfig{textVar(input)}
	cfg.OutputVars = []config.VariableConfig{textVar(output)}
	cfg.DisablePythonRun = true

	p, err := agent.New(&cfg, agent.Options{Provider: mocks.NewMockProvider().WithTextReplies(replies...)})
	require.NoError(t, err)
	return p
}

// translateApp 两层工作流：translator -> polisher
func translateApp(t *testing.T, output string, runs store.RunStore) *App {
	t.Helper()
	text := textVar("text")
	text.Label = "Source text"
	text.Default = "hello"

	wfCfg := &config.WorkflowConfig{NodeConfig: config.NodeConfig{
		Name:       "translate_flow",
		NodeType:   config.NodeTypeWorkflow,
		Provider:   "default",
		InputVars:  []config.VariableConfig{text, textVar("tone")},
		OutputVars: []config.VariableConfig{textVar("polished")},
	}}
	root, err := workflow.NewDefaultWorkflow(wfCfg, []workflow.Node{
		newAgent(t, "translator", 1, "text", "translated", "Translate: {text}", "Bonjour"),
		newAgent(t, "polisher", 2, "translated", "polished", "Polish: {translated}", "Bonjour !"),
	}, workflow.Options{})
	require.NoError(t, err)

	a, err := New(&config.AppConfig{
		Name:        "translator",
		Description: "Translate then polish",
		Output:      output,
		Workflow:    map[string]any{"name": "translate_flow"},
	}, root, Options{Store: runs})
	require.NoError(t, err)
	return a
}

// =============================================================================
// 🧪 Run
// =============================================================================

func TestApp_RunSuccess(t *testing.T) {
	runs := store.NewMemoryStore()
	a := translateApp(t, "Result: {polished}", runs)

	var mu sync.Mutex
	var events []workflow.EventType
	ctx := workflow.WithEventEmitter(context.Background(), func(ev workflow.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev.Type)
	})

	res, err := a.Run(ctx, map[string]any{"text": "hi", "tone": "formal"})
	require.NoError(t, err)

	_, parseErr := uuid.Parse(res.RunID)
	assert.NoError(t, parseErr)
	assert.Equal(t, store.StatusSuccess, res.Status)
	assert.Equal(t, workflow.Variables{"polished": "Bonjour !"}, res.Outputs)
	assert.Equal(t, "Result: Bonjour !", res.Output)
	assert.Equal(t, workflow.ExecutionStatusCompleted, res.Trace.Status())
	runID, _ := res.Trace.Get("run_id")
	assert.Equal(t, res.RunID, runID)
	assert.NotNil(t, res.Trace.FindChild("translator"))

	require.NotEmpty(t, events)
	assert.Equal(t, workflow.EventRunStart, events[0])
	assert.Equal(t, workflow.EventRunComplete, events[len(events)-1])

	rec, err := runs.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "translator", rec.AppName)
	assert.Equal(t, "Result: Bonjour !", rec.OutputText)
	assert.JSONEq(t, `{"polished":"Bonjour !"}`, string(rec.Outputs))
	assert.JSONEq(t, `{"text":"hi","tone":"formal"}`, string(rec.Inputs))
	assert.Contains(t, string(rec.Trace), `"translator"`)
}

func TestApp_RunAppliesDefaults(t *testing.T) {
	a := translateApp(t, "", nil)

	res, err := a.Run(context.Background(), map[string]any{"tone": "casual"})
	require.NoError(t, err)
	assert.Equal(t, "", res.Output)

	in := res.Trace.ToDict()["input"].(map[string]any)
	assert.Equal(t, "hello", in["text"])
}

func TestApp_RunMissingInput(t *testing.T) {
	runs := store.NewMemoryStore()
	a := translateApp(t, "", runs)

	res, err := a.Run(context.Background(), map[string]any{"text": "hi"})
	require.Error(t, err)
	assert.True(t, types.IsMissingInput(err))
	assert.Equal(t, "tone", types.ErrorSubject(err))

	require.NotNil(t, res)
	assert.Equal(t, store.StatusFailed, res.Status)
	assert.Nil(t, res.Outputs)
	assert.Equal(t, string(types.ErrMissingInput), res.ErrorCode)

	rec, err := runs.Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, rec.Status)
	assert.Empty(t, rec.Outputs)
}

func TestApp_OutputTemplateError(t *testing.T) {
	a := translateApp(t, "{polished} / {missing}", nil)

	res, err := a.Run(context.Background(), map[string]any{"text": "hi", "tone": "x"})
	require.Error(t, err)
	assert.True(t, types.IsTemplateError(err))
	assert.Equal(t, "missing", types.ErrorSubject(err))
	assert.Equal(t, workflow.ExecutionStatusFailed, res.Trace.Status())
}

// =============================================================================
// 🧪 描述
// =============================================================================

func TestApp_InputSpecs(t *testing.T) {
	a := translateApp(t, "", nil)

	specs := a.InputSpecs()
	require.Len(t, specs, 2)
	assert.Equal(t, "text", specs[0].Name)
	assert.Equal(t, "Source text", specs[0].Label)
	assert.Equal(t, "hello", specs[0].Default)
	assert.Equal(t, "tone", specs[1].Label, "label falls back to name")
}

func TestApp_ToDict(t *testing.T) {
	a := translateApp(t, "{polished}", nil)

	d := a.ToDict()
	assert.Equal(t, "translator", d["name"])
	assert.Equal(t, "{polished}", d["output"])
	assert.NotContains(t, d, "footer")
	wf := d["workflow"].(map[string]any)
	assert.Equal(t, "translate_flow", wf["name"])
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil, Options{})
	assert.True(t, types.HasCode(err, types.ErrInvalidConfig))

	_, err = New(&config.AppConfig{Name: "x"}, nil, Options{})
	assert.True(t, types.HasCode(err, types.ErrInvalidConfig))
	assert.Equal(t, "x", types.ErrorSubject(err))
}
