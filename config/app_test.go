package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/config2flow/types"
)

const sampleApp = `
app:
  name: essay
  description: write and review an essay
  output: "{essay}"
  workflow:
    name: main
    provider: loop
    end_condition: "{score} >= 8"
    max_loops: 2
    input_vars:
      - name: topic
        type: str
        label: Topic
        default: Go
    output_vars:
      - name: essay
        type: str
    global_agent:
      model: deepseek-chat
      api_key: ${CONFIG2FLOW_TEST_KEY}
    watchdog_agent:
      name: judge
      node_type: agent
      role: critic
      prompt: "rate {essay}"
      output_vars:
        - name: score
          type: int
    nodes:
      - name: writer
        node_type: agent
        provider: openai
        priority: 1
        role: writer
        prompt: "write about {topic}"
        output_vars:
          - name: essay
            type: str
        mood: cheerful
`

func TestParseApp(t *testing.T) {
	t.Setenv("CONFIG2FLOW_TEST_KEY", "sk-test")

	app, err := ParseApp([]byte(sampleApp))
	require.NoError(t, err)

	assert.Equal(t, "essay", app.Name)
	assert.Equal(t, "{essay}", app.Output)
	assert.Equal(t, "loop", app.Workflow["provider"])

	global := app.Workflow["global_agent"].(map[string]any)
	assert.Equal(t, "sk-test", global["api_key"], "${ENV} 应被展开")

	loop, err := DecodeLoop(app.Workflow)
	require.NoError(t, err)
	assert.Equal(t, 2, loop.MaxLoops)
	assert.Equal(t, "{score} >= 8", loop.EndCondition)
	assert.Equal(t, []string{"topic"}, loop.InputNames())
	assert.Equal(t, []string{"essay"}, loop.OutputNames())
	assert.Equal(t, "Go", loop.InputVars[0].Default)
	assert.Len(t, loop.Nodes, 1)
	assert.Equal(t, DefaultPriority, loop.Priority)
}

func TestParseApp_Unwrapped(t *testing.T) {
	app, err := ParseApp([]byte("name: bare\nworkflow:\n  name: w\n  provider: default\n  nodes: []\n"))
	require.NoError(t, err)
	assert.Equal(t, "bare", app.Name)
}

func TestParseApp_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", ""},
		{"syntax", "app: [unclosed"},
		{"no workflow", "app:\n  name: x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseApp([]byte(tt.yaml))
			require.Error(t, err)
			assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
		})
	}
}

func TestLoadApp_MissingFile(t *testing.T) {
	_, err := LoadApp(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDecodeAgent_DefaultsAndExtra(t *testing.T) {
	cfg, err := DecodeAgent(map[string]any{
		"name":     "writer",
		"role":     "you write",
		"prompt":   "write {topic}",
		"priority": "2", // 弱类型
		"tools":    "calculator,current_time",
		"mood":     "cheerful",
	})
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "deepseek-chat", cfg.Model)
	assert.Equal(t, 8096, cfg.TokenLimit)
	assert.Equal(t, "https://api.deepseek.com/v1", cfg.BaseURL)
	assert.Equal(t, 2.0, cfg.FrequencyPenalty)
	assert.True(t, cfg.CleanMemory)
	assert.True(t, cfg.ContinueRun)
	assert.Equal(t, 2.0, cfg.Priority)
	assert.Equal(t, []string{"calculator", "current_time"}, cfg.Tools)
	assert.Equal(t, map[string]any{"mood": "cheerful"}, cfg.Extra)
}

func TestDecodeAgent_Validation(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{"missing name", map[string]any{"role": "r", "prompt": "p"}},
		{"missing role", map[string]any{"name": "a", "prompt": "p"}},
		{"missing prompt", map[string]any{"name": "a", "role": "r"}},
		{"duplicate outputs", map[string]any{"name": "a", "role": "r", "prompt": "p",
			"output_vars": []any{map[string]any{"name": "x"}, map[string]any{"name": "x"}}}},
		{"negative reflect", map[string]any{"name": "a", "role": "r", "prompt": "p", "reflect_times": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeAgent(tt.raw)
			require.Error(t, err)
			assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
		})
	}
}

func TestDecodeNode_NonFinitePriority(t *testing.T) {
	for _, p := range []string{".nan", ".inf", "-.inf"} {
		t.Run(p, func(t *testing.T) {
			var raw map[string]any
			require.NoError(t, yaml.Unmarshal([]byte("name: a\nrole: r\nprompt: p\npriority: "+p), &raw))

			_, err := DecodeAgent(raw)
			require.Error(t, err)
			assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
			assert.Contains(t, err.Error(), "finite")

			raw["nodes"] = []any{}
			_, err = DecodeWorkflow(raw)
			assert.Equal(t, types.ErrInvalidConfig, types.GetErrorCode(err))
		})
	}
}

func TestDecodeWorkflow_DuplicateChildren(t *testing.T) {
	_, err := DecodeWorkflow(map[string]any{
		"name": "w",
		"nodes": []any{
			map[string]any{"name": "a", "node_type": "agent"},
			map[string]any{"name": "a", "node_type": "agent"},
		},
	})
	require.Error(t, err)
	assert.Equal(t, "a", types.ErrorSubject(err))
}

func TestDecodeLoop_Validation(t *testing.T) {
	base := func() map[string]any {
		return map[string]any{
			"name":           "l",
			"end_condition":  "{done} == 1",
			"watchdog_agent": map[string]any{"name": "judge"},
			"nodes":          []any{},
		}
	}

	cfg, err := DecodeLoop(base())
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxLoops, cfg.MaxLoops)

	zero := base()
	zero["max_loops"] = 0
	_, err = DecodeLoop(zero)
	assert.Error(t, err)

	noCond := base()
	delete(noCond, "end_condition")
	_, err = DecodeLoop(noCond)
	assert.Error(t, err)

	noWatchdog := base()
	delete(noWatchdog, "watchdog_agent")
	_, err = DecodeLoop(noWatchdog)
	assert.Error(t, err)
}

func TestInheritGlobalAgent(t *testing.T) {
	global := map[string]any{"model": "gpt-4o", "temperature": 0.3}

	agent := InheritGlobalAgent(map[string]any{"node_type": "agent", "model": "mine"}, global)
	assert.Equal(t, "mine", agent["model"], "子节点的值优先")
	assert.Equal(t, 0.3, agent["temperature"])

	nested := InheritGlobalAgent(map[string]any{
		"node_type":    "workflow",
		"global_agent": map[string]any{"temperature": 0.9},
	}, global)
	nestedGlobal := nested["global_agent"].(map[string]any)
	assert.Equal(t, 0.9, nestedGlobal["temperature"])
	assert.Equal(t, "gpt-4o", nestedGlobal["model"])

	child := map[string]any{"node_type": "agent"}
	_ = InheritGlobalAgent(child, global)
	assert.NotContains(t, child, "model", "不修改原始 map")

	assert.Equal(t, child, InheritGlobalAgent(child, nil))
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("C2F_X", "value")
	got := ExpandEnv(map[string]any{
		"a": "${C2F_X}",
		"b": []any{"pre-${C2F_X}", 3},
		"c": "cost $5 and $HOME stay",
	}).(map[string]any)

	assert.Equal(t, "value", got["a"])
	assert.Equal(t, []any{"pre-value", 3}, got["b"])
	assert.Equal(t, "cost $5 and $HOME stay", got["c"])
}
