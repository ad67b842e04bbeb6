package agent

import (
	"time"

	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/sandbox"
)

func varsOf(names ...string) []config.VariableConfig {
	out := make([]config.VariableConfig, 0, len(names))
	for _, n := range names {
		out = append(out, config.VariableConfig{Name: n, Type: "str"})
	}
	return out
}

// agentCfg 返回关闭代码执行的 Agent 配置
func agentCfg(name string, inputs, outputs []string) *config.AgentConfig {
	cfg := config.DefaultAgentConfig()
	cfg.Name = name
	cfg.Provider = "mock"
	cfg.Model = "test-model"
	cfg.TokenLimit = 512
	cfg.Temperature = 0.2
	cfg.Role = "You are " + name + "."
	cfg.Prompt = "Answer the question."
	cfg.InputVars = varsOf(inputs...)
	cfg.OutputVars = varsOf(outputs...)
	cfg.DisablePythonRun = true
	return &cfg
}

// luaSandbox 只注册 Lua 后端，测试不依赖本机 Python
func luaSandbox() *sandbox.Executor {
	return sandbox.NewExecutor(sandbox.Options{Timeout: 5 * time.Second},
		map[sandbox.Language]sandbox.Backend{sandbox.LangLua: sandbox.NewLuaBackend()}, nil)
}
