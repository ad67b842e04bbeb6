// =============================================================================
// 📦 测试数据工厂 - 节点配置
// =============================================================================
// 提供预定义的节点原始配置（与 YAML 解析结果同形），用于工厂与应用测试
// =============================================================================
package fixtures

// =============================================================================
// 🤖 节点配置工厂
// =============================================================================

// Vars 构造变量声明列表，类型统一为 str
func Vars(names ...string) []any {
	out := make([]any, 0, len(names))
	for _, n := range names {
		out = append(out, map[string]any{"name": n, "type": "str"})
	}
	return out
}

// AgentNode 返回最小可用的 Agent 原始配置
func AgentNode(name string, inputs, outputs []string) map[string]any {
	return map[string]any{
		"name":        name,
		"node_type":   "agent",
		"provider":    "openai",
		"model":       "gpt-4o-mini",
		"api_key":     "sk-test",
		"base_url":    "http://127.0.0.1:1/v1",
		"role":        "You are " + name,
		"prompt":      "Handle the task.",
		"input_vars":  Vars(inputs...),
		"output_vars": Vars(outputs...),

		"disable_python_run": true,
	}
}

// WorkflowNode 返回 default 工作流原始配置
func WorkflowNode(name string, inputs, outputs []string, nodes ...map[string]any) map[string]any {
	children := make([]any, 0, len(nodes))
	for _, n := range nodes {
		children = append(children, n)
	}
	return map[string]any{
		"name":        name,
		"node_type":   "workflow",
		"provider":    "default",
		"input_vars":  Vars(inputs...),
		"output_vars": Vars(outputs...),
		"nodes":       children,
	}
}

// LoopNode 返回 loop 工作流原始配置
func LoopNode(name string, inputs, outputs []string, cond string, maxLoops int, watchdog map[string]any, nodes ...map[string]any) map[string]any {
	wf := WorkflowNode(name, inputs, outputs, nodes...)
	wf["node_type"] = "loop"
	wf["provider"] = "loop"
	wf["end_condition"] = cond
	wf["max_loops"] = maxLoops
	wf["watchdog_agent"] = watchdog
	return wf
}

// =============================================================================
// 📄 应用 YAML
// =============================================================================

// TranslateAppYAML 两层工作流：翻译后润色
const TranslateAppYAML = `
app:
  name: translator
  description: Translate then polish
  output: "{polished}"
  workflow:
    name: translate_flow
    node_type: workflow
    provider: default
    input_vars:
      - name: text
        type: str
        label: Text
    output_vars:
      - name: polished
        type: str
    global_agent:
      provider: openai
      model: gpt-4o-mini
      api_key: sk-test
      disable_python_run: true
    nodes:
      - name: translator
        node_type: agent
        priority: 1
        role: You translate text.
        prompt: "Translate: {text}"
        input_vars:
          - name: text
            type: str
        output_vars:
          - name: translated
            type: str
      - name: polisher
        node_type: agent
        priority: 2
        role: You polish text.
        prompt: "Polish: {translated}"
        input_vars:
          - name: translated
            type: str
        output_vars:
          - name: polished
            type: str
`
