/*
Package agent 实现工作流中的 Agent 节点：一次运行即一段与 LLM 的多轮对话。

# 运行流程

  1. 用输入变量渲染 role 与 prompt（{name} 占位，{{ }} 转义）。
     缺失变量返回 TEMPLATE_ERROR，Subject 为变量名。
  2. 以 [system=role, user=prompt] 发起请求。模型返回 tool_calls 时，
     逐个执行工具并以 assistant 文本 "I called tool ..." 回写，再次请求。
  3. 未禁用代码执行且回复中含 ```python / ```lua 代码块时，交给 sandbox
     执行并回写结果，最多 MaxCodeRuns 次。
  4. 按 reflect_times 追加反思轮次。
  5. 由 ParseOutput 把最终回复映射到声明的输出变量。

每条消息、工具调用与代码执行都写入节点的 workflow.Trace，并通过
workflow.Emit 推送 agent_message 事件。
*/
package agent
