/*
Package testutil 提供 config2flow 测试共用的上下文与断言辅助。

  - TestContext: 带超时且自动 Cleanup 的上下文
  - AssertMessagesEqual: 比较 Agent 对话记录（含工具调用）
  - AssertContains: 字符串包含断言

# 子包

  - testutil/mocks: MockProvider（脚本化 LLM 回复、错误注入）与 MockTool
  - testutil/fixtures: 节点原始配置、应用 YAML 与 ChatResponse 样例
*/
package testutil
