/*
包 llm 定义工作流节点与模型服务之间的最小契约。

# 概述

上层只依赖 Provider 接口：一次 Completion 调用，输入 ChatRequest，
返回 ChatResponse。各服务商的 SDK 适配放在 providers 子包中，
按名称装配由 llm/factory 完成，本包不引入任何 SDK。

# 核心类型

  - Provider: Name() 与 Completion(ctx, *ChatRequest)
  - Message: 角色、文本内容与助手发起的 ToolCall
  - ToolSchema: 暴露给模型的工具名称、描述与 JSON Schema 参数
  - ChatResponse: Choices、Usage 与 FirstMessage 便捷方法
  - Error: 带 ErrorCode、HTTP 状态与 Retryable 标记的服务商错误，AsError 从错误链中取出
*/
package llm
