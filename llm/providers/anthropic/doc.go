/*
# 概述

包 anthropic 基于官方 github.com/anthropics/anthropic-sdk-go 实现 llm.Provider，
对应配置中的 provider: anthropic。

# 协议差异

  - system 消息从 messages 中拆出，单独放入 System 字段
  - max_tokens 为必填，未配置时使用 4096
  - tool_use 块转换为 llm.ToolCall，参数保持原始 JSON
*/
package anthropic
