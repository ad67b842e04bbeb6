/*
# 概述

包 openai 基于官方 github.com/openai/openai-go SDK 实现 llm.Provider，
对应配置中的 provider: openai。仅使用 Chat Completions 同步接口。

# 核心结构体

  - Provider: 持有 openai.Client，负责 llm.ChatRequest 与 SDK 参数的双向转换

# 行为约定

  - SDK 内置重试被关闭（WithMaxRetries(0)），错误只上抛一次
  - SDK 错误映射为 llm.Error，保留 HTTP 状态与可重试标记
  - BaseURL 可指向任意兼容网关（例如 DeepSeek 默认地址）
*/
package openai
