// Package factory 按 Agent 配置中的 provider 名称创建 llm.Provider。
// 它导入全部 provider 子包，llm 包本身因此不依赖任何 SDK。
//
// 支持的名称见 SupportedProviders：openai、anthropic、gemini，
// 以及走 OpenAI 兼容协议的 deepseek、together、litellm 与 general。
package factory
