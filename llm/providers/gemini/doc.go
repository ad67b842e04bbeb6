// Package gemini 基于 google.golang.org/genai SDK 实现 llm.Provider，
// 对应配置中的 provider: gemini。
package gemini
