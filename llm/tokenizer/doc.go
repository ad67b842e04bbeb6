// Package tokenizer 估算对话消息的 Token 数，写入 Agent 的执行追踪。
// OpenAI 系列模型使用 tiktoken 精确计数，其余模型使用区分 CJK 的字符估算。
package tokenizer
