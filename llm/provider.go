package llm

import (
	"context"
	"encoding/json"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message 是一轮对话。工具结果以 assistant 文本回写，因此不需要 tool 角色。
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// ChatRequest Timeout>0 时覆盖 Provider 的默认超时，不会发给上游
type ChatRequest struct {
	Model            string        `json:"model"`
	Messages         []Message     `json:"messages"`
	MaxTokens        int           `json:"max_tokens,omitempty"`
	Temperature      float32       `json:"temperature,omitempty"`
	TopP             float32       `json:"top_p,omitempty"`
	TopK             int           `json:"top_k,omitempty"`
	FrequencyPenalty float32       `json:"frequency_penalty,omitempty"`
	Stop             []string      `json:"stop,omitempty"`
	Tools            []ToolSchema  `json:"tools,omitempty"`
	Timeout          time.Duration `json:"timeout,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

type ChatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Message      Message `json:"message"`
}

type ChatResponse struct {
	ID        string       `json:"id,omitempty"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model"`
	Choices   []ChatChoice `json:"choices"`
	Usage     ChatUsage    `json:"usage,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

// FirstMessage 没有 choice 时返回 ErrEmptyResponse
func (r *ChatResponse) FirstMessage() (Message, error) {
	switch {
	case r == nil:
		return Message{}, &Error{Code: ErrEmptyResponse, Message: "nil response"}
	case len(r.Choices) == 0:
		return Message{}, &Error{Code: ErrEmptyResponse, Message: "response has no choices", Provider: r.Provider}
	}
	return r.Choices[0].Message, nil
}

// Provider 各家模型的统一适配。模型返回的 ToolCalls 由调用方执行，Provider 只负责一次往返；
// 失败时返回 *Error
type Provider interface {
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// Name 出现在日志、指标和错误里，例如 openai / deepseek
	Name() string
}
