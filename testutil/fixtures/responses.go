package fixtures

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/config2flow/llm"
)

// 固定的用量，断言 token 统计时可以直接引用
const (
	PromptTokens     = 10
	CompletionTokens = 20
)

func response(msg llm.Message, finish string) *llm.ChatResponse {
	msg.Role = llm.RoleAssistant
	return &llm.ChatResponse{
		ID:       "resp-001",
		Provider: "mock",
		Model:    "gpt-4o-mini",
		Choices:  []llm.ChatChoice{{FinishReason: finish, Message: msg}},
		Usage: llm.ChatUsage{
			PromptTokens:     PromptTokens,
			CompletionTokens: CompletionTokens,
			TotalTokens:      PromptTokens + CompletionTokens,
		},
		CreatedAt: time.Now(),
	}
}

// SimpleResponse finish_reason 为 stop 的纯文本回复
func SimpleResponse(content string) *llm.ChatResponse {
	return response(llm.Message{Content: content}, "stop")
}

// ToolCallResponse 只含一个工具调用，没有文本
func ToolCallResponse(id, name string, args any) *llm.ChatResponse {
	return response(llm.Message{ToolCalls: []llm.ToolCall{ToolCall(id, name, args)}}, "tool_calls")
}

// ToolCall args 无法序列化时 panic，只用于测试
func ToolCall(id, name string, args any) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: mustJSON(args)}
}

func JSONReply(v any) string {
	return CodeReply("json", string(mustJSON(v)))
}

// CodeReply 模型回复里常见的 ``` 围栏代码块
func CodeReply(lang, code string) string {
	return "```" + lang + "\n" + code + "\n```"
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
