package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/config2flow/llm"
)

const maxErrorBody = 64 << 10

// MapHTTPError 按状态码归类为 llm.Error。5xx、429、408 可重试；
// 400 的消息里带 quota / credit 时视为额度耗尽
func MapHTTPError(status int, msg string, provider string) *llm.Error {
	e := &llm.Error{
		Code:       llm.ErrUpstreamError,
		Message:    msg,
		HTTPStatus: status,
		Retryable:  status >= http.StatusInternalServerError,
		Provider:   provider,
	}
	switch status {
	case http.StatusUnauthorized:
		e.Code = llm.ErrUnauthorized
	case http.StatusForbidden:
		e.Code = llm.ErrForbidden
	case http.StatusTooManyRequests:
		e.Code, e.Retryable = llm.ErrRateLimited, true
	case http.StatusBadRequest:
		e.Code = llm.ErrInvalidRequest
		if lower := strings.ToLower(msg); strings.Contains(lower, "quota") || strings.Contains(lower, "credit") {
			e.Code = llm.ErrQuotaExceeded
		}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		e.Code, e.Retryable = llm.ErrUpstreamTimeout, true
	case 529: // Anthropic 等的 overloaded
		e.Code = llm.ErrModelOverloaded
	}
	return e
}

// ReadErrorMessage 优先取 {"error":{"message","type"}}，否则返回去掉首尾空白的原文（最多 64KB）
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return "failed to read error response"
	}
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &envelope) != nil || envelope.Error.Message == "" {
		return strings.TrimSpace(string(data))
	}
	if envelope.Error.Type == "" {
		return envelope.Error.Message
	}
	return fmt.Sprintf("%s (type: %s)", envelope.Error.Message, envelope.Error.Type)
}

// 以下是 chat completions 的线上格式，DeepSeek、Together、LiteLLM 代理共用。

type OpenAICompatMessage struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	ToolCalls []OpenAICompatToolCall `json:"tool_calls,omitempty"`
}

type OpenAICompatToolCall struct {
	ID       string               `json:"id"`
	Type     string               `json:"type"`
	Function OpenAICompatFunction `json:"function"`
}

// OpenAICompatFunction 工具调用中的函数部分。arguments 在线上是 JSON 字符串。
type OpenAICompatFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type OpenAICompatTool struct {
	Type     string                 `json:"type"`
	Function OpenAICompatFunctionDef `json:"function"`
}

type OpenAICompatFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// OpenAICompatRequest temperature 不省略，0 也要发给上游
type OpenAICompatRequest struct {
	Model            string                `json:"model"`
	Messages         []OpenAICompatMessage `json:"messages"`
	Tools            []OpenAICompatTool    `json:"tools,omitempty"`
	MaxTokens        int                   `json:"max_tokens,omitempty"`
	Temperature      float32               `json:"temperature"`
	TopP             float32               `json:"top_p,omitempty"`
	TopK             int                   `json:"top_k,omitempty"`
	FrequencyPenalty float32               `json:"frequency_penalty,omitempty"`
	Stop             []string              `json:"stop,omitempty"`
}

type OpenAICompatChoice struct {
	Index        int                 `json:"index"`
	FinishReason string              `json:"finish_reason"`
	Message      OpenAICompatMessage `json:"message"`
}

type OpenAICompatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type OpenAICompatResponse struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []OpenAICompatChoice `json:"choices"`
	Usage   *OpenAICompatUsage   `json:"usage,omitempty"`
	Created int64                `json:"created,omitempty"`
}

// ConvertMessagesToOpenAI 工具参数在线上是 JSON 字符串
func ConvertMessagesToOpenAI(msgs []llm.Message) []OpenAICompatMessage {
	out := make([]OpenAICompatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = OpenAICompatMessage{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			out[i].ToolCalls = append(out[i].ToolCalls, OpenAICompatToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: OpenAICompatFunction{Name: tc.Name, Arguments: string(tc.Arguments)},
			})
		}
	}
	return out
}

// ConvertToolsToOpenAI 没有工具时返回 nil，请求里省略 tools 字段
func ConvertToolsToOpenAI(tools []llm.ToolSchema) []OpenAICompatTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]OpenAICompatTool, len(tools))
	for i, t := range tools {
		out[i].Type = "function"
		out[i].Function = OpenAICompatFunctionDef{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
	}
	return out
}

// ToLLMChatResponse 将 OpenAI 兼容的响应转换为 llm.ChatResponse.
func ToLLMChatResponse(oa OpenAICompatResponse, provider string) *llm.ChatResponse {
	choices := make([]llm.ChatChoice, 0, len(oa.Choices))
	for _, c := range oa.Choices {
		msg := llm.Message{Role: llm.RoleAssistant, Content: c.Message.Content}
		for _, tc := range c.Message.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: NormalizeArguments(tc.Function.Arguments),
			})
		}
		choices = append(choices, llm.ChatChoice{Index: c.Index, FinishReason: c.FinishReason, Message: msg})
	}
	resp := &llm.ChatResponse{ID: oa.ID, Provider: provider, Model: oa.Model, Choices: choices}
	if oa.Usage != nil {
		resp.Usage = llm.ChatUsage{
			PromptTokens:     oa.Usage.PromptTokens,
			CompletionTokens: oa.Usage.CompletionTokens,
			TotalTokens:      oa.Usage.TotalTokens,
		}
	}
	return resp
}

// NormalizeArguments 把工具参数字符串转为 JSON；不是合法 JSON 时包成字符串。
func NormalizeArguments(args string) json.RawMessage {
	args = strings.TrimSpace(args)
	if args == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(args)) {
		return json.RawMessage(args)
	}
	b, _ := json.Marshal(args)
	return b
}

// ChooseModel 请求 → 配置默认 → 兜底
func ChooseModel(req *llm.ChatRequest, defaultModel, fallbackModel string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallbackModel
}

// SplitSystem 拆出 system 消息，供 system 单独传参的 Provider（Anthropic、Gemini）使用。
func SplitSystem(msgs []llm.Message) (string, []llm.Message) {
	var system []string
	rest := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// SafeCloseBody 读掉剩余内容（最多 64KB）再关闭，连接可以被复用
func SafeCloseBody(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBody))
	_ = body.Close()
}
