package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/config2flow/llm"
)

// ErrFailAfter WithFailAfter 的上限用完后返回
var ErrFailAfter = errors.New("mock provider: configured to fail after N calls")

// Reply 一次脚本化回复；Err 非 nil 时该次调用失败
type Reply struct {
	Content   string
	ToolCalls []llm.ToolCall
	Err       error
}

// MockProviderCall 一次 Completion 的请求和结果
type MockProviderCall struct {
	Request  *llm.ChatRequest
	Response *llm.ChatResponse
	Error    error
}

// MockProvider 可脚本化的 llm.Provider。回复来源的优先级：
// WithFailAfter 上限 → WithError → WithCompletionFunc → WithReplies 队列 → WithResponse
type MockProvider struct {
	mu sync.Mutex

	name       string
	fallback   string
	script     []Reply
	err        error
	fn         func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
	delay      time.Duration
	failAfter  int
	prompt     int
	completion int

	calls     []MockProviderCall
	callCount int
}

func NewMockProvider() *MockProvider {
	return &MockProvider{name: "mock", fallback: "Mock response", prompt: 10, completion: 20}
}

func NewSuccessProvider(response string) *MockProvider {
	return NewMockProvider().WithResponse(response)
}

func NewErrorProvider(err error) *MockProvider {
	return NewMockProvider().WithError(err)
}

// NewFlakyProvider 前 successCount 次成功，之后一律失败
func NewFlakyProvider(successCount int) *MockProvider {
	return NewMockProvider().WithFailAfter(successCount)
}

func (m *MockProvider) update(fn func()) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
	return m
}

func (m *MockProvider) WithName(name string) *MockProvider {
	return m.update(func() { m.name = name })
}

// WithResponse 脚本耗尽后的固定回复
func (m *MockProvider) WithResponse(content string) *MockProvider {
	return m.update(func() { m.fallback = content })
}

func (m *MockProvider) WithReplies(replies ...Reply) *MockProvider {
	return m.update(func() { m.script = append(m.script, replies...) })
}

func (m *MockProvider) WithTextReplies(contents ...string) *MockProvider {
	replies := make([]Reply, len(contents))
	for i, c := range contents {
		replies[i].Content = c
	}
	return m.WithReplies(replies...)
}

func (m *MockProvider) WithError(err error) *MockProvider {
	return m.update(func() { m.err = err })
}

func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	return m.update(func() { m.prompt, m.completion = prompt, completion })
}

// WithDelay 每次调用先等待 d，ctx 先结束时返回 ctx.Err()
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	return m.update(func() { m.delay = d })
}

func (m *MockProvider) WithFailAfter(n int) *MockProvider {
	return m.update(func() { m.failAfter = n })
}

func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	return m.update(func() { m.fn = fn })
}

func (m *MockProvider) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++

	resp, err := m.respond(ctx, req)
	m.calls = append(m.calls, MockProviderCall{Request: req, Response: resp, Error: err})
	return resp, err
}

// respond 调用方持有 m.mu
func (m *MockProvider) respond(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	switch {
	case m.failAfter > 0 && m.callCount > m.failAfter:
		return nil, ErrFailAfter
	case m.err != nil:
		return nil, m.err
	case m.fn != nil:
		return m.fn(ctx, req)
	}

	reply := Reply{Content: m.fallback}
	if len(m.script) > 0 {
		reply, m.script = m.script[0], m.script[1:]
	}
	if reply.Err != nil {
		return nil, reply.Err
	}

	finish := "stop"
	if len(reply.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	return &llm.ChatResponse{
		ID:       "mock-response-id",
		Provider: m.name,
		Model:    req.Model,
		Choices: []llm.ChatChoice{{
			FinishReason: finish,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: reply.Content, ToolCalls: reply.ToolCalls},
		}},
		Usage: llm.ChatUsage{
			PromptTokens:     m.prompt,
			CompletionTokens: m.completion,
			TotalTokens:      m.prompt + m.completion,
		},
		CreatedAt: time.Now(),
	}, nil
}

// Calls 调用记录的副本
func (m *MockProvider) Calls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockProviderCall(nil), m.calls...)
}

func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastRequest 尚未调用时为 nil
func (m *MockProvider) LastRequest() *llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1].Request
}

// Reset 清空调用记录和未消费的脚本，其他设置保留
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls, m.script, m.callCount = nil, nil, 0
}
