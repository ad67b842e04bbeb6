// Package mocks 提供 llm.Provider 与工具的可脚本化测试替身。
package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/BaSui01/config2flow/llm"
)

type ToolFunc func(ctx context.Context, args json.RawMessage) (string, error)

// ToolCall MockTool 收到的一次调用
type ToolCall struct {
	Args   json.RawMessage
	Result string
	Error  error
}

// MockTool 实现 tools.Tool。WithFunc 优先于 WithResult / WithError
type MockTool struct {
	schema llm.ToolSchema

	mu     sync.Mutex
	fn     ToolFunc
	result string
	err    error
	calls  []ToolCall
}

// NewMockTool 参数 schema 是任意 object
func NewMockTool(name string) *MockTool {
	return &MockTool{schema: llm.ToolSchema{
		Name:        name,
		Description: "Mock tool: " + name,
		Parameters:  json.RawMessage(`{"type":"object"}`),
	}}
}

func (m *MockTool) set(fn func()) *MockTool {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
	return m
}

func (m *MockTool) WithResult(result string) *MockTool { return m.set(func() { m.result = result }) }
func (m *MockTool) WithError(err error) *MockTool      { return m.set(func() { m.err = err }) }
func (m *MockTool) WithFunc(fn ToolFunc) *MockTool     { return m.set(func() { m.fn = fn }) }

func (m *MockTool) Schema() llm.ToolSchema { return m.schema }

// Call fn 在锁外执行，可以阻塞或再次调用 m
func (m *MockTool) Call(ctx context.Context, args json.RawMessage) (string, error) {
	m.mu.Lock()
	fn, result, err := m.fn, m.result, m.err
	m.mu.Unlock()

	if fn != nil {
		result, err = fn(ctx, args)
	}
	if err != nil {
		result = ""
	}
	m.set(func() { m.calls = append(m.calls, ToolCall{Args: args, Result: result, Error: err}) })
	return result, err
}

func (m *MockTool) Calls() []ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ToolCall(nil), m.calls...)
}

func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
