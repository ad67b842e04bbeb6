package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/config2flow/llm"
)

const testTimeout = 30 * time.Second

// TestContext 测试结束时自动取消
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

type messageView struct {
	Role      llm.Role
	Content   string
	ToolCalls []toolCallView
}

type toolCallView struct {
	Name      string
	Arguments string
}

// view 只保留参与比较的字段，ID 和时间戳不比较
func view(msgs []llm.Message) []messageView {
	out := make([]messageView, len(msgs))
	for i, m := range msgs {
		out[i] = messageView{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			out[i].ToolCalls = append(out[i].ToolCalls, toolCallView{Name: tc.Name, Arguments: string(tc.Arguments)})
		}
	}
	return out
}

// AssertMessagesEqual 比较角色、内容和工具调用（名字 + 参数原文）
func AssertMessagesEqual(t *testing.T, expected, actual []llm.Message) bool {
	t.Helper()
	return assert.Equal(t, view(expected), view(actual))
}

func AssertContains(t *testing.T, s, substr string) bool {
	t.Helper()
	return assert.Contains(t, s, substr)
}
