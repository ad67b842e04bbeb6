package workflow

import (
	"context"
	"time"
)

// EventType 工作流运行事件类型
type EventType string

const (
	EventNodeStart     EventType = "node_start"
	EventNodeComplete  EventType = "node_complete"
	EventNodeError     EventType = "node_error"
	EventTierStart     EventType = "tier_start"
	EventTierComplete  EventType = "tier_complete"
	EventLoopIteration EventType = "loop_iteration"
	EventAgentMessage  EventType = "agent_message"
	EventRunStart      EventType = "run_start"
	EventRunComplete   EventType = "run_complete"
)

// Event carries information about a workflow execution event.
type Event struct {
	Type      EventType      `json:"type"`
	Workflow  string         `json:"workflow,omitempty"`
	Node      string         `json:"node,omitempty"`
	Kind      NodeKind       `json:"kind,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventEmitter 接收运行事件。同一层的节点并发运行，回调必须可以并发调用。
type EventEmitter func(Event)

type eventEmitterKey struct{}

// WithEventEmitter stores an EventEmitter in the context.
func WithEventEmitter(ctx context.Context, emitter EventEmitter) context.Context {
	if emitter == nil {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, eventEmitterKey{}, emitter)
}

// Emit 把事件发给 ctx 中的回调；没有回调时什么也不做。
func Emit(ctx context.Context, ev Event) {
	if ctx == nil {
		return
	}
	emit, ok := ctx.Value(eventEmitterKey{}).(EventEmitter)
	if !ok || emit == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Data != nil {
		ev.Data = sanitize(ev.Data).(map[string]any)
	}
	emit(ev)
}
