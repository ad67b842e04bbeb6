package workflow

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sync"
	"time"
)

// ExecutionStatus represents the status of a node execution
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// TraceEntry 是节点运行中的一条记录：一轮消息、一次工具调用、一次代码执行等。
type TraceEntry struct {
	Type string         `json:"type"`
	Time time.Time      `json:"time"`
	Data map[string]any `json:"data,omitempty"`
}

// Trace 记录一次运行的执行日志，按节点层级组织。
// 并发节点会同时写入同一个父 Trace，因此所有方法都加锁。
// nil *Trace 上的方法均为空操作，调用方不关心日志时可以直接传 nil。
type Trace struct {
	mu sync.RWMutex

	node       string
	kind       NodeKind
	status     ExecutionStatus
	startTime  time.Time
	endTime    time.Time
	input      Variables
	output     Variables
	err        string
	attributes map[string]any
	entries    []TraceEntry
	children   []*Trace
}

// NewTrace creates a root trace for the named node
func NewTrace(node string, kind NodeKind) *Trace {
	return &Trace{
		node:       node,
		kind:       kind,
		status:     ExecutionStatusPending,
		attributes: make(map[string]any),
	}
}

// Child 创建并挂载一个子 Trace
func (t *Trace) Child(node string, kind NodeKind) *Trace {
	if t == nil {
		return nil
	}
	c := NewTrace(node, kind)
	t.mu.Lock()
	t.children = append(t.children, c)
	t.mu.Unlock()
	return c
}

// Start records the start of the node execution
func (t *Trace) Start(input Variables) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startTime = time.Now()
	t.status = ExecutionStatusRunning
	t.input = input.Clone()
}

// Finish records the end of the node execution
func (t *Trace) Finish(output Variables, err error) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endTime = time.Now()
	if err != nil {
		t.status = ExecutionStatusFailed
		t.err = err.Error()
		return
	}
	t.status = ExecutionStatusCompleted
	t.output = output.Clone()
}

// Record 追加一条记录
func (t *Trace) Record(entryType string, data map[string]any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, TraceEntry{Type: entryType, Time: time.Now(), Data: data})
}

// Set 设置属性（如 role、prompt、answer、iterations）
func (t *Trace) Set(key string, value any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attributes[key] = value
}

// Get 读取属性
func (t *Trace) Get(key string) (any, bool) {
	if t == nil {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.attributes[key]
	return v, ok
}

// Node returns the traced node name
func (t *Trace) Node() string {
	if t == nil {
		return ""
	}
	return t.node
}

// Status returns the current execution status
func (t *Trace) Status() ExecutionStatus {
	if t == nil {
		return ""
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Entries returns a copy of the recorded entries
func (t *Trace) Entries() []TraceEntry {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// EntriesOf returns the entries of the given type
func (t *Trace) EntriesOf(entryType string) []TraceEntry {
	var out []TraceEntry
	for _, e := range t.Entries() {
		if e.Type == entryType {
			out = append(out, e)
		}
	}
	return out
}

// Children returns a copy of the child traces
func (t *Trace) Children() []*Trace {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Trace, len(t.children))
	copy(out, t.children)
	return out
}

// FindChild 深度优先查找指定节点的 Trace
func (t *Trace) FindChild(node string) *Trace {
	for _, c := range t.Children() {
		if c.node == node {
			return c
		}
		if found := c.FindChild(node); found != nil {
			return found
		}
	}
	return nil
}

// ToDict 返回可 JSON 序列化的字典。不会失败：无法编码的值退化为字符串。
func (t *Trace) ToDict() map[string]any {
	if t == nil {
		return map[string]any{}
	}
	t.mu.RLock()
	d := map[string]any{
		"node":   t.node,
		"kind":   string(t.kind),
		"status": string(t.status),
	}
	if !t.startTime.IsZero() {
		d["start_time"] = t.startTime.Format(time.RFC3339Nano)
	}
	if !t.endTime.IsZero() {
		d["end_time"] = t.endTime.Format(time.RFC3339Nano)
		d["duration_ms"] = t.endTime.Sub(t.startTime).Milliseconds()
	}
	if t.input != nil {
		d["input"] = sanitize(map[string]any(t.input))
	}
	if t.output != nil {
		d["output"] = sanitize(map[string]any(t.output))
	}
	if t.err != "" {
		d["error"] = t.err
	}
	for k, v := range t.attributes {
		if _, reserved := d[k]; !reserved {
			d[k] = sanitize(v)
		}
	}
	if len(t.entries) > 0 {
		entries := make([]any, 0, len(t.entries))
		for _, e := range t.entries {
			entries = append(entries, map[string]any{
				"type": e.Type,
				"time": e.Time.Format(time.RFC3339Nano),
				"data": sanitize(e.Data),
			})
		}
		d["entries"] = entries
	}
	children := make([]*Trace, len(t.children))
	copy(children, t.children)
	t.mu.RUnlock()

	if len(children) > 0 {
		nodes := make([]any, 0, len(children))
		for _, c := range children {
			nodes = append(nodes, c.ToDict())
		}
		d["nodes"] = nodes
	}
	return d
}

// MarshalJSON implements json.Marshaler
func (t *Trace) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.ToDict())
}

// sanitize 把任意值转换成一定能 JSON 编码的形式
func sanitize(v any) any {
	switch val := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		json.Number, json.RawMessage, time.Time, time.Duration:
		return val
	case float32:
		return sanitize(float64(val))
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Sprint(val)
		}
		return val
	case error:
		return val.Error()
	case Variables:
		return sanitize(map[string]any(val))
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = sanitize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitize(item)
		}
		return out
	case []string:
		return val
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return fmt.Sprint(v)
	}
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	return v
}
