package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/config2flow/llm"
	"github.com/invopop/jsonschema"
)

// funcTool 把强类型函数包装为 Tool
type funcTool[In any] struct {
	schema llm.ToolSchema
	fn     func(ctx context.Context, in In) (any, error)
}

// NewFunc 由强类型函数构造 Tool。参数 Schema 从 In 的结构体标签反射：
//
//	type Args struct {
//	    Text string `json:"text" jsonschema:"required,description=Text to count"`
//	}
func NewFunc[In any](name, description string, fn func(ctx context.Context, in In) (any, error)) (Tool, error) {
	params, err := generateSchema[In]()
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	return &funcTool[In]{
		schema: llm.ToolSchema{Name: name, Description: description, Parameters: params},
		fn:     fn,
	}, nil
}

// MustFunc 同 NewFunc，Schema 生成失败时 panic，仅用于包级内置工具。
func MustFunc[In any](name, description string, fn func(ctx context.Context, in In) (any, error)) Tool {
	t, err := NewFunc(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *funcTool[In]) Schema() llm.ToolSchema { return t.schema }

func (t *funcTool[In]) Call(ctx context.Context, args json.RawMessage) (string, error) {
	var in In
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &in); err != nil {
			return "", fmt.Errorf("decode arguments: %w", err)
		}
	}
	out, err := t.fn(ctx, in)
	if err != nil {
		return "", err
	}
	switch v := out.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode result: %w", err)
		}
		return string(b), nil
	}
}

// generateSchema 反射出 object 类型的参数 Schema，内联全部定义。
func generateSchema[T any]() (json.RawMessage, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	delete(m, "$schema")
	delete(m, "$id")

	if m["type"] == "object" {
		out := map[string]any{"type": "object", "properties": m["properties"]}
		if out["properties"] == nil {
			out["properties"] = map[string]any{}
		}
		if req, ok := m["required"]; ok {
			out["required"] = req
		}
		m = out
	}
	return json.Marshal(m)
}
