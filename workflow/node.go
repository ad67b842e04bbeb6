package workflow

import (
	"context"

	"github.com/BaSui01/config2flow/config"
)

// NodeKind 节点类型
type NodeKind string

const (
	KindAgent    NodeKind = config.NodeTypeAgent
	KindWorkflow NodeKind = config.NodeTypeWorkflow
	KindLoop     NodeKind = config.NodeTypeLoop
)

// Node 是工作流中可执行的单元：Agent、默认工作流或循环工作流。
//
// Run 只通过返回值贡献输出；出错时返回 nil，不返回部分结果。
// ToDict 在 Run 之前也可以安全调用，且不会失败。
type Node interface {
	Name() string
	Kind() NodeKind
	Priority() float64
	InputNames() []string
	OutputNames() []string
	Run(ctx context.Context, in Variables, tr *Trace) (Variables, error)
	ToDict() map[string]any
}

// BaseNode 持有所有节点共有的声明信息，供具体节点嵌入。
type BaseNode struct {
	cfg  config.NodeConfig
	kind NodeKind
}

// NewBaseNode 创建 BaseNode
func NewBaseNode(cfg config.NodeConfig, kind NodeKind) BaseNode {
	return BaseNode{cfg: cfg, kind: kind}
}

func (b BaseNode) Name() string          { return b.cfg.Name }
func (b BaseNode) Kind() NodeKind        { return b.kind }
func (b BaseNode) Priority() float64     { return b.cfg.Priority }
func (b BaseNode) Description() string   { return b.cfg.Description }
func (b BaseNode) InputNames() []string  { return b.cfg.InputNames() }
func (b BaseNode) OutputNames() []string { return b.cfg.OutputNames() }

// NodeConfig 返回节点声明
func (b BaseNode) NodeConfig() config.NodeConfig { return b.cfg }

// Describe 返回节点声明的字典形式，作为各节点 ToDict 的基础。
func (b BaseNode) Describe() map[string]any {
	d := map[string]any{
		"name":        b.cfg.Name,
		"node_type":   string(b.kind),
		"provider":    b.cfg.Provider,
		"description": b.cfg.Description,
		"priority":    b.cfg.Priority,
		"input_vars":  describeVars(b.cfg.InputVars),
		"output_vars": describeVars(b.cfg.OutputVars),
	}
	if len(b.cfg.Extra) > 0 {
		d["extra"] = sanitize(b.cfg.Extra)
	}
	return d
}

func describeVars(vars []config.VariableConfig) []map[string]any {
	out := make([]map[string]any, 0, len(vars))
	for _, v := range vars {
		m := map[string]any{"name": v.Name}
		if v.Type != "" {
			m["type"] = v.Type
		}
		if v.Description != "" {
			m["description"] = v.Description
		}
		if v.Default != nil {
			m["default"] = sanitize(v.Default)
		}
		out = append(out, m)
	}
	return out
}
