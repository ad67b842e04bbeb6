package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/config2flow/types"
	"github.com/BaSui01/config2flow/workflow"
)

var jsonFence = regexp.MustCompile("(?s)```json[ \\t]*\\r?\\n(.*?)\\r?\\n?```")

// ParseOutput 把模型回复映射到声明的输出变量：
//
//  1. 优先解析 ```json 代码块，其次把整段回复当作 JSON；
//  2. 解析出对象时，逐个取声明的变量，缺失的记为 ""，多余的键丢弃；
//  3. 只声明一个变量时，非对象的 JSON 值或无法解析的原文直接赋给它；
//  4. 其余情况返回 INVALID_OUTPUT。
func ParseOutput(node, reply string, outputs []string) (workflow.Variables, error) {
	if value, ok := parseJSON(reply); ok {
		if obj, isObj := value.(map[string]any); isObj {
			out := make(workflow.Variables, len(outputs))
			for _, name := range outputs {
				if v, found := obj[name]; found {
					out[name] = v
				} else {
					out[name] = ""
				}
			}
			return out, nil
		}
		if len(outputs) == 1 {
			return workflow.Variables{outputs[0]: value}, nil
		}
	}

	if len(outputs) == 1 {
		return workflow.Variables{outputs[0]: reply}, nil
	}
	return nil, types.NewInvalidOutputError(node,
		fmt.Sprintf("reply is not a JSON object and %d output variables are declared", len(outputs)))
}

func parseJSON(reply string) (any, bool) {
	if m := jsonFence.FindStringSubmatch(reply); m != nil {
		var v any
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &v); err == nil {
			return v, true
		}
	}
	trimmed := strings.TrimSpace(reply)
	if trimmed == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return nil, false
	}
	return v, true
}
