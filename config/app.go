// =============================================================================
// 📦 应用配置（app → workflow → nodes）
// =============================================================================
// 应用 YAML 先解析为原始 map，节点保持 map 形式交给工厂按 node_type / provider
// 分发，再由各实现用 Decode* 解码成强类型配置。
// =============================================================================
package config

import (
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/config2flow/types"
)

// 节点类型
const (
	NodeTypeAgent    = "agent"
	NodeTypeWorkflow = "workflow"
	NodeTypeLoop     = "loop"
)

// DefaultPriority 未声明 priority 时的默认值
const DefaultPriority = 1.0

// DefaultMaxLoops 未声明 max_loops 时的默认值
const DefaultMaxLoops = 3

// VariableConfig 输入/输出变量声明
type VariableConfig struct {
	Name        string `yaml:"name" json:"name" mapstructure:"name"`
	Type        string `yaml:"type" json:"type" mapstructure:"type"`
	Description string `yaml:"description,omitempty" json:"description,omitempty" mapstructure:"description"`

	// 以下字段只对输入变量有意义（交互式输入时使用）
	Label       string   `yaml:"label,omitempty" json:"label,omitempty" mapstructure:"label"`
	Placeholder string   `yaml:"placeholder,omitempty" json:"placeholder,omitempty" mapstructure:"placeholder"`
	Component   string   `yaml:"component,omitempty" json:"component,omitempty" mapstructure:"component"`
	Options     []any    `yaml:"options,omitempty" json:"options,omitempty" mapstructure:"options"`
	Min         *float64 `yaml:"min,omitempty" json:"min,omitempty" mapstructure:"min"`
	Max         *float64 `yaml:"max,omitempty" json:"max,omitempty" mapstructure:"max"`
	Default     any      `yaml:"default,omitempty" json:"default,omitempty" mapstructure:"default"`
}

// NodeConfig 所有节点共有的字段
type NodeConfig struct {
	Name        string           `yaml:"name" json:"name" mapstructure:"name"`
	NodeType    string           `yaml:"node_type" json:"node_type" mapstructure:"node_type"`
	Provider    string           `yaml:"provider" json:"provider" mapstructure:"provider"`
	Description string           `yaml:"description" json:"description" mapstructure:"description"`
	InputVars   []VariableConfig `yaml:"input_vars" json:"input_vars" mapstructure:"input_vars"`
	OutputVars  []VariableConfig `yaml:"output_vars" json:"output_vars" mapstructure:"output_vars"`
	Priority    float64          `yaml:"priority" json:"priority" mapstructure:"priority"`

	// Extra 未识别的扩展字段
	Extra map[string]any `yaml:"-" json:"extra,omitempty" mapstructure:"-"`
}

// InputNames 返回输入变量名（保持声明顺序）
func (c *NodeConfig) InputNames() []string { return varNames(c.InputVars) }

// OutputNames 返回输出变量名（保持声明顺序）
func (c *NodeConfig) OutputNames() []string { return varNames(c.OutputVars) }

func varNames(vars []VariableConfig) []string {
	names := make([]string, 0, len(vars))
	for _, v := range vars {
		names = append(names, v.Name)
	}
	return names
}

// AgentConfig Agent 节点配置
type AgentConfig struct {
	NodeConfig `yaml:",inline" mapstructure:",squash"`

	CleanMemory bool `yaml:"clean_memory" json:"clean_memory" mapstructure:"clean_memory"`

	// 模型参数
	Model            string  `yaml:"model" json:"model" mapstructure:"model"`
	TokenLimit       int     `yaml:"token_limit" json:"token_limit" mapstructure:"token_limit"`
	APIKey           string  `yaml:"api_key" json:"-" mapstructure:"api_key"`
	BaseURL          string  `yaml:"base_url" json:"base_url" mapstructure:"base_url"`
	Temperature      float64 `yaml:"temperature" json:"temperature" mapstructure:"temperature"`
	TopP             float64 `yaml:"top_p,omitempty" json:"top_p,omitempty" mapstructure:"top_p"` // 0 表示使用 provider 默认值
	FrequencyPenalty float64 `yaml:"frequency_penalty" json:"frequency_penalty" mapstructure:"frequency_penalty"`
	ReflectTimes     int     `yaml:"reflect_times" json:"reflect_times" mapstructure:"reflect_times"`
	ContinueRun      bool    `yaml:"continue_run" json:"continue_run" mapstructure:"continue_run"`
	DisablePythonRun bool    `yaml:"disable_python_run" json:"disable_python_run" mapstructure:"disable_python_run"`
	Tools            []string `yaml:"tools" json:"tools" mapstructure:"tools"`

	Role      string `yaml:"role" json:"role" mapstructure:"role"`
	Prompt    string `yaml:"prompt" json:"prompt" mapstructure:"prompt"`
	Workspace string `yaml:"workspace,omitempty" json:"workspace,omitempty" mapstructure:"workspace"`
}

// DefaultAgentConfig 返回 Agent 默认值
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		NodeConfig: NodeConfig{
			NodeType: NodeTypeAgent,
			Provider: "openai",
			Priority: DefaultPriority,
		},
		CleanMemory:      true,
		Model:            "deepseek-chat",
		TokenLimit:       8096,
		BaseURL:          "https://api.deepseek.com/v1",
		Temperature:      0.0,
		FrequencyPenalty: 2,
		ReflectTimes:     0,
		ContinueRun:      true,
		DisablePythonRun: false,
	}
}

// WorkflowConfig 工作流节点配置
type WorkflowConfig struct {
	NodeConfig `yaml:",inline" mapstructure:",squash"`

	// Nodes 子节点原始配置
	Nodes []map[string]any `yaml:"nodes" json:"nodes" mapstructure:"nodes"`
	// GlobalAgent 子 Agent 的默认参数
	GlobalAgent map[string]any `yaml:"global_agent,omitempty" json:"global_agent,omitempty" mapstructure:"global_agent"`
	// MaxConcurrency 单层最大并发，0 表示使用引擎默认值
	MaxConcurrency int `yaml:"max_concurrency,omitempty" json:"max_concurrency,omitempty" mapstructure:"max_concurrency"`
}

// LoopConfig 循环工作流配置
type LoopConfig struct {
	WorkflowConfig `yaml:",inline" mapstructure:",squash"`

	EndCondition  string         `yaml:"end_condition" json:"end_condition" mapstructure:"end_condition"`
	MaxLoops      int            `yaml:"max_loops" json:"max_loops" mapstructure:"max_loops"`
	WatchdogAgent map[string]any `yaml:"watchdog_agent" json:"watchdog_agent" mapstructure:"watchdog_agent"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string         `yaml:"name" json:"name" mapstructure:"name"`
	Description string         `yaml:"description" json:"description" mapstructure:"description"`
	Footer      string         `yaml:"footer,omitempty" json:"footer,omitempty" mapstructure:"footer"`
	ShowSidebar bool           `yaml:"show_sidebar,omitempty" json:"show_sidebar,omitempty" mapstructure:"show_sidebar"`
	Output      string         `yaml:"output,omitempty" json:"output,omitempty" mapstructure:"output"`
	Workflow    map[string]any `yaml:"workflow" json:"workflow" mapstructure:"workflow"`
}

// =============================================================================
// 🔧 解析
// =============================================================================

// LoadApp 从文件加载应用配置
func LoadApp(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read app config: %w", err)
	}
	return ParseApp(data)
}

// ParseApp 解析应用 YAML。顶层可以是 `app:` 包裹，也可以直接是 app 对象。
func ParseApp(data []byte) (*AppConfig, error) {
	var root map[string]any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, types.NewInvalidConfigError("app", "failed to parse app config").WithCause(err)
	}
	if root == nil {
		return nil, types.NewInvalidConfigError("app", "app config is empty")
	}

	raw := root
	if inner, ok := root["app"].(map[string]any); ok {
		raw = inner
	}
	raw = ExpandEnv(raw).(map[string]any)

	var app AppConfig
	if _, err := decode(raw, &app); err != nil {
		return nil, types.NewInvalidConfigError("app", "invalid app config").WithCause(err)
	}
	if len(app.Workflow) == 0 {
		return nil, types.NewInvalidConfigError("workflow", "app config has no workflow")
	}
	if app.Name == "" {
		if n, ok := app.Workflow["name"].(string); ok {
			app.Name = n
		}
	}
	return &app, nil
}

// DecodeAgent 将原始 map 解码为 AgentConfig 并校验
func DecodeAgent(raw map[string]any) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()
	extra, err := decode(raw, &cfg)
	if err != nil {
		return nil, types.NewInvalidConfigError(nameOf(raw), "invalid agent config").WithCause(err)
	}
	cfg.Extra = extra
	if err := validateNode(&cfg.NodeConfig); err != nil {
		return nil, err
	}
	if cfg.Role == "" {
		return nil, types.NewInvalidConfigError(cfg.Name, fmt.Sprintf("agent %q: role is required", cfg.Name))
	}
	if cfg.Prompt == "" {
		return nil, types.NewInvalidConfigError(cfg.Name, fmt.Sprintf("agent %q: prompt is required", cfg.Name))
	}
	if cfg.ReflectTimes < 0 {
		return nil, types.NewInvalidConfigError(cfg.Name, fmt.Sprintf("agent %q: reflect_times must not be negative", cfg.Name))
	}
	return &cfg, nil
}

// DecodeWorkflow 将原始 map 解码为 WorkflowConfig 并校验
func DecodeWorkflow(raw map[string]any) (*WorkflowConfig, error) {
	cfg := WorkflowConfig{NodeConfig: NodeConfig{NodeType: NodeTypeWorkflow, Priority: DefaultPriority}}
	extra, err := decode(raw, &cfg)
	if err != nil {
		return nil, types.NewInvalidConfigError(nameOf(raw), "invalid workflow config").WithCause(err)
	}
	cfg.Extra = extra
	if err := validateNode(&cfg.NodeConfig); err != nil {
		return nil, err
	}
	if err := validateChildren(cfg.Name, cfg.Nodes); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DecodeLoop 将原始 map 解码为 LoopConfig 并校验
func DecodeLoop(raw map[string]any) (*LoopConfig, error) {
	cfg := LoopConfig{
		WorkflowConfig: WorkflowConfig{NodeConfig: NodeConfig{NodeType: NodeTypeLoop, Priority: DefaultPriority}},
		MaxLoops:       DefaultMaxLoops,
	}
	extra, err := decode(raw, &cfg)
	if err != nil {
		return nil, types.NewInvalidConfigError(nameOf(raw), "invalid loop config").WithCause(err)
	}
	cfg.Extra = extra
	if err := validateNode(&cfg.NodeConfig); err != nil {
		return nil, err
	}
	if err := validateChildren(cfg.Name, cfg.Nodes); err != nil {
		return nil, err
	}
	if cfg.MaxLoops < 1 {
		return nil, types.NewInvalidConfigError(cfg.Name, fmt.Sprintf("loop %q: max_loops must be >= 1", cfg.Name))
	}
	if cfg.EndCondition == "" {
		return nil, types.NewInvalidConfigError(cfg.Name, fmt.Sprintf("loop %q: end_condition is required", cfg.Name))
	}
	if len(cfg.WatchdogAgent) == 0 {
		return nil, types.NewInvalidConfigError(cfg.Name, fmt.Sprintf("loop %q: watchdog_agent is required", cfg.Name))
	}
	return &cfg, nil
}

func validateNode(c *NodeConfig) error {
	if c.Name == "" {
		return types.NewInvalidConfigError("name", fmt.Sprintf("%s node is missing a name", c.NodeType))
	}
	if math.IsNaN(c.Priority) || math.IsInf(c.Priority, 0) {
		return types.NewInvalidConfigError(c.Name, fmt.Sprintf("node %q: priority must be a finite number, got %v", c.Name, c.Priority))
	}
	seen := make(map[string]struct{}, len(c.InputVars)+len(c.OutputVars))
	for _, v := range c.InputVars {
		if v.Name == "" {
			return types.NewInvalidConfigError(c.Name, fmt.Sprintf("node %q: input variable without name", c.Name))
		}
	}
	for _, v := range c.OutputVars {
		if v.Name == "" {
			return types.NewInvalidConfigError(c.Name, fmt.Sprintf("node %q: output variable without name", c.Name))
		}
		if _, dup := seen[v.Name]; dup {
			return types.NewInvalidConfigError(c.Name, fmt.Sprintf("node %q: duplicate output variable %q", c.Name, v.Name))
		}
		seen[v.Name] = struct{}{}
	}
	return nil
}

func validateChildren(parent string, nodes []map[string]any) error {
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		name := nameOf(n)
		if name == "" {
			continue // 由子节点自己的解码报错
		}
		if _, dup := seen[name]; dup {
			return types.NewInvalidConfigError(name, fmt.Sprintf("workflow %q: duplicate node name %q", parent, name))
		}
		seen[name] = struct{}{}
	}
	return nil
}

func nameOf(raw map[string]any) string {
	if n, ok := raw["name"].(string); ok {
		return n
	}
	return ""
}

// decode 使用 mapstructure 解码（yaml tag 弱类型），返回未识别的字段
func decode(raw map[string]any, out any) (map[string]any, error) {
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Metadata:         &md,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, err
	}
	if len(md.Unused) == 0 {
		return nil, nil
	}
	sort.Strings(md.Unused)
	extra := make(map[string]any, len(md.Unused))
	for _, k := range md.Unused {
		extra[k] = raw[k]
	}
	return extra, nil
}

// =============================================================================
// 🔁 global_agent 默认值合并
// =============================================================================

// MergeDefaults 返回 child 的副本，补齐 defaults 中 child 未声明的键。child 自身的值优先。
func MergeDefaults(child, defaults map[string]any) map[string]any {
	out := make(map[string]any, len(child)+len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range child {
		out[k] = v
	}
	return out
}

// InheritGlobalAgent 为子节点应用 global_agent：Agent 直接合并；子工作流把父级默认值
// 合并进自己的 global_agent，继续向下传递。
func InheritGlobalAgent(child, global map[string]any) map[string]any {
	if len(global) == 0 {
		return child
	}
	nodeType, _ := child["node_type"].(string)
	switch nodeType {
	case NodeTypeAgent:
		return MergeDefaults(child, global)
	case NodeTypeWorkflow, NodeTypeLoop:
		out := MergeDefaults(child, nil)
		own, _ := child["global_agent"].(map[string]any)
		out["global_agent"] = MergeDefaults(own, global)
		return out
	default:
		return child
	}
}

// =============================================================================
// 🌱 ${ENV} 展开
// =============================================================================

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv 递归展开字符串中的 ${NAME}。只识别花括号形式，避免误伤提示词中的 $。
func ExpandEnv(v any) any {
	switch val := v.(type) {
	case string:
		return envPattern.ReplaceAllStringFunc(val, func(m string) string {
			return os.Getenv(envPattern.FindStringSubmatch(m)[1])
		})
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = ExpandEnv(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ExpandEnv(item)
		}
		return out
	default:
		return v
	}
}
