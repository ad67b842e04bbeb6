package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/internal/metrics"
	"github.com/BaSui01/config2flow/internal/telemetry"
	"github.com/BaSui01/config2flow/llm"
	"github.com/BaSui01/config2flow/llm/tokenizer"
	"github.com/BaSui01/config2flow/sandbox"
	"github.com/BaSui01/config2flow/tools"
	"github.com/BaSui01/config2flow/types"
	"github.com/BaSui01/config2flow/workflow"
	"github.com/BaSui01/config2flow/workflow/expr"
)

const (
	defaultMaxCodeRuns   = 5
	defaultMaxToolRounds = 8
)

// Options Agent 运行依赖
type Options struct {
	Provider llm.Provider
	Tools    *tools.Registry
	// Sandbox 为 nil 时关闭代码执行
	Sandbox *sandbox.Executor
	Logger  *zap.Logger
	Metrics *metrics.Collector

	MaxCodeRuns    int
	MaxToolRounds  int
	RequestTimeout time.Duration
}

// Proxy 把一次节点运行转换为与 LLM 的多轮对话：模板化 role/prompt，处理工具调用与
// 代码执行，最后把回复解析为声明的输出变量。
type Proxy struct {
	workflow.BaseNode
	cfg config.AgentConfig

	provider    llm.Provider
	tools       *tools.Registry
	toolSchemas []llm.ToolSchema
	sandbox     *sandbox.Executor

	maxCodeRuns    int
	maxToolRounds  int
	requestTimeout time.Duration

	logger  *zap.Logger
	metrics *metrics.Collector
}

// New 创建 Agent。配置中引用的工具必须已在 Registry 中注册。
func New(cfg *config.AgentConfig, opts Options) (*Proxy, error) {
	if cfg == nil {
		return nil, types.NewInvalidConfigError("agent", "agent config is nil")
	}
	if opts.Provider == nil {
		return nil, types.NewInvalidConfigError(cfg.Name, fmt.Sprintf("agent %q: provider is required", cfg.Name))
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxCodeRuns <= 0 {
		opts.MaxCodeRuns = defaultMaxCodeRuns
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = defaultMaxToolRounds
	}

	var schemas []llm.ToolSchema
	if len(cfg.Tools) > 0 {
		if opts.Tools == nil {
			return nil, types.NewInvalidConfigError(cfg.Name, fmt.Sprintf("agent %q: tools configured but no registry", cfg.Name))
		}
		var err error
		if schemas, err = opts.Tools.Schemas(cfg.Tools); err != nil {
			return nil, err
		}
	}

	return &Proxy{
		BaseNode:       workflow.NewBaseNode(cfg.NodeConfig, workflow.KindAgent),
		cfg:            *cfg,
		provider:       opts.Provider,
		tools:          opts.Tools,
		toolSchemas:    schemas,
		sandbox:        opts.Sandbox,
		maxCodeRuns:    opts.MaxCodeRuns,
		maxToolRounds:  opts.MaxToolRounds,
		requestTimeout: opts.RequestTimeout,
		logger: opts.Logger.With(
			zap.String("component", "agent"),
			zap.String("agent", cfg.Name),
			zap.String("provider", cfg.Provider)),
		metrics: opts.Metrics,
	}, nil
}

// Config 返回 Agent 配置
func (p *Proxy) Config() config.AgentConfig { return p.cfg }

// codeEnabled 是否允许执行模型生成的代码
func (p *Proxy) codeEnabled() bool {
	return !p.cfg.DisablePythonRun && p.sandbox != nil
}

// Run 运行 Agent
func (p *Proxy) Run(ctx context.Context, in workflow.Variables, tr *workflow.Trace) (workflow.Variables, error) {
	ctx, span := telemetry.StartSpan(ctx, "agent.run",
		attribute.String("agent", p.Name()),
		attribute.String("provider", p.cfg.Provider),
		attribute.String("model", p.cfg.Model))
	if runID, ok := types.RunID(ctx); ok {
		span.SetAttributes(attribute.String("run_id", runID))
	}
	out, err := p.run(ctx, in, tr)
	telemetry.EndSpan(span, err)
	return out, err
}

func (p *Proxy) run(ctx context.Context, in workflow.Variables, tr *workflow.Trace) (workflow.Variables, error) {
	role, err := p.render("role", p.cfg.Role, in)
	if err != nil {
		return nil, err
	}
	prompt, err := p.render("prompt", p.cfg.Prompt, in)
	if err != nil {
		return nil, err
	}
	if p.codeEnabled() {
		prompt += codeInstruction
	}
	tr.Set("role", role)
	tr.Set("prompt", prompt)

	conv := &conversation{agent: p.Name(), ctx: ctx, tr: tr}
	conv.add(llm.RoleSystem, role)
	conv.add(llm.RoleUser, prompt)

	reply, err := p.exchange(ctx, conv)
	if err != nil {
		return nil, err
	}

	reply, err = p.runCode(ctx, conv, reply)
	if err != nil {
		return nil, err
	}

	for i := 0; i < p.cfg.ReflectTimes; i++ {
		conv.add(llm.RoleUser, reflectPrompt)
		if reply, err = p.exchange(ctx, conv); err != nil {
			return nil, err
		}
	}

	tr.Set("token_estimate", tokenizer.Estimate(p.cfg.Model, conv.messages))

	out, err := ParseOutput(p.Name(), reply, p.OutputNames())
	if err != nil {
		tr.Set("raw_answer", reply)
		return nil, err
	}
	tr.Set("answer", map[string]any(out))
	p.logger.Debug("agent answered", zap.Int("messages", len(conv.messages)), zap.Strings("outputs", p.OutputNames()))
	return out, nil
}

func (p *Proxy) render(field, template string, in workflow.Variables) (string, error) {
	s, err := expr.Render(template, in.Map())
	if err == nil {
		return s, nil
	}
	var missing *expr.MissingVarError
	if errors.As(err, &missing) {
		return "", types.NewTemplateError(p.Name(), field, missing.Name)
	}
	return "", types.NewError(types.ErrTemplate, fmt.Sprintf("node %q: invalid %s template", p.Name(), field)).
		WithSubject(field).WithCause(err)
}

// exchange 请求模型直到拿到不含工具调用的回复。每轮工具结果以 assistant 文本回写；
// 达到 max_tool_rounds 后不再提供工具，迫使模型直接作答。
func (p *Proxy) exchange(ctx context.Context, conv *conversation) (string, error) {
	for round := 0; ; round++ {
		offerTools := len(p.toolSchemas) > 0 && round < p.maxToolRounds
		var schemas []llm.ToolSchema
		if offerTools {
			schemas = p.toolSchemas
		}

		msg, err := p.query(ctx, conv.messages, schemas)
		if err != nil {
			return "", err
		}
		if msg.Content != "" {
			conv.add(llm.RoleAssistant, msg.Content)
		}
		if len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}
		if !offerTools {
			p.logger.Warn("ignoring tool calls after tool round limit", zap.Int("rounds", round))
			return msg.Content, nil
		}

		for _, call := range msg.ToolCalls {
			result := p.callTool(ctx, conv, call)
			conv.add(llm.RoleAssistant, fmt.Sprintf(toolResultTemplate, call.Name, string(call.Arguments), result))
		}
	}
}

// query 发送一次请求。Provider 错误原样包装后返回，引擎层不重试。
func (p *Proxy) query(ctx context.Context, messages []llm.Message, schemas []llm.ToolSchema) (llm.Message, error) {
	req := &llm.ChatRequest{
		Model:            p.cfg.Model,
		Messages:         slices.Clone(messages),
		MaxTokens:        p.cfg.TokenLimit,
		Temperature:      float32(p.cfg.Temperature),
		TopP:             float32(p.cfg.TopP),
		FrequencyPenalty: float32(p.cfg.FrequencyPenalty),
		Tools:            schemas,
		Timeout:          p.requestTimeout,
	}
	if p.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.requestTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := p.provider.Completion(ctx, req)
	var usage llm.ChatUsage
	if resp != nil {
		usage = resp.Usage
	}
	p.metrics.RecordLLMRequest(p.provider.Name(), p.cfg.Model, metrics.Status(err), time.Since(start),
		usage.PromptTokens, usage.CompletionTokens)
	if err != nil {
		p.logger.Error("completion failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return llm.Message{}, p.providerError(err)
	}

	msg, err := resp.FirstMessage()
	if err != nil {
		return llm.Message{}, p.providerError(err)
	}
	return msg, nil
}

func (p *Proxy) providerError(err error) error {
	e := types.NewError(types.ErrProvider, fmt.Sprintf("agent %q: completion failed", p.Name())).
		WithCause(err).
		WithProvider(p.provider.Name()).
		WithSubject(p.Name())
	if llmErr, ok := llm.AsError(err); ok {
		e.WithRetryable(llmErr.Retryable).WithHTTPStatus(llmErr.HTTPStatus)
	}
	return e
}

// callTool 执行一次工具调用。工具失败不会中断 Agent，错误文本作为结果回写给模型。
func (p *Proxy) callTool(ctx context.Context, conv *conversation, call llm.ToolCall) string {
	var (
		result string
		err    error
	)
	if !slices.Contains(p.cfg.Tools, call.Name) {
		err = types.NewError(types.ErrTool, fmt.Sprintf("tool %q is not available to this agent", call.Name)).WithSubject(call.Name)
	} else {
		result, err = p.tools.Call(ctx, call.Name, call.Arguments)
	}

	entry := map[string]any{
		"id":        call.ID,
		"name":      call.Name,
		"arguments": string(call.Arguments),
	}
	if err != nil {
		result = "error: " + err.Error()
		entry["error"] = err.Error()
		p.logger.Warn("tool call failed", zap.String("tool", call.Name), zap.Error(err))
	}
	entry["result"] = result
	conv.tr.Record("tool_call", entry)
	p.metrics.RecordToolCall(call.Name, metrics.Status(err))
	return result
}

// runCode 只要回复中含有可执行代码块就执行并回写结果，最多 max_code_runs 次。
func (p *Proxy) runCode(ctx context.Context, conv *conversation, reply string) (string, error) {
	if !p.codeEnabled() {
		return reply, nil
	}
	for runs := 0; ; {
		lang, code, ok := sandbox.ExtractCode(reply)
		if !ok || !p.sandbox.Supports(lang) {
			return reply, nil
		}
		if runs >= p.maxCodeRuns {
			p.logger.Warn("code run limit reached, using last reply", zap.Int("max_code_runs", p.maxCodeRuns))
			conv.tr.Set("code_run_limit_reached", true)
			return reply, nil
		}
		runs++

		res, err := p.sandbox.Execute(ctx, sandbox.Request{
			ID:       fmt.Sprintf("%s-%d", p.Name(), runs),
			Language: lang,
			Code:     code,
		})
		var feedback string
		success := false
		entry := map[string]any{"run": runs, "language": string(lang), "code": code}
		if err != nil {
			feedback = err.Error()
			entry["error"] = feedback
		} else {
			feedback = res.Feedback()
			success = res.Success
			entry["exit_code"] = res.ExitCode
			entry["duration_ms"] = res.Duration.Milliseconds()
			entry["truncated"] = res.Truncated
		}
		entry["success"] = success
		entry["output"] = feedback
		conv.tr.Record("code_run", entry)
		status := "error"
		if success {
			status = "success"
		}
		p.metrics.RecordSandboxRun(string(lang), status)

		conv.add(llm.RoleAssistant, fmt.Sprintf(codeResultTemplate, feedback))
		if success {
			conv.add(llm.RoleUser, codeAnswerPrompt)
		} else {
			conv.add(llm.RoleUser, codeFixPrompt)
		}

		if reply, err = p.exchange(ctx, conv); err != nil {
			return "", err
		}
	}
}

// ToDict 返回 Agent 配置描述（不含凭据）
func (p *Proxy) ToDict() map[string]any {
	d := p.Describe()
	d["model"] = p.cfg.Model
	d["base_url"] = p.cfg.BaseURL
	d["token_limit"] = p.cfg.TokenLimit
	d["temperature"] = p.cfg.Temperature
	d["frequency_penalty"] = p.cfg.FrequencyPenalty
	d["reflect_times"] = p.cfg.ReflectTimes
	d["disable_python_run"] = p.cfg.DisablePythonRun
	d["clean_memory"] = p.cfg.CleanMemory
	d["continue_run"] = p.cfg.ContinueRun
	d["role"] = p.cfg.Role
	d["prompt"] = p.cfg.Prompt
	if p.cfg.TopP > 0 {
		d["top_p"] = p.cfg.TopP
	}
	if len(p.cfg.Tools) > 0 {
		d["tools"] = slices.Clone(p.cfg.Tools)
	}
	return d
}

// =============================================================================
// conversation
// =============================================================================

// conversation 一次运行内的消息序列，追加时同步写入 Trace 并发出事件
type conversation struct {
	agent    string
	ctx      context.Context
	tr       *workflow.Trace
	messages []llm.Message
}

func (c *conversation) add(role llm.Role, content string) {
	c.messages = append(c.messages, llm.Message{Role: role, Content: content})
	c.tr.Record("message", map[string]any{"role": string(role), "content": content})
	workflow.Emit(c.ctx, workflow.Event{
		Type: workflow.EventAgentMessage,
		Node: c.agent,
		Kind: workflow.KindAgent,
		Data: map[string]any{"role": string(role), "content": content},
	})
}
