package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/config2flow/llm"
	"github.com/BaSui01/config2flow/llm/providers"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultEndpointPath = "/chat/completions"
)

// Config 一个 OpenAI 兼容端点的连接参数；Preset 负责填充各家的默认值
type Config struct {
	// ProviderName 出现在日志、指标和错误里，例如 deepseek
	ProviderName string
	APIKey       string
	// BaseURL 需带版本段，例如 https://api.deepseek.com/v1
	BaseURL string

	// 模型选择顺序：请求 → DefaultModel → FallbackModel
	DefaultModel  string
	FallbackModel string

	Timeout      time.Duration
	EndpointPath string

	// BuildHeaders 为 nil 时使用 Authorization: Bearer <APIKey>
	BuildHeaders func(req *http.Request, apiKey string)
	// RequestHook 发送前改写请求体，用于各家的非标准字段
	RequestHook func(req *llm.ChatRequest, body *providers.OpenAICompatRequest)

	HTTPClient *http.Client
}

// Provider 走 chat completions 协议的通用实现，DeepSeek / Together / LiteLLM 共用
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = defaultEndpointPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Provider{
		cfg:    cfg,
		client: client,
		logger: logger.With(zap.String("component", "llm"), zap.String("provider", cfg.ProviderName)),
	}
}

func (p *Provider) Name() string { return p.cfg.ProviderName }

// Completion 非流式调用；req.Timeout>0 时覆盖本次请求的超时
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if req == nil {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "nil request", HTTPStatus: http.StatusBadRequest, Provider: p.Name()}
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	body := p.requestBody(req)
	start := time.Now()
	wire, err := p.send(ctx, body)
	if err != nil {
		return nil, err
	}

	resp := providers.ToLLMChatResponse(*wire, p.Name())
	if resp.Model == "" {
		resp.Model = body.Model
	}
	if wire.Created != 0 {
		resp.CreatedAt = time.Unix(wire.Created, 0)
	}
	p.logger.Debug("completion done",
		zap.String("model", resp.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("latency", time.Since(start)),
	)
	return resp, nil
}

func (p *Provider) requestBody(req *llm.ChatRequest) providers.OpenAICompatRequest {
	body := providers.OpenAICompatRequest{
		Model:            providers.ChooseModel(req, p.cfg.DefaultModel, p.cfg.FallbackModel),
		Messages:         providers.ConvertMessagesToOpenAI(req.Messages),
		Tools:            providers.ConvertToolsToOpenAI(req.Tools),
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		TopK:             req.TopK,
		FrequencyPenalty: req.FrequencyPenalty,
		Stop:             req.Stop,
	}
	if p.cfg.RequestHook != nil {
		p.cfg.RequestHook(req, &body)
	}
	return body
}

// send 传输层错误和响应解码失败按可重试的上游错误返回，4xx/5xx 交给 MapHTTPError 归类
func (p *Provider) send(ctx context.Context, body providers.OpenAICompatRequest) (*providers.OpenAICompatResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	url := strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.EndpointPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.BuildHeaders != nil {
		p.cfg.BuildHeaders(httpReq, p.cfg.APIKey)
	} else if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.upstreamError(err)
	}
	defer providers.SafeCloseBody(httpResp.Body)

	if httpResp.StatusCode >= http.StatusBadRequest {
		msg := providers.ReadErrorMessage(httpResp.Body)
		p.logger.Warn("completion failed", zap.Int("status", httpResp.StatusCode), zap.String("model", body.Model))
		return nil, providers.MapHTTPError(httpResp.StatusCode, msg, p.Name())
	}

	var wire providers.OpenAICompatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wire); err != nil {
		return nil, p.upstreamError(err)
	}
	return &wire, nil
}

func (p *Provider) upstreamError(err error) *llm.Error {
	return &llm.Error{
		Code:       llm.ErrUpstreamError,
		Message:    err.Error(),
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		Provider:   p.Name(),
	}
}
