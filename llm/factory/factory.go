package factory

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/BaSui01/config2flow/internal/tlsutil"
	"github.com/BaSui01/config2flow/llm"
	"github.com/BaSui01/config2flow/llm/providers/anthropic"
	"github.com/BaSui01/config2flow/llm/providers/gemini"
	"github.com/BaSui01/config2flow/llm/providers/openai"
	"github.com/BaSui01/config2flow/llm/providers/openaicompat"
	"go.uber.org/zap"
)

// ProviderConfig 应用配置里 providers.<name> 的内容；Extra 目前只认 endpoint_path
type ProviderConfig struct {
	APIKey  string         `json:"api_key" yaml:"api_key"`
	BaseURL string         `json:"base_url" yaml:"base_url"`
	Model   string         `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Extra   map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

type builder func(ctx context.Context, name string, cfg ProviderConfig, client *http.Client, logger *zap.Logger) (llm.Provider, error)

var builders = map[string]builder{
	"openai":    buildOpenAI,
	"anthropic": buildAnthropic,
	"gemini":    buildGemini,
	"deepseek":  buildCompat,
	"together":  buildCompat,
	"litellm":   buildCompat,
	// 任意 OpenAI 兼容网关：Ollama、vLLM、OpenRouter 等
	"general": buildGeneral,
}

// NewProviderFromConfig 名字不区分大小写，取值见 SupportedProviders。所有 Provider 共用加固过的 TLS 客户端
func NewProviderFromConfig(ctx context.Context, name string, cfg ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	build, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return build(ctx, name, cfg, tlsutil.SecureHTTPClient(cfg.Timeout), logger)
}

func buildOpenAI(_ context.Context, _ string, cfg ProviderConfig, client *http.Client, logger *zap.Logger) (llm.Provider, error) {
	return openai.New(openai.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Timeout:    cfg.Timeout,
		HTTPClient: client,
	}, logger), nil
}

func buildAnthropic(_ context.Context, _ string, cfg ProviderConfig, client *http.Client, logger *zap.Logger) (llm.Provider, error) {
	return anthropic.New(anthropic.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Timeout:    cfg.Timeout,
		HTTPClient: client,
	}, logger), nil
}

// buildGemini genai 客户端创建时就校验 API Key
func buildGemini(ctx context.Context, _ string, cfg ProviderConfig, client *http.Client, logger *zap.Logger) (llm.Provider, error) {
	return gemini.New(ctx, gemini.Config{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		HTTPClient: client,
	}, logger)
}

func compatConfig(name string, cfg ProviderConfig, client *http.Client) openaicompat.Config {
	oc := openaicompat.Config{
		ProviderName: name,
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		DefaultModel: cfg.Model,
		Timeout:      cfg.Timeout,
		HTTPClient:   client,
	}
	if v, _ := cfg.Extra["endpoint_path"].(string); v != "" {
		oc.EndpointPath = v
	}
	return oc
}

// buildCompat 预设负责补齐各家的 BaseURL、默认模型和请求头
func buildCompat(_ context.Context, name string, cfg ProviderConfig, client *http.Client, logger *zap.Logger) (llm.Provider, error) {
	return openaicompat.New(openaicompat.Preset(name, compatConfig(name, cfg, client)), logger), nil
}

func buildGeneral(_ context.Context, name string, cfg ProviderConfig, client *http.Client, logger *zap.Logger) (llm.Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider %q requires base_url", name)
	}
	logger.Info("creating generic OpenAI-compatible provider",
		zap.String("provider", name),
		zap.String("base_url", cfg.BaseURL))
	return openaicompat.New(compatConfig(name, cfg, client), logger), nil
}

// SupportedProviders 按字母序
func SupportedProviders() []string {
	return slices.Sorted(maps.Keys(builders))
}
