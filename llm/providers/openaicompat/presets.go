package openaicompat

import (
	"github.com/BaSui01/config2flow/llm"
	"github.com/BaSui01/config2flow/llm/providers"
)

const (
	DeepSeekBaseURL = "https://api.deepseek.com/v1"
	TogetherBaseURL = "https://api.together.xyz/v1"
	LiteLLMBaseURL  = "http://localhost:4000"
)

// TogetherHook 补齐 Together 推荐的采样参数，调用方显式设置的值优先。
func TogetherHook(req *llm.ChatRequest, body *providers.OpenAICompatRequest) {
	if body.TopP == 0 {
		body.TopP = 0.7
	}
	if body.TopK == 0 {
		body.TopK = 50
	}
	if len(body.Stop) == 0 {
		body.Stop = []string{"<|eot_id|>"}
	}
}

// Preset 按 provider 名称返回带默认 BaseURL 与模型的配置。未知名称原样返回。
func Preset(name string, cfg Config) Config {
	cfg.ProviderName = name
	switch name {
	case "deepseek":
		if cfg.BaseURL == "" {
			cfg.BaseURL = DeepSeekBaseURL
		}
		cfg.FallbackModel = "deepseek-chat"
	case "together":
		if cfg.BaseURL == "" {
			cfg.BaseURL = TogetherBaseURL
		}
		cfg.FallbackModel = "meta-llama/Llama-3.3-70B-Instruct-Turbo"
		cfg.RequestHook = TogetherHook
	case "litellm":
		if cfg.BaseURL == "" {
			cfg.BaseURL = LiteLLMBaseURL
		}
	}
	return cfg
}
