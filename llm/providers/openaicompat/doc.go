/*
包 openaicompat 用 net/http 直接实现 OpenAI 兼容的 /chat/completions 协议，
服务 deepseek、together、litellm 与 general 四种 provider。

# 核心结构体

  - Config: BaseURL、APIKey、默认与兜底模型、EndpointPath 与 RequestHook
  - Provider: 构造请求、设置鉴权头、解析响应与错误

# 预设

Preset 按名称补齐默认 BaseURL 与兜底模型；together 额外挂上 TogetherHook，
补齐推荐采样参数。general 不带预设，BaseURL 必须由配置给出。
*/
package openaicompat
