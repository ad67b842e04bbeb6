/*
包 providers 汇集各 Provider 实现共用的辅助函数与 OpenAI 兼容协议的线上结构。

# 错误处理

  - MapHTTPError: HTTP 状态码映射为 llm.Error，429、408/504、529 与 5xx 标记为可重试
  - ReadErrorMessage: 提取错误响应体中的 error.message，解析失败时返回原文
  - SafeCloseBody: 关闭响应体并忽略错误

# 协议转换

  - OpenAICompatRequest / OpenAICompatResponse 等: /chat/completions 的 JSON 结构
  - ConvertMessagesToOpenAI、ConvertToolsToOpenAI: llm 类型转为线上结构
  - ToLLMChatResponse: 线上响应转回 llm.ChatResponse
  - NormalizeArguments: 工具参数字符串规范为合法 JSON

# 其他

  - ChooseModel: 请求模型优先，其次配置默认模型，最后是 provider 兜底模型
  - SplitSystem: 拆出 system 消息，供 Anthropic、Gemini 单独传参
*/
package providers
