/*
# 概述

包 tools 提供 Agent 可调用的本地函数注册中心。LLM 在回复中给出
tool_calls 后，Agent 通过 Registry.Call 按名称分发，结果以文本形式回写对话。

# 核心类型

  - Tool: 工具接口，Schema() 描述参数，Call() 执行
  - Registry: 线程安全注册中心，支持单工具超时与限流
  - NewFunc: 由强类型 Go 函数构造 Tool，参数 Schema 通过 invopop/jsonschema 反射生成

# 内置工具

  - calculator: 四则运算与比较表达式
  - current_time: 当前时间（可指定时区与格式）
  - word_count: 统计词数、字符数与行数
*/
package tools
