/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、LLM、节点运行、
工具/沙箱调用与数据库。

# 核心类型

  - Collector：指标收集器，使用 promauto 注册到默认 Registry，按 namespace
    隔离。nil *Collector 可以安全调用，便于在未启用指标时直接传 nil。

# 主要能力

  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - LLM 指标：请求总数、耗时、Token 用量（prompt/completion）。
  - 节点指标：按 kind/status 统计的运行次数与耗时，循环工作流迭代轮数。
  - 协作方指标：工具调用、沙箱执行、应用运行。
  - 数据库指标：连接数 Gauge 与查询耗时 Histogram。
*/
package metrics
