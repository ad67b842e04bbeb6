/*
包 server 提供 config2flow 的 HTTP 接口：上传并校验应用配置、运行应用、
查询运行记录，以及通过 WebSocket 推送运行事件。

# 路由

  - GET  /health
  - GET  /metrics                 Prometheus 指标
  - POST /v1/apps/validate        构造节点图但不运行
  - GET  /v1/apps                 预加载应用列表
  - GET  /v1/apps/{name}          应用节点图描述
  - POST /v1/apps/{name}/runs     运行预加载应用
  - POST /v1/runs                 运行上传的配置（multipart 或 JSON）
  - GET  /v1/runs                 最近的运行记录
  - GET  /v1/runs/{id}            单条运行记录（含 trace）
  - GET  /v1/runs/stream          WebSocket 事件流

错误统一返回 {"error": {"code", "message", ...}}，状态码由错误码映射。

# 核心类型

  - Server：路由与 handler，每次运行由 factory.AppFactory 构造新的节点图。
  - Catalog：预加载应用目录，可用 fsnotify 监听变化并热重载。
  - Manager：封装 net/http.Server 的非阻塞启动与优雅关闭。

中间件：Recovery、RequestID、SecurityHeaders、OTelTracing、RequestLogger、
MetricsMiddleware、按 IP 限流的 RateLimiter，以及配置了密钥时启用的 JWTAuth。
*/
package server
