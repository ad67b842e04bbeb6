// Package telemetry 初始化 OpenTelemetry 的 TracerProvider / MeterProvider（OTLP gRPC 导出），
// 并提供 Agent 与工作流节点共用的 StartSpan / EndSpan。Enabled 为 false 时什么都不连接。
package telemetry
