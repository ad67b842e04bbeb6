// Package tlsutil 集中管理出站连接的 TLS 设置：LLM Provider 的 HTTP 客户端
// 与开启 tls 的 Redis 运行记录存储共用同一份加固配置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
