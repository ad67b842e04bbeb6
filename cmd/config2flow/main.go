// =============================================================================
// config2flow 主入口
// =============================================================================
// 使用方法:
//
//	config2flow run --config app.yaml --input text=hello   # 运行一次应用
//	config2flow validate --config app.yaml                 # 构造节点图并打印描述
//	config2flow serve --config apps/ --watch               # 启动 HTTP 服务
//	config2flow migrate up --settings config.yaml          # 运行数据库迁移
//	config2flow version                                    # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, newCLI(), os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
