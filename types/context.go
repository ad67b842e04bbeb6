package types

import (
	"context"

	"go.uber.org/zap"
)

// ctxKey 未导出，其他包无法伪造或覆盖这些值
type ctxKey int

const (
	runIDKey ctxKey = iota
	userIDKey
	appNameKey
)

func withString(ctx context.Context, key ctxKey, v string) context.Context {
	return context.WithValue(ctx, key, v)
}

// stringFrom 空串等同于未设置
func stringFrom(ctx context.Context, key ctxKey) (string, bool) {
	v, _ := ctx.Value(key).(string)
	return v, v != ""
}

// WithRunID 一次 App 运行的 ID，Agent 的 span 和日志会带上它
func WithRunID(ctx context.Context, runID string) context.Context {
	return withString(ctx, runIDKey, runID)
}

func RunID(ctx context.Context) (string, bool) { return stringFrom(ctx, runIDKey) }

// WithUserID 由 HTTP 鉴权中间件写入
func WithUserID(ctx context.Context, userID string) context.Context {
	return withString(ctx, userIDKey, userID)
}

func UserID(ctx context.Context) (string, bool) { return stringFrom(ctx, userIDKey) }

func WithAppName(ctx context.Context, name string) context.Context {
	return withString(ctx, appNameKey, name)
}

func AppName(ctx context.Context) (string, bool) { return stringFrom(ctx, appNameKey) }

// LogFields ctx 里已设置的 run_id / user_id / app，按此顺序
func LogFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if v, ok := RunID(ctx); ok {
		fields = append(fields, zap.String("run_id", v))
	}
	if v, ok := UserID(ctx); ok {
		fields = append(fields, zap.String("user_id", v))
	}
	if v, ok := AppName(ctx); ok {
		fields = append(fields, zap.String("app", v))
	}
	return fields
}
