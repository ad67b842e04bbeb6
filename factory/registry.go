package factory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/config2flow/types"
)

// Constructor 由原始配置构造实例
type Constructor[T any] func(ctx context.Context, raw map[string]any) (T, error)

// Registry 判别字段值 → 构造函数。注册在启动阶段完成，之后只读。
type Registry[T any] struct {
	kind  string // 错误信息中的类别名：agent / workflow / node
	field string // 判别字段：provider / node_type

	mu     sync.RWMutex
	ctors  map[string]Constructor[T]
	logger *zap.Logger
}

// NewRegistry 创建空注册表
func NewRegistry[T any](kind, field string, logger *zap.Logger) *Registry[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry[T]{
		kind:   kind,
		field:  field,
		ctors:  make(map[string]Constructor[T]),
		logger: logger,
	}
}

// Register 注册构造函数，同名覆盖
func (r *Registry[T]) Register(name string, ctor Constructor[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ctors[name] = ctor
	r.logger.Debug("constructor registered",
		zap.String("kind", r.kind),
		zap.String(r.field, name),
	)
}

// Unregister 移除构造函数
func (r *Registry[T]) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ctors, name)
}

// IsRegistered 判断判别值是否已注册
func (r *Registry[T]) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[name]
	return ok
}

// List 按字母序返回所有已注册的判别值
func (r *Registry[T]) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Discriminator 返回本次构造使用的判别值：显式 override 优先于配置字段。
func (r *Registry[T]) Discriminator(raw map[string]any, override ...string) string {
	for _, o := range override {
		if o != "" {
			return o
		}
	}
	if v, ok := raw[r.field]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// Create 按判别值分发到构造函数。判别值缺失返回 MISSING_DISCRIMINATOR，
// 未注册返回 UNSUPPORTED_PROVIDER。
func (r *Registry[T]) Create(ctx context.Context, raw map[string]any, override ...string) (T, error) {
	var zero T

	name := r.Discriminator(raw, override...)
	if name == "" {
		return zero, types.NewMissingDiscriminatorError(r.kind, r.field)
	}

	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return zero, types.NewUnsupportedProviderError(r.kind, name)
	}

	return ctor(ctx, raw)
}
