package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/internal/cache"
)

// RedisStore 每条记录存为一个 JSON 值，另用有序集合按开始时间建索引。
// 设置了 TTL 时值会过期，索引中的悬空成员在 List 时清理。
type RedisStore struct {
	cache  *cache.Manager
	logger *zap.Logger
}

// NewRedisStore 连接 redis 并创建存储
func NewRedisStore(cfg config.StoreConfig, logger *zap.Logger) (*RedisStore, error) {
	m, err := cache.NewManager(cache.ConfigFrom(cfg.Redis, cfg.TTL), logger)
	if err != nil {
		return nil, storeError("redis connect", err)
	}
	return NewRedisStoreWithManager(m, logger), nil
}

// NewRedisStoreWithManager 复用已有连接
func NewRedisStoreWithManager(m *cache.Manager, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{cache: m, logger: logger.With(zap.String("component", "run_store"))}
}

func (s *RedisStore) recordKey(id string) string { return s.cache.Key("run", id) }
func (s *RedisStore) indexKey() string           { return s.cache.Key("runs") }

func (s *RedisStore) Save(ctx context.Context, rec *RunRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	score := float64(rec.StartedAt.UnixNano())
	if err := s.cache.SetIndexed(ctx, s.recordKey(rec.ID), rec, s.indexKey(), rec.ID, score, 0); err != nil {
		return storeError("redis save", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*RunRecord, error) {
	var rec RunRecord
	if err := s.cache.GetJSON(ctx, s.recordKey(id), &rec); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, notFound(id)
		}
		return nil, storeError("redis get", err)
	}
	return &rec, nil
}

func (s *RedisStore) List(ctx context.Context, limit int) ([]*RunRecord, error) {
	ids, err := s.cache.IndexLatest(ctx, s.indexKey(), limit)
	if err != nil {
		return nil, storeError("redis list", err)
	}

	out := make([]*RunRecord, 0, len(ids))
	var stale []string
	for _, id := range ids {
		var rec RunRecord
		err := s.cache.GetJSON(ctx, s.recordKey(id), &rec)
		if cache.IsCacheMiss(err) {
			stale = append(stale, id)
			continue
		}
		if err != nil {
			return nil, storeError("redis list", err)
		}
		out = append(out, &rec)
	}

	if len(stale) > 0 {
		if err := s.cache.IndexRemove(ctx, s.indexKey(), stale...); err != nil {
			s.logger.Warn("failed to prune expired runs from index", zap.Error(err))
		}
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.cache.Close()
}
