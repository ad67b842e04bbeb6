package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/internal/tlsutil"
)

var (
	// ErrCacheMiss 键不存在或已过期
	ErrCacheMiss = errors.New("cache miss")
	ErrClosed    = errors.New("cache manager is closed")
)

func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// =============================================================================
// ⚙️ 配置
// =============================================================================

// Config redis 连接参数。DefaultTTL 为 0 时记录永不过期，HealthCheckInterval<=0 时不做后台探活
type Config struct {
	Addr                string
	Password            string
	DB                  int
	KeyPrefix           string
	DefaultTTL          time.Duration
	MaxRetries          int
	PoolSize            int
	MinIdleConns        int
	TLS                 bool
	HealthCheckInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		KeyPrefix:           "config2flow:",
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// ConfigFrom 运行时配置里的空值沿用默认值；ttl 即运行记录的保留时间
func ConfigFrom(rc config.RedisConfig, ttl time.Duration) Config {
	c := DefaultConfig()
	c.Password, c.DB, c.TLS, c.DefaultTTL = rc.Password, rc.DB, rc.TLS, ttl
	if rc.Addr != "" {
		c.Addr = rc.Addr
	}
	if rc.PoolSize > 0 {
		c.PoolSize = rc.PoolSize
	}
	if rc.KeyPrefix != "" {
		c.KeyPrefix = rc.KeyPrefix
	}
	return c
}

// =============================================================================
// 💾 Manager
// =============================================================================

// Manager 运行记录的 redis 访问层：键前缀、JSON 值、按时间排序的 ZSET 索引
type Manager struct {
	client *redis.Client
	cfg    Config
	logger *zap.Logger

	closed atomic.Bool
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager 连接并 PING 一次，失败时直接返回错误
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}
	if cfg.TLS {
		opts.TLSConfig = tlsutil.DefaultTLSConfig()
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	m := &Manager{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "cache")),
		stop:   stop,
	}
	if cfg.HealthCheckInterval > 0 {
		m.wg.Add(1)
		go m.probe(ctx)
	}

	m.logger.Info("redis connected",
		zap.String("addr", cfg.Addr),
		zap.String("key_prefix", cfg.KeyPrefix),
		zap.Int("pool_size", cfg.PoolSize),
	)
	return m, nil
}

// Key 前缀 + 以冒号连接的各段，例如 config2flow:run:<id>
func (m *Manager) Key(parts ...string) string {
	return m.cfg.KeyPrefix + strings.Join(parts, ":")
}

// GetJSON 键不存在时返回 ErrCacheMiss
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	if m.closed.Load() {
		return ErrClosed
	}
	data, err := m.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		m.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache get failed: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

// SetIndexed 在一个 MULTI 里写入 JSON 值并 ZADD 到索引；ttl 为 0 时取 DefaultTTL
func (m *Manager) SetIndexed(ctx context.Context, key string, value any, index, member string, score float64, ttl time.Duration) error {
	if m.closed.Load() {
		return ErrClosed
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if ttl == 0 {
		ttl = m.cfg.DefaultTTL
	}

	_, err = m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, ttl)
		pipe.ZAdd(ctx, index, redis.Z{Score: score, Member: member})
		return nil
	})
	if err != nil {
		m.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// IndexLatest 分数从高到低的前 limit 个成员，limit<=0 返回全部
func (m *Manager) IndexLatest(ctx context.Context, index string, limit int) ([]string, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	stop := int64(limit) - 1
	if limit <= 0 {
		stop = -1
	}
	members, err := m.client.ZRevRange(ctx, index, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("cache index range failed: %w", err)
	}
	return members, nil
}

// IndexRemove 值已过期的成员从索引里清掉
func (m *Manager) IndexRemove(ctx context.Context, index string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if m.closed.Load() {
		return ErrClosed
	}
	args := make([]any, 0, len(members))
	for _, mem := range members {
		args = append(args, mem)
	}
	return m.client.ZRem(ctx, index, args...).Err()
}

func (m *Manager) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.client.Ping(ctx).Err()
}

// Close 停止探活并关闭连接，重复调用返回 nil
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.stop()
	m.wg.Wait()
	m.logger.Info("closing redis connection")
	return m.client.Close()
}

func (m *Manager) probe(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := m.client.Ping(pingCtx).Err()
		cancel()
		if err != nil && ctx.Err() == nil {
			m.logger.Error("cache health check failed", zap.Error(err))
		}
	}
}
