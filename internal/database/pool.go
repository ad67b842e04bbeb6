package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/internal/metrics"
)

// ErrPoolClosed 连接池已关闭
var ErrPoolClosed = errors.New("pool is closed")

// =============================================================================
// 🔌 打开连接
// =============================================================================

var driverAliases = map[string]string{
	"postgres": "postgres", "postgresql": "postgres", "pg": "postgres",
	"mysql": "mysql", "mariadb": "mysql",
	"sqlite": "sqlite", "sqlite3": "sqlite", "": "sqlite",
}

// NormalizeDriver 统一驱动名：postgres / mysql / sqlite，空串视为 sqlite
func NormalizeDriver(name string) (string, error) {
	if d, ok := driverAliases[strings.ToLower(name)]; ok {
		return d, nil
	}
	return "", fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", name)
}

// Open 打开运行记录库。SQLite 用 glebarez 纯 Go 驱动，不需要 cgo
func Open(dbCfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	name, err := NormalizeDriver(dbCfg.Driver)
	if err != nil {
		return nil, err
	}
	dbCfg.Driver = name

	dsn := dbCfg.DSN()
	dialector := map[string]func() gorm.Dialector{
		"postgres": func() gorm.Dialector { return postgres.Open(dsn) },
		"mysql":    func() gorm.Dialector { return mysql.Open(dsn) },
		"sqlite":   func() gorm.Dialector { return sqlite.Open(dsn) },
	}[name]()

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	logger.Info("database connected", zap.String("driver", name), zap.String("name", dbCfg.Name))
	return db, nil
}

// =============================================================================
// ⚙️ 连接池配置
// =============================================================================

// PoolConfig 连接池参数，HealthCheckInterval<=0 时不做后台探活
type PoolConfig struct {
	MaxIdleConns        int
	MaxOpenConns        int
	ConnMaxLifetime     time.Duration
	ConnMaxIdleTime     time.Duration
	HealthCheckInterval time.Duration
	// Name 指标里的 database 标签
	Name string
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        10,
		MaxOpenConns:        100,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// PoolConfigFrom 配置里未设置（<=0）的字段取默认值
func PoolConfigFrom(dbCfg config.DatabaseConfig) PoolConfig {
	pc := DefaultPoolConfig()
	pc.Name = dbCfg.Name
	if dbCfg.MaxOpenConns > 0 {
		pc.MaxOpenConns = dbCfg.MaxOpenConns
	}
	if dbCfg.MaxIdleConns > 0 {
		pc.MaxIdleConns = dbCfg.MaxIdleConns
	}
	if dbCfg.ConnMaxLifetime > 0 {
		pc.ConnMaxLifetime = dbCfg.ConnMaxLifetime
	}
	return pc
}

// =============================================================================
// 🗄️ PoolManager
// =============================================================================

// PoolManager 持有 gorm 连接，负责池参数、后台探活和事务重试
type PoolManager struct {
	db      *gorm.DB
	sqlDB   *sql.DB
	cfg     PoolConfig
	logger  *zap.Logger
	metrics *metrics.Collector

	mu     sync.RWMutex
	closed bool
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoolManager collector 可为 nil
func NewPoolManager(db *gorm.DB, cfg PoolConfig, logger *zap.Logger, collector *metrics.Collector) (*PoolManager, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, stop := context.WithCancel(context.Background())
	pm := &PoolManager{
		db:      db,
		sqlDB:   sqlDB,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "db_pool")),
		metrics: collector,
		stop:    stop,
	}
	if cfg.HealthCheckInterval > 0 {
		pm.wg.Add(1)
		go pm.probe(ctx)
	}

	pm.logger.Info("database pool initialized",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
		zap.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
	)
	return pm, nil
}

func (pm *PoolManager) DB() *gorm.DB {
	return pm.db
}

func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.closed {
		return ErrPoolClosed
	}
	return pm.sqlDB.PingContext(ctx)
}

func (pm *PoolManager) Stats() sql.DBStats {
	return pm.sqlDB.Stats()
}

// Close 停止探活并关闭连接，重复调用返回 nil
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	if pm.closed {
		pm.mu.Unlock()
		return nil
	}
	pm.closed = true
	pm.mu.Unlock()

	pm.stop()
	pm.wg.Wait()
	pm.logger.Info("closing database pool")
	return pm.sqlDB.Close()
}

// probe 定时 Ping，成功后上报连接数
func (pm *PoolManager) probe(ctx context.Context) {
	defer pm.wg.Done()
	ticker := time.NewTicker(pm.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := pm.Ping(pingCtx)
		cancel()
		switch {
		case err == nil:
			pm.ReportStats()
		case ctx.Err() == nil:
			pm.logger.Error("database health check failed", zap.Error(err))
		}
	}
}

// ReportStats 连接数写入 debug 日志和 db_connections_* 指标
func (pm *PoolManager) ReportStats() {
	s := pm.Stats()
	pm.logger.Debug("database pool stats",
		zap.Int("open", s.OpenConnections),
		zap.Int("in_use", s.InUse),
		zap.Int("idle", s.Idle),
		zap.Int64("wait_count", s.WaitCount),
	)
	pm.metrics.RecordDBConnections(pm.cfg.Name, s.OpenConnections, s.Idle)
}

// =============================================================================
// 🔄 事务
// =============================================================================

// TransactionFunc 返回错误时事务回滚
type TransactionFunc func(tx *gorm.DB) error

func (pm *PoolManager) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	pm.mu.RLock()
	closed := pm.closed
	pm.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}
	return pm.db.WithContext(ctx).Transaction(fn)
}

// WithTransactionRetry 死锁、锁超时、断连等瞬时错误按 100ms、200ms、400ms... 退避重试，
// 其他错误立即返回
func (pm *PoolManager) WithTransactionRetry(ctx context.Context, attempts int, fn TransactionFunc) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = pm.WithTransaction(ctx, fn); err == nil || !isRetryableError(err) {
			return err
		}
		pm.logger.Warn("transaction failed, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond << i):
		}
	}
	return fmt.Errorf("transaction failed after %d retries: %w", attempts, err)
}

// 按错误文本识别的瞬时错误，覆盖 postgres / mysql / sqlite 三种驱动的措辞
var retryableMarkers = []string{
	"deadlock",
	"serialization failure", "40001",
	"connection reset", "connection refused", "broken pipe", "bad connection",
	"lock timeout", "lock wait timeout", "database is locked",
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range retryableMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
