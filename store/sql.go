package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/internal/database"
	"github.com/BaSui01/config2flow/internal/metrics"
	"github.com/BaSui01/config2flow/internal/migration"
)

// SQLStore 基于 gorm 的存储，支持 postgres、mysql、sqlite
type SQLStore struct {
	pool    *database.PoolManager
	name    string
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewSQLStore 打开数据库、配置连接池并准备表结构。
// postgres/mysql 走 golang-migrate 迁移，sqlite 走 gorm AutoMigrate。
func NewSQLStore(ctx context.Context, dbCfg config.DatabaseConfig, logger *zap.Logger, collector *metrics.Collector) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, err := database.NormalizeDriver(dbCfg.Driver)
	if err != nil {
		return nil, storeError("sql open", err)
	}
	dbCfg.Driver = driver

	db, err := database.Open(dbCfg, logger)
	if err != nil {
		return nil, storeError("sql open", err)
	}

	s, err := NewSQLStoreWithDB(ctx, db, dbCfg, logger, collector)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return s, nil
}

// NewSQLStoreWithDB 在已打开的 gorm 连接上创建存储
func NewSQLStoreWithDB(ctx context.Context, db *gorm.DB, dbCfg config.DatabaseConfig, logger *zap.Logger, collector *metrics.Collector) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := database.NewPoolManager(db, database.PoolConfigFrom(dbCfg), logger, collector)
	if err != nil {
		return nil, storeError("sql pool", err)
	}

	s := &SQLStore{
		pool:    pool,
		name:    dbCfg.Name,
		logger:  logger.With(zap.String("component", "run_store")),
		metrics: collector,
	}

	if dbCfg.AutoMigrate {
		if err := s.migrate(ctx, dbCfg.Driver); err != nil {
			_ = pool.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context, driver string) error {
	db := s.pool.DB()
	if driver == "sqlite" {
		if err := db.WithContext(ctx).AutoMigrate(&RunRecord{}); err != nil {
			return storeError("sql auto-migrate", err)
		}
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return storeError("sql migrate", err)
	}
	m, err := migration.NewMigratorWithDB(driver, sqlDB)
	if err != nil {
		return storeError("sql migrate", err)
	}
	defer m.Close()

	if err := m.Up(ctx); err != nil {
		return storeError("sql migrate", err)
	}
	s.logger.Info("run_records schema is up to date", zap.String("driver", driver))
	return nil
}

func (s *SQLStore) observe(op string, start time.Time) {
	s.metrics.RecordDBQuery(s.name, op, time.Since(start))
}

func (s *SQLStore) Save(ctx context.Context, rec *RunRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	defer s.observe("save", time.Now())

	// 同一 ID 重复保存时覆盖
	err := s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		return tx.Save(rec).Error
	})
	if err != nil {
		return storeError("sql save", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*RunRecord, error) {
	defer s.observe("get", time.Now())

	var rec RunRecord
	err := s.pool.DB().WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, storeError("sql get", err)
	}
	return &rec, nil
}

func (s *SQLStore) List(ctx context.Context, limit int) ([]*RunRecord, error) {
	defer s.observe("list", time.Now())

	q := s.pool.DB().WithContext(ctx).Order("started_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []*RunRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, storeError("sql list", err)
	}
	return recs, nil
}

func (s *SQLStore) Close() error {
	return s.pool.Close()
}
