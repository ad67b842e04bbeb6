package migration

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/BaSui01/config2flow/config"
)

// lockTimeout 多个实例同时启动时等待迁移锁的上限
const lockTimeout = 30 * time.Second

func newFor(driver string, apply func(*Config)) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	cfg := &Config{DatabaseType: dbType, TableName: defaultMigrationsTable, LockTimeout: lockTimeout}
	apply(cfg)
	return NewMigrator(cfg)
}

// NewMigratorFromDatabaseConfig 用运行时数据库配置拼出连接串；MySQL 忽略 SSLMode
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig) (*DefaultMigrator, error) {
	return newFor(dbCfg.Driver, func(c *Config) {
		sslMode := dbCfg.SSLMode
		if c.DatabaseType == DatabaseTypeMySQL {
			sslMode = ""
		}
		c.DatabaseURL = BuildDatabaseURL(c.DatabaseType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, sslMode)
	})
}

// NewMigratorWithDB 复用 SQL 存储已打开的连接，Close 不会关闭 db
func NewMigratorWithDB(driver string, db *sql.DB) (*DefaultMigrator, error) {
	return newFor(driver, func(c *Config) { c.DB = db })
}

func NewMigratorFromURL(driver, dbURL string) (*DefaultMigrator, error) {
	return newFor(driver, func(c *Config) { c.DatabaseURL = dbURL })
}
