package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationFiles embed.FS

// =============================================================================
// 🗄️ 方言
// =============================================================================

// DatabaseType 运行记录表所在的数据库方言
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	// DatabaseTypeSQLite 表结构由 gorm AutoMigrate 维护，不经过迁移器
	DatabaseTypeSQLite DatabaseType = "sqlite"
)

// ErrAutoMigrated 该方言没有 SQL 迁移文件
var ErrAutoMigrated = errors.New("schema is managed by AutoMigrate")

const defaultMigrationsTable = "schema_migrations"

// dialect 描述一种方言的迁移文件目录和 golang-migrate 驱动构造方式
type dialect struct {
	sqlDriver string
	dir       string
	driver    func(db *sql.DB, table string) (database.Driver, error)
}

var dialects = map[DatabaseType]dialect{
	DatabaseTypePostgres: {
		sqlDriver: "postgres",
		dir:       "migrations/postgres",
		driver: func(db *sql.DB, table string) (database.Driver, error) {
			return postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
		},
	},
	DatabaseTypeMySQL: {
		sqlDriver: "mysql",
		dir:       "migrations/mysql",
		driver: func(db *sql.DB, table string) (database.Driver, error) {
			return mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
		},
	},
}

func lookupDialect(dbType DatabaseType) (dialect, error) {
	if dbType == DatabaseTypeSQLite {
		return dialect{}, ErrAutoMigrated
	}
	d, ok := dialects[dbType]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported database type: %s", dbType)
	}
	return d, nil
}

// ParseDatabaseType 接受常见别名，大小写不敏感
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	}
	return "", fmt.Errorf("unsupported database type: %s", s)
}

// BuildDatabaseURL 拼接迁移用的连接串；postgres 未指定 sslMode 时为 require，
// mysql 打开 multiStatements 以便一个文件执行多条语句
func BuildDatabaseURL(dbType DatabaseType, host string, port int, database, username, password, sslMode string) string {
	switch dbType {
	case DatabaseTypePostgres:
		if sslMode == "" {
			sslMode = "require"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", username, password, host, port, database, sslMode)
	case DatabaseTypeMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true", username, password, host, port, database)
	case DatabaseTypeSQLite:
		return database
	}
	return ""
}

// =============================================================================
// 📋 迁移器
// =============================================================================

// MigrationStatus 单个迁移文件的状态
type MigrationStatus struct {
	Version   uint
	Name      string
	Applied   bool
	AppliedAt *time.Time
	Dirty     bool
}

// MigrationInfo 迁移汇总
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Config 迁移器配置。DB 非 nil 时复用该连接（忽略 DatabaseURL），Close 不会关闭它
type Config struct {
	DatabaseType DatabaseType
	DatabaseURL  string
	DB           *sql.DB
	TableName    string
	LockTimeout  time.Duration
}

// Migrator 运行记录表的版本管理
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	DownAll(ctx context.Context) error
	// Steps n>0 前进 n 个版本，n<0 回退
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	// Force 只改写版本号，不执行 SQL，用于修复 dirty 状态
	Force(ctx context.Context, version int) error
	// Version 尚未迁移时返回 0
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// DefaultMigrator 基于 golang-migrate 和内嵌 SQL 文件的 Migrator
type DefaultMigrator struct {
	dbType  DatabaseType
	migrate *migrate.Migrate
	ownsDB  bool
}

var _ Migrator = (*DefaultMigrator)(nil)

// NewMigrator 创建迁移器；SQLite 返回 ErrAutoMigrated
func NewMigrator(cfg *Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	d, err := lookupDialect(cfg.DatabaseType)
	if err != nil {
		return nil, err
	}
	if cfg.DB == nil && cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	table := cfg.TableName
	if table == "" {
		table = defaultMigrationsTable
	}

	db, owns := cfg.DB, false
	if db == nil {
		if db, err = openAndPing(d.sqlDriver, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("failed to initialize migrator: %w", err)
		}
		owns = true
	}

	m, err := newMigrate(d, db, table)
	if err != nil {
		if owns {
			_ = db.Close()
		}
		return nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	if cfg.LockTimeout > 0 {
		m.LockTimeout = cfg.LockTimeout
	}
	return &DefaultMigrator{dbType: cfg.DatabaseType, migrate: m, ownsDB: owns}, nil
}

func openAndPing(driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func newMigrate(d dialect, db *sql.DB, table string) (*migrate.Migrate, error) {
	dbDriver, err := d.driver(db, table)
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	src, err := iofs.New(migrationFiles, d.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, d.sqlDriver, dbDriver)
}

// change 执行一次版本变更，没有变化不算错误
func change(op string, fn func() error) error {
	if err := fn(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration %s failed: %w", op, err)
	}
	return nil
}

func (m *DefaultMigrator) Up(context.Context) error {
	return change("up", m.migrate.Up)
}

func (m *DefaultMigrator) Down(context.Context) error {
	return change("down", func() error { return m.migrate.Steps(-1) })
}

func (m *DefaultMigrator) DownAll(context.Context) error {
	return change("down all", m.migrate.Down)
}

func (m *DefaultMigrator) Steps(_ context.Context, n int) error {
	return change("steps", func() error { return m.migrate.Steps(n) })
}

func (m *DefaultMigrator) Goto(_ context.Context, version uint) error {
	return change("goto", func() error { return m.migrate.Migrate(version) })
}

func (m *DefaultMigrator) Force(_ context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	return nil
}

func (m *DefaultMigrator) Version(context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, files, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]MigrationStatus, 0, len(files))
	for _, f := range files {
		statuses = append(statuses, MigrationStatus{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		})
	}
	return statuses, nil
}

func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	current, dirty, files, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	info := &MigrationInfo{CurrentVersion: current, Dirty: dirty, TotalMigrations: len(files)}
	for _, f := range files {
		if f.version <= current {
			info.AppliedMigrations++
		}
	}
	info.PendingMigrations = info.TotalMigrations - info.AppliedMigrations
	return info, nil
}

func (m *DefaultMigrator) snapshot(ctx context.Context) (uint, bool, []migrationFile, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return 0, false, nil, err
	}
	files, err := availableMigrations(m.dbType)
	if err != nil {
		return 0, false, nil, err
	}
	return current, dirty, files, nil
}

// Close 释放迁移源；只有自己打开的连接才会被关闭
func (m *DefaultMigrator) Close() error {
	if m.migrate == nil || !m.ownsDB {
		return nil
	}
	srcErr, dbErr := m.migrate.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		return fmt.Errorf("failed to close migrator: %w", err)
	}
	return nil
}

// =============================================================================
// 📁 内嵌迁移文件
// =============================================================================

type migrationFile struct {
	version uint
	name    string
}

// availableMigrations 按版本升序列出方言的 up 文件，文件名形如 000001_create_run_records.up.sql
func availableMigrations(dbType DatabaseType) ([]migrationFile, error) {
	d, err := lookupDialect(dbType)
	if err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(migrationFiles, d.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	byVersion := make(map[uint]string)
	for _, e := range entries {
		if f, ok := parseMigrationName(path.Base(e.Name())); ok && !e.IsDir() {
			if _, dup := byVersion[f.version]; !dup {
				byVersion[f.version] = f.name
			}
		}
	}

	files := make([]migrationFile, 0, len(byVersion))
	for v, name := range byVersion {
		files = append(files, migrationFile{version: v, name: name})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

func parseMigrationName(file string) (migrationFile, bool) {
	base, ok := strings.CutSuffix(file, ".up.sql")
	if !ok {
		return migrationFile{}, false
	}
	num, name, ok := strings.Cut(base, "_")
	if !ok {
		return migrationFile{}, false
	}
	v, err := strconv.ParseUint(num, 10, 32)
	if err != nil {
		return migrationFile{}, false
	}
	return migrationFile{version: uint(v), name: name}, true
}
