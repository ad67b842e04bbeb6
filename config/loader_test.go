// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Engine.MaxCodeRuns)
	assert.Equal(t, 8, cfg.Engine.MaxToolRounds)
	assert.Equal(t, "python3", cfg.Sandbox.PythonPath)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "sqlite", cfg.Store.Database.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Telemetry.Enabled)
	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
server:
  addr: ":9000"
  read_timeout: 60s
engine:
  max_concurrency: 4
  max_code_runs: 2
store:
  backend: redis
  redis:
    addr: "redis.example.com:6379"
    db: 1
log:
  level: debug
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrency)
	assert.Equal(t, 2, cfg.Engine.MaxCodeRuns)
	assert.Equal(t, 8, cfg.Engine.MaxToolRounds, "未覆盖的字段保留默认值")
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis.example.com:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 1, cfg.Store.Redis.DB)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("CONFIG2FLOW_SERVER_ADDR", ":7777")
	t.Setenv("CONFIG2FLOW_ENGINE_MAX_TOOL_ROUNDS", "3")
	t.Setenv("CONFIG2FLOW_SANDBOX_TIMEOUT", "5s")
	t.Setenv("CONFIG2FLOW_STORE_REDIS_ADDR", "env-redis:6379")
	t.Setenv("CONFIG2FLOW_LOG_OUTPUT_PATHS", "stdout, logs/app.log")
	t.Setenv("CONFIG2FLOW_TELEMETRY_ENABLED", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Engine.MaxToolRounds)
	assert.Equal(t, 5*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, "env-redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, []string{"stdout", "logs/app.log"}, cfg.Log.OutputPaths)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("CONFIG2FLOW_ENGINE_MAX_CODE_RUNS", "many")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_DotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("CONFIG2FLOW_TEST_DOTENV_LOG_LEVEL=warn\n"), 0644))
	t.Setenv("CONFIG2FLOW_TEST_DOTENV_LOG_LEVEL", "") // 注册清理
	os.Unsetenv("CONFIG2FLOW_TEST_DOTENV_LOG_LEVEL")

	cfg, err := NewLoader().WithEnvPrefix("CONFIG2FLOW_TEST_DOTENV").WithDotEnv(envPath).Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_Validator(t *testing.T) {
	_, err := NewLoader().WithValidator(func(c *Config) error {
		return c.Validate()
	}).WithValidator(func(c *Config) error {
		c.Store.Backend = "cassandra"
		return c.Validate()
	}).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cassandra")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "runs", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=runs sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "runs"}
	assert.Equal(t, "u:p@tcp(db:3306)/runs?parseTime=true", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "file.db"}
	assert.Equal(t, "file.db", lite.DSN())

	assert.Empty(t, (&DatabaseConfig{Driver: "oracle"}).DSN())
}
