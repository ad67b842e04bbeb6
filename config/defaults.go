package config

import "time"

const (
	defaultName      = "config2flow"
	defaultKeyPrefix = defaultName + ":"
)

// DefaultConfig 不读取任何文件或环境变量时的完整配置：内存存储、本地 python3、关闭遥测
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Engine:    DefaultEngineConfig(),
		Sandbox:   DefaultSandboxConfig(),
		Store:     DefaultStoreConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   MetricsConfig{Enabled: true, Namespace: defaultName},
	}
}

// DefaultServerConfig WriteTimeout 要覆盖一次完整的 App 运行（含 SSE 流）
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    5,
		RateLimitBurst:  10,
		MaxUploadBytes:  1 << 20,
	}
}

// DefaultEngineConfig MaxConcurrency 为 0 表示同一优先级的节点不限并发
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{MaxCodeRuns: 5, MaxToolRounds: 8, RequestTimeout: 2 * time.Minute}
}

func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Enabled:        true,
		Mode:           "process",
		PythonPath:     "python3",
		DockerImage:    "python:3.12-slim",
		Timeout:        30 * time.Second,
		MaxOutputBytes: 64 << 10,
		MaxMemoryMB:    256,
	}
}

func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Backend:  "memory",
		Redis:    RedisConfig{Addr: "localhost:6379", PoolSize: 10, KeyPrefix: defaultKeyPrefix},
		Database: DefaultDatabaseConfig(),
	}
}

// DefaultDatabaseConfig 默认落到本地 SQLite 文件；Host/Port 只在切到 postgres 时生效
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Name:            defaultName + ".db",
		Host:            "localhost",
		Port:            5432,
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		AutoMigrate:     true,
	}
}

func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: "console", OutputPaths: []string{"stdout"}, EnableCaller: true}
}

// DefaultTelemetryConfig 开启后按 10% 采样
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{OTLPEndpoint: "localhost:4317", ServiceName: defaultName, SampleRate: 0.1}
}
