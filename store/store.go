package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/internal/metrics"
	"github.com/BaSui01/config2flow/types"
)

// Backend 存储后端类型
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendRedis  Backend = "redis"
	BackendSQL    Backend = "sql"
)

// 运行状态
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ErrStoreClosed 存储已关闭
var ErrStoreClosed = errors.New("store is closed")

// RunStore 持久化一次 App 运行的记录
type RunStore interface {
	Save(ctx context.Context, rec *RunRecord) error
	Get(ctx context.Context, id string) (*RunRecord, error)
	// List 按开始时间倒序返回最近的记录，limit <= 0 表示不限
	List(ctx context.Context, limit int) ([]*RunRecord, error)
	Close() error
}

// RunRecord 一次运行的持久化形态。JSON 字段在 SQL 中以 TEXT 存储。
type RunRecord struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	AppName    string    `gorm:"size:255;not null;index:idx_run_records_app_name" json:"app_name"`
	Status     string    `gorm:"size:32;not null" json:"status"`
	Inputs     JSONText  `gorm:"type:text" json:"inputs,omitempty"`
	Outputs    JSONText  `gorm:"type:text" json:"outputs,omitempty"`
	OutputText string    `gorm:"type:text" json:"output_text,omitempty"`
	Trace      JSONText  `gorm:"type:text" json:"trace,omitempty"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	ErrorCode  string    `gorm:"size:64" json:"error_code,omitempty"`
	StartedAt  time.Time `gorm:"not null;index:idx_run_records_started_at" json:"started_at"`
	FinishedAt time.Time `gorm:"not null" json:"finished_at"`
	DurationMS int64     `gorm:"column:duration_ms;not null;default:0" json:"duration_ms"`
}

// TableName 固定表名，与迁移脚本一致
func (RunRecord) TableName() string { return "run_records" }

// Validate 检查必填字段
func (r *RunRecord) Validate() error {
	if r == nil {
		return types.NewError(types.ErrStore, "run record is nil")
	}
	if r.ID == "" {
		return types.NewError(types.ErrStore, "run record id is required")
	}
	if r.AppName == "" {
		return types.NewError(types.ErrStore, "run record app_name is required").WithSubject(r.ID)
	}
	return nil
}

// clone 深拷贝，避免调用方与内存后端共享切片
func (r *RunRecord) clone() *RunRecord {
	c := *r
	c.Inputs = append(JSONText(nil), r.Inputs...)
	c.Outputs = append(JSONText(nil), r.Outputs...)
	c.Trace = append(JSONText(nil), r.Trace...)
	return &c
}

// =============================================================================
// JSONText
// =============================================================================

// JSONText 是原样保存的 JSON 文本，读写 SQL 时按字符串处理
type JSONText json.RawMessage

// MarshalJSONText 序列化任意值
func MarshalJSONText(v any) (JSONText, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return JSONText(b), nil
}

// Decode 反序列化到 dest
func (j JSONText) Decode(dest any) error {
	if len(j) == 0 {
		return nil
	}
	return json.Unmarshal(j, dest)
}

// MarshalJSON 输出原始 JSON
func (j JSONText) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON 保存原始 JSON
func (j *JSONText) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*j = nil
		return nil
	}
	*j = append((*j)[0:0], data...)
	return nil
}

// Value implements driver.Valuer
func (j JSONText) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner
func (j *JSONText) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case string:
		*j = JSONText(v)
	case []byte:
		*j = append(JSONText(nil), v...)
	default:
		return fmt.Errorf("cannot scan %T into JSONText", src)
	}
	return nil
}

// =============================================================================
// 工厂
// =============================================================================

// Option 存储可选项
type Option func(*options)

type options struct {
	metrics *metrics.Collector
}

// WithMetrics 为 SQL 后端上报连接池与查询耗时
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// New 按配置创建存储后端
func New(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger, opts ...Option) (RunStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	switch Backend(strings.ToLower(cfg.Backend)) {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendRedis:
		s, err := NewRedisStore(cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendSQL:
		s, err := NewSQLStore(ctx, cfg.Database, logger, o.metrics)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, types.NewInvalidConfigError("store.backend",
			fmt.Sprintf("unsupported store backend %q (supported: memory, redis, sql)", cfg.Backend))
	}
}

func notFound(id string) error {
	return types.NewError(types.ErrNotFound, fmt.Sprintf("run %q not found", id)).
		WithSubject(id).WithHTTPStatus(404)
}

func storeError(op string, err error) error {
	return types.NewError(types.ErrStore, op+" failed").WithCause(err)
}
