package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 Collector
// =============================================================================

var (
	llmLatencyBuckets  = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}
	nodeLatencyBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}
	loopBuckets        = []float64{1, 2, 3, 5, 8, 13, 21}
)

// Collector 引擎的 Prometheus 指标。nil *Collector 上的 Record* 都是空操作，
// 调用方不需要判空
type Collector struct {
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	llmRequests *prometheus.CounterVec
	llmLatency  *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec

	nodeRuns       *prometheus.CounterVec
	nodeLatency    *prometheus.HistogramVec
	loopIterations *prometheus.HistogramVec
	appRuns        *prometheus.CounterVec
	toolCalls      *prometheus.CounterVec
	sandboxRuns    *prometheus.CounterVec

	dbOpen    *prometheus.GaugeVec
	dbIdle    *prometheus.GaugeVec
	dbLatency *prometheus.HistogramVec
}

// NewCollector 注册到默认 Registry；同一进程内 namespace 不能重复
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return promauto.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return promauto.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}

	c := &Collector{
		httpRequests: counter("http_requests_total", "Total number of HTTP requests", "method", "path", "status"),
		httpLatency:  histogram("http_request_duration_seconds", "HTTP request duration in seconds", prometheus.DefBuckets, "method", "path"),

		llmRequests: counter("llm_requests_total", "Total number of LLM requests", "provider", "model", "status"),
		llmLatency:  histogram("llm_request_duration_seconds", "LLM request duration in seconds", llmLatencyBuckets, "provider", "model"),
		// type: prompt | completion
		llmTokens: counter("llm_tokens_used_total", "Total number of tokens used", "provider", "model", "type"),

		nodeRuns:       counter("node_runs_total", "Total number of node runs", "kind", "status"),
		nodeLatency:    histogram("node_run_duration_seconds", "Node run duration in seconds", nodeLatencyBuckets, "kind"),
		loopIterations: histogram("loop_iterations", "Iterations executed per loop workflow run", loopBuckets, "loop"),
		appRuns:        counter("app_runs_total", "Total number of app runs", "app", "status"),
		toolCalls:      counter("tool_calls_total", "Total number of tool calls", "tool", "status"),
		sandboxRuns:    counter("sandbox_runs_total", "Total number of sandboxed code runs", "language", "status"),

		dbOpen:    gauge("db_connections_open", "Number of open database connections", "database"),
		dbIdle:    gauge("db_connections_idle", "Number of idle database connections", "database"),
		dbLatency: histogram("db_query_duration_seconds", "Database query duration in seconds", prometheus.DefBuckets, "database", "operation"),
	}
	logger.Debug("metrics collector registered", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 Record*
// =============================================================================

// RecordHTTPRequest path 应为路由模板（/apps/{app}/runs），状态码按 2xx/4xx 归档
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpLatency.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	if c == nil {
		return
	}
	c.llmRequests.WithLabelValues(provider, model, status).Inc()
	c.llmLatency.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.llmTokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.llmTokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

// RecordNodeRun kind 为 agent / workflow / loop
func (c *Collector) RecordNodeRun(kind, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.nodeRuns.WithLabelValues(kind, status).Inc()
	c.nodeLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

func (c *Collector) RecordLoopIterations(loop string, iterations int) {
	if c == nil {
		return
	}
	c.loopIterations.WithLabelValues(loop).Observe(float64(iterations))
}

func (c *Collector) RecordAppRun(app, status string) {
	if c == nil {
		return
	}
	c.appRuns.WithLabelValues(app, status).Inc()
}

func (c *Collector) RecordToolCall(tool, status string) {
	if c == nil {
		return
	}
	c.toolCalls.WithLabelValues(tool, status).Inc()
}

func (c *Collector) RecordSandboxRun(language, status string) {
	if c == nil {
		return
	}
	c.sandboxRuns.WithLabelValues(language, status).Inc()
}

func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbOpen.WithLabelValues(database).Set(float64(open))
	c.dbIdle.WithLabelValues(database).Set(float64(idle))
}

func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	if c == nil {
		return
	}
	c.dbLatency.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// Status err 归类为 success / error 标签
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// statusClass 200 → "2xx"；1xx 及非法值为 "unknown"
func statusClass(code int) string {
	if code < 200 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
