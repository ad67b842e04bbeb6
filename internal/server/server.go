package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/factory"
	"github.com/BaSui01/config2flow/internal/metrics"
	"github.com/BaSui01/config2flow/store"
	"github.com/BaSui01/config2flow/types"
)

// =============================================================================
// 🖥️ Server
// =============================================================================

// Options 构造 Server 所需依赖
type Options struct {
	Factory *factory.AppFactory
	Runs    store.RunStore
	Catalog *Catalog
	Metrics *metrics.Collector
	Logger  *zap.Logger
	Config  config.ServerConfig
	Version string
}

// Server 暴露应用校验、运行、运行记录查询与事件流的 HTTP 接口
type Server struct {
	factory *factory.AppFactory
	runs    store.RunStore
	catalog *Catalog
	metrics *metrics.Collector
	logger  *zap.Logger
	cfg     config.ServerConfig
	version string

	handler http.Handler
	manager *Manager

	// 限流清理协程与 watcher 的生命周期
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建 Server 并构建路由
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Catalog == nil {
		opts.Catalog = NewCatalog(opts.Logger)
	}
	if opts.Factory == nil {
		opts.Factory = factory.NewAppFactory(factory.Deps{Logger: opts.Logger, Metrics: opts.Metrics}, opts.Runs)
	}
	if opts.Config.MaxUploadBytes <= 0 {
		opts.Config.MaxUploadBytes = config.DefaultServerConfig().MaxUploadBytes
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		factory: opts.Factory,
		runs:    opts.Runs,
		catalog: opts.Catalog,
		metrics: opts.Metrics,
		logger:  opts.Logger.With(zap.String("component", "server")),
		cfg:     opts.Config,
		version: opts.Version,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.handler = s.routes()
	return s
}

// Handler 返回完整的 HTTP handler（含中间件）
func (s *Server) Handler() http.Handler { return s.handler }

// Catalog 返回预加载应用目录
func (s *Server) Catalog() *Catalog { return s.catalog }

var publicPaths = []string{"/health", "/metrics"}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metrics),
		RateLimiter(s.ctx, s.cfg.RateLimitRPS, s.cfg.RateLimitBurst),
	)
	if s.cfg.JWT.Secret != "" {
		r.Use(JWTAuth(s.cfg.JWT, publicPaths, s.logger))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed")
	})

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/apps/validate", s.handleValidate)
		r.Get("/apps", s.handleListApps)
		r.Get("/apps/{name}", s.handleDescribeApp)
		r.Post("/apps/{name}/runs", s.handleRunApp)

		r.Post("/runs", s.handleRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/stream", s.handleStream)
		r.Get("/runs/{id}", s.handleGetRun)
	})
	return r
}

// =============================================================================
// 🚀 生命周期
// =============================================================================

// Start 开始监听（非阻塞）
func (s *Server) Start() error {
	s.manager = NewManager(s.handler, ConfigFrom(s.cfg), s.logger)
	return s.manager.Start()
}

// Addr 返回实际监听地址
func (s *Server) Addr() string {
	if s.manager == nil {
		return s.cfg.Addr
	}
	return s.manager.Addr()
}

// WatchApps 在后台监听应用目录变化，Shutdown 时停止
func (s *Server) WatchApps(ready chan<- struct{}) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.catalog.Watch(s.ctx, ready); err != nil {
			s.logger.Error("app watcher stopped", zap.Error(err))
		}
	}()
}

// WaitForShutdown 等待信号或 ctx 结束，然后优雅关闭
func (s *Server) WaitForShutdown(ctx context.Context) {
	if s.manager != nil {
		s.manager.WaitForShutdown(ctx)
	}
	s.Shutdown(context.WithoutCancel(ctx))
}

// Shutdown 停止后台协程并关闭 HTTP 服务
func (s *Server) Shutdown(ctx context.Context) {
	s.cancel()
	if s.manager != nil {
		if err := s.manager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	s.wg.Wait()
	s.logger.Info("server stopped")
}
