package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/BaSui01/config2flow/app"
	"github.com/BaSui01/config2flow/config"
	"github.com/BaSui01/config2flow/store"
	"github.com/BaSui01/config2flow/types"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// runRequest 运行请求。Config 为应用 YAML 文本；App 为预加载应用名（仅事件流使用）。
type runRequest struct {
	Config string         `json:"config,omitempty"`
	App    string         `json:"app,omitempty"`
	Inputs map[string]any `json:"inputs,omitempty"`
}

func invalidRequest(format string, args ...any) *types.Error {
	return types.NewError(types.ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": s.version,
		"apps":    s.catalog.Len(),
	})
}

// =============================================================================
// 📱 应用
// =============================================================================

// handleValidate 构造节点图但不运行，返回图描述
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	req, err := s.readRunRequest(w, r)
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	a, err := s.factory.CreateFromBytes(r.Context(), []byte(req.Config))
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "app": a.ToDict()})
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	apps := s.catalog.List()
	writeJSON(w, http.StatusOK, map[string]any{"apps": apps, "count": len(apps)})
}

func (s *Server) handleDescribeApp(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.lookupApp(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	a, err := s.factory.Create(r.Context(), cfg)
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, a.ToDict())
}

// handleRunApp 运行预加载应用，请求体为 {"inputs": {...}}（可为空）
func (s *Server) handleRunApp(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.lookupApp(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err, s.logger)
		return
	}

	var req runRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, invalidRequest("invalid JSON body: %v", err), s.logger)
		return
	}
	s.runAndRespond(w, r, cfg, req.Inputs)
}

func (s *Server) lookupApp(name string) (*config.AppConfig, error) {
	cfg, ok := s.catalog.Get(name)
	if !ok {
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("app %q not found", name)).WithSubject(name)
	}
	return cfg, nil
}

// =============================================================================
// ▶️ 运行
// =============================================================================

// handleRun 运行上传的应用配置。支持 multipart（config 文件 + inputs 字段）和 JSON。
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req, err := s.readRunRequest(w, r)
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	cfg, err := config.ParseApp([]byte(req.Config))
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	s.runAndRespond(w, r, cfg, req.Inputs)
}

func (s *Server) runAndRespond(w http.ResponseWriter, r *http.Request, cfg *config.AppConfig, inputs map[string]any) {
	a, err := s.factory.Create(r.Context(), cfg)
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	res, err := a.Run(r.Context(), inputs)
	if err != nil {
		runID := ""
		if res != nil {
			runID = res.RunID
		}
		writeRunError(w, err, runID, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// readRunRequest 读取配置与输入。
//   - multipart/form-data: config 为文件或字段，inputs 为 JSON 字段
//   - application/json: runRequest
//   - 其他: 请求体即 YAML，无输入
func (s *Server) readRunRequest(w http.ResponseWriter, r *http.Request) (*runRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	req := &runRequest{}
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
			return nil, invalidRequest("invalid multipart form: %v", err)
		}
		if f, _, err := r.FormFile("config"); err == nil {
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, invalidRequest("read config file: %v", err)
			}
			req.Config = string(data)
		} else {
			req.Config = r.FormValue("config")
		}
		if raw := r.FormValue("inputs"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.Inputs); err != nil {
				return nil, invalidRequest("inputs must be a JSON object: %v", err)
			}
		}

	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			return nil, invalidRequest("invalid JSON body: %v", err)
		}

	default:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, invalidRequest("read body: %v", err)
		}
		req.Config = string(data)
	}

	if strings.TrimSpace(req.Config) == "" {
		return nil, invalidRequest("config is required").WithSubject("config")
	}
	return req, nil
}

// =============================================================================
// 📜 运行记录
// =============================================================================

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, errNoHistory(), s.logger)
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, invalidRequest("limit must be a positive integer").WithSubject("limit"), s.logger)
			return
		}
		limit = min(n, maxListLimit)
	}

	recs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	// 列表不返回 trace
	out := make([]store.RunRecord, len(recs))
	for i, rec := range recs {
		out[i] = *rec
		out[i].Trace = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out, "count": len(out)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, errNoHistory(), s.logger)
		return
	}
	rec, err := s.runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func errNoHistory() *types.Error {
	return types.NewError(types.ErrStore, "run history is disabled").WithHTTPStatus(http.StatusServiceUnavailable)
}

// appFor 根据运行请求构造 App：优先使用上传的配置，否则查找预加载应用
func (s *Server) appFor(ctx context.Context, req *runRequest) (*app.App, error) {
	switch {
	case strings.TrimSpace(req.Config) != "":
		return s.factory.CreateFromBytes(ctx, []byte(req.Config))
	case req.App != "":
		cfg, err := s.lookupApp(req.App)
		if err != nil {
			return nil, err
		}
		return s.factory.Create(ctx, cfg)
	default:
		return nil, invalidRequest("either config or app is required")
	}
}
