package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/config2flow/types"
)

// =============================================================================
// 📦 响应结构
// =============================================================================

// ErrorBody 统一错误响应 {"error": {...}}
type ErrorBody struct {
	Error ErrorInfo `json:"error"`
}

// ErrorInfo 错误信息
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Subject   string `json:"subject,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

// writeJSON 写入 JSON 响应
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError 把任意 error 转成统一错误响应。非 types.Error 视为内部错误，且不泄露细节。
func writeError(w http.ResponseWriter, err error, logger *zap.Logger) {
	writeRunError(w, err, "", logger)
}

func writeRunError(w http.ResponseWriter, err error, runID string, logger *zap.Logger) {
	info, status := errorInfo(err)
	info.RunID = runID

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", info.Code),
			zap.Int("status", status),
			zap.Error(err),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("API error", fields...)
		} else {
			logger.Debug("API error", fields...)
		}
	}
	writeJSON(w, status, ErrorBody{Error: info})
}

func writeErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string) {
	writeJSON(w, status, ErrorBody{Error: ErrorInfo{Code: string(code), Message: message}})
}

func errorInfo(err error) (ErrorInfo, int) {
	var e *types.Error
	if !errors.As(err, &e) {
		return ErrorInfo{Code: string(types.ErrInternal), Message: "internal server error"}, http.StatusInternalServerError
	}
	status := e.HTTPStatus
	if status == 0 {
		status = StatusForCode(e.Code)
	}
	return ErrorInfo{
		Code:      string(e.Code),
		Message:   strings.Replace(err.Error(), "["+string(e.Code)+"] ", "", 1),
		Subject:   e.Subject,
		Retryable: e.Retryable,
	}, status
}

// =============================================================================
// 🔄 错误码到 HTTP 状态码映射
// =============================================================================

// StatusForCode 返回错误码对应的 HTTP 状态码
func StatusForCode(code types.ErrorCode) int {
	switch code {
	// 配置与请求问题
	case types.ErrInvalidConfig, types.ErrMissingDiscriminator, types.ErrUnsupportedProvider,
		types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrMissingInput, types.ErrTemplate:
		return http.StatusUnprocessableEntity
	case types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrRateLimited:
		return http.StatusTooManyRequests

	// 上游与协作方
	case types.ErrProvider, types.ErrInvalidOutput:
		return http.StatusBadGateway
	case types.ErrStore:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
