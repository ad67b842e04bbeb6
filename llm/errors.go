package llm

import "errors"

// ErrorCode 各家 Provider 的错误归一后的分类
type ErrorCode string

const (
	// 4xx，不重试
	ErrInvalidRequest ErrorCode = "LLM_INVALID_REQUEST"
	ErrUnauthorized   ErrorCode = "LLM_UNAUTHORIZED"
	ErrForbidden      ErrorCode = "LLM_FORBIDDEN"
	ErrQuotaExceeded  ErrorCode = "LLM_QUOTA_EXCEEDED"

	// 限流、过载、超时和 5xx，可重试
	ErrRateLimited     ErrorCode = "LLM_RATE_LIMITED"
	ErrModelOverloaded ErrorCode = "LLM_MODEL_OVERLOADED"
	ErrUpstreamTimeout ErrorCode = "LLM_UPSTREAM_TIMEOUT"
	ErrUpstreamError   ErrorCode = "LLM_UPSTREAM_ERROR"

	// 响应里没有 choice
	ErrEmptyResponse ErrorCode = "LLM_EMPTY_RESPONSE"
)

// Error Provider 返回的统一错误；Retryable 由 HTTP 状态推断
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
}

func (e *Error) Error() string {
	if e.Provider == "" {
		return e.Message
	}
	return e.Provider + ": " + e.Message
}

// AsError 取出错误链里的 *Error
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
