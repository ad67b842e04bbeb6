package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Configuration resolution error codes
const (
	ErrMissingDiscriminator ErrorCode = "MISSING_DISCRIMINATOR"
	ErrUnsupportedProvider  ErrorCode = "UNSUPPORTED_PROVIDER"
	ErrInvalidConfig        ErrorCode = "INVALID_CONFIG"
)

// Run error codes
const (
	ErrMissingInput  ErrorCode = "MISSING_INPUT"
	ErrTemplate      ErrorCode = "TEMPLATE_ERROR"
	ErrInvalidOutput ErrorCode = "INVALID_OUTPUT"
)

// Collaborator error codes
const (
	ErrProvider ErrorCode = "PROVIDER_ERROR"
	ErrTool     ErrorCode = "TOOL_ERROR"
	ErrSandbox  ErrorCode = "SANDBOX_ERROR"
	ErrStore    ErrorCode = "STORE_ERROR"
	ErrNotFound ErrorCode = "NOT_FOUND"
)

// HTTP surface error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrInternal       ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Subject    string    `json:"subject,omitempty"` // 出错对象：变量名、字段名或 provider 名
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithSubject records what the error is about.
func (e *Error) WithSubject(subject string) *Error {
	e.Subject = subject
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// =============================================================================
// 构造函数
// =============================================================================

// NewMissingDiscriminatorError reports a config mapping without the field used to pick an implementation.
func NewMissingDiscriminatorError(kind, field string) *Error {
	return NewError(ErrMissingDiscriminator,
		fmt.Sprintf("%s config is missing required field %q", kind, field)).WithSubject(field)
}

// NewUnsupportedProviderError reports a discriminator value with no registered implementation.
func NewUnsupportedProviderError(kind, value string) *Error {
	return NewError(ErrUnsupportedProvider,
		fmt.Sprintf("unsupported %s provider %q", kind, value)).WithSubject(value)
}

// NewMissingInputError reports a required workflow input that was not supplied.
func NewMissingInputError(workflow, variable string) *Error {
	return NewError(ErrMissingInput,
		fmt.Sprintf("workflow %q: missing input variable %q", workflow, variable)).WithSubject(variable)
}

// NewTemplateError reports a placeholder that has no value in the input mapping.
func NewTemplateError(node, field, variable string) *Error {
	return NewError(ErrTemplate,
		fmt.Sprintf("node %q: %s references undefined variable %q", node, field, variable)).WithSubject(variable)
}

// NewInvalidOutputError reports a reply or result that cannot be reconciled with declared outputs.
func NewInvalidOutputError(node, message string) *Error {
	return NewError(ErrInvalidOutput, fmt.Sprintf("node %q: %s", node, message)).WithSubject(node)
}

// NewInvalidConfigError reports a config that failed validation.
func NewInvalidConfigError(subject, message string) *Error {
	return NewError(ErrInvalidConfig, message).WithSubject(subject)
}

// =============================================================================
// 判断函数
// =============================================================================

// AsError extracts a *Error from anywhere in the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsMissingInput reports whether err is a missing workflow input.
func IsMissingInput(err error) bool { return HasCode(err, ErrMissingInput) }

// IsTemplateError reports whether err is a role/prompt templating failure.
func IsTemplateError(err error) bool { return HasCode(err, ErrTemplate) }

// IsInvalidOutput reports whether err is an output reconciliation failure.
func IsInvalidOutput(err error) bool { return HasCode(err, ErrInvalidOutput) }

// IsUnsupportedProvider reports whether err is an unknown discriminator.
func IsUnsupportedProvider(err error) bool { return HasCode(err, ErrUnsupportedProvider) }

// IsMissingDiscriminator reports whether err is a missing discriminator field.
func IsMissingDiscriminator(err error) bool { return HasCode(err, ErrMissingDiscriminator) }

// ErrorSubject returns the variable, field or provider name the error is about.
func ErrorSubject(err error) string {
	if e, ok := AsError(err); ok {
		return e.Subject
	}
	return ""
}
