package http

import (
	"fmt"
	"net/http"
)

// Error codes returned in AppError.Code.
const (
	CodeBadRequest          = "ERR_BAD_REQUEST"
	CodeNotFound            = "ERR_NOT_FOUND"
	CodeInternal            = "ERR_INTERNAL"
	CodeInvalidSignal       = "ERR_INVALID_SIGNAL"
	CodeInvalidBaseline     = "ERR_INVALID_BASELINE"
	CodeUpstreamUnavailable = "ERR_UPSTREAM_UNAVAILABLE"
	CodeTooManyRequests     = "ERR_TOO_MANY_REQUESTS"
)

// AppError represents application-level error with HTTP status.
type AppError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Field   string                 `json:"field,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new application error.
func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Field:   field,
		Status:  status,
	}
}

// WithParam sets a single error param.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = make(map[string]interface{})
	}
	e.Params[key] = value
	return e
}

// WithError wraps an underlying error.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// NotFoundError creates a 404 error.
func NotFoundError(message string) *AppError {
	return NewAppError(CodeNotFound, "", message, http.StatusNotFound)
}

// BadRequestError creates a 400 error.
func BadRequestError(message string) *AppError {
	return NewAppError(CodeBadRequest, "", message, http.StatusBadRequest)
}

// BadRequestErrorf creates a 400 error with formatting.
func BadRequestErrorf(format string, a ...interface{}) *AppError {
	return BadRequestError(fmt.Sprintf(format, a...))
}

func InvalidSignalError(field, message string) *AppError {
	return NewAppError(CodeInvalidSignal, field, message, http.StatusBadRequest)
}

func InvalidBaselineError(message string) *AppError {
	return NewAppError(CodeInvalidBaseline, "baseline", message, http.StatusBadRequest)
}

// UpstreamUnavailableError creates a 503 error.
func UpstreamUnavailableError(message string) *AppError {
	return NewAppError(CodeUpstreamUnavailable, "", message, http.StatusServiceUnavailable)
}

func TooManyRequestsError(message string) *AppError {
	return NewAppError(CodeTooManyRequests, "", message, http.StatusTooManyRequests)
}

// InternalError creates a 500 error.
func InternalError(message string) *AppError {
	return NewAppError(CodeInternal, "", message, http.StatusInternalServerError)
}

// InternalErrorf creates a 500 error with formatting.
func InternalErrorf(format string, a ...interface{}) *AppError {
	return InternalError(fmt.Sprintf(format, a...))
}
