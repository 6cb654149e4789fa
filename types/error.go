package types

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the error kind shared by every service in the marketplace.
type ErrorCode string

// Request error codes
const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrInvalidEnvelope ErrorCode = "INVALID_ENVELOPE"
	ErrUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrNotFound        ErrorCode = "NOT_FOUND"
	ErrConflict        ErrorCode = "CONFLICT"
	ErrRateLimited     ErrorCode = "RATE_LIMITED"
)

// Collaborator error codes
const (
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrUpstreamTimeout    ErrorCode = "UPSTREAM_TIMEOUT"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
)

// HTTPStatus returns the status an error of this kind is reported with.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrInvalidRequest, ErrInvalidEnvelope:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrUpstreamError:
		return http.StatusBadGateway
	case ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Upstream   string    `json:"upstream,omitempty"`
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

// Status returns the explicit HTTP status, or the one implied by the code.
func (e *Error) Status() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return e.Code.HTTPStatus()
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

// WithUpstream names the collaborator (directory, llm, peer agent) that failed.
func (e *Error) WithUpstream(upstream string) *Error {
	e.Upstream = upstream
	return e
}

// NewInvalidRequestError is shorthand for a 400 caused by caller input.
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message)
}

// NewNotFoundError is shorthand for a 404.
func NewNotFoundError(message string) *Error {
	return NewError(ErrNotFound, message)
}

// NewUpstreamError wraps a failure of an outbound call. Deadline and
// cancellation causes are reported as timeouts.
func NewUpstreamError(upstream, message string, cause error) *Error {
	code := ErrUpstreamError
	if isTimeout(cause) {
		code = ErrUpstreamTimeout
	}
	return NewError(code, message).WithCause(cause).WithUpstream(upstream).WithRetryable(true)
}

// isTimeout matches context deadlines and net.Error style timeouts such as
// http.Client.Timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// AsError extracts a *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// FromError converts any error into a *Error. Errors that carry no kind become
// INTERNAL_ERROR, except context deadlines which become UPSTREAM_TIMEOUT.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	if isTimeout(err) {
		return NewError(ErrUpstreamTimeout, "operation timed out").WithCause(err).WithRetryable(true)
	}
	return NewError(ErrInternalError, "internal error").WithCause(err)
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

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
