// Package errors provides the structured error system for the active storage proxy:
// error codes, categories, HTTP status mapping and the S3-style fields that are
// surfaced to clients.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for proxy operations.
type ErrorCode string

const (
	// Request Errors
	ErrCodeInvalidRequest         ErrorCode = "INVALID_REQUEST"
	ErrCodeAuthenticationRequired ErrorCode = "AUTHENTICATION_REQUIRED"
	ErrCodeNotFound               ErrorCode = "NOT_FOUND"

	// Upstream Errors
	ErrCodeUpstreamUnreachable ErrorCode = "UPSTREAM_UNREACHABLE"
	ErrCodeUpstreamObjectError ErrorCode = "UPSTREAM_OBJECT_ERROR"

	// Data Errors
	ErrCodeDecodingError ErrorCode = "DECODING_ERROR"

	// Internal System Errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryRequest  ErrorCategory = "request"
	CategoryUpstream ErrorCategory = "upstream"
	CategoryData     ErrorCategory = "data"
	CategoryInternal ErrorCategory = "internal"
)

// Fixed code/message/resource triple reported when the upstream store cannot be
// reached at the transport level.
const (
	UpstreamUnreachableCode     = "UpstreamSourceNotFound"
	UpstreamUnreachableMessage  = "Could not connect to configured S3 source"
	UpstreamUnreachableResource = "N/A"
)

// ProxyError represents a structured error with context and metadata.
type ProxyError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	HTTPStatus int `json:"http_status,omitempty"`

	// S3-style fields. For upstream errors these are the upstream's own values,
	// passed through unmodified.
	S3Code   string `json:"s3_code,omitempty"`
	Resource string `json:"resource,omitempty"`

	// Raw upstream error document, kept so passthrough routes can relay it verbatim.
	UpstreamBody        []byte `json:"-"`
	UpstreamContentType string `json:"-"`
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *ProxyError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *ProxyError) Is(target error) bool {
	if proxyErr, ok := target.(*ProxyError); ok {
		return e.Code == proxyErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *ProxyError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))
	parts = append(parts, fmt.Sprintf("HTTPStatus=%d", e.HTTPStatus))

	if e.S3Code != "" {
		parts = append(parts, fmt.Sprintf("S3Code=%s", e.S3Code))
	}
	if e.Resource != "" {
		parts = append(parts, fmt.Sprintf("Resource=%s", e.Resource))
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}

	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("ProxyError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new proxy error with default values.
func NewError(code ErrorCode, message string) *ProxyError {
	return &ProxyError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		HTTPStatus: GetDefaultHTTPStatus(code),
		S3Code:     GetDefaultS3Code(code),
	}
}

// NewInvalidRequest creates a client request error (HTTP 400).
func NewInvalidRequest(format string, args ...interface{}) *ProxyError {
	return NewError(ErrCodeInvalidRequest, fmt.Sprintf(format, args...))
}

// NewDecodingError creates an error for bytes that cannot be decoded as the
// requested dtype.
func NewDecodingError(format string, args ...interface{}) *ProxyError {
	return NewError(ErrCodeDecodingError, fmt.Sprintf(format, args...))
}

// NewUpstreamUnreachable creates the synthetic not-found error used when the
// upstream store cannot be contacted.
func NewUpstreamUnreachable(cause error) *ProxyError {
	e := NewError(ErrCodeUpstreamUnreachable, UpstreamUnreachableMessage)
	e.Resource = UpstreamUnreachableResource
	e.Cause = cause
	return e
}

// NewUpstreamObjectError captures an HTTP error response from the upstream store.
func NewUpstreamObjectError(status int, code, message, resource string) *ProxyError {
	e := NewError(ErrCodeUpstreamObjectError, message)
	e.HTTPStatus = status
	e.S3Code = code
	e.Resource = resource
	return e
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidRequest, ErrCodeAuthenticationRequired, ErrCodeNotFound:
		return CategoryRequest
	case ErrCodeUpstreamUnreachable, ErrCodeUpstreamObjectError:
		return CategoryUpstream
	case ErrCodeDecodingError:
		return CategoryData
	default:
		return CategoryInternal
	}
}

// GetDefaultHTTPStatus returns the default HTTP status for an error code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	statusMap := map[ErrorCode]int{
		ErrCodeInvalidRequest:         http.StatusBadRequest,
		ErrCodeAuthenticationRequired: http.StatusUnauthorized,
		ErrCodeNotFound:               http.StatusNotFound,
		ErrCodeUpstreamUnreachable:    http.StatusNotFound,
		ErrCodeUpstreamObjectError:    http.StatusBadGateway,
		ErrCodeDecodingError:          http.StatusInternalServerError,
	}

	if status, ok := statusMap[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// GetDefaultS3Code returns the S3 error document code for an error code.
func GetDefaultS3Code(code ErrorCode) string {
	switch code {
	case ErrCodeInvalidRequest:
		return "InvalidRequest"
	case ErrCodeAuthenticationRequired:
		return "AccessDenied"
	case ErrCodeNotFound:
		return "NoSuchKey"
	case ErrCodeUpstreamUnreachable:
		return UpstreamUnreachableCode
	case ErrCodeDecodingError:
		return "InvalidObjectState"
	default:
		return "InternalError"
	}
}

// AsProxyError returns err as a *ProxyError, wrapping anything unstructured as
// an internal error.
func AsProxyError(err error) *ProxyError {
	if err == nil {
		return nil
	}
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe
	}
	return NewError(ErrCodeInternalError, err.Error()).WithCause(err)
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	var pe *ProxyError
	return errors.As(err, &pe) && pe.Code == code
}

// WithDetail adds detailed information to an error
func (e *ProxyError) WithDetail(key string, value interface{}) *ProxyError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *ProxyError) WithComponent(component string) *ProxyError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *ProxyError) WithOperation(operation string) *ProxyError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *ProxyError) WithCause(cause error) *ProxyError {
	e.Cause = cause
	return e
}

// WithResource sets the resource the error refers to
func (e *ProxyError) WithResource(resource string) *ProxyError {
	e.Resource = resource
	return e
}

// WithUpstreamBody keeps the raw upstream error document
func (e *ProxyError) WithUpstreamBody(body []byte, contentType string) *ProxyError {
	e.UpstreamBody = body
	e.UpstreamContentType = contentType
	return e
}
