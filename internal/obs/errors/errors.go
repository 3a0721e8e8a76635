// Package errors provides the unified error taxonomy used across the
// storage engine and its REST glue.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code.
type ErrorCode string

const (
	// Authentication errors (1xxx)
	ErrCodeUnauthorized ErrorCode = "AUTH_1001"
	ErrCodeInvalidToken ErrorCode = "AUTH_1002"
	ErrCodeTokenExpired ErrorCode = "AUTH_1003"

	// Authorization errors (2xxx)
	ErrCodeForbidden ErrorCode = "AUTHZ_2001"

	// Validation errors (3xxx)
	ErrCodeValidation       ErrorCode = "VAL_3001"
	ErrCodeMissingParameter ErrorCode = "VAL_3002"

	// Resource errors (4xxx)
	ErrCodeNotFound        ErrorCode = "RES_4001"
	ErrCodeUniqueness      ErrorCode = "RES_4002"
	ErrCodeVersionConflict ErrorCode = "RES_4003"

	// Service errors (5xxx)
	ErrCodeInternal   ErrorCode = "SVC_5001"
	ErrCodeSubstrate  ErrorCode = "SVC_5002"
	ErrCodeOverload   ErrorCode = "SVC_5003"
	ErrCodeRateLimit  ErrorCode = "SVC_5004"
)

// ServiceError represents a structured error with code, message, and HTTP status.
// The taxonomy mirrors spec.md §7: ValidationError, NotFound,
// UniquenessViolation, VersionConflict, OverloadError, ForbiddenError,
// SubstrateError.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails adds additional details to the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new ServiceError.
func New(code ErrorCode, message string, httpStatus int) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error with a ServiceError.
func Wrap(code ErrorCode, message string, httpStatus int, err error) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// Unauthorized builds a 401 for a missing/invalid login attempt.
func Unauthorized(message string) *ServiceError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

// InvalidToken builds a 401 for a JWT that fails parsing or signature checks.
func InvalidToken(err error) *ServiceError {
	return Wrap(ErrCodeInvalidToken, "invalid authentication token", http.StatusUnauthorized, err)
}

// TokenExpired builds a 401 for an expired JWT.
func TokenExpired() *ServiceError {
	return New(ErrCodeTokenExpired, "authentication token has expired", http.StatusUnauthorized)
}

// Forbidden builds a 403 raised by the row-level authorization collaborator.
func Forbidden(message string) *ServiceError {
	return New(ErrCodeForbidden, message, http.StatusForbidden)
}

// Validation builds a 400 carrying the list of field issues that failed
// schema validation.
func Validation(message string, issues []string) *ServiceError {
	e := New(ErrCodeValidation, message, http.StatusBadRequest)
	if len(issues) > 0 {
		e.WithDetails("issues", issues)
	}
	return e
}

// MissingParameter builds a 400 for a required query/body parameter.
func MissingParameter(param string) *ServiceError {
	return New(ErrCodeMissingParameter, "missing required parameter", http.StatusBadRequest).
		WithDetails("parameter", param)
}

// NotFound builds a 404 for an absent record.
func NotFound(collection, id string) *ServiceError {
	return New(ErrCodeNotFound, "record not found", http.StatusNotFound).
		WithDetails("collection", collection).
		WithDetails("id", id)
}

// Uniqueness builds a 409 for a collision on a field marked unique.
func Uniqueness(collection, field string, value interface{}) *ServiceError {
	return New(ErrCodeUniqueness, "unique field already in use", http.StatusConflict).
		WithDetails("collection", collection).
		WithDetails("field", field).
		WithDetails("value", value)
}

// VersionConflict builds a 409 for an optimistic-concurrency mismatch.
func VersionConflict(expected, actual int64) *ServiceError {
	return New(ErrCodeVersionConflict, "version conflict", http.StatusConflict).
		WithDetails("expectedVersion", expected).
		WithDetails("actualVersion", actual)
}

// Internal builds a 500 for an uncategorized engine failure.
func Internal(message string, err error) *ServiceError {
	return Wrap(ErrCodeInternal, message, http.StatusInternalServerError, err)
}

// Substrate builds a 500 for a lower-level KV substrate fault.
func Substrate(operation string, err error) *ServiceError {
	return Wrap(ErrCodeSubstrate, "storage substrate operation failed", http.StatusInternalServerError, err).
		WithDetails("operation", operation)
}

// Overload builds a 503 for a write buffer that refused an intent because
// its flush queue is saturated. Retry-After is left to the HTTP glue since
// the engine does not know about transport headers.
func Overload(queueDepth, threshold int) *ServiceError {
	return New(ErrCodeOverload, "write buffer overloaded", http.StatusServiceUnavailable).
		WithDetails("queueDepth", queueDepth).
		WithDetails("threshold", threshold)
}

// RateLimitExceeded builds a 429 for the dynamic rate limiter.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// IsServiceError checks if an error is a ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a ServiceError from an error chain.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error.
func GetHTTPStatus(err error) int {
	if serviceErr := GetServiceError(err); serviceErr != nil {
		return serviceErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Is reports whether err's ServiceError (if any) carries the given code.
func Is(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}
