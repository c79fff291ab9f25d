// Package errors provides coded application errors shared by the evaluation
// engine, its collaborators and the HTTP surface.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes.
const (
	// Client errors (4xx).
	CodeValidation    = "VALIDATION_ERROR"
	CodeNotFound      = "NOT_FOUND"
	CodeUnknownMetric = "UNKNOWN_METRIC"
	CodeRateLimited   = "RATE_LIMITED"

	// Server errors (5xx).
	CodeInternal    = "INTERNAL_ERROR"
	CodeUnavailable = "SERVICE_UNAVAILABLE"
	CodeTimeout     = "TIMEOUT"
	CodeRetrieval   = "RETRIEVAL_FAILURE"
	CodeMetric      = "METRIC_FAILURE"
	CodeGeneration  = "GENERATION_FAILURE"
	CodeStorage     = "STORAGE_ERROR"
)

// Detail keys attached to evaluation failures.
const (
	DetailQuery   = "query"
	DetailQueryID = "query_id"
	DetailMetric  = "metric"
)

// AppError represents an application error with code and details.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code for this error.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeUnknownMetric:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeRetrieval:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with an AppError.
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetail adds a single detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Detail returns the detail stored under key, or "".
func (e *AppError) Detail(key string) string {
	return e.Details[key]
}

// Convenience constructors.

// ValidationError creates a validation error.
func ValidationError(message string) *AppError {
	return New(CodeValidation, message)
}

// NotFoundError creates a not found error.
func NotFoundError(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// InternalError creates an internal error.
func InternalError(message string, err error) *AppError {
	return Wrap(CodeInternal, message, err)
}

// UnknownMetricError reports a metric name with no registered implementation.
func UnknownMetricError(name string) *AppError {
	return New(CodeUnknownMetric, fmt.Sprintf("unknown metric %q", name)).
		WithDetail(DetailMetric, name)
}

// RetrievalFailure wraps an error returned by a retriever for query.
func RetrievalFailure(query string, err error) *AppError {
	return Wrap(CodeRetrieval, "retrieval failed", err).
		WithDetail(DetailQuery, query)
}

// MetricFailure wraps an error returned by metric while scoring query.
func MetricFailure(metric, query string, err error) *AppError {
	return Wrap(CodeMetric, fmt.Sprintf("metric %s failed", metric), err).
		WithDetail(DetailMetric, metric).
		WithDetail(DetailQuery, query)
}

// GenerationError wraps a failure of the dataset generation backend.
func GenerationError(message string, err error) *AppError {
	return Wrap(CodeGeneration, message, err)
}

// StorageError wraps a failure of a results store.
func StorageError(message string, err error) *AppError {
	return Wrap(CodeStorage, message, err)
}

// RateLimitedError creates a rate limit error.
func RateLimitedError(retryAfterSeconds int) *AppError {
	err := New(CodeRateLimited, "rate limit exceeded")
	if retryAfterSeconds > 0 {
		err = err.WithDetail("retry_after", fmt.Sprintf("%d", retryAfterSeconds))
	}
	return err
}

// TimeoutError creates a timeout error for a specific operation.
func TimeoutError(operation string) *AppError {
	message := "operation timed out"
	if operation != "" {
		message = fmt.Sprintf("%s timed out", operation)
	}
	return New(CodeTimeout, message)
}

// ServiceUnavailableError creates a service unavailable error.
func ServiceUnavailableError(service string) *AppError {
	message := "service unavailable"
	if service != "" {
		message = fmt.Sprintf("%s is unavailable", service)
	}
	return New(CodeUnavailable, message)
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Code returns the code of the first AppError in err's chain, or "".
func Code(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ""
}

// IsNotFound checks if error is a not found error.
func IsNotFound(err error) bool {
	return Code(err) == CodeNotFound
}

// IsValidation checks if error is a validation error.
func IsValidation(err error) bool {
	return Code(err) == CodeValidation
}

// IsUnknownMetric checks if error is an unknown metric error.
func IsUnknownMetric(err error) bool {
	return Code(err) == CodeUnknownMetric
}

// IsRetrievalFailure checks if error is a retrieval failure.
func IsRetrievalFailure(err error) bool {
	return Code(err) == CodeRetrieval
}

// IsMetricFailure checks if error is a metric failure.
func IsMetricFailure(err error) bool {
	return Code(err) == CodeMetric
}

// ErrorResponse is the standard JSON error response structure.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON error response to the ResponseWriter.
func WriteJSON(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent, nothing useful to do with an encode error.
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteError writes an error response.
// AppErrors keep their code, message and details; any other error is
// reported as a sanitized internal error.
func WriteError(w http.ResponseWriter, err error) {
	if appErr, ok := As(err); ok {
		WriteJSON(w, appErr.HTTPStatus(), ErrorResponse{
			Error:   appErr.Error(),
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		})
		return
	}

	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal server error",
		Code:    CodeInternal,
		Message: "An unexpected error occurred",
	})
}
