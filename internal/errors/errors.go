package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	CategoryClient   ErrorCategory = "client"
	CategoryServer   ErrorCategory = "server"
	CategoryExternal ErrorCategory = "external"
)

// Common error codes
const (
	// Client errors (4xx)
	CodeValidationError = "VALIDATION_ERROR"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeRateLimited     = "RATE_LIMITED"
	CodeRequestCanceled = "REQUEST_CANCELED"

	// Authentication specific
	CodeAuthRequired       = "AUTH_REQUIRED"
	CodeAuthInvalid        = "AUTH_INVALID"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeEmailExists        = "EMAIL_EXISTS"

	// Resource specific
	CodeCoinNotFound    = "COIN_NOT_FOUND"
	CodeHoldingNotFound = "HOLDING_NOT_FOUND"
	CodeAlertNotFound   = "ALERT_NOT_FOUND"

	// Server errors (5xx)
	CodeInternalError = "INTERNAL_ERROR"
	CodeDatabaseError = "DATABASE_ERROR"
	CodeStorageError  = "STORAGE_ERROR"

	// External service errors
	CodeUpstreamError      = "UPSTREAM_ERROR"
	CodeExternalTimeout    = "EXTERNAL_TIMEOUT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// StatusClientClosedRequest is the non-standard status for requests the
// client abandoned. The client never reads it; it only shows in logs.
const StatusClientClosedRequest = 499

// genericInternalMessage replaces server error messages when debug output is off.
const genericInternalMessage = "an unexpected error occurred"

var exposeInternal atomic.Bool

// SetDebug controls whether server error causes are included in responses.
// It must stay off in production.
func SetDebug(enabled bool) {
	exposeInternal.Store(enabled)
}

// AppError represents a structured application error
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Category   ErrorCategory  `json:"-"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// WithCause sets the underlying cause of the error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// Response is the JSON envelope returned to clients
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody contains the error details
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// New creates a new AppError
func New(code string, message string, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Category:   category,
		HTTPStatus: httpStatus,
	}
}

// Client error constructors

func BadRequest(message string) *AppError {
	return New(CodeInvalidRequest, message, CategoryClient, http.StatusBadRequest)
}

func RequestCanceled() *AppError {
	return New(CodeRequestCanceled, "request canceled", CategoryClient, StatusClientClosedRequest)
}

func ValidationError(message string) *AppError {
	return New(CodeValidationError, message, CategoryClient, http.StatusBadRequest)
}

// AuthRequired is returned when no credential was presented.
func AuthRequired() *AppError {
	return New(CodeAuthRequired, "authentication required", CategoryClient, http.StatusUnauthorized)
}

// AuthInvalid is returned for every rejected credential. The message is the
// same whatever check failed.
func AuthInvalid() *AppError {
	return New(CodeAuthInvalid, "invalid or expired session", CategoryClient, http.StatusForbidden)
}

func InvalidCredentials() *AppError {
	return New(CodeInvalidCredentials, "invalid email or password", CategoryClient, http.StatusUnauthorized)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), CategoryClient, http.StatusNotFound)
}

func CoinNotFound(coinID string) *AppError {
	return New(CodeCoinNotFound, fmt.Sprintf("coin %q not found", coinID), CategoryClient, http.StatusNotFound)
}

func HoldingNotFound() *AppError {
	return New(CodeHoldingNotFound, "holding not found", CategoryClient, http.StatusNotFound)
}

func AlertNotFound() *AppError {
	return New(CodeAlertNotFound, "alert not found", CategoryClient, http.StatusNotFound)
}

func Conflict(message string) *AppError {
	return New(CodeConflict, message, CategoryClient, http.StatusConflict)
}

func EmailExists() *AppError {
	return New(CodeEmailExists, "email already registered", CategoryClient, http.StatusConflict)
}

func RateLimited() *AppError {
	return New(CodeRateLimited, "rate limit exceeded", CategoryClient, http.StatusTooManyRequests)
}

// Server error constructors

func InternalError(message string) *AppError {
	return New(CodeInternalError, message, CategoryServer, http.StatusInternalServerError)
}

func DatabaseError(message string) *AppError {
	return New(CodeDatabaseError, message, CategoryServer, http.StatusInternalServerError)
}

func StorageError(message string) *AppError {
	return New(CodeStorageError, message, CategoryServer, http.StatusInternalServerError)
}

// External service error constructors

func UpstreamError(message string) *AppError {
	return New(CodeUpstreamError, message, CategoryExternal, http.StatusBadGateway)
}

func ExternalTimeout(service string) *AppError {
	return New(CodeExternalTimeout, fmt.Sprintf("%s request timed out", service), CategoryExternal, http.StatusGatewayTimeout)
}

func ServiceUnavailable(message string) *AppError {
	return New(CodeServiceUnavailable, message, CategoryExternal, http.StatusServiceUnavailable)
}

// AsAppError returns err as an *AppError, wrapping unknown errors as internal errors.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalError(genericInternalMessage).WithCause(err)
}

// WriteError writes an error response to the HTTP response writer
func WriteError(w http.ResponseWriter, requestID string, err error) {
	appErr := AsAppError(err)

	message := appErr.Message
	if appErr.Category == CategoryServer {
		message = genericInternalMessage
		if exposeInternal.Load() && appErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", appErr.Message, appErr.Cause)
		}
	}

	resp := Response{
		Success: false,
		Error: &ErrorBody{
			Code:      appErr.Code,
			Message:   message,
			RequestID: requestID,
			Details:   appErr.Details,
		},
	}

	writeResponse(w, requestID, appErr.HTTPStatus, resp)
}

// WriteJSON writes a success envelope with the request ID header
func WriteJSON(w http.ResponseWriter, requestID string, status int, data any) {
	writeResponse(w, requestID, status, Response{Success: true, Data: data})
}

func writeResponse(w http.ResponseWriter, requestID string, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set(RequestIDHeader, requestID)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// IsRetryable returns true if the error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}

	// External service errors are typically retryable
	if appErr.Category == CategoryExternal {
		return true
	}

	// Server errors may be retryable (except database conflicts, etc.)
	if appErr.Category == CategoryServer {
		return appErr.Code != CodeDatabaseError
	}

	return false
}

// IsClientError returns true if the error is a client error
func IsClientError(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Category == CategoryClient
}

// IsServerError returns true if the error is a server error
func IsServerError(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return true
	}
	return appErr.Category == CategoryServer
}

// IsExternalError returns true if the error is an external service error
func IsExternalError(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Category == CategoryExternal
}
