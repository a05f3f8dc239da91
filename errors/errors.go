// Package errors carries the coded errors returned across the chunk store,
// the reflow engine and the HTTP layer.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrTypeValidation ErrorType = "validation"
	ErrTypeNotFound   ErrorType = "not_found"
	ErrTypeConflict   ErrorType = "conflict"
	ErrTypeDatabase   ErrorType = "database"
	ErrTypeExternal   ErrorType = "external_service"
	ErrTypeInternal   ErrorType = "internal"
)

var statusByType = map[ErrorType]int{
	ErrTypeValidation: http.StatusBadRequest,
	ErrTypeNotFound:   http.StatusNotFound,
	ErrTypeConflict:   http.StatusConflict,
	ErrTypeDatabase:   http.StatusInternalServerError,
	ErrTypeExternal:   http.StatusBadGateway,
	ErrTypeInternal:   http.StatusInternalServerError,
}

const (
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeMissingField        = "MISSING_FIELD"
	ErrCodeRegionNameInvalid   = "REGION_NAME_INVALID"
	ErrCodeRegionNotConfigured = "REGION_NOT_CONFIGURED"
	ErrCodeKindNotAllowed      = "KIND_NOT_ALLOWED"
	ErrCodeUnknownKind         = "UNKNOWN_KIND"
	ErrCodeInvalidPayload      = "INVALID_PAYLOAD"

	ErrCodeChunkNotFound         = "CHUNK_NOT_FOUND"
	ErrCodeTemplateNotConfigured = "TEMPLATE_NOT_CONFIGURED"
	ErrCodeLimitReached          = "LIMIT_REACHED"

	ErrCodeDatabaseConnection   = "DATABASE_CONNECTION_FAILED"
	ErrCodeDatabaseQuery        = "DATABASE_QUERY_FAILED"
	ErrCodeSerializationFailure = "SERIALIZATION_FAILURE"

	ErrCodeConfigurationError = "CONFIGURATION_ERROR"
	ErrCodeProcessingError    = "PROCESSING_ERROR"
	ErrCodeRenderFailed       = "RENDER_FAILED"

	ErrCodePublishFailed = "PUBLISH_FAILED"
)

// AppError is a coded error. Code is stable and machine readable, Message is
// meant for the operator.
type AppError struct {
	Type       ErrorType `json:"type"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	Cause      error     `json:"-"`
	StatusCode int       `json:"-"`
	Retryable  bool      `json:"-"`
}

func newError(errType ErrorType, code, message string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Code:       code,
		Message:    message,
		Cause:      cause,
		StatusCode: statusByType[errType],
	}
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) IsRetryable() bool {
	return e.Retryable
}

// GetHTTPStatusCode prefers an explicit StatusCode and falls back to the
// status of the error type.
func (e *AppError) GetHTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	if status, ok := statusByType[e.Type]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func NewValidationError(code, message string, cause error) *AppError {
	return newError(ErrTypeValidation, code, message, cause)
}

func NewNotFoundError(code, message string, cause error) *AppError {
	return newError(ErrTypeNotFound, code, message, cause)
}

func NewConflictError(code, message string, cause error) *AppError {
	return newError(ErrTypeConflict, code, message, cause)
}

// NewDatabaseError is not retried; see NewSerializationError for the
// transient case.
func NewDatabaseError(code, message string, cause error) *AppError {
	return newError(ErrTypeDatabase, code, message, cause)
}

// NewSerializationError marks a transaction that lost a serialization race or
// a deadlock. It is retried and surfaces as a conflict.
func NewSerializationError(message string, cause error) *AppError {
	err := newError(ErrTypeDatabase, ErrCodeSerializationFailure, message, cause)
	err.StatusCode = http.StatusConflict
	err.Retryable = true
	return err
}

func NewExternalServiceError(code, message string, cause error) *AppError {
	err := newError(ErrTypeExternal, code, message, cause)
	err.Retryable = true
	return err
}

func NewInternalError(code, message string, cause error) *AppError {
	return newError(ErrTypeInternal, code, message, cause)
}

// AsAppError returns the first AppError in the chain of err.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func HasCode(err error, code string) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// IsRetryable is false for cancellation anywhere in the chain, even when an
// AppError wrapping it is marked retryable.
func IsRetryable(err error) bool {
	if err == nil || stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	appErr, ok := AsAppError(err)
	return ok && appErr.Retryable
}
