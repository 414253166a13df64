package services

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable, client-facing identifier of a failure class.
type ErrorCode string

const (
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeConflict        ErrorCode = "CONFLICT"
	CodeValidation      ErrorCode = "VALIDATION_ERROR"
	CodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	CodeForbidden       ErrorCode = "FORBIDDEN"
	CodeInvalidState    ErrorCode = "INVALID_STATE"
	CodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// ServiceError is a domain failure the API layer can map to a status code.
type ServiceError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches any ServiceError carrying the same code, so the sentinels below
// work with errors.Is.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	return ok && t.Code == e.Code && t.Message == ""
}

var (
	ErrNotFound        = &ServiceError{Code: CodeNotFound}
	ErrConflict        = &ServiceError{Code: CodeConflict}
	ErrValidation      = &ServiceError{Code: CodeValidation}
	ErrUnauthorized    = &ServiceError{Code: CodeUnauthorized}
	ErrForbidden       = &ServiceError{Code: CodeForbidden}
	ErrInvalidState    = &ServiceError{Code: CodeInvalidState}
	ErrExternalService = &ServiceError{Code: CodeExternalService}
)

func NewNotFoundError(format string, args ...interface{}) error {
	return &ServiceError{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewConflictError(format string, args ...interface{}) error {
	return &ServiceError{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

func NewValidationError(format string, args ...interface{}) error {
	return &ServiceError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func NewUnauthorizedError(format string, args ...interface{}) error {
	return &ServiceError{Code: CodeUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func NewForbiddenError(format string, args ...interface{}) error {
	return &ServiceError{Code: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}

func NewInvalidStateError(format string, args ...interface{}) error {
	return &ServiceError{Code: CodeInvalidState, Message: fmt.Sprintf(format, args...)}
}

// NewExternalServiceError wraps a failure of a third-party call.
func NewExternalServiceError(err error, format string, args ...interface{}) error {
	return &ServiceError{Code: CodeExternalService, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the first ServiceError in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return "", false
}
