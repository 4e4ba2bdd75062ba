package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"covbench/domain/core"
)

// Code classifies a failure for logs, API responses and exit handling.
type Code string

const (
	CodeConfigInvalid    Code = "CONFIG_INVALID"
	CodeNumericalFailure Code = "NUMERICAL_FAILURE"
	CodeDataInvalid      Code = "DATA_INVALID"
	CodeDatabaseError    Code = "DATABASE_ERROR"
	CodeNotFound         Code = "NOT_FOUND"
	CodeInternalError    Code = "INTERNAL_ERROR"
	CodeTimeout          Code = "TIMEOUT"
	CodeUnknown          Code = "UNKNOWN"
)

// AppError represents a structured application error
type AppError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap adds context to err. The code of the nearest AppError in the chain is
// kept; plain errors become INTERNAL_ERROR.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	code := CodeInternalError
	if appErr, ok := As(err); ok {
		code = appErr.Code
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode sets the code of err without changing its message.
func WithCode(code Code, err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{Code: code, Message: appErr.Message, Cause: appErr.Cause}
	}
	return &AppError{Code: code, Message: err.Error(), Cause: err}
}

// As finds the nearest AppError in the chain of err.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the code of the nearest AppError in the chain, or UNKNOWN.
func GetCode(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeUnknown
}

func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func DataInvalid(message string) *AppError {
	return New(CodeDataInvalid, message)
}

func DatabaseError(message string) *AppError {
	return New(CodeDatabaseError, message)
}

func Timeout(message string, cause error) *AppError {
	return &AppError{Code: CodeTimeout, Message: message, Cause: cause}
}

// Classify maps an error onto a code. Explicit codes win over the domain
// sentinels found further down the chain, except INTERNAL_ERROR which only
// means nobody classified the cause.
func Classify(err error) Code {
	switch appErr, ok := As(err); {
	case err == nil:
		return ""
	case ok && appErr.Code != CodeInternalError:
		return appErr.Code
	case stderrors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case core.IsConfigurationError(err):
		return CodeConfigInvalid
	case core.IsNumericalError(err):
		return CodeNumericalFailure
	case core.IsShapeError(err):
		return CodeDataInvalid
	case core.IsNotFoundError(err):
		return CodeNotFound
	}
	return CodeInternalError
}

// HTTPStatus is the response status for an error of the given code.
func HTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConfigInvalid, CodeDataInvalid:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
