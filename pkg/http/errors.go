package http

import (
	"errors"
	"fmt"
	"net/http"

	"PatternScan/internal/domain/errs"
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
		Params:  make(map[string]interface{}),
	}
}

// WithParams sets error params.
func (e *AppError) WithParams(params map[string]interface{}) *AppError {
	e.Params = params
	return e
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
	return NewAppError("ERR_NOT_FOUND", "", message, http.StatusNotFound)
}

// NotFoundErrorf creates a 404 error with formatting.
func NotFoundErrorf(format string, a ...interface{}) *AppError {
	return NotFoundError(fmt.Sprintf(format, a...))
}

// BadRequestError creates a 400 error.
func BadRequestError(message string) *AppError {
	return NewAppError("ERR_BAD_REQUEST", "", message, http.StatusBadRequest)
}

// BadRequestErrorf creates a 400 error with formatting.
func BadRequestErrorf(format string, a ...interface{}) *AppError {
	return BadRequestError(fmt.Sprintf(format, a...))
}

// InternalError creates a 500 error.
func InternalError(message string) *AppError {
	return NewAppError("ERR_INTERNAL", "", message, http.StatusInternalServerError)
}

// InternalErrorf creates a 500 error with formatting.
func InternalErrorf(format string, a ...interface{}) *AppError {
	return InternalError(fmt.Sprintf(format, a...))
}

// FromError maps an engine error to an AppError carrying its code and
// params. Errors of no known kind become a bare 500.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	status := statusOf(errs.KindOf(err))
	if status == http.StatusInternalServerError {
		return InternalError("internal error").WithError(err)
	}
	out := NewAppError(errs.Code(err), "", err.Error(), status).WithError(err)
	var ee *errs.Error
	if errors.As(err, &ee) {
		out.Message = ee.Kind.Error()
		if ee.Message != "" {
			out.Message += ": " + ee.Message
		}
		for k, v := range ee.Params {
			out.WithParam(k, v)
		}
	}
	return out
}

func statusOf(kind error) int {
	switch kind {
	case errs.ErrInvalidSequence, errs.ErrInvalidWindow, errs.ErrDegenerateWindow, errs.ErrConfiguration:
		return http.StatusBadRequest
	case errs.ErrNotFound:
		return http.StatusNotFound
	case errs.ErrDuplicateID, errs.ErrIndexStale:
		return http.StatusConflict
	case errs.ErrEmptyLibrary, errs.ErrInsufficientNeighbors:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
