// Package apperr is the error taxonomy shared by the booking saga and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidState      Code = "INVALID_STATE"
	CodeConflict          Code = "CONFLICT"
	CodeForbidden         Code = "FORBIDDEN"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeUpstream          Code = "UPSTREAM_ERROR"
	CodeInternal          Code = "INTERNAL_ERROR"
)

type Error struct {
	Code       Code           `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

func Validation(message string, details map[string]any) *Error {
	return &Error{Code: CodeValidation, Message: message, HTTPStatus: http.StatusBadRequest, Details: details}
}

func NotFound(resource string, id int64) *Error {
	return &Error{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"resource": resource, "id": id},
	}
}

// InvalidState reports a status precondition failure; required lists the
// statuses that would have been accepted.
func InvalidState(message string, required []string, actual string) *Error {
	return &Error{
		Code:       CodeInvalidState,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Details:    map[string]any{"required": required, "actual": actual},
	}
}

func Conflict(message string) *Error {
	return &Error{Code: CodeConflict, Message: message, HTTPStatus: http.StatusConflict}
}

func Forbidden(message string) *Error {
	return &Error{Code: CodeForbidden, Message: message, HTTPStatus: http.StatusForbidden}
}

func InsufficientFunds(balance, price string) *Error {
	return &Error{
		Code:       CodeInsufficientFunds,
		Message:    "insufficient balance",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"balance": balance, "required": price},
	}
}

func Upstream(message string, err error) *Error {
	return &Error{Code: CodeUpstream, Message: message, HTTPStatus: http.StatusBadGateway, Err: err}
}

func Internal(message string, err error) *Error {
	return &Error{Code: CodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}

// As returns err as an *Error, wrapping anything unknown as INTERNAL_ERROR.
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("an unexpected error occurred", err)
}

func Is(err error, code Code) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
