package game

import (
	"errors"
	"fmt"
)

// Code is a machine-readable rejection code.
type Code string

const (
	CodeUnknown         Code = "unknown"
	CodeNotFound        Code = "not_found"
	CodeInvalidState    Code = "invalid_state"
	CodeNotAllowed      Code = "not_allowed"
	CodeInvalidInput    Code = "invalid_input"
	CodeUnknownMode     Code = "unknown_mode"
	CodeModeUnavailable Code = "mode_unavailable"
	CodeShuttingDown    Code = "shutting_down"
)

// Error is a rejected operation. Rejections never change the session.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// GetCode extracts the code from any error; CodeUnknown when err is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}
