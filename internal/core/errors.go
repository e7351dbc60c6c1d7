// internal/core/errors.go
package core

import "fmt"

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Wrap keeps the code of base but replaces the message with msg, so
// callers can attach operation context ("failed to list directory").
func Wrap(base *Error, msg string, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: msg,
		Cause:   cause,
	}
}

// Errorf is Wrap without a cause and with a formatted message.
func Errorf(base *Error, format string, args ...any) *Error {
	return &Error{
		Code:    base.Code,
		Message: fmt.Sprintf(format, args...),
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// Predefined errors
var (
	// Client errors
	ErrConfiguration         = &Error{Code: "CONFIGURATION_ERROR", Message: "invalid connection configuration"}
	ErrConnection            = &Error{Code: "CONNECTION_ERROR", Message: "connection failed"}
	ErrNotConnected          = &Error{Code: "NOT_CONNECTED", Message: "client not connected"}
	ErrRequest               = &Error{Code: "REQUEST_ERROR", Message: "request failed"}
	ErrUnsupportedCapability = &Error{Code: "UNSUPPORTED_CAPABILITY", Message: "operation not supported by this client"}

	// Backend errors
	ErrNotFound          = &Error{Code: "NOT_FOUND", Message: "object not found"}
	ErrPermissionDenied  = &Error{Code: "PERMISSION_DENIED", Message: "access denied"}
	ErrUnsupportedFormat = &Error{Code: "UNSUPPORTED_FORMAT", Message: "unsupported archive format"}

	// Config errors
	ErrConfigInvalid = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}
)
