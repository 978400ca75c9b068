package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	// ErrorTypeTransport covers connection failures, timeouts, non-2xx
	// statuses and bodies that are not valid JSON.
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeAPI is an error envelope returned by the remote API.
	ErrorTypeAPI ErrorType = "api"
	// ErrorTypeMalformed is a success envelope without the expected payload.
	ErrorTypeMalformed      ErrorType = "malformed"
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	ErrorTypeConfig         ErrorType = "config"
	ErrorTypeStorage        ErrorType = "storage"
	ErrorTypeUnknown        ErrorType = "unknown"
)

// Error is a typed error carrying an optional code and cause
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error", e.Type)
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a typed error
func New(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// Wrap creates a typed error around cause
func Wrap(t ErrorType, cause error, message string) *Error {
	return &Error{Type: t, Message: message, Err: cause}
}

// TypeOf returns the ErrorType of the first typed error in err's chain
func TypeOf(err error) ErrorType {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err's chain holds a typed error of type t
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// IsRetryable checks if an error type may succeed on a later attempt
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeTransport, ErrorTypeMalformed, ErrorTypeStorage:
		return true
	default:
		return false
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0:
		return true
	case 429:
		return true
	case 401, 403, 404:
		return false
	default:
		return statusCode >= 500
	}
}
