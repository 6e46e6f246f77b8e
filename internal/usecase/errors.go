package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrorInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrorInvalidQuestion ErrorCode = "INVALID_QUESTION"
	ErrorNotFound        ErrorCode = "NOT_FOUND"
	ErrorRateLimited     ErrorCode = "RATE_LIMITED"
	ErrorUpstream        ErrorCode = "UPSTREAM_ERROR"
	ErrorRetrievalFailed ErrorCode = "RETRIEVAL_FAILED"
	ErrorInternal        ErrorCode = "INTERNAL_ERROR"
)

// Error is returned by every service operation. Reason is a stable
// snake_case tag for logs; Message, when set, is safe to show to callers.
type Error struct {
	Code    ErrorCode
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

func newPublicError(code ErrorCode, reason, message string, err error) *Error {
	return &Error{Code: code, Reason: reason, Message: message, Err: err}
}

// HTTPStatus maps err to the status an endpoint should answer with.
// Anything that is not an *Error is a 500.
func HTTPStatus(err error) int {
	var uerr *Error
	if !errors.As(err, &uerr) {
		return http.StatusInternalServerError
	}
	switch uerr.Code {
	case ErrorInvalidInput, ErrorInvalidQuestion:
		return http.StatusBadRequest
	case ErrorNotFound:
		return http.StatusNotFound
	case ErrorRateLimited:
		return http.StatusTooManyRequests
	case ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text placed in an error response body.
func PublicMessage(err error) string {
	var uerr *Error
	if !errors.As(err, &uerr) {
		return "Internal server error"
	}
	if uerr.Message != "" {
		return uerr.Message
	}
	switch uerr.Code {
	case ErrorInvalidInput:
		return "Invalid request"
	case ErrorInvalidQuestion:
		return "This question cannot be answered"
	case ErrorNotFound:
		return "Not found"
	case ErrorRateLimited:
		return "Too many requests, please retry shortly"
	case ErrorUpstream:
		return "The language model service is unavailable"
	case ErrorRetrievalFailed:
		return "Failed to retrieve data"
	default:
		return "Internal server error"
	}
}

// Code returns the machine-readable code for err.
func Code(err error) ErrorCode {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr.Code
	}
	return ErrorInternal
}
