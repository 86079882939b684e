package model

import (
	"fmt"
	"net/http"
)

// Code identifies a domain error class with a stable wire value.
type Code string

const (
	CodeBadRequest         Code = "BAD_REQUEST"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeInvalidToken       Code = "INVALID_TOKEN"
	CodeMissingProjectId   Code = "MISSING_PROJECT_ID"
	CodeMissingDeviceToken Code = "MISSING_DEVICE_TOKEN"
	CodeForbidden          Code = "FORBIDDEN"
	CodeProjectNotFound    Code = "PROJECT_NOT_FOUND"
	CodeValidationError    Code = "VALIDATION_ERROR"
	CodeProviderError      Code = "PROVIDER_ERROR"
	CodeTooManyRequests    Code = "TOO_MANY_REQUESTS"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeDatabaseError      Code = "DATABASE_ERROR"
)

// Error is a typed domain error carrying a stable code and optional
// structured details. It propagates unchanged to the HTTP boundary where it
// is serialized into the standard envelope.
type Error struct {
	Code    Code   `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	// Cause preserves the originating error for diagnostics. Omitted from
	// JSON to avoid leaking internals.
	Cause error `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// ErrorWithStatusCode pairs a domain error with the HTTP status it maps to.
type ErrorWithStatusCode struct {
	Error
	StatusCode int `json:"status_code"`
}

// NewError builds an ErrorWithStatusCode for the given code, inferring the
// HTTP status from the code's class.
func NewError(code Code, message string) *ErrorWithStatusCode {
	return &ErrorWithStatusCode{
		Error:      Error{Code: code, Message: message},
		StatusCode: statusFor(code),
	}
}

// WrapError is NewError with an underlying cause attached.
func WrapError(code Code, message string, cause error) *ErrorWithStatusCode {
	e := NewError(code, message)
	e.Cause = cause
	return e
}

// ProviderError builds the upstream-failure error surfaced after the
// forwarder gives up, carrying the retry count and target URL.
func ProviderError(message string, retries int, targetURL string, cause error) *ErrorWithStatusCode {
	return &ErrorWithStatusCode{
		Error: Error{
			Code:    CodeProviderError,
			Message: message,
			Details: map[string]any{"retries": retries, "url": targetURL},
			Cause:   cause,
		},
		StatusCode: http.StatusBadGateway,
	}
}

func statusFor(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidationError, CodeMissingProjectId:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeInvalidToken, CodeMissingDeviceToken:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeProjectNotFound:
		return http.StatusNotFound
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeProviderError:
		return http.StatusBadGateway
	case CodeDatabaseError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
