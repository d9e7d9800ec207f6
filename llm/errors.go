package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorClass tags a gateway error with its failure mode.
type ErrorClass string

// Gateway error classes.
const (
	ErrClassAuthentication ErrorClass = "authentication"
	ErrClassRateLimit      ErrorClass = "rate_limit"
	ErrClassInvalidRequest ErrorClass = "invalid_request"
	ErrClassModelNotFound  ErrorClass = "model_not_found"
	ErrClassTimeout        ErrorClass = "timeout"
	ErrClassNetwork        ErrorClass = "network"
	ErrClassContentFilter  ErrorClass = "content_filter"
	ErrClassProvider       ErrorClass = "provider_error"
)

// Error is a classified gateway error. The retry loop inspects Retriable()
// instead of using error types for control flow.
type Error struct {
	Class    ErrorClass
	Provider string
	Err      error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Class, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Retriable reports whether the same provider may be retried.
// Authentication, invalid_request and model_not_found failures will not
// improve on retry and cause immediate fallthrough to the next provider.
func (e *Error) Retriable() bool {
	switch e.Class {
	case ErrClassAuthentication, ErrClassInvalidRequest, ErrClassModelNotFound:
		return false
	}
	return true
}

// AsError extracts a gateway *Error from err, or wraps err as a
// provider_error.
func AsError(err error, provider string) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return &Error{Class: ErrClassProvider, Provider: provider, Err: err}
}

// classifyHTTPError maps an HTTP failure status to an error class.
func classifyHTTPError(provider string, statusCode int, body []byte) *Error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}
	err := fmt.Errorf("status %d: %s", statusCode, bodyStr)

	var class ErrorClass
	switch {
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		class = ErrClassAuthentication
	case statusCode == http.StatusTooManyRequests:
		class = ErrClassRateLimit
	case statusCode == http.StatusNotFound && strings.Contains(bodyStr, "model"):
		class = ErrClassModelNotFound
	case statusCode == http.StatusBadRequest:
		if strings.Contains(strings.ToLower(bodyStr), "content_filter") ||
			strings.Contains(strings.ToLower(bodyStr), "content filtering") {
			class = ErrClassContentFilter
		} else {
			class = ErrClassInvalidRequest
		}
	case statusCode >= 500:
		class = ErrClassProvider
	default:
		class = ErrClassInvalidRequest
	}
	return &Error{Class: class, Provider: provider, Err: err}
}

// classifyTransportError maps a transport failure to timeout or network.
func classifyTransportError(provider string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Class: ErrClassTimeout, Provider: provider, Err: err}
	}
	return &Error{Class: ErrClassNetwork, Provider: provider, Err: err}
}
