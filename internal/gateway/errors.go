// Package gateway defines the error taxonomy shared by the message pipeline
// and the HTTP boundary.
//
// Every failure a client can observe is a [*Error] with a stable [Code].
// The HTTP layer maps codes to status lines and renders the uniform error
// envelope; internal packages construct errors with the helpers here and
// never format HTTP-specific detail themselves.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the stable, client-visible error classification.
type Code string

const (
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodePaymentNeeded  Code = "PAYMENT_REQUIRED"
	CodeForbidden      Code = "FORBIDDEN"
	CodeNotFound       Code = "NOT_FOUND"
	CodeConflict       Code = "CONFLICT"
	CodeRateLimited    Code = "RATE_LIMITED"
	CodeInternal       Code = "INTERNAL_ERROR"
	CodeProvider       Code = "PROVIDER_ERROR"
	CodeProviderSchema Code = "PROVIDER_SCHEMA_ERROR"
	CodeTimeout        Code = "TIMEOUT_ERROR"
)

// HTTPStatus returns the HTTP status line for c. Unknown codes map to 500.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodePaymentNeeded:
		return http.StatusPaymentRequired
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeProvider, CodeProviderSchema:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// Error is the uniform failure type crossing the pipeline/HTTP boundary.
// Message is client-safe; wrapped causes stay internal.
type Error struct {
	Code    Code
	Message string

	// Details carries optional structured context included in the error
	// envelope (e.g. validation field names). Must be client-safe.
	Details map[string]any

	err error
}

// New creates an Error with a client-safe message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted client-safe message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an internal cause to a client-safe Error. The cause is
// reachable through errors.Unwrap but never rendered to clients.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, err: err}
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details map[string]any) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the internal cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.err }

// AsError extracts a [*Error] from err's chain. When err is not a gateway
// error, it returns a sanitized INTERNAL_ERROR wrapping err — the catch-all
// that keeps stack traces and raw provider bodies out of responses.
func AsError(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return Wrap(CodeInternal, "an internal error occurred", err)
}

// CodeOf returns the gateway code classified from err, applying the same
// catch-all as [AsError].
func CodeOf(err error) Code {
	return AsError(err).Code
}
