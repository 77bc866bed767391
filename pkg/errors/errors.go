// Package errors defines the typed errors handlers return and how each code
// surfaces over HTTP.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code is the stable machine-readable error identifier sent to clients.
type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeStateConflict     Code = "STATE_CONFLICT"
	CodeIdempotency       Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRefundUnsupported Code = "REFUND_UNSUPPORTED"
	CodeRateLimit         Code = "RATE_LIMITED"
	CodeGateway           Code = "GATEWAY_ERROR"
	CodeInternal          Code = "INTERNAL_ERROR"
	CodeDependency        Code = "DEPENDENCY_ERROR"
)

type policy struct {
	status      int
	retryable   bool
	fallback    string
	showMessage bool
	showDetails bool
}

// Client errors echo the handler's message; server errors only ever show the
// fallback text.
var policies = map[Code]policy{
	CodeValidation:        {status: http.StatusBadRequest, fallback: "validation failed", showMessage: true, showDetails: true},
	CodeUnauthorized:      {status: http.StatusUnauthorized, fallback: "authentication required", showMessage: true},
	CodeForbidden:         {status: http.StatusForbidden, fallback: "access denied", showMessage: true},
	CodeNotFound:          {status: http.StatusNotFound, fallback: "resource not found", showMessage: true},
	CodeConflict:          {status: http.StatusConflict, fallback: "conflict detected", showMessage: true},
	CodeStateConflict:     {status: http.StatusConflict, fallback: "state transition disallowed", showMessage: true, showDetails: true},
	CodeIdempotency:       {status: http.StatusConflict, fallback: "idempotency key reused", showMessage: true, showDetails: true},
	CodeRefundUnsupported: {status: http.StatusConflict, fallback: "refunds are not supported by the payment provider", showMessage: true},
	CodeRateLimit:         {status: http.StatusTooManyRequests, retryable: true, fallback: "too many requests", showDetails: true},
	CodeGateway:           {status: http.StatusBadGateway, retryable: true, fallback: "payment provider error"},
	CodeInternal:          {status: http.StatusInternalServerError, retryable: true, fallback: "internal server error"},
	CodeDependency:        {status: http.StatusServiceUnavailable, retryable: true, fallback: "dependency unavailable"},
}

func (c Code) policy() policy {
	if p, ok := policies[c]; ok {
		return p
	}
	return policies[CodeInternal]
}

// HTTPStatus is the response status for c. Unknown codes map to 500.
func (c Code) HTTPStatus() int { return c.policy().status }

// Retryable reports whether the same request may succeed later.
func (c Code) Retryable() bool { return c.policy().retryable }

// Error is a coded error with an optional cause and client-facing details.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// NotFound names the missing resource.
func NotFound(resource string) *Error {
	return New(CodeNotFound, resource+" not found")
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

// PublicMessage is the message safe to send to the client.
func (e *Error) PublicMessage() string {
	p := e.Code().policy()
	if p.showMessage && e.Message() != "" {
		return e.message
	}
	return p.fallback
}

// PublicDetails returns the details when the code allows exposing them.
func (e *Error) PublicDetails() any {
	if !e.Code().policy().showDetails {
		return nil
	}
	return e.Details()
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain.
func As(err error) *Error {
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether the outermost *Error in err's chain has code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// Coerce returns err as an *Error, wrapping untyped errors as internal.
func Coerce(err error) *Error {
	if typed := As(err); typed != nil {
		return typed
	}
	if err == nil {
		err = stdErrors.New("unknown error")
	}
	return Wrap(CodeInternal, err, "unexpected error")
}
