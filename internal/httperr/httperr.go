// Package httperr defines the gateway's error taxonomy and the JSON shape
// every handler uses to report failures.
package httperr

import (
	"encoding/json"
	"errors"
	"net/http"
)

type Code string

const (
	CodeMissingConfig Code = "missing_config"
	CodeUnauthorized  Code = "unauthorized"
	CodeBadRequest    Code = "bad_request"
	CodeNotFound      Code = "not_found"
	CodeRateLimited   Code = "rate_limited"
	CodeBadGateway    Code = "bad_gateway"
	CodeTimeout       Code = "upstream_timeout"
	CodeInternal      Code = "internal"
)

// Error carries a taxonomy code plus a client-facing message. The wrapped
// cause is for logs only and never reaches the response body.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.cause.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Status() int {
	switch e.Code {
	case CodeMissingConfig, CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeBadGateway:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func MissingConfig(message string) *Error {
	return &Error{Code: CodeMissingConfig, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorized, Message: message}
}

func BadRequest(message string) *Error {
	return &Error{Code: CodeBadRequest, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

func RateLimited(message string) *Error {
	return &Error{Code: CodeRateLimited, Message: message}
}

func BadGateway(message string, cause error) *Error {
	return &Error{Code: CodeBadGateway, Message: message, cause: cause}
}

func Timeout(message string, cause error) *Error {
	return &Error{Code: CodeTimeout, Message: message, cause: cause}
}

func Internal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", cause: cause}
}

type body struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Write renders err as the standard error body. Unknown error types are
// treated as internal so their messages never leak to clients.
func Write(w http.ResponseWriter, err error) {
	var he *Error
	if !errors.As(err, &he) {
		he = Internal(err)
	}

	var b body
	b.Error.Code = he.Code
	b.Error.Message = he.Message
	if he.Code == CodeInternal {
		b.Error.Message = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.Status())
	json.NewEncoder(w).Encode(b)
}
