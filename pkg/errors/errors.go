package errors

import (
	"errors"
	"net/http"
)

// Code is the machine-readable RFC 6749 error identifier carried on the
// wire in the "error" field of a protocol error response.
type Code string

const (
	CodeUnsupportedGrantType Code = "unsupported_grant_type"
	CodeInvalidRequest       Code = "invalid_request"
	CodeInvalidClient        Code = "invalid_client"
	CodeInvalidGrant         Code = "invalid_grant"
	CodeInvalidScope         Code = "invalid_scope"
	CodeServerError          Code = "server_error"
)

var statusByCode = map[Code]int{
	CodeUnsupportedGrantType: http.StatusBadRequest,
	CodeInvalidRequest:       http.StatusBadRequest,
	CodeInvalidClient:        http.StatusUnauthorized,
	CodeInvalidGrant:         http.StatusBadRequest,
	CodeInvalidScope:         http.StatusBadRequest,
	CodeServerError:          http.StatusInternalServerError,
}

// StatusForCode returns the HTTP status a protocol error of the given code
// maps to. Unknown codes map to 500.
func StatusForCode(code Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type Error struct {
	Code   Code
	Status int
	Hint   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Hint != "" {
		return string(e.Code) + ": " + e.Hint
	}

	if e.Err != nil {
		return string(e.Code) + ": " + e.Err.Error()
	}

	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, hint string) *Error {
	return &Error{
		Code:   code,
		Status: StatusForCode(code),
		Hint:   hint,
	}
}

func Wrap(code Code, hint string, err error) *Error {
	return &Error{
		Code:   code,
		Status: StatusForCode(code),
		Hint:   hint,
		Err:    err,
	}
}

func UnsupportedGrantType() *Error {
	return New(CodeUnsupportedGrantType, "the authorization grant type is not supported by the authorization server")
}

func InvalidRequest(hint string) *Error {
	return New(CodeInvalidRequest, hint)
}

func InvalidClient(hint string) *Error {
	return New(CodeInvalidClient, hint)
}

func InvalidGrant(hint string) *Error {
	return New(CodeInvalidGrant, hint)
}

func InvalidScope(hint string) *Error {
	return New(CodeInvalidScope, hint)
}

func ServerError(err error) *Error {
	return Wrap(CodeServerError, "the authorization server encountered an unexpected condition", err)
}

func IsCode(err error, code Code) bool {
	var typed *Error
	if !errors.As(err, &typed) {
		return false
	}
	return typed.Code == code
}

// StatusOf resolves the HTTP status for any error: typed protocol errors
// carry their own status, everything else is treated as a server error.
func StatusOf(err error) int {
	var typed *Error
	if errors.As(err, &typed) && typed.Status != 0 {
		return typed.Status
	}
	return http.StatusInternalServerError
}
