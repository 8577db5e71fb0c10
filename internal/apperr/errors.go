// Package apperr defines the error kinds shared by the chat backend and
// their mapping onto HTTP statuses and wire error codes.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrAuth: missing or invalid credential token.
	ErrAuth = errors.New("authentication failed")
	// ErrAuthorization: authenticated, but not allowed to act on the target.
	ErrAuthorization = errors.New("not authorized")
	ErrNotFound      = errors.New("not found")
	ErrValidation    = errors.New("validation failed")
	// ErrPersistence: a store write failed; the operation was aborted.
	ErrPersistence = errors.New("persistence failed")
	// ErrDelivery: a live push to one recipient failed. Never fatal.
	ErrDelivery = errors.New("delivery failed")
	ErrConflict = errors.New("conflict")
)

const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeBadRequest   = "BAD_REQUEST"
	CodeConflict     = "CONFLICT"
	CodeInternal     = "INTERNAL_ERROR"
)

// Status maps err onto an HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Code maps err onto the wire error code sent to clients.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return CodeUnauthorized
	case errors.Is(err, ErrAuthorization):
		return CodeForbidden
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrValidation):
		return CodeBadRequest
	case errors.Is(err, ErrConflict):
		return CodeConflict
	default:
		return CodeInternal
	}
}

// Message returns text that is safe to show a client. Internal failures
// are collapsed so driver errors never leave the process.
func Message(err error) string {
	if Status(err) == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
