// Package respond writes the JSON envelope used by every HTTP handler.
package respond

import (
	"encoding/json"
	"net/http"

	"go-realtime-chat/internal/apperr"
	"go-realtime-chat/internal/log"
)

type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON writes a successful envelope with the given status.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Response{Success: true, Data: data})
}

func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// Error classifies err and writes the matching error envelope.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	if status == http.StatusInternalServerError {
		l := log.Ctx(r.Context())
		l.Error().Err(err).Msg("request failed")
	}
	write(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    apperr.Code(err),
			Message: apperr.Message(err),
		},
	})
}

// Decode reads a JSON body into v, reporting malformed input as a validation error.
func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &decodeError{err: err}
	}
	return nil
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "invalid request body: " + e.err.Error() }
func (e *decodeError) Unwrap() []error {
	return []error{apperr.ErrValidation, e.err}
}

func write(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
