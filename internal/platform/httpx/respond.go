// Package httpx provides the uniform JSON result envelope used by every endpoint.
package httpx

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/render"
)

// ErrorBody is the machine-checkable part of a failed result.
type ErrorBody struct {
	Kind   string            `json:"kind"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Result is the envelope returned by all operations.
type Result struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
	Status  int        `json:"status"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	render.Status(r, status)
	render.JSON(w, r, data)
}

// OK sends a successful result.
func OK(w http.ResponseWriter, r *http.Request, status int, message string, data any) {
	JSON(w, r, status, Result{Success: true, Message: message, Data: data, Status: status})
}

// Fail sends a failed result.
func Fail(w http.ResponseWriter, r *http.Request, status int, message string, body *ErrorBody) {
	JSON(w, r, status, Result{Success: false, Message: message, Error: body, Status: status})
}

// DecodeJSON decodes JSON request body into the target struct.
func DecodeJSON(r *http.Request, target any) error {
	return render.DecodeJSON(r.Body, target)
}

// DecodeOptionalJSON is DecodeJSON that accepts an empty body.
func DecodeOptionalJSON(r *http.Request, target any) error {
	err := DecodeJSON(r, target)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
