package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Client-side failures raised before any network call.
var (
	// ErrValidation marks input rejected before it was sent.
	ErrValidation = errors.New("invalid input")
	// ErrPasswordMismatch is returned when a password and its confirmation differ.
	ErrPasswordMismatch = fmt.Errorf("%w: passwords do not match", ErrValidation)
	// ErrNotLoggedIn is returned by operations that need a session when there is none.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrOTPAlreadySent maps the 409 the server returns when a reset code is still valid.
	ErrOTPAlreadySent = errors.New("a reset code was already sent to this email")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Error represents a non-2xx API response.
type Error struct {
	// StatusCode is the HTTP status code.
	StatusCode int `json:"-"`
	// Code is the error code when the server sends one.
	Code string `json:"code"`
	// Message is the human-readable message the server sent.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports a 401.
func (e *Error) IsUnauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

// IsForbidden reports a 403.
func (e *Error) IsForbidden() bool { return e.StatusCode == http.StatusForbidden }

// IsConflict reports a 409.
func (e *Error) IsConflict() bool { return e.StatusCode == http.StatusConflict }

// IsNotFound reports a 404.
func (e *Error) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

// AsError unwraps err to an *Error if it carries one.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	if apiErr, ok := AsError(err); ok {
		return apiErr.StatusCode
	}
	return 0
}

// MessageOf returns the server message carried by err, falling back to fallback.
func MessageOf(err error, fallback string) string {
	if apiErr, ok := AsError(err); ok && strings.TrimSpace(apiErr.Message) != "" {
		return apiErr.Message
	}
	return fallback
}

// parseError decodes the error body. The API answers with {"message": ...},
// sometimes {"error": ...} or {"error": {"code","message"}}.
func parseError(statusCode int, body []byte) *Error {
	var nested struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.Error.Message != "" {
		return &Error{StatusCode: statusCode, Code: nested.Error.Code, Message: nested.Error.Message}
	}

	var simple struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &simple); err == nil {
		msg := simple.Message
		if msg == "" {
			msg = simple.Error
		}
		if msg != "" {
			return &Error{StatusCode: statusCode, Code: simple.Code, Message: msg}
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(statusCode)
	}
	return &Error{StatusCode: statusCode, Message: msg}
}
