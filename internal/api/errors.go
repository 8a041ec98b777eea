package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Error is a non-2xx response from the backend.
type Error struct {
	StatusCode int
	Method     string
	Path       string
	// Message is the backend's "error" field, if it sent one.
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// NetworkError wraps a transport failure where no response was received.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func newError(req *http.Request, resp *http.Response) *Error {
	apiErr := &Error{
		StatusCode: resp.StatusCode,
		Method:     req.Method,
		Path:       req.URL.Path,
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		apiErr.Message = payload.Error
		if apiErr.Message == "" {
			apiErr.Message = payload.Message
		}
	}
	return apiErr
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsUnauthorized reports whether err is a 401 response.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// Message translates err into the short human-readable text shown to users.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	var netErr *NetworkError
	switch {
	case errors.As(err, &apiErr):
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized:
			if apiErr.Message != "" {
				return "Authentication required: " + apiErr.Message
			}
			return "Authentication required. Please log in."
		case apiErr.StatusCode == http.StatusRequestEntityTooLarge:
			return "File too large. Maximum size is 16MB."
		case apiErr.StatusCode >= 500:
			return "Server error. Please try again later."
		case apiErr.Message != "":
			return apiErr.Message
		default:
			return "An error occurred"
		}
	case errors.As(err, &netErr):
		return "Network error. Please check your connection."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Request cancelled."
	default:
		msg := err.Error()
		if msg == "" {
			return "Request failed. Please try again."
		}
		return strings.ToUpper(msg[:1]) + msg[1:]
	}
}
