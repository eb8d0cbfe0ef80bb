package hdclient

import (
	"errors"
	"fmt"
	"net/http"
)

// NetworkError is a transport failure: connection refused, DNS, reset.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: network error: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response that has no more specific mapping.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// ValidationError is a required field missing before any request was sent,
// or a 400 from the backend.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConflictError means the backend refused a booking because the slot is
// already taken. Message is the backend's text, verbatim.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// NotFoundError means the cancellation target does not exist.
type NotFoundError struct {
	ID      string
	Message string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("appointment %s not found", e.ID)
}

// IsNotFound reports whether err is, or wraps, a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is, or wraps, a *ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func statusError(status int, msg, id string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch status {
	case http.StatusConflict:
		return &ConflictError{Message: msg}
	case http.StatusNotFound:
		return &NotFoundError{ID: id, Message: msg}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &ValidationError{Message: msg}
	default:
		return &HTTPError{Status: status, Message: msg}
	}
}
