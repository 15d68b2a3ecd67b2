package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the closed set of failure classes callers can branch on.
// Values double as metric labels.
type Kind string

const (
	KindNetwork       Kind = "network"
	KindAuthorization Kind = "authorization"
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindUnknown       Kind = "unknown"
)

var (
	ErrNetwork      = errors.New("network failure")
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrUnknown      = errors.New("request failed")
)

// Error is returned by every Client operation. Message is the best-effort
// human-readable text; Status is 0 when no response arrived.
type Error struct {
	Op      string
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "skywatch client error"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e's Kind, so errors.Is(err, ErrNotFound) works
// without unwrapping to a transport error.
func (e *Error) Is(target error) bool {
	return target == sentinel(e.Kind)
}

func sentinel(k Kind) error {
	switch k {
	case KindNetwork:
		return ErrNetwork
	case KindAuthorization:
		return ErrUnauthorized
	case KindValidation:
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	default:
		return ErrUnknown
	}
}

// KindOf returns the Kind of err, KindUnknown for foreign errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// kindForStatus classifies a non-2xx response status.
func kindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuthorization
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusNotFound:
		return KindNotFound
	default:
		return KindUnknown
	}
}

// errorMessage extracts a message from a JSON error body. It accepts
// {"message": "..."}, {"message": ["...", "..."]}, {"error": "..."} and
// {"error": {"message": "..."}}; anything else yields a generic message
// carrying the status code.
func errorMessage(body []byte, status int) string {
	var payload struct {
		Message json.RawMessage `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := rawMessage(payload.Message); msg != "" {
			return msg
		}
		var nested struct {
			Message json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal(payload.Error, &nested); err == nil {
			if msg := rawMessage(nested.Message); msg != "" {
				return msg
			}
		}
		if msg := rawMessage(payload.Error); msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("Request failed: %d", status)
}

func rawMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	return ""
}

// statusLabel buckets a response status for metrics.
func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
