package api

import (
	"fmt"
	"net/url"
)

// ErrorType categorizes backend errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrBackend        ErrorType = "backend_error"
	ErrOverloaded     ErrorType = "overloaded_error"
)

// Error represents a backend API error with an HTTP status attached.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Code       string    `json:"code,omitempty"`
	StatusCode int       `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// errorTypeForStatus maps an HTTP status to the canonical type when the
// body carries no usable error payload.
func errorTypeForStatus(status int) ErrorType {
	switch status {
	case 400, 422:
		return ErrInvalidRequest
	case 401, 403:
		return ErrAuthentication
	case 404:
		return ErrNotFound
	case 429:
		return ErrRateLimit
	case 503:
		return ErrOverloaded
	default:
		return ErrBackend
	}
}

// TransportError represents transport-level failures (DNS, timeouts,
// connection reset, TLS handshake) while talking to the backend.
//
// Use errors.As(err, &transportErr) to distinguish transport failures
// from canonical API errors (*Error).
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLUserInfo(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func redactURLUserInfo(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}
