package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classification, matching what the rest of the engine keys retry and
// surfacing decisions on.
const (
	TypeNetwork = "NETWORK_ERROR" // server unreachable, timeout, connection reset
	TypeServer  = "SERVER_ERROR"  // HTTP 5xx
	TypeClient  = "CLIENT_ERROR"  // HTTP 4xx other than 401/403
	TypeAuth    = "AUTH_ERROR"    // HTTP 401/403
)

// Error is the classified error every transport call returns on failure.
// StatusCode is 0 for network-class failures. Code carries the remote
// service's machine-readable error code when the response body had one.
type Error struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.Type, e.StatusCode, e.Message)
}

// classify maps an HTTP status to an error type.
func classify(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return TypeAuth
	case status >= 500:
		return TypeServer
	default:
		return TypeClient
	}
}

// IsNetwork reports whether err is a network-class transport error.
func IsNetwork(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Type == TypeNetwork
}

// IsServer reports whether err is an HTTP 5xx transport error.
func IsServer(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Type == TypeServer
}

// IsRetryable is the default retry predicate: transient network failures and
// server-side 5xx responses. 4xx responses are never retryable here; callers
// with idempotency keys attached may widen this themselves.
func IsRetryable(err error) bool {
	return IsNetwork(err) || IsServer(err)
}

// ErrorCode extracts the remote error code from err, or "" if err is not a
// transport error or carried no code.
func ErrorCode(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}
