package relay

import (
	"fmt"
	"net/http"
)

// Relay error codes as constants
const (
	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeUnauthorized   = "unauthorized"
	ErrorCodeNotFound       = "not_found"
	ErrorCodeUpstreamError  = "upstream_error"
	ErrorCodeServerError    = "server_error"
)

// RelayError represents an error response from the relay's HTTP surface
type RelayError struct {
	Code        string // Error code (e.g., "invalid_request", "upstream_error")
	Description string // Human-readable error description
	Status      int    // HTTP status code
}

// Error implements the error interface
func (e *RelayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewRelayError creates a new relay error
func NewRelayError(code, description string, status int) *RelayError {
	return &RelayError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common relay errors as reusable constructors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *RelayError {
		return NewRelayError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
	}

	// ErrUnauthorized indicates a missing or mismatched admin token or bot secret
	ErrUnauthorized = func(desc string) *RelayError {
		return NewRelayError(ErrorCodeUnauthorized, desc, http.StatusUnauthorized)
	}

	// ErrNotFound indicates the requested state has no matching record or entry
	ErrNotFound = func(desc string) *RelayError {
		return NewRelayError(ErrorCodeNotFound, desc, http.StatusNotFound)
	}

	// ErrUpstream indicates the identity provider rejected or failed an exchange
	ErrUpstream = func(desc string) *RelayError {
		return NewRelayError(ErrorCodeUpstreamError, desc, http.StatusBadGateway)
	}

	// ErrServer indicates an internal failure, including persistence errors
	ErrServer = func(desc string) *RelayError {
		return NewRelayError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)
