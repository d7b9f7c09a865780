// Package providers defines the interface to the OAuth identity provider and the
// normalized token shape returned by code exchange and refresh operations.
package providers

import (
	"context"
	"fmt"
)

// Provider defines the interface for the OAuth identity provider.
// Implementations perform the two token-endpoint exchanges and normalize
// their responses into a Token.
type Provider interface {
	// Name returns the provider name (e.g., "hh", "mock")
	Name() string

	// ExchangeCode exchanges an authorization code for tokens
	ExchangeCode(ctx context.Context, code string) (*Token, error)

	// Refresh obtains a new access token using a refresh token
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
}

// Token is the normalized result of a token-endpoint exchange.
// ExpiresAt is always populated: providers that omit expires_in get a
// default window applied during normalization.
type Token struct {
	// AccessToken is the opaque access token
	AccessToken string

	// TokenType is the token type, "Bearer" if the provider omitted it
	TokenType string

	// RefreshToken is the refresh token; empty if the provider did not return one
	RefreshToken string

	// ExpiresIn is the provider-reported lifetime in seconds
	ExpiresIn int64

	// ExpiresAt is the absolute expiry as a Unix timestamp, computed at
	// exchange time from ExpiresIn
	ExpiresAt int64
}

// UpstreamError represents a non-success response from the provider's
// token endpoint. The status and body are preserved for the caller.
type UpstreamError struct {
	// StatusCode is the HTTP status returned by the token endpoint
	StatusCode int

	// Body is the raw response body, useful for diagnosing provider rejections
	Body string
}

// Error implements the error interface
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("token endpoint returned status %d: %s", e.StatusCode, e.Body)
}
