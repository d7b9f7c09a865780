// Package providers defines the OAuth provider interface and the normalized
// token type used by the rest of the relay.
//
// Implementations are provided in subpackages:
//   - providers/hh: hh.ru OAuth2 provider
//   - providers/mock: Mock provider for testing
//
// Provider implementations handle:
//   - Authorization code exchange
//   - Token refresh
//   - Normalizing token responses (token type and expiry defaults)
//   - Surfacing token-endpoint rejections as *UpstreamError
package providers
