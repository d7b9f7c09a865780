package hh

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"hhrelay/providers"
)

// Compile-time check that Provider implements the providers.Provider interface.
var _ providers.Provider = (*Provider)(nil)

// providerName is the name returned by Provider.Name().
const providerName = "hh"

const (
	// DefaultTokenURL is the hh.ru OAuth token endpoint.
	DefaultTokenURL = "https://hh.ru/oauth/token"

	// DefaultUserAgent identifies the relay to hh.ru, which rejects
	// requests without a User-Agent header.
	DefaultUserAgent = "hhrelay/1.0"

	// defaultRequestTimeout bounds each token-endpoint call.
	defaultRequestTimeout = 15 * time.Second

	// defaultExpiresIn is applied when the provider omits expires_in.
	defaultExpiresIn = 3600
)

// Provider implements the providers.Provider interface for hh.ru OAuth.
type Provider struct {
	config         *oauth2.Config
	httpClient     *http.Client
	requestTimeout time.Duration
}

// Config holds hh.ru OAuth configuration.
type Config struct {
	// ClientID is the hh.ru application client ID.
	ClientID string

	// ClientSecret is the hh.ru application client secret.
	ClientSecret string

	// RedirectURL is the OAuth callback URL registered with hh.ru.
	RedirectURL string

	// TokenURL overrides the token endpoint (defaults to DefaultTokenURL).
	TokenURL string

	// UserAgent is sent on every token-endpoint request
	// (defaults to DefaultUserAgent).
	UserAgent string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	// RequestTimeout is the timeout for token-endpoint calls (default: 15s).
	RequestTimeout time.Duration
}

// NewProvider creates a new hh.ru OAuth provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required")
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	requestTimeout := cfg.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = defaultRequestTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: requestTimeout,
		}
	}

	// Wrap the transport so every outbound request carries the fixed
	// identifying User-Agent.
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	httpClient = &http.Client{
		Transport: &userAgentTransport{base: base, userAgent: userAgent},
		Timeout:   httpClient.Timeout,
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				TokenURL: tokenURL,
				// hh.ru expects client_id/client_secret as form fields,
				// not HTTP basic auth.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient:     httpClient,
		requestTimeout: requestTimeout,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// ensureContextTimeout ensures the context has a deadline, adding one if needed.
// Returns a new context with timeout and a cancel function that should be deferred.
// If the context already has a deadline, returns the original context with a no-op cancel.
func (p *Provider) ensureContextTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.requestTimeout)
}

// ExchangeCode exchanges an authorization code for tokens.
// Non-success responses from the token endpoint surface as *providers.UpstreamError.
func (p *Provider) ExchangeCode(ctx context.Context, code string) (*providers.Token, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	// Use custom HTTP client
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", normalizeError(err))
	}

	return p.normalizeToken(token), nil
}

// Refresh obtains a new access token using a refresh token.
// hh.ru may or may not rotate the refresh token; the caller decides retention.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*providers.Token, error) {
	ctx, cancel := p.ensureContextTimeout(ctx)
	defer cancel()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	source := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", normalizeError(err))
	}

	return p.normalizeToken(token), nil
}

// normalizeToken converts an oauth2.Token into the relay's normalized shape,
// applying the Bearer and expiry defaults.
func (p *Provider) normalizeToken(token *oauth2.Token) *providers.Token {
	now := time.Now().Unix()

	expiresIn := token.ExpiresIn
	if expiresIn <= 0 && !token.Expiry.IsZero() {
		expiresIn = int64(time.Until(token.Expiry).Seconds())
	}
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}

	tokenType := token.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return &providers.Token{
		AccessToken:  token.AccessToken,
		TokenType:    tokenType,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    expiresIn,
		ExpiresAt:    now + expiresIn,
	}
}

// normalizeError maps oauth2 retrieval failures to *providers.UpstreamError,
// preserving the endpoint's status and body. Transport errors pass through.
func normalizeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return &providers.UpstreamError{
			StatusCode: status,
			Body:       string(retrieveErr.Body),
		}
	}
	return err
}

// userAgentTransport injects the configured User-Agent into every request.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(clone)
}
