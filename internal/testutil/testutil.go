// Package testutil provides testing utilities and helpers for the relay.
package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"hhrelay/instrumentation"
	"hhrelay/providers"
	"hhrelay/storage"
)

// NewTestLogger returns a logger that discards all output.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestStore creates a storage.Store rooted in a per-test temp directory.
func NewTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.New(t.TempDir(), NewTestLogger(), instrumentation.Disabled())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	return store
}

// GenerateTestToken creates a normalized provider token valid for an hour.
func GenerateTestToken() *providers.Token {
	now := time.Now().Unix()
	return &providers.Token{
		AccessToken:  GenerateRandomString(32),
		TokenType:    "Bearer",
		RefreshToken: GenerateRandomString(32),
		ExpiresIn:    3600,
		ExpiresAt:    now + 3600,
	}
}

// GenerateTestTokenWithExpiry creates a provider token with a specific
// absolute expiry.
func GenerateTestTokenWithExpiry(expiresAt int64) *providers.Token {
	return &providers.Token{
		AccessToken:  GenerateRandomString(32),
		TokenType:    "Bearer",
		RefreshToken: GenerateRandomString(32),
		ExpiresIn:    3600,
		ExpiresAt:    expiresAt,
	}
}

// GenerateRandomString generates a random base64-encoded string
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate random string: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}
