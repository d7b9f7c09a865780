// Package mock provides a mock implementation of the Provider interface for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"hhrelay/providers"
)

// MockProvider is a mock implementation of the Provider interface for testing
type MockProvider struct {
	// NameFunc is called when Name() is invoked
	NameFunc func() string

	// ExchangeCodeFunc is called when ExchangeCode() is invoked
	ExchangeCodeFunc func(ctx context.Context, code string) (*providers.Token, error)

	// RefreshFunc is called when Refresh() is invoked
	RefreshFunc func(ctx context.Context, refreshToken string) (*providers.Token, error)

	// CallCounts tracks how many times each method was called
	CallCounts map[string]int

	// mu protects CallCounts from concurrent access
	mu sync.RWMutex
}

// Compile-time check that MockProvider implements the providers.Provider interface.
var _ providers.Provider = (*MockProvider)(nil)

// NewMockProvider creates a new mock provider with default implementations
func NewMockProvider() *MockProvider {
	return &MockProvider{
		CallCounts: make(map[string]int),
		NameFunc: func() string {
			return "mock"
		},
		ExchangeCodeFunc: func(ctx context.Context, code string) (*providers.Token, error) {
			now := time.Now().Unix()
			return &providers.Token{
				AccessToken:  "mock-access-token",
				TokenType:    "Bearer",
				RefreshToken: "mock-refresh-token",
				ExpiresIn:    3600,
				ExpiresAt:    now + 3600,
			}, nil
		},
		RefreshFunc: func(ctx context.Context, refreshToken string) (*providers.Token, error) {
			now := time.Now().Unix()
			return &providers.Token{
				AccessToken:  "new-mock-access-token",
				TokenType:    "Bearer",
				RefreshToken: "new-mock-refresh-token",
				ExpiresIn:    3600,
				ExpiresAt:    now + 3600,
			}, nil
		},
	}
}

// Name returns the mock provider name
func (m *MockProvider) Name() string {
	m.incrementCallCount("Name")
	return m.NameFunc()
}

// ExchangeCode calls the configured ExchangeCodeFunc
func (m *MockProvider) ExchangeCode(ctx context.Context, code string) (*providers.Token, error) {
	m.incrementCallCount("ExchangeCode")
	return m.ExchangeCodeFunc(ctx, code)
}

// Refresh calls the configured RefreshFunc
func (m *MockProvider) Refresh(ctx context.Context, refreshToken string) (*providers.Token, error) {
	m.incrementCallCount("Refresh")
	return m.RefreshFunc(ctx, refreshToken)
}

// GetCallCount returns the number of times a method was called
func (m *MockProvider) GetCallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

// ResetCallCounts clears all recorded call counts
func (m *MockProvider) ResetCallCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts = make(map[string]int)
}

func (m *MockProvider) incrementCallCount(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[method]++
}
