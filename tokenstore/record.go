package tokenstore

import (
	"encoding/json"
	"strconv"
	"strings"

	"hhrelay/providers"
)

// RedactedMarker replaces token material in listings for observability.
const RedactedMarker = "[REDACTED]"

// Record holds the tokens obtained for one state key.
// ExpiresAt is the authoritative freshness field; ExpiresIn is kept only
// as the provider-reported value for reference.
type Record struct {
	// State is the opaque correlation key from the authorization flow
	State string `json:"state"`

	// AccessToken is the provider access token
	AccessToken string `json:"access_token"`

	// RefreshToken is empty when the provider issued none; such records
	// cannot be refreshed once expired
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is "Bearer" unless the provider said otherwise
	TokenType string `json:"token_type"`

	// ExpiresIn is the provider-reported lifetime in seconds
	ExpiresIn int64 `json:"expires_in"`

	// ExpiresAt is the absolute expiry as a Unix timestamp
	ExpiresAt int64 `json:"expires_at"`
}

// NewRecord builds a Record for state from a normalized provider token.
func NewRecord(state string, token *providers.Token) *Record {
	return &Record{
		State:        state,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresIn:    token.ExpiresIn,
		ExpiresAt:    token.ExpiresAt,
	}
}

// Clone returns a copy so callers cannot mutate the stored record.
func (r *Record) Clone() *Record {
	clone := *r
	return &clone
}

// Redacted returns a copy with all token material replaced by RedactedMarker.
func (r *Record) Redacted() *Record {
	clone := *r
	clone.AccessToken = RedactedMarker
	if clone.RefreshToken != "" {
		clone.RefreshToken = RedactedMarker
	}
	return &clone
}

// decodeRecord coerces one persisted record from raw JSON.
//
// Records that are not JSON objects or carry no access token are dropped
// rather than kept in a corrupt form. A record whose expires_at does not
// coerce to an integer gets now+reloadGraceWindow, a short window in which
// it can still self-heal via refresh instead of invalidating the session.
func decodeRecord(state string, raw json.RawMessage, now int64) (*Record, bool) {
	var loose struct {
		AccessToken  string          `json:"access_token"`
		RefreshToken string          `json:"refresh_token"`
		TokenType    string          `json:"token_type"`
		ExpiresIn    json.RawMessage `json:"expires_in"`
		ExpiresAt    json.RawMessage `json:"expires_at"`
	}
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil, false
	}
	if loose.AccessToken == "" {
		return nil, false
	}

	rec := &Record{
		State:        state,
		AccessToken:  loose.AccessToken,
		RefreshToken: loose.RefreshToken,
		TokenType:    loose.TokenType,
	}
	if rec.TokenType == "" {
		rec.TokenType = "Bearer"
	}

	if v, ok := coerceInt(loose.ExpiresIn); ok {
		rec.ExpiresIn = v
	}
	if v, ok := coerceInt(loose.ExpiresAt); ok {
		rec.ExpiresAt = v
	} else {
		rec.ExpiresAt = now + reloadGraceWindow
	}

	return rec, true
}

// coerceInt accepts JSON integers, floats (truncated), and numeric strings.
func coerceInt(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int64(f), true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return v, true
		}
	}

	return 0, false
}
