package tokenstore

import (
	"encoding/json"
	"testing"

	"hhrelay/providers"
)

func TestRecord_Redacted(t *testing.T) {
	rec := &Record{
		State:        "xyz",
		AccessToken:  "T1",
		RefreshToken: "R1",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
		ExpiresAt:    4102444800,
	}

	redacted := rec.Redacted()
	if redacted.AccessToken != RedactedMarker || redacted.RefreshToken != RedactedMarker {
		t.Errorf("Redacted() = %+v, token material still present", redacted)
	}
	if redacted.State != "xyz" || redacted.ExpiresAt != 4102444800 {
		t.Errorf("Redacted() dropped non-secret fields: %+v", redacted)
	}
	// The original is untouched.
	if rec.AccessToken != "T1" {
		t.Error("Redacted() mutated the receiver")
	}
}

func TestRecord_Redacted_NoRefreshToken(t *testing.T) {
	rec := &Record{State: "xyz", AccessToken: "T1", TokenType: "Bearer"}
	redacted := rec.Redacted()
	if redacted.RefreshToken != "" {
		t.Errorf("RefreshToken = %q, want empty preserved", redacted.RefreshToken)
	}
}

func TestRecord_Clone_Independent(t *testing.T) {
	rec := &Record{State: "xyz", AccessToken: "T1"}
	clone := rec.Clone()
	clone.AccessToken = "T2"
	if rec.AccessToken != "T1" {
		t.Error("Clone() shares storage with the receiver")
	}
}

func TestRecord_JSONShape(t *testing.T) {
	rec := NewRecord("xyz", &providers.Token{
		AccessToken: "T1",
		TokenType:   "Bearer",
		ExpiresIn:   3600,
		ExpiresAt:   4102444800,
	})

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	fields := make(map[string]any)
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"state", "access_token", "token_type", "expires_in", "expires_at"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("field %q missing from wire form: %s", key, data)
		}
	}
	// Absent refresh tokens are omitted, not serialized as "".
	if _, ok := fields["refresh_token"]; ok {
		t.Errorf("empty refresh_token serialized: %s", data)
	}
}

func TestCoerceInt(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   int64
		wantOK bool
	}{
		{"integer", `4102444800`, 4102444800, true},
		{"float truncated", `4102444800.9`, 4102444800, true},
		{"numeric string", `"4102444800"`, 4102444800, true},
		{"padded string", `" 42 "`, 42, true},
		{"word", `"soon"`, 0, false},
		{"null", `null`, 0, false},
		{"object", `{}`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := coerceInt(json.RawMessage(tt.raw))
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("coerceInt(%s) = %d, %v; want %d, %v", tt.raw, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDecodeRecord(t *testing.T) {
	const now = int64(1756300000)

	t.Run("complete", func(t *testing.T) {
		raw := json.RawMessage(`{"access_token":"T1","refresh_token":"R1","token_type":"Bearer","expires_in":3600,"expires_at":4102444800}`)
		rec, ok := decodeRecord("xyz", raw, now)
		if !ok {
			t.Fatal("decodeRecord() dropped a complete record")
		}
		if rec.State != "xyz" || rec.ExpiresAt != 4102444800 {
			t.Errorf("rec = %+v", rec)
		}
	})

	t.Run("defaults token type", func(t *testing.T) {
		raw := json.RawMessage(`{"access_token":"T1","expires_at":4102444800}`)
		rec, ok := decodeRecord("xyz", raw, now)
		if !ok || rec.TokenType != "Bearer" {
			t.Errorf("rec = %+v, ok = %v", rec, ok)
		}
	})

	t.Run("grace window for bad expiry", func(t *testing.T) {
		raw := json.RawMessage(`{"access_token":"T1","expires_at":"whenever"}`)
		rec, ok := decodeRecord("xyz", raw, now)
		if !ok {
			t.Fatal("decodeRecord() dropped a record with coercible damage")
		}
		if rec.ExpiresAt != now+reloadGraceWindow {
			t.Errorf("ExpiresAt = %d, want %d", rec.ExpiresAt, now+reloadGraceWindow)
		}
	})

	t.Run("dropped", func(t *testing.T) {
		for _, raw := range []string{`"bogus"`, `42`, `{"expires_at":1}`, `{"access_token":""}`} {
			if _, ok := decodeRecord("xyz", json.RawMessage(raw), now); ok {
				t.Errorf("decodeRecord(%s) kept an unusable record", raw)
			}
		}
	})
}
