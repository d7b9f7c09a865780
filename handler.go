// Package relay wires the token lifecycle store, callback audit buffer,
// and identity-provider client behind the relay's HTTP surface.
package relay

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"hhrelay/audit"
	"hhrelay/instrumentation"
	"hhrelay/internal/util"
	"hhrelay/providers"
	"hhrelay/tokenstore"
)

// healthBody is the fixed liveness probe response.
const healthBody = "Endpoint is available"

// callbackBody is the confirmation page shown after a successful exchange.
const callbackBody = "Authorization received. You can return to Telegram now."

// Handler serves the relay's HTTP endpoints.
type Handler struct {
	config   *Config
	provider providers.Provider
	tokens   *tokenstore.Manager
	audit    *audit.Buffer
	logger   *slog.Logger
	inst     *instrumentation.Instrumentation
}

// NewHandler creates a Handler. The token manager and audit buffer must be
// loaded from durable storage before the handler serves any request.
func NewHandler(config *Config, provider providers.Provider, tokens *tokenstore.Manager, buffer *audit.Buffer) (*Handler, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if config.AdminToken == "" {
		return nil, fmt.Errorf("admin token is required")
	}
	if config.BotSecret == "" {
		return nil, fmt.Errorf("bot secret is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token manager is required")
	}
	if buffer == nil {
		return nil, fmt.Errorf("audit buffer is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	inst := config.Instrumentation
	if inst == nil {
		inst = instrumentation.Disabled()
	}

	return &Handler{
		config:   config,
		provider: provider,
		tokens:   tokens,
		audit:    buffer,
		logger:   logger.With("component", "handler"),
		inst:     inst,
	}, nil
}

// Routes returns a mux with all relay endpoints registered.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", h.ServeHealth)
	mux.HandleFunc("/hh/callback", h.ServeCallback)
	mux.HandleFunc("/token/by-state", h.ServeTokenByState)
	mux.HandleFunc("/admin/state", h.ServeAdminState)
	mux.HandleFunc("/admin/pending", h.ServeAdminPending)
	mux.HandleFunc("/admin/tokens", h.ServeAdminTokens)
	mux.HandleFunc("/admin/dequeue", h.ServeAdminDequeue)
	return mux
}

// ServeHealth handles GET / as a liveness probe.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, healthBody)
}

// ServeCallback handles GET /hh/callback, the provider's redirect target.
// The audit entry is recorded durably before the exchange, so a failed
// exchange still leaves the callback visible to operators.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		h.writeError(w, ErrInvalidRequest("missing code or state"))
		return
	}

	h.inst.Metrics().CallbacksReceived.Add(ctx, 1)

	entry := audit.Entry{
		State: state,
		Code:  code,
		TS:    time.Now().Unix(),
		IP:    clientIP(r),
	}
	if err := h.audit.Push(ctx, entry); err != nil {
		h.writeError(w, ErrServer("failed to record callback: "+err.Error()))
		return
	}

	token, err := h.provider.ExchangeCode(ctx, code)
	if err != nil {
		h.inst.Metrics().CodeExchanged.Add(ctx, 1, metric.WithAttributes(
			attribute.String("result", "error"),
		))
		h.logger.Error("Code exchange failed",
			"state_hash", util.HashForLogging(state),
			"error", err,
		)
		h.writeError(w, ErrUpstream("code exchange failed: "+err.Error()))
		return
	}

	if err := h.tokens.Store(ctx, tokenstore.NewRecord(state, token)); err != nil {
		h.writeError(w, ErrServer(err.Error()))
		return
	}

	h.inst.Metrics().CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", "success"),
	))
	h.logger.Info("Stored token record from callback",
		"state_hash", util.HashForLogging(state),
		"expires_at", token.ExpiresAt,
	)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, callbackBody)
}

// ServeTokenByState handles POST /token/by-state for the bot backend.
// Stale records are refreshed before being returned; see tokenstore.GetValid.
func (h *Handler) ServeTokenByState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.requireBot(w, r) {
		return
	}

	ctx := r.Context()
	state, ok := h.readState(w, r)
	if !ok {
		return
	}

	rec, err := h.tokens.GetValid(ctx, state)
	if err != nil {
		if errors.Is(err, tokenstore.ErrPersistence) {
			h.writeError(w, ErrServer(err.Error()))
			return
		}
		h.writeError(w, ErrUpstream("token refresh failed: "+err.Error()))
		return
	}
	if rec == nil {
		h.writeError(w, ErrNotFound("no token record for state"))
		return
	}

	h.writeJSON(w, http.StatusOK, rec)
}

// ServeAdminState handles DELETE /admin/state.
// The response reports whether a record existed; repeating the call
// answers {"deleted": false} rather than an error.
func (h *Handler) ServeAdminState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	state, ok := h.readState(w, r)
	if !ok {
		return
	}

	deleted, err := h.tokens.Delete(r.Context(), state)
	if err != nil {
		h.writeError(w, ErrServer(err.Error()))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

// ServeAdminPending handles GET /admin/pending, listing the audit buffer.
func (h *Handler) ServeAdminPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	h.writeJSON(w, http.StatusOK, h.audit.List())
}

// ServeAdminTokens handles GET /admin/tokens, listing redacted records.
func (h *Handler) ServeAdminTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	h.writeJSON(w, http.StatusOK, h.tokens.ListRedacted())
}

// ServeAdminDequeue handles POST /admin/dequeue, removing the first audit
// entry matching the given state.
func (h *Handler) ServeAdminDequeue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	state, ok := h.readState(w, r)
	if !ok {
		return
	}

	entry, err := h.audit.RemoveByState(r.Context(), state)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			h.writeError(w, ErrNotFound("state not found in audit buffer"))
			return
		}
		h.writeError(w, ErrServer(err.Error()))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]audit.Entry{"removed": entry})
}

// requireAdmin validates the X-Admin-Token header against the configured
// admin token. Rejection happens before any state is touched.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	token := r.Header.Get("X-Admin-Token")
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.config.AdminToken)) != 1 {
		h.rejectAuth(w, r, "admin")
		return false
	}
	return true
}

// requireBot validates the Authorization: Bearer header against the
// configured bot shared secret.
func (h *Handler) requireBot(w http.ResponseWriter, r *http.Request) bool {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") ||
		subtle.ConstantTimeCompare([]byte(parts[1]), []byte(h.config.BotSecret)) != 1 {
		h.rejectAuth(w, r, "bot")
		return false
	}
	return true
}

func (h *Handler) rejectAuth(w http.ResponseWriter, r *http.Request, scheme string) {
	h.inst.Metrics().AuthFailures.Add(r.Context(), 1, metric.WithAttributes(
		attribute.String("scheme", scheme),
	))
	h.logger.Warn("Rejected request with bad credentials",
		"scheme", scheme,
		"path", r.URL.Path,
		"remote_ip", clientIP(r),
	)
	h.writeError(w, ErrUnauthorized("invalid or missing credentials"))
}

// readState decodes a {"state": ...} JSON body, rejecting requests where
// it is absent before any state is mutated.
func (h *Handler) readState(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, ErrInvalidRequest("invalid JSON body"))
		return "", false
	}
	if body.State == "" {
		h.writeError(w, ErrInvalidRequest("missing state"))
		return "", false
	}
	return body.State, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, relayErr *RelayError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(relayErr.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             relayErr.Code,
		"error_description": relayErr.Description,
	})
}

// clientIP extracts the originating client address, empty when unknown.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
