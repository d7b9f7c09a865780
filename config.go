package relay

import (
	"log/slog"

	"hhrelay/instrumentation"
)

// Config holds the relay handler configuration
type Config struct {
	// AdminToken authenticates the admin endpoints via the X-Admin-Token
	// header (required).
	AdminToken string

	// BotSecret authenticates the bot-facing token endpoint via
	// Authorization: Bearer (required).
	BotSecret string

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// Instrumentation for metrics and tracing (optional, no-op if not provided)
	Instrumentation *instrumentation.Instrumentation
}
