// Command hhrelay runs the hh.ru OAuth2 authorization-code relay.
//
// It loads its configuration from the environment, restores the token and
// audit snapshots from the data directory, and only then starts serving.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	relay "hhrelay"
	"hhrelay/audit"
	"hhrelay/instrumentation"
	"hhrelay/providers/hh"
	"hhrelay/storage"
	"hhrelay/tokenstore"
)

const version = "1.0.0"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName:    "hhrelay",
		ServiceVersion: version,
		Enabled:        getBoolEnv("OTEL_ENABLED", false),
	})
	if err != nil {
		log.Fatalf("Failed to initialize instrumentation: %v", err)
	}

	provider, err := hh.NewProvider(&hh.Config{
		ClientID:       getEnvOrFail("HH_CLIENT_ID"),
		ClientSecret:   getEnvOrFail("HH_CLIENT_SECRET"),
		RedirectURL:    getEnvOrDefault("HH_REDIRECT_URI", ""),
		TokenURL:       getEnvOrDefault("HH_TOKEN_URL", hh.DefaultTokenURL),
		UserAgent:      getEnvOrDefault("HH_USER_AGENT", hh.DefaultUserAgent),
		RequestTimeout: getDurationEnv("PROVIDER_TIMEOUT", 15*time.Second),
	})
	if err != nil {
		log.Fatalf("Failed to create hh provider: %v", err)
	}

	store, err := storage.New(getEnvOrDefault("DATA_DIR", "./data"), logger, inst)
	if err != nil {
		// Cannot create the storage directory: unrecoverable.
		log.Fatalf("Failed to open storage: %v", err)
	}

	tokens, err := tokenstore.NewManager(tokenstore.Config{
		Provider:        provider,
		Store:           store,
		Logger:          logger,
		Instrumentation: inst,
	})
	if err != nil {
		log.Fatalf("Failed to create token manager: %v", err)
	}

	buffer, err := audit.NewBuffer(audit.Config{
		Store:           store,
		Logger:          logger,
		Instrumentation: inst,
	})
	if err != nil {
		log.Fatalf("Failed to create audit buffer: %v", err)
	}

	// Durable state must be in memory before the listener accepts anything.
	ctx := context.Background()
	if err := tokens.Load(ctx); err != nil {
		log.Fatalf("Failed to load token records: %v", err)
	}
	if err := buffer.Load(ctx); err != nil {
		log.Fatalf("Failed to load audit entries: %v", err)
	}

	handler, err := relay.NewHandler(&relay.Config{
		AdminToken:      getEnvOrFail("ADMIN_TOKEN"),
		BotSecret:       getEnvOrFail("BOT_SHARED_SECRET"),
		Logger:          logger,
		Instrumentation: inst,
	}, provider, tokens, buffer)
	if err != nil {
		log.Fatalf("Failed to create handler: %v", err)
	}

	server := &http.Server{
		Addr:         getEnvOrDefault("LISTEN_ADDR", ":8080"),
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Relay listening", "addr", server.Addr, "tokens", tokens.Len(), "pending", buffer.Len())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown did not complete cleanly", "error", err)
	}
}

func getEnvOrFail(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("Required environment variable %s is not set", key)
	}
	return value
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1"
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("Invalid duration in %s: %v", key, err)
	}
	return parsed
}
