package app

import (
	"os"
	"time"
)

type Config struct {
	HTTPAddr string
	LogLevel string

	// Upstream transcription service
	DeepgramAPIKey string
	DeepgramURL    string // override for tests; empty means the production endpoint

	// Session token signing
	TokenSecret string
	TokenExpiry time.Duration

	// Optional session event log
	DatabaseURL string

	// Error monitoring
	SentryDSN string
}

func LoadConfigFromEnv() Config {
	tokenExpiry, err := time.ParseDuration(getenv("TOKEN_EXPIRY", "1h"))
	if err != nil {
		tokenExpiry = time.Hour
	}

	return Config{
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		DeepgramAPIKey: os.Getenv("DEEPGRAM_API_KEY"), // Required - checked at startup
		DeepgramURL:    getenv("DEEPGRAM_URL", ""),

		TokenSecret: os.Getenv("TOKEN_SECRET"), // Required - no fallback for security
		TokenExpiry: tokenExpiry,

		DatabaseURL: getenv("DATABASE_URL", ""),

		SentryDSN: getenv("SENTRY_DSN", ""),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
