// Package config handles the loading and parsing of application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mofekayode/videosift-backend/internal/models"
)

// AppConfig holds all configuration settings for the application.
type AppConfig struct {
	// --- Core Settings ---
	Port               string // HTTP listen port.
	StoreURL           string // Database connection string (PostgreSQL DSN).
	StoreKey           string // Service credential for the persistent store, forwarded as a connection option.
	CORSAllowedOrigins string // Comma-separated list of allowed CORS origins.
	Environment        string // "production" gates stack traces out of error responses.

	// --- Authentication ---
	BackendAPIKey string // Shared secret required in the X-API-KEY header.

	// --- External Services ---
	OpenAIAPIKey  string          // Embedding + LLM credential.
	YouTubeAPIKey string          // Video metadata + transcript credential.
	EmailAPIKey   string          // Email provider credential. Optional; notifications are disabled when absent.
	EmailFrom     string          // Sender address for completion notifications.
	S3            models.S3Config // Configuration for the transcript blob container. Optional.

	// --- Application Logic ---
	MigrationsPath   string // Path to the database migration files.
	ChannelVideoCap  int    // Max videos ingested per channel run (beta limit).
	EmbeddingBatch   int    // Batch size for the embedding client.
	RetrievalTopK    int    // Default k for chat retrieval.

	// --- Timeouts and Intervals ---
	HTTPClientTimeout   time.Duration // Cap for individual external API calls.
	ShutdownTimeout     time.Duration // Graceful shutdown timeout.
	VideoLockTTL        time.Duration // Lease TTL for single-video processing.
	ChannelLockTTL      time.Duration // Lease TTL for channel queue items.
	LockSweepInterval   time.Duration // How often expired lock rows are swept.
	CacheSweepInterval  time.Duration // How often expired cache entries are pruned.
	EmbeddingBatchPause time.Duration // Pause between embedding batches.
	VideoPoliteness     time.Duration // Sleep between videos in a channel run.
}

// Load reads environment variables and populates the AppConfig struct.
// It sets sensible defaults for non-critical values.
func Load() (*AppConfig, error) {
	// Normalize S3 endpoint: ensure it has a scheme for the AWS SDK endpoint resolver.
	normalizeEndpoint := func(raw string) string {
		if raw == "" {
			return raw
		}
		if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
			return raw
		}
		return "https://" + raw
	}

	cfg := &AppConfig{
		// --- Core Settings ---
		Port:               getEnv("PORT", "8080"),
		StoreURL:           getEnv("STORE_URL", ""),
		StoreKey:           getEnv("STORE_KEY", ""),
		CORSAllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000"),
		Environment:        getEnv("NODE_ENV", "development"),

		// --- Authentication ---
		BackendAPIKey: getEnv("BACKEND_API_KEY", ""),

		// --- External Services ---
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		YouTubeAPIKey: getEnv("YOUTUBE_API_KEY", ""),
		EmailAPIKey:   getEnv("EMAIL_API_KEY", ""),
		EmailFrom:     getEnv("EMAIL_FROM", "notifications@videosift.app"),
		S3: models.S3Config{
			Endpoint: normalizeEndpoint(getEnv("S3_ENDPOINT", "")),
			Region:   getEnv("S3_REGION", ""),
			KeyID:    getEnv("S3_ACCESS_KEY", ""),
			AppKey:   getEnv("S3_SECRET_KEY", ""),
			Bucket:   getEnv("S3_BUCKET_NAME", "transcripts"),
		},

		// --- Application Logic ---
		MigrationsPath:  getEnv("MIGRATIONS_PATH", "migrations"),
		ChannelVideoCap: getEnvAsInt("CHANNEL_VIDEO_CAP", 20),
		EmbeddingBatch:  getEnvAsInt("EMBEDDING_BATCH_SIZE", 10),
		RetrievalTopK:   getEnvAsInt("RETRIEVAL_TOP_K", 10),

		// --- Timeouts and Intervals ---
		HTTPClientTimeout:   getEnvAsDuration("HTTP_CLIENT_TIMEOUT", 60*time.Second),
		ShutdownTimeout:     getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		VideoLockTTL:        getEnvAsDuration("VIDEO_LOCK_TTL", 600*time.Second),
		ChannelLockTTL:      getEnvAsDuration("CHANNEL_LOCK_TTL", 3600*time.Second),
		LockSweepInterval:   getEnvAsDuration("LOCK_SWEEP_INTERVAL", 60*time.Second),
		CacheSweepInterval:  getEnvAsDuration("CACHE_SWEEP_INTERVAL", 5*time.Minute),
		EmbeddingBatchPause: getEnvAsDuration("EMBEDDING_BATCH_PAUSE", time.Second),
		VideoPoliteness:     getEnvAsDuration("VIDEO_POLITENESS_PAUSE", 2*time.Second),
	}

	if err := validateCriticalConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction reports whether the server runs with production error surfaces
// (no stack traces in responses).
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// validateCriticalConfig checks that essential configuration values are set.
func validateCriticalConfig(cfg *AppConfig) error {
	criticalVars := map[string]string{
		"STORE_URL":       cfg.StoreURL,
		"BACKEND_API_KEY": cfg.BackendAPIKey,
		"OPENAI_API_KEY":  cfg.OpenAIAPIKey,
		"YOUTUBE_API_KEY": cfg.YouTubeAPIKey,
	}
	var missing []string
	for name, value := range criticalVars {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing critical environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// --- Helper Functions for robust environment variable loading ---

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an integer environment variable or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration retrieves a time.Duration environment variable or returns a default value.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	return defaultValue
}
