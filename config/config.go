package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Port           string
	Env            string
	DatabaseURL    string
	JWTSecret      string
	AllowedOrigins []string
	MaxBodySize    int64

	GeminiAPIKey string

	StorageURL        string
	StoragePublicURL  string
	StorageServiceKey string
	ReceiptsBucket    string

	AWSRegion            string
	NotificationQueueURL string
	OutboxPollInterval   time.Duration
	OutboxBatchSize      int

	MetricsEnabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")
	origins := os.Getenv("ALLOWED_ORIGINS")
	var allowedOrigins []string
	if origins != "" {
		allowedOrigins = splitOrigins(origins)
	} else {
		if env == "production" {
			zap.L().Warn("ALLOWED_ORIGINS not set in production, defaulting to '*'")
		}
		allowedOrigins = []string{"*"}
	}

	maxBodySize := int64(1 * 1024 * 1024)
	if sizeStr := os.Getenv("MAX_BODY_SIZE"); sizeStr != "" {
		if size, err := strconv.ParseInt(sizeStr, 10, 64); err == nil {
			maxBodySize = size
		}
	}

	pollInterval := 2 * time.Second
	if v := os.Getenv("OUTBOX_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parsing OUTBOX_POLL_INTERVAL: %w", err)
		}
		pollInterval = d
	}

	batchSize := 25
	if v := os.Getenv("OUTBOX_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("OUTBOX_BATCH_SIZE must be a positive integer, got %q", v)
		}
		batchSize = n
	}

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		Env:                  env,
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		JWTSecret:            getEnv("JWT_SECRET", ""),
		AllowedOrigins:       allowedOrigins,
		MaxBodySize:          maxBodySize,
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		StorageURL:           getEnv("STORAGE_URL", ""),
		StoragePublicURL:     getEnv("STORAGE_PUBLIC_URL", getEnv("STORAGE_URL", "")),
		StorageServiceKey:    getEnv("STORAGE_SERVICE_KEY", ""),
		ReceiptsBucket:       getEnv("RECEIPTS_BUCKET", "receipts"),
		AWSRegion:            getEnv("AWS_REGION", ""),
		NotificationQueueURL: getEnv("NOTIFICATION_QUEUE_URL", ""),
		OutboxPollInterval:   pollInterval,
		OutboxBatchSize:      batchSize,
		MetricsEnabled:       getEnv("METRICS_ENABLED", "true") == "true",
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func splitOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
