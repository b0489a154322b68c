package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/reelchat/call-service/pkg/redis"
)

// Config holds the call service configuration. Everything is env-driven; a
// .env file is loaded in main for local development.
type Config struct {
	Port        string
	DatabaseDSN string
	Redis       redis.Config
	JWTSecret   string

	// WebRTC transport configuration. Fixed public STUN endpoints; not
	// user-configurable beyond the env override.
	STUNServers []string

	// Statistics sampling interval while a call is connected.
	StatsInterval time.Duration

	// Directory where finished call recordings are written.
	RecordingDir string

	InstanceID string
}

// DefaultSTUNServers is the fixed set of public reflection endpoints used for
// every peer connection.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() *Config {
	cfg := &Config{
		Port:        getEnvOrDefault("CALL_SERVICE_PORT", "8080"),
		DatabaseDSN: getEnvOrDefault("DATABASE_DSN", "host=localhost user=postgres dbname=reelchat port=5432 sslmode=disable"),
		Redis: redis.Config{
			Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
			Port:     getEnvOrDefault("REDIS_PORT", "6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvAsIntOrDefault("REDIS_DB", 0),
		},
		JWTSecret:     getEnvOrDefault("JWT_SECRET", ""),
		STUNServers:   DefaultSTUNServers,
		StatsInterval: getEnvAsDurationOrDefault("CALL_STATS_INTERVAL", 2*time.Second),
		RecordingDir:  getEnvOrDefault("CALL_RECORDING_DIR", os.TempDir()),
		InstanceID:    getInstanceID(),
	}

	if stunServers := os.Getenv("CALL_STUN_SERVERS"); stunServers != "" {
		cfg.STUNServers = splitAndTrimStrings(stunServers, ",")
	}

	return cfg
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDurationOrDefault gets environment variable as duration or returns default
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// splitAndTrimStrings splits a string by delimiter and trims whitespace from each part
func splitAndTrimStrings(s, delimiter string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, delimiter)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// getInstanceID generates a unique identifier for this service instance,
// preferring the system hostname (pod name in K8s).
func getInstanceID() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "call-service-" + strconv.FormatInt(time.Now().UnixNano(), 10)
}
