package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the process configuration, read from the environment.
type Config struct {
	BackendURL  string
	WSURL       string
	AuthToken   string
	UserID      string
	UserName    string
	AMQPURL     string
	OTLPAddr    string
	Port        string
	Environment string

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	ChatsTTL    time.Duration
	MessagesTTL time.Duration
	UsersTTL    time.Duration
}

// Load reads configuration from the environment with working defaults.
func Load() Config {
	return Config{
		BackendURL:  getEnv("BACKEND_URL", "http://localhost:8083"),
		WSURL:       getEnv("WS_URL", "ws://localhost:8083/ws"),
		AuthToken:   getEnv("AUTH_TOKEN", ""),
		UserID:      getEnv("USER_ID", ""),
		UserName:    getEnv("USER_NAME", ""),
		AMQPURL:     getEnv("AMQP_URL", ""),
		OTLPAddr:    getEnv("OTLP_ADDR", ""),
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		MaxRetries: getEnvInt("RETRY_MAX", 3),
		BaseDelay:  getEnvDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		MaxDelay:   getEnvDuration("RETRY_MAX_DELAY", 10*time.Second),

		ChatsTTL:    getEnvDuration("CHATS_TTL", 60*time.Second),
		MessagesTTL: getEnvDuration("MESSAGES_TTL", 20*time.Second),
		UsersTTL:    getEnvDuration("USERS_TTL", 5*time.Minute),
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}
