package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port            string
	DatabaseURL     string // empty selects the in-memory store
	KafkaBrokers    []string
	FraudAPIURL     string
	FraudAPITimeout time.Duration
	Env             string
}

// Load reads .env if present and assembles the config from environment
// variables with defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, relying on system env variables")
	}

	return &Config{
		Port:            getEnv("PORT", "8080"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		KafkaBrokers:    splitList(getEnv("KAFKA_BROKERS", "")),
		FraudAPIURL:     getEnv("FRAUD_API_URL", "http://localhost:5000"),
		FraudAPITimeout: time.Duration(getEnvInt("FRAUD_API_TIMEOUT_MS", 5000)) * time.Millisecond,
		Env:             getEnv("ENV", "development"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("invalid integer env value, using default")
		return fallback
	}
	return n
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
