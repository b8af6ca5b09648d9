// Package config loads the environment-variable configuration shared by
// every cmd/*d worker binary, in the same shape as the teacher's
// per-service internal/infrastructure/config packages — here collapsed
// into one package since this repo is a single module rather than a
// collection of independently deployed services.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds every setting a worker binary needs: its database pool,
// its broker connection, and its logger.
type Config struct {
	DB         DBConfig
	Broker     BrokerConfig
	LogLevel   string
	LogFormat  string
	Migrations string
}

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// BrokerConfig holds Kafka broker configuration.
type BrokerConfig struct {
	Brokers       []string
	ConsumerGroup string
	TLS           bool
}

// Validate checks required configuration values.
func (c Config) Validate() {
	if c.DB.Password == "" {
		panic("DB_PASSWORD environment variable is required")
	}
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	return Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "loanserve"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "loanserve"),
			SSLMode:  getEnv("DB_SSLMODE", "require"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 20)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 5)),
		},
		Broker: BrokerConfig{
			Brokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "loanserve"),
			TLS:           getEnv("KAFKA_TLS", "false") == "true",
		},
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogFormat:  getEnv("LOG_FORMAT", "json"),
		Migrations: getEnv("MIGRATIONS_DIR", "file://migrations"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
