// Package config provides configuration management for the wallet P&L engine.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Aggregator  AggregatorConfig
	Leaderboard LeaderboardConfig
	Logging     LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// AggregatorConfig holds batch-run configuration
type AggregatorConfig struct {
	Concurrency        int           // Worker goroutines over wallet units
	UnitTimeout        time.Duration // Per-wallet timeout for pathological fill histories
	UnitMaxRetries     int           // Retries for a failed unit within one run
	WriteBufferRows    int           // Rows accumulated across units before one bulk insert
	WriteRatePerSecond int           // Bulk inserts per second allowed against ClickHouse
	CheckpointEvery    int           // Wallets between checkpoint writes
	ParityTolerance    float64       // Absolute tolerance for the parity gate
}

// LeaderboardConfig holds leaderboard view configuration
type LeaderboardConfig struct {
	MinClosedPositions int           // Sample-size gate for inclusion
	DefaultLimit       int           // Default top-N size
	MaxLimit           int
	CacheTTL           time.Duration // Redis response cache TTL
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "pnl_engine"),
				User:           getEnv("POSTGRES_USER", "pnl"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "pnl_engine"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Aggregator: AggregatorConfig{
			Concurrency:        getEnvAsInt("AGGREGATOR_CONCURRENCY", 16),
			UnitTimeout:        getEnvAsDuration("AGGREGATOR_UNIT_TIMEOUT", 2*time.Minute),
			UnitMaxRetries:     getEnvAsInt("AGGREGATOR_UNIT_MAX_RETRIES", 3),
			WriteBufferRows:    getEnvAsInt("AGGREGATOR_WRITE_BUFFER_ROWS", 20000),
			WriteRatePerSecond: getEnvAsInt("AGGREGATOR_WRITE_RATE_PER_SECOND", 4),
			CheckpointEvery:    getEnvAsInt("AGGREGATOR_CHECKPOINT_EVERY", 500),
			ParityTolerance:    getEnvAsFloat("AGGREGATOR_PARITY_TOLERANCE", 0.01),
		},
		Leaderboard: LeaderboardConfig{
			MinClosedPositions: getEnvAsInt("LEADERBOARD_MIN_CLOSED_POSITIONS", 5),
			DefaultLimit:       getEnvAsInt("LEADERBOARD_DEFAULT_LIMIT", 50),
			MaxLimit:           getEnvAsInt("LEADERBOARD_MAX_LIMIT", 500),
			CacheTTL:           getEnvAsDuration("LEADERBOARD_CACHE_TTL", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks configuration values that would otherwise fail deep inside a run
func (c *Config) Validate() error {
	if c.Aggregator.Concurrency < 1 {
		return fmt.Errorf("aggregator concurrency must be at least 1, got %d", c.Aggregator.Concurrency)
	}
	if c.Aggregator.WriteBufferRows < 1 {
		return fmt.Errorf("aggregator write buffer must be at least 1 row, got %d", c.Aggregator.WriteBufferRows)
	}
	if c.Aggregator.CheckpointEvery < 1 {
		return fmt.Errorf("aggregator checkpoint interval must be at least 1, got %d", c.Aggregator.CheckpointEvery)
	}
	if c.Leaderboard.MinClosedPositions < 0 {
		return fmt.Errorf("leaderboard min closed positions must not be negative, got %d", c.Leaderboard.MinClosedPositions)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
