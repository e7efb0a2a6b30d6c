package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	// Set some test environment variables
	if err := os.Setenv("SERVER_PORT", "9090"); err != nil {
		t.Fatalf("Failed to set SERVER_PORT: %v", err)
	}
	if err := os.Setenv("POSTGRES_HOST", "testhost"); err != nil {
		t.Fatalf("Failed to set POSTGRES_HOST: %v", err)
	}
	if err := os.Setenv("AGGREGATOR_UNIT_TIMEOUT", "30s"); err != nil {
		t.Fatalf("Failed to set AGGREGATOR_UNIT_TIMEOUT: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("SERVER_PORT")
		_ = os.Unsetenv("POSTGRES_HOST")
		_ = os.Unsetenv("AGGREGATOR_UNIT_TIMEOUT")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}

	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}

	if cfg.Aggregator.UnitTimeout != 30*time.Second {
		t.Errorf("Aggregator.UnitTimeout = %v, want %v", cfg.Aggregator.UnitTimeout, 30*time.Second)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Aggregator.Concurrency < 1 {
		t.Errorf("Aggregator.Concurrency = %v, want at least 1", cfg.Aggregator.Concurrency)
	}
	if cfg.Aggregator.ParityTolerance <= 0 {
		t.Errorf("Aggregator.ParityTolerance = %v, want positive", cfg.Aggregator.ParityTolerance)
	}
	if cfg.Leaderboard.DefaultLimit > cfg.Leaderboard.MaxLimit {
		t.Errorf("Leaderboard.DefaultLimit = %v exceeds MaxLimit = %v", cfg.Leaderboard.DefaultLimit, cfg.Leaderboard.MaxLimit)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	if err := os.Setenv("AGGREGATOR_CONCURRENCY", "0"); err != nil {
		t.Fatalf("Failed to set AGGREGATOR_CONCURRENCY: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("AGGREGATOR_CONCURRENCY")
	}()

	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() error = nil, want validation error for zero concurrency")
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	if err := os.Setenv("TEST_DURATION", "not-a-duration"); err != nil {
		t.Fatalf("Failed to set env var: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("TEST_DURATION")
	}()

	got := getEnvAsDuration("TEST_DURATION", 5*time.Second)
	if got != 5*time.Second {
		t.Errorf("getEnvAsDuration() = %v, want default on unparsable value", got)
	}
}
