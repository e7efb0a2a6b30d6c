// Package retry provides exponential backoff for retryable unit failures.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/pnl-engine/internal/logging"
)

// Config configures retry behavior
type Config struct {
	MaxAttempts  int           // Maximum number of attempts, including the first
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Ceiling for the backoff delay
	Multiplier   float64       // Multiplier for exponential backoff

	// RetryIf decides whether a failure is worth another attempt. Nil means
	// every failure is retried. Deterministic failures (corrupt input) should
	// return false: retrying reproduces the same error.
	RetryIf func(error) bool
}

// DefaultConfig returns the default retry configuration.
// Pattern: 1s, 2s, 4s, capped at 30s.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Result contains information about the retry operation
type Result struct {
	Attempts      int           `json:"attempts"`
	Success       bool          `json:"success"`
	TotalDuration time.Duration `json:"totalDuration"`
	LastError     error         `json:"lastError,omitempty"`
}

// Func is a function that can be retried
type Func func(ctx context.Context, attempt int) error

// WithExponentialBackoff executes fn until it succeeds, the attempt budget is
// spent, or the context is cancelled.
func WithExponentialBackoff(ctx context.Context, config *Config, fn Func) *Result {
	logger := logging.FromContext(ctx)
	startTime := time.Now()

	result := &Result{}

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)

			if attempt > 1 {
				logger.WithFields(map[string]interface{}{
					"attempts":      attempt,
					"totalDuration": result.TotalDuration.String(),
				}).Info("Operation succeeded after retry")
			}

			return result
		}

		result.LastError = err

		if config.RetryIf != nil && !config.RetryIf(err) {
			logger.WithField("error", err.Error()).Warn("Operation failed with non-retryable error")
			break
		}

		if attempt >= config.MaxAttempts {
			logger.WithFields(map[string]interface{}{
				"attempts": attempt,
				"error":    err.Error(),
			}).Error("Operation failed after max retry attempts")
			break
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			break
		}

		delay := calculateDelay(config, attempt)
		logger.WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": config.MaxAttempts,
			"delay":       delay.String(),
			"error":       err.Error(),
		}).Warn("Operation failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// calculateDelay computes the backoff delay for the given attempt
func calculateDelay(config *Config, attempt int) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	return time.Duration(delay)
}
