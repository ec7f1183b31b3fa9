package resilience

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// DialConfig holds configuration for initial-connect retry. Established
// sessions are never redialed; backoff applies only before a session opens.
type DialConfig struct {
	MaxAttempts int           // Maximum number of dial attempts
	Backoff     time.Duration // Initial backoff between attempts
	Multiplier  float64       // Exponential backoff multiplier
	MaxBackoff  time.Duration // Cap on the backoff duration
}

// DefaultDialConfig returns a default dial configuration.
func DefaultDialConfig() *DialConfig {
	return &DialConfig{
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  10 * time.Second,
	}
}

// DialFunc attempts to establish a connection once.
type DialFunc func() error

// DialWithBackoff runs fn with exponential backoff until it succeeds, the
// attempts are exhausted, or ctx is cancelled.
func DialWithBackoff(ctx context.Context, fn DialFunc, config *DialConfig) error {
	if config == nil {
		config = DefaultDialConfig()
	}

	backoff := config.Backoff
	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			if attempt > 0 {
				log.Info().Int("attempts", attempt+1).Msg("Dial succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if attempt < config.MaxAttempts-1 {
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Int("max_attempts", config.MaxAttempts).
				Dur("backoff", backoff).
				Msg("Dial attempt failed, retrying")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff = time.Duration(float64(backoff) * config.Multiplier)
				if backoff > config.MaxBackoff {
					backoff = config.MaxBackoff
				}
			}
		}
	}

	return fmt.Errorf("failed to dial after %d attempts: %w", config.MaxAttempts, lastErr)
}

// CalculateBackoff returns the backoff duration for a given attempt number.
func CalculateBackoff(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	backoff := time.Duration(float64(initial) * math.Pow(multiplier, float64(attempt)))
	if backoff > max {
		return max
	}
	return backoff
}
