// Package retry provides exponential-backoff retry for operations that
// fail transiently during startup — chiefly the printer adapter's
// entity resolution, which races the telemetry registry populating a
// just-added device's entities.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/psantana5/printassist/internal/logging"
)

// Config controls backoff timing.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultConfig is tuned for entity resolution: three retries after
// the first attempt (four attempts in all), doubling from one second,
// capped at thirty.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// Do runs fn with exponential backoff, returning its last error once
// the first attempt and MaxRetries retries have all failed, or an
// error once ctx is cancelled. log may be nil; when present, each
// failed attempt is logged.
func Do(ctx context.Context, config Config, log *logging.Logger, fn func() error) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if log != nil {
			log.Warn("attempt failed", map[string]interface{}{
				"attempt": attempt + 1,
				"error":   err.Error(),
			})
		}

		if attempt == config.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * config.Multiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", config.MaxRetries, lastErr)
}
