package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	fetchRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calendar_fetch_retries_total",
		Help: "Total number of feed download retry attempts by error class",
	}, []string{"error_class"})

	fetchRetryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "calendar_fetch_retry_backoff_seconds",
		Help:    "Backoff duration before feed download retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	fetchRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calendar_fetch_retry_exhausted_total",
		Help: "Total number of times feed download retries were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	// Values below 2 disable retries.
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns a configuration with retries disabled.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       1,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// WithRetries returns a copy of c allowing the given number of extra attempts.
func (c RetryConfig) WithRetries(retries int) RetryConfig {
	if retries < 0 {
		retries = 0
	}
	c.MaxAttempts = retries + 1
	return c
}

// retryWithBackoff executes fn with exponential backoff while it fails with a
// retryable error. It respects context cancellation and adds jitter.
func retryWithBackoff(ctx context.Context, config RetryConfig, logger zerolog.Logger, fn func() error) error {
	if config.MaxAttempts <= 1 {
		return fn()
	}

	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Int("attempt", attempt).
					Msg("Feed download succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if !shouldRetry(err) {
			return err
		}

		if attempt >= config.MaxAttempts {
			break
		}

		class := classOf(err)
		fetchRetriesTotal.WithLabelValues(string(class)).Inc()

		// ±20% jitter
		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		fetchRetryBackoffSeconds.Observe(jitter.Seconds())

		logger.Warn().
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying feed download after backoff")

		timer := time.NewTimer(jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v: %w", ErrContextCancelled, ctx.Err(), lastErr)
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * config.BackoffMultiplier)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	class := classOf(lastErr)
	fetchRetryExhaustedTotal.WithLabelValues(string(class)).Inc()
	logger.Warn().
		Str("error_class", string(class)).
		Int("max_attempts", config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, config.MaxAttempts, lastErr)
}

func classOf(err error) ErrorClass {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}
	return ""
}
