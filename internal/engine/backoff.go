package engine

import (
	"context"
	"time"

	"ifengine/internal/logging"
	"ifengine/internal/telemetry"
)

// computeBackoff returns exponential backoff for the given attempt number
// (1-indexed), mirroring the teacher's own attempt-shift-capped-at-10
// scheme.
func computeBackoff(cfg Config, attempt int) time.Duration {
	base := cfg.RetryBaseDelay
	if base <= 0 {
		base = 2 * time.Second
	}
	factor := cfg.RetryFactor
	if factor <= 1 {
		factor = 2.0
	}

	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > 10 {
		shift = 10
	}

	backoff := base
	for i := 0; i < shift; i++ {
		backoff = time.Duration(float64(backoff) * factor)
	}
	return backoff
}

// withRetry runs fn up to cfg.RetryMaxAttempts times with exponential
// backoff between attempts, honoring ctx cancellation during the sleep.
// This is the only local recovery the pipeline performs for provider
// calls; anything else surfaces as a failed turn.
func withRetry[T any](ctx context.Context, cfg Config, label string, fn func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := cfg.RetryMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		logging.EngineWarn("%s: attempt %d/%d failed: %v", label, attempt, maxAttempts, err)
		telemetry.DefaultMetrics().RecordRetry(ctx, label, attempt)

		if attempt == maxAttempts {
			break
		}

		select {
		case <-time.After(computeBackoff(cfg, attempt)):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}
