package resilience

import (
	"context"
	"log/slog"
	"time"
)

// retry returns the last error unchanged once attempts run out or the error
// is not retryable.
func retry(ctx context.Context, cfg Config, op string, fn func(context.Context) error, classifier ErrorClassifier) error {
	var err error
	for attempt := 1; attempt <= cfg.RetryMaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}

		if err = fn(ctx); err == nil {
			return nil
		}
		if !classifier(err).Retryable {
			return err
		}
		if attempt == cfg.RetryMaxAttempts {
			slog.Warn("retry_exhausted", "operation", op, "attempts", attempt, "error", err.Error())
			return err
		}

		wait := cfg.Backoff(attempt - 1)
		slog.Warn("retry_attempt",
			"operation", op,
			"attempt", attempt,
			"max_attempts", cfg.RetryMaxAttempts,
			"backoff_ms", float64(wait.Microseconds())/1000.0,
			"error", err.Error(),
		)
		if !sleep(ctx, wait) {
			return err
		}
	}
	return err
}

// sleep waits for d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
