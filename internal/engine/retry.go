package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// defaultAttempts is how many times a client calls its API unless configured.
const defaultAttempts = 2

// retryBackoff is the delay before the second attempt. Tests shorten it.
var retryBackoff = 2 * time.Second

// apiError represents an error from a model API that may or may not be retryable.
type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// isRetryable returns true for transient errors (rate limit, server errors).
func (e *apiError) isRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// completeWithRetry runs do up to attempts times, backing off between tries
// on transient failures.
func completeWithRetry(ctx context.Context, provider string, attempts int, do func() (string, error)) (string, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := do()
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Only retry on transient/retryable errors.
		var ae *apiError
		if errors.As(err, &ae) && !ae.isRetryable() {
			return "", fmt.Errorf("%s: %w", provider, err)
		}

		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt+1) * retryBackoff):
			}
		}
	}
	return "", fmt.Errorf("%s: %w", provider, lastErr)
}
