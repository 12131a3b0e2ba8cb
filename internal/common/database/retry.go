// internal/common/database/retry.go
// Retry helper for read-only queries

package database

import (
	"context"
	"errors"
	"time"

	"github.com/lib/pq"
)

const (
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
	uniqueViolation      = "23505"
)

// readRetryAttempts bounds WithReadRetry; writes are never retried.
const readRetryAttempts = 3

// IsRetryable reports whether err is a transient serialization or deadlock failure
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == serializationFailure || pqErr.Code == deadlockDetected
	}
	return false
}

// IsUniqueViolation reports whether err is a unique constraint violation
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// WithReadRetry runs a read-only query, retrying transient failures with a
// short linear backoff. fn must not have side effects.
func WithReadRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= readRetryAttempts; attempt++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 20 * time.Millisecond):
		}
	}
	return err
}
