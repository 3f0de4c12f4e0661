package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/qualityhub/issueflow/internal/storage"
)

const retryMaxElapsed = 30 * time.Second

func newRetryBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryMaxElapsed
	return bo
}

// isRetryableError returns true if the error is a transient connection or
// lock error worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, transient := range []string{
		// MySQL driver transient errors
		"driver: bad connection",
		"invalid connection",
		// Network blips and server restarts
		"broken pipe",
		"connection reset",
		"connection refused",
		"i/o timeout",
		// MySQL 2013 mid-query disconnect, 2006 idle timeout
		"lost connection",
		"gone away",
		// Dolt read-only mode under load
		"database is read only",
		// SQLite writer contention beyond busy_timeout
		"database is locked",
		"sqlite_busy",
	} {
		if strings.Contains(errStr, transient) {
			return true
		}
	}
	return false
}

// withRetry executes op, retrying transient errors with exponential backoff.
func withRetry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err != nil && isRetryableError(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(newRetryBackoff(), ctx))
}

// wrapDBError maps sql.ErrNoRows to storage.ErrNotFound and adds context.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
