package pool

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"strata/internal/sentinel"
)

// RetryPolicy bounds the retry loop applied to transient backend failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, first attempt included.
	MaxAttempts int
	// BaseBackoff is doubled on every retry: base × 2^attempt.
	BaseBackoff time.Duration
}

// DefaultRetryPolicy retries twice after the first failure with exponential
// backoff starting at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseBackoff: 100 * time.Millisecond}
}

// transientPgCodes are the PostgreSQL error classes expected to resolve on
// retry: connection exceptions (class 08), too_many_connections and
// cannot_connect_now.
var transientPgCodes = map[string]bool{
	"08000": true, // connection_exception
	"08001": true, // sqlclient_unable_to_establish_sqlconnection
	"08003": true, // connection_does_not_exist
	"08004": true, // sqlserver_rejected_establishment_of_sqlconnection
	"08006": true, // connection_failure
	"53300": true, // too_many_connections
	"57P03": true, // cannot_connect_now
}

// IsTransient classifies an error as a retryable backend hiccup. Constraint
// violations, bad SQL, and authentication failures are never transient; they
// propagate to the caller with their original classification intact.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sentinel.ErrTransientBackend) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientPgCodes[pgErr.Code]
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// withRetry runs fn with the manager's retry policy. Only transient errors
// are retried; everything else surfaces immediately on the first attempt.
func (m *Manager) withRetry(ctx context.Context, scope string, fn func(context.Context) error) error {
	policy := m.retry
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt+1 >= policy.MaxAttempts {
			return fmt.Errorf("after %d attempts: %w", policy.MaxAttempts, err)
		}

		backoff := policy.BaseBackoff << attempt
		m.log.WarnContext(ctx, "transient backend error, retrying",
			"scope", scope,
			"attempt", attempt+1,
			"backoff", backoff.String(),
			"error", err,
		)
		queryRetries.WithLabelValues(scope).Inc()

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}
}
