package pool

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"syscall"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strata/internal/sentinel"
)

func retryManager(policy RetryPolicy) *Manager {
	return &Manager{
		retry: policy,
		slow:  time.Second,
		log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cannot connect now", &pgconn.PgError{Code: "57P03"}, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"bad conn", driver.ErrBadConn, true},
		{"wrapped transient", fmt.Errorf("query: %w", &pgconn.PgError{Code: "08001"}), true},
		{"sentinel transient", fmt.Errorf("op: %w", sentinel.ErrTransientBackend), true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"auth failure", &pgconn.PgError{Code: "28P01"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestWithRetry_TransientSucceedsOnThirdAttempt(t *testing.T) {
	m := retryManager(RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond})

	attempts := 0
	err := m.withRetry(context.Background(), "test", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return &pgconn.PgError{Code: "57P03"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_NonTransientNeverRetries(t *testing.T) {
	m := retryManager(RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond})

	unique := &pgconn.PgError{Code: "23505"}
	attempts := 0
	err := m.withRetry(context.Background(), "test", func(context.Context) error {
		attempts++
		return fmt.Errorf("insert: %w", unique)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	// Original classification stays intact so callers can tell a uniqueness
	// conflict from a connectivity problem.
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "23505", pgErr.Code)
}

func TestWithRetry_ExhaustedBudgetSurfacesLastError(t *testing.T) {
	m := retryManager(RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond})

	attempts := 0
	err := m.withRetry(context.Background(), "test", func(context.Context) error {
		attempts++
		return &pgconn.PgError{Code: "53300"}
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	var pgErr *pgconn.PgError
	assert.ErrorAs(t, err, &pgErr)
}

func TestWithRetry_ContextCancelAbortsBackoff(t *testing.T) {
	m := retryManager(RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- m.withRetry(ctx, "test", func(context.Context) error {
			attempts++
			return &pgconn.PgError{Code: "57P03"}
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	case <-time.After(time.Second):
		t.Fatal("retry loop did not honor cancellation")
	}
}
