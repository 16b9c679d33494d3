package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/wesm/vocalytics/internal/metrics"
)

// RetryPolicy bounds retries of connectivity failures.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy makes at most three attempts.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:  3,
	BaseDelay: 50 * time.Millisecond,
	MaxDelay:  time.Second,
}

// IsTransient reports whether err is a connectivity failure worth
// retrying. Errors raised by the query itself (syntax, constraint,
// type) are never transient.
func IsTransient(err error) bool {
	if err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception; 57P01-57P03: server
		// shutting down or not yet accepting connections.
		return strings.HasPrefix(pgErr.Code, "08") ||
			pgErr.Code == "57P01" || pgErr.Code == "57P02" ||
			pgErr.Code == "57P03"
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy ||
			sqliteErr.Code == sqlite3.ErrLocked
	}

	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

// withRetry runs fn until it succeeds, fails with a non-transient
// error, exhausts the policy or ctx is done.
func withRetry(
	ctx context.Context, p RetryPolicy, m *metrics.Manager,
	fn func(context.Context) error,
) error {
	attempts := max(p.Attempts, 1)
	delay := p.BaseDelay
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || attempt >= attempts || !IsTransient(err) {
			return err
		}
		m.RecordRetry()
		log.Debug().Err(err).Int("attempt", attempt).
			Dur("backoff", delay).Msg("retrying store operation")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		if p.MaxDelay > 0 {
			delay = min(delay*2, p.MaxDelay)
		} else {
			delay *= 2
		}
	}
}
