package database

import (
	"context"
	"database/sql"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/varoOP/stripcache/internal/domain"
)

type timeout interface {
	Timeout() bool
}

// unavailable reports failures of the store itself as opposed to bad queries or data.
func unavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, redis.ErrClosed) {
		return true
	}
	if pgconn.Timeout(err) || isSQLiteBusy(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var t timeout
	if errors.As(err, &t) && t.Timeout() {
		return true
	}

	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}

// storeError wraps err, tagging store failures with domain.ErrStoreUnavailable.
func storeError(err error, msg string) error {
	if unavailable(err) {
		return errors.Wrapf(domain.ErrStoreUnavailable, "%s: %v", msg, err)
	}
	return errors.Wrap(err, msg)
}
