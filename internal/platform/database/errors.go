package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"fintrack/pkg/platform/sentinel"
)

// Classify maps driver-level failures onto the sentinel taxonomy while
// preserving the original error chain. Errors it does not recognize pass
// through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errors.Join(sentinel.ErrUnavailable, err)
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return errors.Join(sentinel.ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return errors.Join(sentinel.ErrUnavailable, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "23": // integrity constraint violation (unique, FK, NOT NULL, check)
			return errors.Join(sentinel.ErrValidation, err)
		case "40": // serialization failure, deadlock detected
			return errors.Join(sentinel.ErrConflict, err)
		case "08", "53", "57": // connection, resources, operator intervention
			return errors.Join(sentinel.ErrUnavailable, err)
		}
	}
	return err
}
