package db

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/markdave123-py/appointly/internal/core"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// mapError translates driver failures into core error kinds once, so no
// storage-engine code ever crosses the store boundary.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *core.Error
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return core.E(core.KindNotFound, op+": not found", nil)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.Canceled) {
		return core.E(core.KindUnavailable, op+": store unavailable", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == uniqueViolation:
			return core.E(core.KindConflict, op+": already exists", err)
		case pgErr.Code == foreignKeyViolation:
			return core.E(core.KindNotFound, op+": referenced record not found", err)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"), pgErr.Code == "57P01":
			return core.E(core.KindUnavailable, op+": store unavailable", err)
		}
		return core.E(core.KindInternal, op, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || pgconn.Timeout(err) {
		return core.E(core.KindUnavailable, op+": store unavailable", err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return core.E(core.KindUnavailable, op+": store unavailable", err)
	}
	return core.E(core.KindInternal, op, err)
}
