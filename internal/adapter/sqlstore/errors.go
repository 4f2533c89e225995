package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/conduit-lang/docmapper/internal/orm/ormerror"
)

var (
	// ErrDuplicateID is returned when a record with the same id already exists
	ErrDuplicateID = errors.New("duplicate document id")

	// ErrConstraint is returned for other constraint violations
	ErrConstraint = errors.New("constraint violation")
)

const (
	pgUniqueViolation = "23505"
	pgIntegrityClass  = "23"
)

// convertDBError classifies driver errors of sqlite3, pgx and lib/pq and
// wraps them as storage errors
func convertDBError(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ormerror.NotFound("record not found").WithOp(op)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return ormerror.Storage(op, classifyCode(pgErr.Code, pgErr.Detail, err))
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return ormerror.Storage(op, classifyCode(string(pqErr.Code), pqErr.Detail, err))
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.Code == sqlite3.ErrConstraint {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return ormerror.Storage(op, fmt.Errorf("%w: %v", ErrDuplicateID, err))
		default:
			return ormerror.Storage(op, fmt.Errorf("%w: %v", ErrConstraint, err))
		}
	}

	return ormerror.Storage(op, err)
}

func classifyCode(code, detail string, err error) error {
	switch {
	case code == pgUniqueViolation:
		return fmt.Errorf("%w: %s", ErrDuplicateID, detail)
	case len(code) == 5 && code[:2] == pgIntegrityClass:
		return fmt.Errorf("%w: %s", ErrConstraint, detail)
	default:
		return err
	}
}

// IsDuplicateID returns true if err reports an id collision
func IsDuplicateID(err error) bool {
	return errors.Is(err, ErrDuplicateID)
}
