package store

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// classify maps driver errors onto the package sentinels, leaving anything
// unrecognised untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgForeignKeyViolation:
			return &ConstraintError{Constraint: pgErr.ConstraintName, err: ErrConflict, cause: pgErr}
		}
	}
	return err
}

// ConstraintError reports which constraint rejected a write.
type ConstraintError struct {
	Constraint string
	err        error
	cause      error
}

func (e *ConstraintError) Error() string {
	if e.Constraint == "" {
		return e.err.Error()
	}
	return e.err.Error() + ": " + e.Constraint
}

func (e *ConstraintError) Unwrap() []error {
	return []error{e.err, e.cause}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
