package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/trellis/pkg/apperr"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so store methods can run
// standalone or inside a caller's transaction
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside a transaction, committing when fn returns nil
func WithTx(ctx context.Context, db *sql.DB, op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(op, "failed to begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperr.Wrap(op, "failed to commit transaction", err)
	}
	return nil
}

// CheckAffected distinguishes the two reasons an update or delete by id can
// touch zero rows: the row does not exist (NotFound) or the store refused the
// write (Authority). table must be a trusted identifier.
func CheckAffected(ctx context.Context, q DBTX, op string, result sql.Result, table string, id any) error {
	n, err := result.RowsAffected()
	if err != nil {
		return apperr.Wrap(op, "failed to get rows affected", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table)
	if err := q.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return apperr.Wrap(op, "failed to check row existence", err)
	}
	if !exists {
		return apperr.NotFound(op, "%s %v not found", table, id)
	}
	return apperr.Authority(op, "write to %s %v was rejected by the store", table, id)
}
