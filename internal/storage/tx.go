package storage

import (
	"context"
	"database/sql"

	"github.com/xaenox/dump-bot/internal/errors"
	"go.uber.org/zap"
)

// Transactor is implemented by stores that can apply several writes atomically.
type Transactor interface {
	// WithTx runs fn against a store bound to one transaction, committing when
	// fn returns nil and rolling back otherwise. WithTx on a bound store joins
	// the open transaction.
	WithTx(ctx context.Context, fn func(tx Storage) error) error
}

// querier is what *sql.DB and *sql.Tx have in common.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// runTx runs fn in bound when it is set, otherwise in a new transaction on db.
// Errors from fn are returned unchanged.
func runTx(ctx context.Context, db *sql.DB, bound *sql.Tx, logger *zap.Logger, op string, fn func(tx *sql.Tx) error) error {
	if bound != nil {
		return fn(bound)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorage(op, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Error("Failed to roll back", zap.Error(rbErr), zap.String("op", op))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.NewStorage(op, err)
	}
	return nil
}
