// Package dbx provides tiny DB abstractions shared by repositories:
// a minimal interface (DBTX) implemented by both *sql.DB and *sql.Tx,
// a helper to run functions inside a transaction, and a TxRunner seam so
// services can be driven by either a real database or an in-process store.
package dbx

import (
	"context"
	"database/sql"
)

// DBTX is the subset of database/sql used by our repos.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxFunc is the unit of work executed inside a transaction.
type TxFunc func(ctx context.Context, tx DBTX) error

// TxRunner runs a unit of work atomically. Repositories obtained from the
// handle passed to fn see the transaction's view of the data.
type TxRunner interface {
	WithTx(ctx context.Context, fn TxFunc) error
	// Conn returns a non-transactional handle for plain reads.
	Conn() DBTX
}

// WithTx begins a transaction, runs fn with a transactional handle, and then
// commits on success or rolls back on error/panic. Panics are rethrown.
//
// Typical use:
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    // use tx instead of db
//	    _, err := tx.ExecContext(ctx, "UPDATE ...")
//	    return err
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn TxFunc) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

// SQLRunner is the TxRunner backed by a *sql.DB.
type SQLRunner struct {
	DB   *sql.DB
	Opts *sql.TxOptions
}

// NewSQLRunner wraps db. Transactions use the driver's default isolation;
// per-entry serialization comes from SELECT ... FOR UPDATE in the repositories.
func NewSQLRunner(db *sql.DB) *SQLRunner {
	return &SQLRunner{DB: db}
}

func (r *SQLRunner) WithTx(ctx context.Context, fn TxFunc) error {
	return WithTx(ctx, r.DB, r.Opts, fn)
}

func (r *SQLRunner) Conn() DBTX {
	return r.DB
}
