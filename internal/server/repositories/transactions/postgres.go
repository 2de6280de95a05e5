package transactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/entryledger/internal/common"
	"github.com/dmitrijs2005/entryledger/internal/dbx"
	"github.com/dmitrijs2005/entryledger/internal/server/models"
)

const columns = `id, invoice_id, entry_id, payment_type, transaction_id, created_at`

// PostgresRepository implements the ledger over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*models.PaymentTransaction, error) {
	var (
		t     models.PaymentTransaction
		txnID sql.NullString
	)
	if err := row.Scan(&t.ID, &t.InvoiceID, &t.EntryID, &t.PaymentType, &txnID, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.TransactionID = txnID.String
	return &t, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *PostgresRepository) Create(ctx context.Context, t *models.PaymentTransaction) error {
	query := `
		INSERT INTO payment_transactions (invoice_id, entry_id, payment_type, transaction_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query, t.InvoiceID, t.EntryID, t.PaymentType, nullable(t.TransactionID)).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListForEntry(ctx context.Context, entryID int64, pt models.PaymentType) ([]*models.PaymentTransaction, error) {
	query := `SELECT ` + columns + ` FROM payment_transactions
		WHERE entry_id = $1 AND payment_type = $2
		ORDER BY invoice_id DESC`

	rows, err := r.db.QueryContext(ctx, query, entryID, pt)
	if err != nil {
		return nil, fmt.Errorf("failed to select transactions: %w", err)
	}
	defer rows.Close()

	var result []*models.PaymentTransaction
	for rows.Next() {
		t, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.PaymentTransaction, error) {
	t, err := scan(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) GetByInvoiceID(ctx context.Context, invoiceID string) (*models.PaymentTransaction, error) {
	return r.getOne(ctx, `SELECT `+columns+` FROM payment_transactions WHERE invoice_id = $1`, invoiceID)
}

func (r *PostgresRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.PaymentTransaction, error) {
	return r.getOne(ctx, `SELECT `+columns+` FROM payment_transactions WHERE transaction_id = $1`, transactionID)
}

func (r *PostgresRepository) SetTransactionID(ctx context.Context, id int64, transactionID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_transactions SET transaction_id = $2 WHERE id = $1`, id, nullable(transactionID))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
