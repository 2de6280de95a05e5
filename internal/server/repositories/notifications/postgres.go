package notifications

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/entryledger/internal/dbx"
	"github.com/dmitrijs2005/entryledger/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Record(ctx context.Context, rec *models.NotificationRecord) (*models.NotificationRecord, error) {
	query := `
		INSERT INTO payment_notifications (txn_id, payment_status, invoice, custom, payload, state)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (txn_id, payment_status)
		DO UPDATE SET attempts = payment_notifications.attempts + 1, updated_at = now()
		RETURNING id, state, error, attempts, created_at, updated_at`

	out := *rec
	err := r.db.QueryRowContext(ctx, query,
		rec.TxnID, rec.PaymentStatus, rec.Invoice, rec.Custom, rec.Payload, models.JournalProcessing,
	).Scan(&out.ID, &out.State, &out.Error, &out.Attempts, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &out, nil
}

func (r *PostgresRepository) MarkState(ctx context.Context, id int64, state, errText string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payment_notifications SET state = $2, error = $3, updated_at = now() WHERE id = $1`,
		id, state, errText)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetInvoice(ctx context.Context, id int64, invoice string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payment_notifications SET invoice = $2, updated_at = now() WHERE id = $1 AND invoice = ''`,
		id, invoice)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
