// Package transactions stores the payment ledger: one row per payment
// attempt for an (entry, payment type) pair.
package transactions

import (
	"context"

	"github.com/dmitrijs2005/entryledger/internal/server/models"
)

type Repository interface {
	// Create inserts t and sets t.ID and t.CreatedAt.
	Create(ctx context.Context, t *models.PaymentTransaction) error

	// ListForEntry returns the entry's transactions of type pt, newest
	// invoice first.
	ListForEntry(ctx context.Context, entryID int64, pt models.PaymentType) ([]*models.PaymentTransaction, error)

	GetByInvoiceID(ctx context.Context, invoiceID string) (*models.PaymentTransaction, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*models.PaymentTransaction, error)

	// SetTransactionID records the gateway transaction id on the row.
	SetTransactionID(ctx context.Context, id int64, transactionID string) error
}
