// Package notifications stores the journal of received payment-gateway
// notifications, unique per (txn_id, payment_status).
package notifications

import (
	"context"

	"github.com/dmitrijs2005/entryledger/internal/server/models"
)

type Repository interface {
	// Record stores rec in the processing state, or, when the same
	// (txn_id, payment_status) was seen before, bumps its attempt counter.
	// The returned record carries the stored state and attempts.
	Record(ctx context.Context, rec *models.NotificationRecord) (*models.NotificationRecord, error)

	// MarkState moves the record to state, with errText for failures.
	MarkState(ctx context.Context, id int64, state, errText string) error

	// SetInvoice fills in the ledger invoice of a record that arrived
	// without one. Records that already carry an invoice are left as is.
	SetInvoice(ctx context.Context, id int64, invoice string) error
}
