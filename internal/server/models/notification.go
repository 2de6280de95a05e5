package models

import (
	"strings"
	"time"
)

// Gateway payment_status values the processor understands.
const (
	PaymentStatusCompleted = "Completed"
	PaymentStatusRefunded  = "Refunded"
	PaymentStatusPending   = "Pending"
)

// NormalizePaymentStatus maps a gateway status onto the known constants
// regardless of case. Unknown statuses are returned trimmed.
func NormalizePaymentStatus(s string) string {
	s = strings.TrimSpace(s)
	for _, known := range []string{PaymentStatusCompleted, PaymentStatusRefunded, PaymentStatusPending} {
		if strings.EqualFold(s, known) {
			return known
		}
	}
	return s
}

// Notification is a payment-gateway notification that an external verifier
// has already authenticated.
type Notification struct {
	Custom        string
	Invoice       string
	PaymentStatus string
	TxnID         string
	Business      string
	MCGross       string
	// Raw holds every field as received, for the journal and the archive.
	Raw map[string]string
}

// Journal states of a received notification.
const (
	JournalProcessing = "processing"
	JournalProcessed  = "processed"
	JournalFailed     = "failed"
)

// NotificationRecord is the journal row kept for every notification, unique
// per (txn_id, payment_status).
type NotificationRecord struct {
	ID            int64
	TxnID         string
	PaymentStatus string
	Invoice       string
	Custom        string
	Payload       []byte
	State         string
	Error         string
	Attempts      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ActivityLog is one append-only audit record.
type ActivityLog struct {
	ID        int64
	Timestamp time.Time
	Message   string
}
