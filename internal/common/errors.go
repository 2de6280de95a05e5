// Package common defines sentinel errors shared by the entry, ledger and
// payment-notification layers. Callers should use errors.Is to match these
// values; every layer wraps them with fmt.Errorf("...: %w").
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Entry lifecycle errors.
	ErrInvalidTransition = errors.New("invalid transition")
	ErrIncompleteEntry   = errors.New("incomplete entry")
	ErrDuplicateCategory = errors.New("entry already exists for category")
	ErrInvalidCategory   = errors.New("invalid category")

	// Payment page errors, shown to the user as is.
	ErrAlreadyPaid    = errors.New("payment already completed")
	ErrEntryWithdrawn = errors.New("entry withdrawn")

	// Payment notification errors. None of these mutate state.
	ErrUnknownPaymentObject    = errors.New("unknown object for payment")
	ErrReceiverMismatch        = errors.New("invalid receiver")
	ErrUnexpectedPaymentStatus = errors.New("unexpected payment status")
	ErrPaymentPending          = fmt.Errorf("%w: pending", ErrUnexpectedPaymentStatus)

	// Side-effect errors. Never fatal to an applied transition.
	ErrNotificationDelivery = errors.New("notification delivery failed")

	// Ingress authentication errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Ledger configuration errors.
	ErrInvoiceCounterOverflow = errors.New("invoice counter overflow")
)

// IsRecoverable reports whether err is a business error about a single
// notification or transition that has already been reported to support.
// Redelivering the same input would fail the same way, so callers acknowledge
// it instead of asking for a retry.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrUnknownPaymentObject) ||
		errors.Is(err, ErrReceiverMismatch) ||
		errors.Is(err, ErrUnexpectedPaymentStatus) ||
		errors.Is(err, ErrInvalidTransition)
}
