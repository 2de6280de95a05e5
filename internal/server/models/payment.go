package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentType identifies which fee a payment settles.
type PaymentType string

const (
	PaymentVideo      PaymentType = "video"
	PaymentSelected   PaymentType = "selected"
	PaymentWithdrawal PaymentType = "withdrawal"
)

// PaymentTypes lists every payment type in a stable order.
var PaymentTypes = []PaymentType{PaymentVideo, PaymentSelected, PaymentWithdrawal}

func ParsePaymentType(s string) (PaymentType, error) {
	switch t := PaymentType(s); t {
	case PaymentVideo, PaymentSelected, PaymentWithdrawal:
		return t, nil
	}
	return "", fmt.Errorf("unknown payment type %q", s)
}

// Verbose is the human wording used in emails and log lines.
func (t PaymentType) Verbose() string {
	switch t {
	case PaymentVideo:
		return "video submission fee"
	case PaymentSelected:
		return "selected entry fee"
	case PaymentWithdrawal:
		return "withdrawal fee"
	}
	return string(t)
}

// PaymentTransaction is one ledger row: a single payment attempt for one
// (entry, payment type) pair. TransactionID is empty until the gateway
// confirms completion.
type PaymentTransaction struct {
	ID            int64
	InvoiceID     string
	EntryID       int64
	PaymentType   PaymentType
	TransactionID string
	CreatedAt     time.Time
}

// Pending reports whether the transaction is still in flight.
func (t *PaymentTransaction) Pending() bool {
	return t.TransactionID == ""
}

var (
	videoEntryFees = map[Category]decimal.Decimal{
		CategoryBeginner:     decimal.NewFromInt(15),
		CategoryIntermediate: decimal.NewFromInt(15),
		CategoryAdvanced:     decimal.NewFromInt(15),
		CategorySemiPro:      decimal.NewFromInt(15),
		CategoryProfessional: decimal.NewFromInt(15),
		CategoryMens:         decimal.NewFromInt(15),
		CategoryDoubles:      decimal.NewFromInt(15),
	}
	selectedEntryFees = map[Category]decimal.Decimal{
		CategoryBeginner:     decimal.NewFromInt(15),
		CategoryIntermediate: decimal.NewFromInt(15),
		CategoryAdvanced:     decimal.NewFromInt(15),
		CategorySemiPro:      decimal.NewFromInt(15),
		CategoryProfessional: decimal.NewFromInt(15),
		CategoryMens:         decimal.NewFromInt(15),
		CategoryDoubles:      decimal.NewFromInt(20),
	}
	withdrawalFee = decimal.NewFromInt(25)
)

// Fee returns the amount due for a payment type in a category.
func Fee(t PaymentType, c Category) decimal.Decimal {
	switch t {
	case PaymentVideo:
		return videoEntryFees[c]
	case PaymentSelected:
		return selectedEntryFees[c]
	case PaymentWithdrawal:
		return withdrawalFee
	}
	return decimal.Zero
}
