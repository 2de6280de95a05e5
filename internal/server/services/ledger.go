package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/entryledger/internal/common"
	"github.com/dmitrijs2005/entryledger/internal/dbx"
	"github.com/dmitrijs2005/entryledger/internal/server/models"
	"github.com/shopspring/decimal"
)

// invoiceCounterWidth is the zero-padded width of the first invoice counter.
const invoiceCounterWidth = 3

// Correlation is the payment object named by the gateway "custom" field.
type Correlation struct {
	Type    models.PaymentType
	EntryID int64
}

func (c Correlation) String() string {
	return fmt.Sprintf("%s %d", c.Type, c.EntryID)
}

// ParseCorrelation parses "<payment_type> <entry_id>".
func ParseCorrelation(s string) (Correlation, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Correlation{}, fmt.Errorf("%w: custom %q", common.ErrUnknownPaymentObject, s)
	}
	pt, err := models.ParsePaymentType(fields[0])
	if err != nil {
		return Correlation{}, fmt.Errorf("%w: %v", common.ErrUnknownPaymentObject, err)
	}
	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || id <= 0 {
		return Correlation{}, fmt.Errorf("%w: entry id %q", common.ErrUnknownPaymentObject, fields[1])
	}
	return Correlation{Type: pt, EntryID: id}, nil
}

// NextInvoiceID returns the invoice id that follows the existing invoices
// of one (entry, payment type) pair: "<ref>-<type>-inv#NNN". The counter is
// the highest existing counter plus one, padded to that counter's width.
func NextInvoiceID(ref string, pt models.PaymentType, existing []*models.PaymentTransaction) (string, error) {
	base := fmt.Sprintf("%s-%s-inv#", ref, pt)
	last, width := 0, invoiceCounterWidth
	for _, t := range existing {
		n, w, ok := invoiceCounter(t.InvoiceID)
		if ok && n >= last {
			last, width = n, w
		}
	}

	next := fmt.Sprintf("%0*d", width, last+1)
	if len(next) > width {
		return "", fmt.Errorf("%w: %s%s follows %d", common.ErrInvoiceCounterOverflow, base, next, last)
	}
	return base + next, nil
}

func invoiceCounter(invoiceID string) (n, width int, ok bool) {
	i := strings.LastIndex(invoiceID, "#")
	if i < 0 || i == len(invoiceID)-1 {
		return 0, 0, false
	}
	digits := invoiceID[i+1:]
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, 0, false
	}
	return n, len(digits), true
}

// Invoice is what a payment page needs to render the gateway form.
type Invoice struct {
	Transaction models.PaymentTransaction
	// Custom is the correlation token echoed back by the gateway.
	Custom  string
	Amount  decimal.Decimal
	Created bool
}

type LedgerService struct {
	deps *Deps
}

func NewLedgerService(deps *Deps) *LedgerService {
	return &LedgerService{deps: deps}
}

// GetOrCreateTransaction returns the pending transaction of the pair, or
// mints the next one, while holding the entry lock.
func (s *LedgerService) GetOrCreateTransaction(ctx context.Context, entryID int64, pt models.PaymentType) (*Invoice, error) {
	var inv *Invoice
	err := s.deps.Runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		entry, err := s.deps.Repos.Entries(tx).GetByIDForUpdate(ctx, entryID)
		if err != nil {
			return fmt.Errorf("lock entry %d: %w", entryID, err)
		}
		inv, err = s.invoice(ctx, tx, entry, pt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// PaymentPage is GetOrCreateTransaction for a user-facing payment page. It
// refuses payments that are already complete or that do not fit the entry.
func (s *LedgerService) PaymentPage(ctx context.Context, entryRef string, pt models.PaymentType) (*Invoice, error) {
	var inv *Invoice
	err := s.deps.Runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		entries := s.deps.Repos.Entries(tx)
		found, err := entries.GetByRef(ctx, entryRef)
		if err != nil {
			return fmt.Errorf("entry %s: %w", entryRef, err)
		}
		entry, err := entries.GetByIDForUpdate(ctx, found.ID)
		if err != nil {
			return fmt.Errorf("lock entry %d: %w", found.ID, err)
		}

		switch {
		case entry.Paid(pt):
			return common.ErrAlreadyPaid
		case pt == models.PaymentWithdrawal && !entry.Withdrawn:
			return fmt.Errorf("%w: withdrawal fee for active entry %d", common.ErrInvalidTransition, entry.ID)
		case pt != models.PaymentWithdrawal && entry.Withdrawn:
			return common.ErrEntryWithdrawn
		case pt == models.PaymentSelected && entry.Status != models.StatusSelected && entry.Status != models.StatusSelectedConfirmed:
			return fmt.Errorf("%w: selected entry fee for %s entry %d", common.ErrInvalidTransition, entry.Status, entry.ID)
		}

		inv, err = s.invoice(ctx, tx, entry, pt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *LedgerService) invoice(ctx context.Context, tx dbx.DBTX, entry *models.Entry, pt models.PaymentType) (*Invoice, error) {
	t, created, err := s.getOrCreate(ctx, tx, entry, pt)
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.ObserveInvoice(string(pt), created)
	return &Invoice{
		Transaction: *t,
		Custom:      Correlation{Type: pt, EntryID: entry.ID}.String(),
		Amount:      models.Fee(pt, entry.Category),
		Created:     created,
	}, nil
}

// getOrCreate must run with the entry row locked.
func (s *LedgerService) getOrCreate(ctx context.Context, tx dbx.DBTX, entry *models.Entry, pt models.PaymentType) (*models.PaymentTransaction, bool, error) {
	repo := s.deps.Repos.Transactions(tx)
	existing, err := repo.ListForEntry(ctx, entry.ID, pt)
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 && existing[0].Pending() {
		return existing[0], false, nil
	}

	invoiceID, err := NextInvoiceID(entry.EntryRef, pt, existing)
	if err != nil {
		return nil, false, err
	}
	t := &models.PaymentTransaction{InvoiceID: invoiceID, EntryID: entry.ID, PaymentType: pt}
	if err := repo.Create(ctx, t); err != nil {
		return nil, false, fmt.Errorf("create transaction %s: %w", invoiceID, err)
	}
	s.deps.Logger.Info(ctx, "invoice created", "entry_id", entry.ID, "payment_type", string(pt), "invoice_id", invoiceID)
	return t, true, nil
}
