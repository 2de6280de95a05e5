package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/entryledger/internal/common"
	"github.com/dmitrijs2005/entryledger/internal/dbx"
	"github.com/dmitrijs2005/entryledger/internal/server/archive"
	"github.com/dmitrijs2005/entryledger/internal/server/entrystate"
	"github.com/dmitrijs2005/entryledger/internal/server/models"
	"github.com/shopspring/decimal"
)

// Notification outcomes, also used as the metrics label.
const (
	OutcomeApplied   = "applied"
	OutcomeNoop      = "noop"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// WebhookResult describes what a notification did.
type WebhookResult struct {
	Outcome     string
	EntryID     int64
	PaymentType models.PaymentType
	InvoiceID   string
}

// WebhookProcessor applies verified payment-gateway notifications to the
// ledger and the entries.
type WebhookProcessor struct {
	deps     *Deps
	ledger   *LedgerService
	receiver string
	archive  archive.Archiver
}

// NewWebhookProcessor returns a processor that accepts payments made to
// receiver only.
func NewWebhookProcessor(deps *Deps, ledger *LedgerService, receiver string, a archive.Archiver) *WebhookProcessor {
	if a == nil {
		a = archive.Nop{}
	}
	return &WebhookProcessor{deps: deps, ledger: ledger, receiver: receiver, archive: a}
}

// Process handles one notification. Business failures are reported to
// support and returned wrapped in the matching common error; the state of
// the entry and the ledger is left untouched for all of them.
func (p *WebhookProcessor) Process(ctx context.Context, n models.Notification) (*WebhookResult, error) {
	started := time.Now()
	n.PaymentStatus = models.NormalizePaymentStatus(n.PaymentStatus)
	n.TxnID = strings.TrimSpace(n.TxnID)
	log := p.deps.Logger.With("txn_id", n.TxnID, "payment_status", n.PaymentStatus)

	if n.TxnID == "" {
		err := fmt.Errorf("%w: notification has no transaction id", common.ErrUnknownPaymentObject)
		p.alert(ctx, "payment for unknown object", n, err)
		log.Info(ctx, "notification handled", "outcome", OutcomeRejected, "error", err.Error())
		p.deps.Metrics.ObserveNotification(n.PaymentStatus, OutcomeRejected, time.Since(started))
		return &WebhookResult{Outcome: OutcomeRejected}, err
	}

	rec, err := p.journal(ctx, n)
	if err != nil {
		p.deps.Metrics.ObserveNotification(n.PaymentStatus, OutcomeFailed, time.Since(started))
		return nil, err
	}
	if rec.State == models.JournalProcessed {
		log.Info(ctx, "notification already processed", "attempts", rec.Attempts, "outcome", OutcomeDuplicate)
		p.deps.Metrics.ObserveNotification(n.PaymentStatus, OutcomeDuplicate, time.Since(started))
		return &WebhookResult{Outcome: OutcomeDuplicate}, nil
	}

	res, err := p.process(ctx, n)
	if res == nil {
		res = &WebhookResult{}
	}

	state, errText := models.JournalProcessed, ""
	switch {
	case err == nil:
	case common.IsRecoverable(err):
		res.Outcome = OutcomeRejected
		state, errText = models.JournalFailed, err.Error()
	default:
		res.Outcome = OutcomeFailed
		state, errText = models.JournalFailed, err.Error()
	}
	if markErr := p.mark(ctx, rec.ID, state, errText); markErr != nil {
		log.Error(ctx, "journal update failed", "error", markErr)
	}
	if err == nil && rec.Invoice == "" && res.InvoiceID != "" {
		if setErr := p.setInvoice(ctx, rec.ID, res.InvoiceID); setErr != nil {
			log.Error(ctx, "journal invoice backfill failed", "error", setErr)
		}
	}

	p.store(ctx, n)

	log.Info(ctx, "notification handled",
		"entry_id", res.EntryID,
		"payment_type", string(res.PaymentType),
		"invoice_id", res.InvoiceID,
		"outcome", res.Outcome,
		"error", errText,
	)
	p.deps.Metrics.ObserveNotification(n.PaymentStatus, res.Outcome, time.Since(started))
	return res, err
}

func (p *WebhookProcessor) journal(ctx context.Context, n models.Notification) (*models.NotificationRecord, error) {
	payload, err := json.Marshal(n.Raw)
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	var rec *models.NotificationRecord
	err = p.deps.Runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		rec, err = p.deps.Repos.Notifications(tx).Record(ctx, &models.NotificationRecord{
			TxnID:         n.TxnID,
			PaymentStatus: n.PaymentStatus,
			Invoice:       n.Invoice,
			Custom:        n.Custom,
			Payload:       payload,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("journal notification: %w", err)
	}
	return rec, nil
}

func (p *WebhookProcessor) mark(ctx context.Context, id int64, state, errText string) error {
	return p.deps.Runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return p.deps.Repos.Notifications(tx).MarkState(ctx, id, state, errText)
	})
}

func (p *WebhookProcessor) setInvoice(ctx context.Context, id int64, invoice string) error {
	return p.deps.Runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return p.deps.Repos.Notifications(tx).SetInvoice(ctx, id, invoice)
	})
}

func (p *WebhookProcessor) store(ctx context.Context, n models.Notification) {
	payload, err := json.Marshal(n.Raw)
	if err == nil {
		err = p.archive.Put(ctx, archive.Key(p.deps.now(), n.TxnID, n.PaymentStatus), payload)
	}
	if err != nil {
		p.deps.Logger.Warn(ctx, "notification archive failed", "txn_id", n.TxnID, "error", err)
	}
}

func (p *WebhookProcessor) process(ctx context.Context, n models.Notification) (*WebhookResult, error) {
	corr, err := ParseCorrelation(n.Custom)
	if err != nil {
		p.alert(ctx, "payment for unknown object", n, err)
		return nil, err
	}
	res := &WebhookResult{Outcome: OutcomeNoop, EntryID: corr.EntryID, PaymentType: corr.Type, InvoiceID: n.Invoice}

	entry, err := p.deps.Repos.Entries(p.deps.Runner.Conn()).GetByID(ctx, corr.EntryID)
	if errors.Is(err, common.ErrorNotFound) {
		err = fmt.Errorf("%w: entry %d does not exist", common.ErrUnknownPaymentObject, corr.EntryID)
		p.alert(ctx, "payment for unknown object", n, err)
		return res, err
	}
	if err != nil {
		return res, fmt.Errorf("load entry %d: %w", corr.EntryID, err)
	}

	if !strings.EqualFold(strings.TrimSpace(n.Business), p.receiver) {
		err = fmt.Errorf("%w: %q", common.ErrReceiverMismatch, n.Business)
		p.alert(ctx, "payment made to the wrong account", n, err)
		return res, err
	}

	switch n.PaymentStatus {
	case models.PaymentStatusCompleted:
		return p.apply(ctx, n, corr, res, entrystate.PaymentCompleted)
	case models.PaymentStatusRefunded:
		return p.apply(ctx, n, corr, res, entrystate.PaymentRefunded)
	case models.PaymentStatusPending:
		err = fmt.Errorf("%w: %s for entry %d", common.ErrPaymentPending, corr.Type, entry.ID)
	default:
		err = fmt.Errorf("%w: %q for entry %d", common.ErrUnexpectedPaymentStatus, n.PaymentStatus, entry.ID)
	}

	line := fmt.Sprintf("%s for entry id %d has status %s; transaction id %s, invoice id %s",
		corr.Type.Verbose(), entry.ID, n.PaymentStatus, n.TxnID, n.Invoice)
	if logErr := p.deps.Runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return p.deps.Repos.ActivityLog(tx).Append(ctx, p.deps.now(), line)
	}); logErr != nil {
		p.deps.Logger.Error(ctx, "audit failed", "error", logErr)
	}
	p.alert(ctx, "payment not completed", n, err)
	return res, err
}

// apply runs a completed or refunded notification under the entry lock.
func (p *WebhookProcessor) apply(ctx context.Context, n models.Notification, corr Correlation, res *WebhookResult, trigger entrystate.Trigger) (*WebhookResult, error) {
	var (
		out      entrystate.Outcome
		problems []string
	)
	err := p.deps.Runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		problems = problems[:0]

		entry, err := p.deps.Repos.Entries(tx).GetByIDForUpdate(ctx, corr.EntryID)
		if err != nil {
			return fmt.Errorf("lock entry %d: %w", corr.EntryID, err)
		}

		t, err := p.resolve(ctx, tx, entry, corr.Type, n)
		if err != nil {
			return err
		}
		if trigger == entrystate.PaymentCompleted && t.TransactionID != "" && t.TransactionID != n.TxnID {
			// the matched invoice was settled by another payment
			if t, _, err = p.ledger.getOrCreate(ctx, tx, entry, corr.Type); err != nil {
				return err
			}
		}
		res.InvoiceID = t.InvoiceID

		if trigger == entrystate.PaymentCompleted {
			if n.Invoice == "" {
				problems = append(problems, fmt.Sprintf("notification had no invoice id; used %s", t.InvoiceID))
			}
			if entry.Paid(corr.Type) && t.TransactionID == "" {
				problems = append(problems, "payment received for an entry that was already paid")
			}
			if msg := checkAmount(n.MCGross, models.Fee(corr.Type, entry.Category)); msg != "" {
				problems = append(problems, msg)
			}
		}

		out, err = p.deps.persist(ctx, tx, *entry, entrystate.Event{
			Trigger:       trigger,
			Now:           p.deps.now(),
			PaymentType:   corr.Type,
			TransactionID: n.TxnID,
			InvoiceID:     t.InvoiceID,
			Amount:        n.MCGross,
		})
		if err != nil {
			return err
		}

		// The entry flag is written before the ledger is marked, so a
		// transaction without a transaction id can always be reused.
		if trigger == entrystate.PaymentCompleted && t.TransactionID == "" {
			if err := p.deps.Repos.Transactions(tx).SetTransactionID(ctx, t.ID, n.TxnID); err != nil {
				return fmt.Errorf("record transaction id: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if common.IsRecoverable(err) {
			p.alert(ctx, "payment could not be applied", n, err)
		}
		return res, err
	}

	if out.Changed {
		res.Outcome = OutcomeApplied
	}
	_ = p.deps.Dispatcher.Dispatch(ctx, out.Entry, out.Emails())
	for _, problem := range problems {
		p.alert(ctx, problem, n, nil)
	}
	return res, nil
}

// resolve finds the ledger row a notification refers to. A notification
// that arrives before any payment page was shown gets a fresh transaction.
func (p *WebhookProcessor) resolve(ctx context.Context, tx dbx.DBTX, entry *models.Entry, pt models.PaymentType, n models.Notification) (*models.PaymentTransaction, error) {
	repo := p.deps.Repos.Transactions(tx)

	if n.TxnID != "" {
		t, err := repo.GetByTransactionID(ctx, n.TxnID)
		switch {
		case err == nil && t.EntryID == entry.ID && t.PaymentType == pt:
			return t, nil
		case err != nil && !errors.Is(err, common.ErrorNotFound):
			return nil, err
		}
	}

	list, err := repo.ListForEntry(ctx, entry.ID, pt)
	if err != nil {
		return nil, err
	}
	switch len(list) {
	case 0:
		p.deps.Logger.Warn(ctx, "notification without ledger row", "entry_id", entry.ID, "payment_type", string(pt))
		t, _, err := p.ledger.getOrCreate(ctx, tx, entry, pt)
		return t, err
	case 1:
		return list[0], nil
	}
	for _, t := range list {
		if n.Invoice != "" && t.InvoiceID == n.Invoice {
			return t, nil
		}
	}
	return list[0], nil
}

func checkAmount(gross string, fee decimal.Decimal) string {
	amount, err := decimal.NewFromString(strings.TrimSpace(gross))
	if err != nil {
		return fmt.Sprintf("payment amount %q is not a number; expected %s", gross, fee.StringFixed(2))
	}
	if !amount.Equal(fee) {
		return fmt.Sprintf("payment amount %s does not match fee %s", amount.StringFixed(2), fee.StringFixed(2))
	}
	return ""
}

func (p *WebhookProcessor) alert(ctx context.Context, problem string, n models.Notification, err error) {
	data := map[string]any{
		"txn_id":         n.TxnID,
		"payment_status": n.PaymentStatus,
		"custom":         n.Custom,
		"invoice":        n.Invoice,
		"business":       n.Business,
		"mc_gross":       n.MCGross,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	_ = p.deps.Dispatcher.Alert(ctx, problem, data)
}
