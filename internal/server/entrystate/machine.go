// Package entrystate is the finite-state machine for competition entries.
//
// Apply is a pure function: it takes the current entry and a trigger and
// returns the next entry together with the side effects (emails, audit lines)
// the caller must execute after persisting it. Nothing here touches storage
// or sends mail.
package entrystate

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/entryledger/internal/common"
	"github.com/dmitrijs2005/entryledger/internal/server/mail"
	"github.com/dmitrijs2005/entryledger/internal/server/models"
)

type Trigger string

const (
	// user actions
	Submit   Trigger = "submit"
	Confirm  Trigger = "confirm"
	Withdraw Trigger = "withdraw"
	Delete   Trigger = "delete"

	// administrator actions
	Select        Trigger = "select"
	Reject        Trigger = "reject"
	Undecide      Trigger = "undecide"
	MarkNotified  Trigger = "mark_notified"
	ResetNotified Trigger = "reset_notified"

	// ledger / webhook path only
	PaymentCompleted Trigger = "payment_completed"
	PaymentRefunded  Trigger = "payment_refunded"

	// scheduler
	WarnSelected         Trigger = "warn_selected"
	AutoWithdrawSelected Trigger = "auto_withdraw_selected"
	AutoWithdrawUnpaid   Trigger = "auto_withdraw_unpaid"
	WarnClosing          Trigger = "warn_closing"
	RemindIncomplete     Trigger = "remind_incomplete"
)

// Triggers lists every trigger, for exhaustive tests.
var Triggers = []Trigger{
	Submit, Confirm, Withdraw, Delete,
	Select, Reject, Undecide, MarkNotified, ResetNotified,
	PaymentCompleted, PaymentRefunded,
	WarnSelected, AutoWithdrawSelected, AutoWithdrawUnpaid, WarnClosing, RemindIncomplete,
}

// Event is one trigger with the facts needed to apply it.
type Event struct {
	Trigger Trigger
	Now     time.Time
	// Actor is the username of whoever caused the event; empty for system events.
	Actor string

	// Payment triggers only.
	PaymentType   models.PaymentType
	TransactionID string
	InvoiceID     string
	Amount        string
}

// Recipient is a symbolic address resolved by the dispatcher.
type Recipient string

const (
	RecipientUser      Recipient = "user"
	RecipientOrganizer Recipient = "organizer"
	RecipientSupport   Recipient = "support"
)

// Email is a command to send one message.
type Email struct {
	Template string
	To       []Recipient
	Cc       []Recipient
	Data     map[string]any
}

// Effect is a single side-effect command. Exactly one field is set.
type Effect struct {
	Email *Email
	Audit string
}

// Outcome is the result of applying an event.
type Outcome struct {
	Entry   models.Entry
	Changed bool
	// Deleted is set when the entry must be removed (only from in_progress).
	Deleted bool
	Effects []Effect
}

// Emails returns the email effects only.
func (o Outcome) Emails() []*Email {
	var out []*Email
	for _, e := range o.Effects {
		if e.Email != nil {
			out = append(out, e.Email)
		}
	}
	return out
}

// AuditLines returns the audit effects only.
func (o Outcome) AuditLines() []string {
	var out []string
	for _, e := range o.Effects {
		if e.Audit != "" {
			out = append(out, e.Audit)
		}
	}
	return out
}

// Policy holds the scheduler windows measured from the notification date.
// Both boundaries are inclusive: an entry notified at T is warned from
// T+WarnAfter and withdrawn from T+WithdrawAfter.
type Policy struct {
	WarnAfter     time.Duration
	WithdrawAfter time.Duration
}

func DefaultPolicy() Policy {
	return Policy{WarnAfter: 5 * 24 * time.Hour, WithdrawAfter: 7 * 24 * time.Hour}
}

type Machine struct {
	policy Policy
}

func New(p Policy) *Machine {
	def := DefaultPolicy()
	if p.WarnAfter <= 0 {
		p.WarnAfter = def.WarnAfter
	}
	if p.WithdrawAfter <= 0 {
		p.WithdrawAfter = def.WithdrawAfter
	}
	return &Machine{policy: p}
}

func (m *Machine) Policy() Policy {
	return m.policy
}

// Apply computes the effect of ev on e. A trigger that re-affirms the
// current state returns Changed=false and no effects; a trigger with no edge
// from the current state fails with common.ErrInvalidTransition.
func (m *Machine) Apply(e models.Entry, ev Event) (Outcome, error) {
	if ev.Now.IsZero() {
		ev.Now = time.Now().UTC()
	}

	switch ev.Trigger {
	case Submit:
		return m.submit(e, ev)
	case Confirm:
		return m.confirm(e, ev)
	case Withdraw:
		return m.withdraw(e, ev)
	case Delete:
		return m.delete(e, ev)
	case Select:
		return m.decide(e, ev, models.StatusSelected)
	case Reject:
		return m.decide(e, ev, models.StatusRejected)
	case Undecide:
		return m.decide(e, ev, models.StatusSubmitted)
	case MarkNotified:
		return m.markNotified(e, ev)
	case ResetNotified:
		return m.resetNotified(e, ev)
	case PaymentCompleted:
		return m.paymentCompleted(e, ev)
	case PaymentRefunded:
		return m.paymentRefunded(e, ev)
	case WarnSelected:
		return m.warnSelected(e, ev)
	case AutoWithdrawSelected:
		return m.autoWithdrawSelected(e, ev)
	case AutoWithdrawUnpaid:
		return m.autoWithdrawUnpaid(e, ev)
	case WarnClosing:
		return m.warnClosing(e, ev)
	case RemindIncomplete:
		return m.remindIncomplete(e, ev)
	}
	return Outcome{Entry: e}, fmt.Errorf("%w: unknown trigger %q", common.ErrInvalidTransition, ev.Trigger)
}

func invalid(e models.Entry, ev Event) error {
	return fmt.Errorf("%w: %s from %s (withdrawn=%t) for entry %d",
		common.ErrInvalidTransition, ev.Trigger, e.Status, e.Withdrawn, e.ID)
}

func unchanged(e models.Entry) (Outcome, error) {
	return Outcome{Entry: e}, nil
}

func changed(e models.Entry, effects ...Effect) (Outcome, error) {
	return Outcome{Entry: e, Changed: true, Effects: effects}, nil
}

func audit(format string, args ...any) Effect {
	return Effect{Audit: fmt.Sprintf(format, args...)}
}

func email(template string, to []Recipient, cc []Recipient, data map[string]any) Effect {
	return Effect{Email: &Email{Template: template, To: to, Cc: cc, Data: data}}
}

func to(r ...Recipient) []Recipient { return r }

func entryData(e models.Entry) map[string]any {
	return map[string]any{
		"entry_id":  e.ID,
		"entry_ref": e.EntryRef,
		"category":  e.Category.Label(),
		"status":    e.Status.Label(),
		"year":      e.EntryYear,
	}
}

func actor(ev Event) string {
	if ev.Actor == "" {
		return "system"
	}
	return ev.Actor
}

func isSelectedStage(s models.Status) bool {
	return s == models.StatusSelected || s == models.StatusSelectedConfirmed
}

func withdrawable(s models.Status) bool {
	return s == models.StatusSubmitted || isSelectedStage(s)
}

func (m *Machine) submit(e models.Entry, ev Event) (Outcome, error) {
	if e.Withdrawn || e.Status != models.StatusInProgress {
		return unchanged(e)
	}
	if missing := e.MissingFields(); len(missing) > 0 {
		return Outcome{Entry: e}, fmt.Errorf("%w: missing %s", common.ErrIncompleteEntry, strings.Join(missing, ", "))
	}

	e.Status = models.StatusSubmitted
	if e.DateSubmitted == nil {
		now := ev.Now
		e.DateSubmitted = &now
	}
	return changed(e,
		email(mail.TemplateEntrySubmitted, to(RecipientUser), nil, entryData(e)),
		audit("Entry %d (%s) submitted by %s", e.ID, e.Category.Label(), actor(ev)),
	)
}

func (m *Machine) confirm(e models.Entry, ev Event) (Outcome, error) {
	if e.Withdrawn || e.Status == models.StatusSelectedConfirmed {
		return unchanged(e)
	}
	if e.Status != models.StatusSelected {
		return Outcome{Entry: e}, invalid(e, ev)
	}

	e.Status = models.StatusSelectedConfirmed
	return changed(e,
		email(mail.TemplateEntryConfirmed, to(RecipientUser), nil, entryData(e)),
		audit("Entry %d (%s) confirmed by %s", e.ID, e.Category.Label(), actor(ev)),
	)
}

func (m *Machine) withdraw(e models.Entry, ev Event) (Outcome, error) {
	if e.Withdrawn {
		return unchanged(e)
	}
	if !withdrawable(e.Status) {
		return Outcome{Entry: e}, invalid(e, ev)
	}

	e.Withdrawn = true
	effects := []Effect{
		audit("Entry %d (%s) withdrawn from status %s by %s", e.ID, e.Category.Label(), e.Status, actor(ev)),
	}
	if isSelectedStage(e.Status) {
		effects = append(effects,
			email(mail.TemplateEntryWithdrawn, to(RecipientUser), to(RecipientOrganizer), entryData(e)))
	}
	return changed(e, effects...)
}

func (m *Machine) delete(e models.Entry, ev Event) (Outcome, error) {
	if e.Withdrawn || e.Status != models.StatusInProgress {
		return Outcome{Entry: e}, invalid(e, ev)
	}
	out, err := changed(e, audit("Entry %d (%s) deleted by %s", e.ID, e.Category.Label(), actor(ev)))
	out.Deleted = true
	return out, err
}

// decide is the administrator's selection toggle. Once the entrant has
// confirmed a selection the decision is locked.
func (m *Machine) decide(e models.Entry, ev Event, target models.Status) (Outcome, error) {
	if e.Withdrawn || e.Status == models.StatusInProgress || e.Status == models.StatusSelectedConfirmed {
		return Outcome{Entry: e}, invalid(e, ev)
	}
	if e.Status == target {
		return unchanged(e)
	}

	old := e.Status
	e.Status = target
	return changed(e,
		audit("Entry %d (%s) changed from %s to %s by admin user %s", e.ID, e.Category.Label(), old, target, actor(ev)),
	)
}

func (m *Machine) markNotified(e models.Entry, ev Event) (Outcome, error) {
	if e.Withdrawn || (e.Status != models.StatusSelected && e.Status != models.StatusRejected) {
		return Outcome{Entry: e}, invalid(e, ev)
	}
	if e.Notified {
		return unchanged(e)
	}

	e.Notified = true
	if e.NotifiedDate == nil {
		now := ev.Now
		e.NotifiedDate = &now
	}
	return changed(e,
		email(mail.TemplateSelectionResult, to(RecipientUser), nil, entryData(e)),
		audit("Selection results for entry %d (%s, %s) sent by admin user %s", e.ID, e.Category.Label(), e.Status, actor(ev)),
	)
}

// resetNotified also clears the reminder so a fresh warning cycle starts
// from the next notification date.
func (m *Machine) resetNotified(e models.Entry, ev Event) (Outcome, error) {
	if !e.Notified {
		return unchanged(e)
	}

	old := "never"
	if e.NotifiedDate != nil {
		old = e.NotifiedDate.Format("02-01-06")
	}
	e.Notified = false
	e.NotifiedDate = nil
	e.ReminderSent = false
	return changed(e,
		audit("Notified entry %d (%s) reset by admin user %s and marked as not notified (old notification date %s)",
			e.ID, e.Category.Label(), actor(ev), old),
	)
}

func paymentData(e models.Entry, ev Event) map[string]any {
	d := entryData(e)
	d["payment_type"] = ev.PaymentType.Verbose()
	d["invoice_id"] = ev.InvoiceID
	d["transaction_id"] = ev.TransactionID
	d["amount"] = ev.Amount
	return d
}

// expectedPayment reports whether a payment of type t fits the entry's
// current stage. Payments that do not fit are still recorded; support is
// told so a refund can be arranged.
func expectedPayment(e models.Entry, t models.PaymentType) bool {
	switch t {
	case models.PaymentVideo:
		return !e.Withdrawn && e.Status != models.StatusInProgress
	case models.PaymentSelected:
		return !e.Withdrawn && isSelectedStage(e.Status)
	case models.PaymentWithdrawal:
		return e.Withdrawn
	}
	return false
}

// paymentCompleted records a gateway-confirmed payment. The financial fact
// is never refused, whatever the entry's stage; duplicates are no-ops.
func (m *Machine) paymentCompleted(e models.Entry, ev Event) (Outcome, error) {
	if _, err := models.ParsePaymentType(string(ev.PaymentType)); err != nil {
		return Outcome{Entry: e}, fmt.Errorf("%w: %v", common.ErrInvalidTransition, err)
	}
	if e.Paid(ev.PaymentType) {
		return unchanged(e)
	}

	e.SetPaid(ev.PaymentType, true)
	effects := []Effect{
		email(mail.TemplatePaymentProcessed, to(RecipientUser), nil, paymentData(e, ev)),
		audit("%s for entry id %d paid; transaction id %s, invoice id %s",
			capitalize(ev.PaymentType.Verbose()), e.ID, ev.TransactionID, ev.InvoiceID),
	}
	if !expectedPayment(e, ev.PaymentType) {
		d := paymentData(e, ev)
		d["problem"] = fmt.Sprintf("%s received for entry %d in status %s (withdrawn=%t); check whether a refund is due",
			ev.PaymentType.Verbose(), e.ID, e.Status, e.Withdrawn)
		effects = append(effects, email(mail.TemplateSupportAlert, to(RecipientSupport), nil, d))
	}
	return changed(e, effects...)
}

// paymentRefunded reverts the paid flag. The payer already received the
// gateway's own refund notice, so only the organizer and support are told.
func (m *Machine) paymentRefunded(e models.Entry, ev Event) (Outcome, error) {
	if _, err := models.ParsePaymentType(string(ev.PaymentType)); err != nil {
		return Outcome{Entry: e}, fmt.Errorf("%w: %v", common.ErrInvalidTransition, err)
	}
	if !e.Paid(ev.PaymentType) {
		return unchanged(e)
	}

	e.SetPaid(ev.PaymentType, false)
	return changed(e,
		email(mail.TemplatePaymentRefunded, to(RecipientOrganizer), to(RecipientSupport), paymentData(e, ev)),
		audit("%s for entry id %d has been refunded; transaction id %s, invoice id %s",
			capitalize(ev.PaymentType.Verbose()), e.ID, ev.TransactionID, ev.InvoiceID),
	)
}

// WarnDue reports whether a selected, unpaid entry should get its payment
// reminder at now.
func (m *Machine) WarnDue(e models.Entry, now time.Time) bool {
	return selectedUnpaid(e) && !e.ReminderSent && !now.Before(e.NotifiedDate.Add(m.policy.WarnAfter))
}

// WithdrawDue reports whether a selected, unpaid entry should be withdrawn
// at now. An entry is always warned before it is withdrawn.
func (m *Machine) WithdrawDue(e models.Entry, now time.Time) bool {
	return selectedUnpaid(e) && e.ReminderSent && !now.Before(e.NotifiedDate.Add(m.policy.WithdrawAfter))
}

// WithdrawalDate is the first moment WithdrawDue can hold for e.
func (m *Machine) WithdrawalDate(e models.Entry) time.Time {
	if e.NotifiedDate == nil {
		return time.Time{}
	}
	return e.NotifiedDate.Add(m.policy.WithdrawAfter)
}

func selectedUnpaid(e models.Entry) bool {
	return !e.Withdrawn && isSelectedStage(e.Status) && !e.SelectedEntryPaid && e.NotifiedDate != nil
}

// Scheduler triggers re-check their guard under the entry lock; when the
// entry no longer qualifies (paid or withdrawn meanwhile) they are no-ops.

func (m *Machine) warnSelected(e models.Entry, ev Event) (Outcome, error) {
	if !m.WarnDue(e, ev.Now) {
		return unchanged(e)
	}
	e.ReminderSent = true
	d := entryData(e)
	d["withdrawal_date"] = m.WithdrawalDate(e).Format("02 Jan 2006")
	return changed(e, email(mail.TemplateSelectedWarning, to(RecipientUser), nil, d))
}

func (m *Machine) autoWithdrawSelected(e models.Entry, ev Event) (Outcome, error) {
	if !m.WithdrawDue(e, ev.Now) {
		return unchanged(e)
	}
	e.Withdrawn = true
	return changed(e, email(mail.TemplateSelectedAutoWithdrawn, to(RecipientUser), to(RecipientOrganizer), entryData(e)))
}

func (m *Machine) autoWithdrawUnpaid(e models.Entry, ev Event) (Outcome, error) {
	if e.Withdrawn || e.Status != models.StatusSubmitted || e.VideoEntryPaid {
		return unchanged(e)
	}
	e.Withdrawn = true
	return changed(e, email(mail.TemplateClosedAutoWithdrawn, to(RecipientUser), nil, entryData(e)))
}

func (m *Machine) warnClosing(e models.Entry, ev Event) (Outcome, error) {
	if e.Withdrawn || e.VideoEntryPaid || e.ClosingWarningSent ||
		(e.Status != models.StatusInProgress && e.Status != models.StatusSubmitted) {
		return unchanged(e)
	}
	e.ClosingWarningSent = true
	return changed(e, email(mail.TemplateClosingWarning, to(RecipientUser), nil, entryData(e)))
}

func (m *Machine) remindIncomplete(e models.Entry, ev Event) (Outcome, error) {
	if e.Withdrawn || e.Status != models.StatusSelectedConfirmed || e.InfoReminderSent ||
		(e.Biography != "" && e.Song != "") {
		return unchanged(e)
	}
	e.InfoReminderSent = true
	return changed(e, email(mail.TemplateIncompleteReminder, to(RecipientUser), nil, entryData(e)))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
