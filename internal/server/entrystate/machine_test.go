package entrystate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/dmitrijs2005/entryledger/internal/common"
	"github.com/dmitrijs2005/entryledger/internal/server/mail"
	"github.com/dmitrijs2005/entryledger/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func completeEntry(status models.Status) models.Entry {
	return models.Entry{
		ID:        7,
		EntryRef:  "ref7",
		EntryYear: "2026",
		UserID:    1,
		Category:  models.CategoryAdvanced,
		Status:    status,
		VideoURL:  "https://video",
		Biography: "bio",
		Song:      "song",
	}
}

func ptr(t time.Time) *time.Time { return &t }

func templates(o Outcome) []string {
	var out []string
	for _, e := range o.Emails() {
		out = append(out, e.Template)
	}
	return out
}

func TestSubmit(t *testing.T) {
	m := New(DefaultPolicy())

	t.Run("complete in_progress entry", func(t *testing.T) {
		out, err := m.Apply(completeEntry(models.StatusInProgress), Event{Trigger: Submit, Now: now, Actor: "alice"})
		require.NoError(t, err)
		assert.True(t, out.Changed)
		assert.Equal(t, models.StatusSubmitted, out.Entry.Status)
		require.NotNil(t, out.Entry.DateSubmitted)
		assert.Equal(t, now, *out.Entry.DateSubmitted)
		assert.Equal(t, []string{mail.TemplateEntrySubmitted}, templates(out))
		assert.Len(t, out.AuditLines(), 1)
	})

	t.Run("keeps first submission date", func(t *testing.T) {
		e := completeEntry(models.StatusInProgress)
		first := now.Add(-48 * time.Hour)
		e.DateSubmitted = &first
		out, err := m.Apply(e, Event{Trigger: Submit, Now: now})
		require.NoError(t, err)
		assert.Equal(t, first, *out.Entry.DateSubmitted)
	})

	t.Run("incomplete entry", func(t *testing.T) {
		e := completeEntry(models.StatusInProgress)
		e.Biography = ""
		out, err := m.Apply(e, Event{Trigger: Submit, Now: now})
		require.ErrorIs(t, err, common.ErrIncompleteEntry)
		assert.False(t, out.Changed)
		assert.Equal(t, models.StatusInProgress, out.Entry.Status)
	})

	t.Run("doubles needs partner", func(t *testing.T) {
		e := completeEntry(models.StatusInProgress)
		e.Category = models.CategoryDoubles
		_, err := m.Apply(e, Event{Trigger: Submit, Now: now})
		require.ErrorIs(t, err, common.ErrIncompleteEntry)
		assert.Contains(t, err.Error(), "partner_name")
	})

	t.Run("already submitted is a no-op", func(t *testing.T) {
		out, err := m.Apply(completeEntry(models.StatusSubmitted), Event{Trigger: Submit, Now: now})
		require.NoError(t, err)
		assert.False(t, out.Changed)
		assert.Empty(t, out.Effects)
	})
}

func TestAdminDecisions(t *testing.T) {
	m := New(DefaultPolicy())

	tests := []struct {
		name      string
		from      models.Status
		withdrawn bool
		trigger   Trigger
		want      models.Status
		changed   bool
		wantErr   error
	}{
		{"select submitted", models.StatusSubmitted, false, Select, models.StatusSelected, true, nil},
		{"reject submitted", models.StatusSubmitted, false, Reject, models.StatusRejected, true, nil},
		{"reject selected", models.StatusSelected, false, Reject, models.StatusRejected, true, nil},
		{"select rejected", models.StatusRejected, false, Select, models.StatusSelected, true, nil},
		{"undecide selected", models.StatusSelected, false, Undecide, models.StatusSubmitted, true, nil},
		{"undecide rejected", models.StatusRejected, false, Undecide, models.StatusSubmitted, true, nil},
		{"select selected", models.StatusSelected, false, Select, models.StatusSelected, false, nil},
		{"undecide submitted", models.StatusSubmitted, false, Undecide, models.StatusSubmitted, false, nil},
		{"select in_progress", models.StatusInProgress, false, Select, models.StatusInProgress, false, common.ErrInvalidTransition},
		{"reject confirmed", models.StatusSelectedConfirmed, false, Reject, models.StatusSelectedConfirmed, false, common.ErrInvalidTransition},
		{"select withdrawn", models.StatusSubmitted, true, Select, models.StatusSubmitted, false, common.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := completeEntry(tt.from)
			e.Withdrawn = tt.withdrawn
			out, err := m.Apply(e, Event{Trigger: tt.trigger, Now: now, Actor: "admin"})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, out.Entry.Status)
			assert.Equal(t, tt.changed, out.Changed)
			assert.Empty(t, out.Emails(), "decisions never email directly")
			if tt.changed {
				require.Len(t, out.AuditLines(), 1)
				assert.Contains(t, out.AuditLines()[0], "by admin user admin")
			}
		})
	}
}

func TestConfirm(t *testing.T) {
	m := New(DefaultPolicy())

	out, err := m.Apply(completeEntry(models.StatusSelected), Event{Trigger: Confirm, Now: now})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSelectedConfirmed, out.Entry.Status)
	assert.Equal(t, []string{mail.TemplateEntryConfirmed}, templates(out))

	out, err = m.Apply(completeEntry(models.StatusSelectedConfirmed), Event{Trigger: Confirm, Now: now})
	require.NoError(t, err)
	assert.False(t, out.Changed)

	_, err = m.Apply(completeEntry(models.StatusSubmitted), Event{Trigger: Confirm, Now: now})
	require.ErrorIs(t, err, common.ErrInvalidTransition)
}

func TestWithdraw(t *testing.T) {
	m := New(DefaultPolicy())

	t.Run("submitted withdraws quietly", func(t *testing.T) {
		out, err := m.Apply(completeEntry(models.StatusSubmitted), Event{Trigger: Withdraw, Now: now})
		require.NoError(t, err)
		assert.True(t, out.Entry.Withdrawn)
		assert.Equal(t, models.StatusSubmitted, out.Entry.Status, "status survives withdrawal")
		assert.Empty(t, out.Emails())
		assert.Len(t, out.AuditLines(), 1)
	})

	t.Run("selected notifies user and organizer", func(t *testing.T) {
		out, err := m.Apply(completeEntry(models.StatusSelectedConfirmed), Event{Trigger: Withdraw, Now: now})
		require.NoError(t, err)
		emails := out.Emails()
		require.Len(t, emails, 1)
		assert.Equal(t, mail.TemplateEntryWithdrawn, emails[0].Template)
		assert.Equal(t, []Recipient{RecipientUser}, emails[0].To)
		assert.Equal(t, []Recipient{RecipientOrganizer}, emails[0].Cc)
	})

	t.Run("already withdrawn is a no-op", func(t *testing.T) {
		e := completeEntry(models.StatusSelected)
		e.Withdrawn = true
		out, err := m.Apply(e, Event{Trigger: Withdraw, Now: now})
		require.NoError(t, err)
		assert.False(t, out.Changed)
	})

	t.Run("in_progress cannot withdraw", func(t *testing.T) {
		_, err := m.Apply(completeEntry(models.StatusInProgress), Event{Trigger: Withdraw, Now: now})
		require.ErrorIs(t, err, common.ErrInvalidTransition)
	})
}

func TestDelete(t *testing.T) {
	m := New(DefaultPolicy())

	out, err := m.Apply(completeEntry(models.StatusInProgress), Event{Trigger: Delete, Now: now})
	require.NoError(t, err)
	assert.True(t, out.Deleted)

	_, err = m.Apply(completeEntry(models.StatusSubmitted), Event{Trigger: Delete, Now: now})
	require.ErrorIs(t, err, common.ErrInvalidTransition)
}

func TestPayments(t *testing.T) {
	m := New(DefaultPolicy())
	ev := func(tr Trigger, pt models.PaymentType) Event {
		return Event{Trigger: tr, Now: now, PaymentType: pt, TransactionID: "TX1", InvoiceID: "ref7-video-inv#001", Amount: "15.00"}
	}

	t.Run("completed sets flag and emails user", func(t *testing.T) {
		out, err := m.Apply(completeEntry(models.StatusSubmitted), ev(PaymentCompleted, models.PaymentVideo))
		require.NoError(t, err)
		assert.True(t, out.Entry.VideoEntryPaid)
		assert.Equal(t, []string{mail.TemplatePaymentProcessed}, templates(out))
		require.Len(t, out.AuditLines(), 1)
		assert.Contains(t, out.AuditLines()[0], "TX1")
	})

	t.Run("duplicate completion is a no-op", func(t *testing.T) {
		e := completeEntry(models.StatusSubmitted)
		e.VideoEntryPaid = true
		out, err := m.Apply(e, ev(PaymentCompleted, models.PaymentVideo))
		require.NoError(t, err)
		assert.False(t, out.Changed)
		assert.Empty(t, out.Effects)
	})

	t.Run("unexpected stage is applied and flagged to support", func(t *testing.T) {
		e := completeEntry(models.StatusSubmitted)
		e.Withdrawn = true
		out, err := m.Apply(e, ev(PaymentCompleted, models.PaymentVideo))
		require.NoError(t, err)
		assert.True(t, out.Entry.VideoEntryPaid)
		assert.Equal(t, []string{mail.TemplatePaymentProcessed, mail.TemplateSupportAlert}, templates(out))
	})

	t.Run("withdrawal fee on withdrawn entry is expected", func(t *testing.T) {
		e := completeEntry(models.StatusSelected)
		e.Withdrawn = true
		out, err := m.Apply(e, ev(PaymentCompleted, models.PaymentWithdrawal))
		require.NoError(t, err)
		assert.True(t, out.Entry.WithdrawalFeePaid)
		assert.Equal(t, []string{mail.TemplatePaymentProcessed}, templates(out))
	})

	t.Run("refund reverts flag", func(t *testing.T) {
		e := completeEntry(models.StatusSelected)
		e.SelectedEntryPaid = true
		out, err := m.Apply(e, ev(PaymentRefunded, models.PaymentSelected))
		require.NoError(t, err)
		assert.False(t, out.Entry.SelectedEntryPaid)
		emails := out.Emails()
		require.Len(t, emails, 1)
		assert.Equal(t, []Recipient{RecipientOrganizer}, emails[0].To)
		assert.Equal(t, []Recipient{RecipientSupport}, emails[0].Cc)
	})

	t.Run("refund of unpaid is a no-op", func(t *testing.T) {
		out, err := m.Apply(completeEntry(models.StatusSelected), ev(PaymentRefunded, models.PaymentSelected))
		require.NoError(t, err)
		assert.False(t, out.Changed)
	})

	t.Run("unknown payment type", func(t *testing.T) {
		_, err := m.Apply(completeEntry(models.StatusSelected), ev(PaymentCompleted, "bogus"))
		require.ErrorIs(t, err, common.ErrInvalidTransition)
	})
}

func TestSelectedPaymentWindow(t *testing.T) {
	m := New(DefaultPolicy())
	notified := now.Add(-10 * 24 * time.Hour)

	selected := func() models.Entry {
		e := completeEntry(models.StatusSelected)
		e.Notified = true
		e.NotifiedDate = ptr(notified)
		return e
	}

	t.Run("warn boundary is inclusive", func(t *testing.T) {
		e := selected()
		assert.False(t, m.WarnDue(e, notified.Add(5*24*time.Hour-time.Second)))
		assert.True(t, m.WarnDue(e, notified.Add(5*24*time.Hour)))
	})

	t.Run("withdraw requires warning first", func(t *testing.T) {
		e := selected()
		assert.False(t, m.WithdrawDue(e, now))
		e.ReminderSent = true
		assert.False(t, m.WithdrawDue(e, notified.Add(7*24*time.Hour-time.Second)))
		assert.True(t, m.WithdrawDue(e, notified.Add(7*24*time.Hour)))
	})

	t.Run("paid entries are never due", func(t *testing.T) {
		e := selected()
		e.SelectedEntryPaid = true
		e.ReminderSent = true
		assert.False(t, m.WarnDue(e, now))
		assert.False(t, m.WithdrawDue(e, now))
	})

	t.Run("warn sets reminder once", func(t *testing.T) {
		out, err := m.Apply(selected(), Event{Trigger: WarnSelected, Now: now})
		require.NoError(t, err)
		assert.True(t, out.Entry.ReminderSent)
		require.Equal(t, []string{mail.TemplateSelectedWarning}, templates(out))
		assert.Equal(t, notified.Add(7*24*time.Hour).Format("02 Jan 2006"), out.Emails()[0].Data["withdrawal_date"])

		again, err := m.Apply(out.Entry, Event{Trigger: WarnSelected, Now: now})
		require.NoError(t, err)
		assert.False(t, again.Changed)
	})

	t.Run("auto withdraw", func(t *testing.T) {
		e := selected()
		e.ReminderSent = true
		out, err := m.Apply(e, Event{Trigger: AutoWithdrawSelected, Now: now})
		require.NoError(t, err)
		assert.True(t, out.Entry.Withdrawn)
		assert.Equal(t, []string{mail.TemplateSelectedAutoWithdrawn}, templates(out))
		assert.Equal(t, []Recipient{RecipientOrganizer}, out.Emails()[0].Cc)
	})

	t.Run("withdrawal date", func(t *testing.T) {
		assert.True(t, m.WithdrawalDate(completeEntry(models.StatusSelected)).IsZero())
		assert.Equal(t, notified.Add(7*24*time.Hour), m.WithdrawalDate(selected()))
	})
}

func TestClosingTriggers(t *testing.T) {
	m := New(DefaultPolicy())

	out, err := m.Apply(completeEntry(models.StatusSubmitted), Event{Trigger: AutoWithdrawUnpaid, Now: now})
	require.NoError(t, err)
	assert.True(t, out.Entry.Withdrawn)

	paid := completeEntry(models.StatusSubmitted)
	paid.VideoEntryPaid = true
	out, err = m.Apply(paid, Event{Trigger: AutoWithdrawUnpaid, Now: now})
	require.NoError(t, err)
	assert.False(t, out.Changed)

	out, err = m.Apply(completeEntry(models.StatusInProgress), Event{Trigger: WarnClosing, Now: now})
	require.NoError(t, err)
	assert.True(t, out.Entry.ClosingWarningSent)
	out, err = m.Apply(out.Entry, Event{Trigger: WarnClosing, Now: now})
	require.NoError(t, err)
	assert.False(t, out.Changed)

	e := completeEntry(models.StatusSelectedConfirmed)
	e.Biography = ""
	out, err = m.Apply(e, Event{Trigger: RemindIncomplete, Now: now})
	require.NoError(t, err)
	assert.True(t, out.Entry.InfoReminderSent)
	assert.Equal(t, []string{mail.TemplateIncompleteReminder}, templates(out))
}

func TestNotification(t *testing.T) {
	m := New(DefaultPolicy())

	out, err := m.Apply(completeEntry(models.StatusRejected), Event{Trigger: MarkNotified, Now: now, Actor: "admin"})
	require.NoError(t, err)
	assert.True(t, out.Entry.Notified)
	assert.Equal(t, now, *out.Entry.NotifiedDate)
	assert.Equal(t, []string{mail.TemplateSelectionResult}, templates(out))

	_, err = m.Apply(completeEntry(models.StatusSubmitted), Event{Trigger: MarkNotified, Now: now})
	require.ErrorIs(t, err, common.ErrInvalidTransition)

	e := out.Entry
	e.ReminderSent = true
	out, err = m.Apply(e, Event{Trigger: ResetNotified, Now: now, Actor: "admin"})
	require.NoError(t, err)
	assert.False(t, out.Entry.Notified)
	assert.Nil(t, out.Entry.NotifiedDate)
	assert.False(t, out.Entry.ReminderSent)
	require.Len(t, out.AuditLines(), 1)
	assert.Contains(t, out.AuditLines()[0], now.Format("02-01-06"))
}

func TestUnknownTrigger(t *testing.T) {
	_, err := New(Policy{}).Apply(completeEntry(models.StatusSubmitted), Event{Trigger: "explode"})
	require.ErrorIs(t, err, common.ErrInvalidTransition)
}

var allowedEdges = map[[2]models.Status]bool{
	{models.StatusInProgress, models.StatusSubmitted}:       true,
	{models.StatusSubmitted, models.StatusSelected}:         true,
	{models.StatusSubmitted, models.StatusRejected}:         true,
	{models.StatusSelected, models.StatusRejected}:          true,
	{models.StatusRejected, models.StatusSelected}:          true,
	{models.StatusSelected, models.StatusSubmitted}:         true,
	{models.StatusRejected, models.StatusSubmitted}:         true,
	{models.StatusSelected, models.StatusSelectedConfirmed}: true,
}

// TestRandomSequences drives random trigger sequences and checks that every
// status change follows an allowed edge, withdrawal is only reached from
// submitted or selected states, and withdrawal is terminal.
func TestRandomSequences(t *testing.T) {
	m := New(DefaultPolicy())
	rng := rand.New(rand.NewSource(42))
	paymentTypes := models.PaymentTypes

	for run := 0; run < 500; run++ {
		e := completeEntry(models.StatusInProgress)
		clock := now

		for step := 0; step < 40; step++ {
			clock = clock.Add(time.Duration(rng.Intn(72)) * time.Hour)
			ev := Event{
				Trigger:       Triggers[rng.Intn(len(Triggers))],
				Now:           clock,
				PaymentType:   paymentTypes[rng.Intn(len(paymentTypes))],
				TransactionID: "TX",
			}

			out, err := m.Apply(e, ev)
			if err != nil {
				require.Equal(t, e, out.Entry, "failed transition must not change the entry")
				continue
			}
			if out.Deleted {
				require.Equal(t, models.StatusInProgress, e.Status)
				break
			}

			next := out.Entry
			if !e.Withdrawn && next.Withdrawn {
				require.True(t, withdrawable(e.Status), "withdrawn from %s via %s", e.Status, ev.Trigger)
			}
			if e.Withdrawn {
				require.True(t, next.Withdrawn, "withdrawn is terminal (run %d step %d %s)", run, step, ev.Trigger)
				require.Equal(t, e.Status, next.Status, "status frozen once withdrawn")
			}
			if next.Status != e.Status {
				require.True(t, allowedEdges[[2]models.Status{e.Status, next.Status}],
					"edge %s -> %s via %s", e.Status, next.Status, ev.Trigger)
			}
			if !out.Changed {
				require.Equal(t, e, next)
				require.Empty(t, out.Effects)
			}
			e = next
		}
	}
}
