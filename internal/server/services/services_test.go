package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dmitrijs2005/entryledger/internal/logging"
	"github.com/dmitrijs2005/entryledger/internal/server/entrystate"
	"github.com/dmitrijs2005/entryledger/internal/server/mail"
	"github.com/dmitrijs2005/entryledger/internal/server/metrics"
	"github.com/dmitrijs2005/entryledger/internal/server/models"
	"github.com/dmitrijs2005/entryledger/internal/server/repositories/memory"
	"github.com/stretchr/testify/require"
)

const (
	receiver  = "payments@example.com"
	organizer = "organizer@example.com"
	support   = "support@example.com"
	userEmail = "alice@example.com"
)

var (
	start       = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	entriesShut = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	store *memory.Store
	sink  *mail.Recorder
	now   time.Time

	deps    *Deps
	entries *EntryService
	ledger  *LedgerService
	webhook *WebhookProcessor
	sched   *Scheduler
	dir     *Directory
	user    *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.New(), sink: mail.NewRecorder(), now: start}
	log := logging.NewNop()
	m := metrics.NewCollector("test")

	f.deps = &Deps{
		Runner:  f.store,
		Repos:   f.store,
		Machine: entrystate.New(entrystate.DefaultPolicy()),
		Logger:  log,
		Metrics: m,
		Now:     func() time.Time { return f.now },
	}
	f.dir = NewDirectory(f.store, f.store, 16, time.Hour)
	f.deps.Dispatcher = NewDispatcher(f.sink, f.dir, Addresses{Organizer: organizer, Support: support}, log, m)
	f.entries = NewEntryService(f.deps, "2026")
	f.ledger = NewLedgerService(f.deps)
	f.webhook = NewWebhookProcessor(f.deps, f.ledger, receiver, nil)
	f.sched = NewScheduler(f.deps, SchedulerSettings{
		EntryYear:         "2026",
		EntriesClose:      entriesShut,
		ClosingWarnWindow: 72 * time.Hour,
	})

	u, err := f.store.Users(nil).Create(context.Background(), &models.User{
		UserName: "alice", Email: userEmail, FirstName: "Alice", LastName: "Smith",
	})
	require.NoError(t, err)
	f.user = u
	return f
}

// seed stores e for the fixture user with complete details unless set.
func (f *fixture) seed(t *testing.T, e models.Entry) models.Entry {
	t.Helper()
	e.EntryYear = "2026"
	if e.UserID == 0 {
		e.UserID = f.user.ID
	}
	if e.Category == "" {
		e.Category = models.CategoryAdvanced
	}
	if e.EntryRef == "" {
		e.EntryRef = "REF" + string(e.Category)
	}
	if e.VideoURL == "" {
		e.VideoURL = "https://video.example.com/1"
	}
	if e.Biography == "" {
		e.Biography = "bio"
	}
	if e.Song == "" {
		e.Song = "song"
	}
	require.NoError(t, f.store.Entries(nil).Create(context.Background(), &e))
	return e
}

func (f *fixture) load(t *testing.T, id int64) models.Entry {
	t.Helper()
	e, err := f.store.Entries(nil).GetByID(context.Background(), id)
	require.NoError(t, err)
	return *e
}

func notification(e models.Entry, pt models.PaymentType, status, txnID, invoice string) models.Notification {
	n := models.Notification{
		Custom:        fmt.Sprintf("%s %d", pt, e.ID),
		Invoice:       invoice,
		PaymentStatus: status,
		TxnID:         txnID,
		Business:      receiver,
		MCGross:       models.Fee(pt, e.Category).StringFixed(2),
	}
	n.Raw = map[string]string{
		"custom":         n.Custom,
		"invoice":        n.Invoice,
		"payment_status": n.PaymentStatus,
		"txn_id":         n.TxnID,
		"business":       n.Business,
		"mc_gross":       n.MCGross,
	}
	return n
}

// sent returns the recorded messages using template.
func (f *fixture) sent(template string) []mail.Message {
	var out []mail.Message
	for _, m := range f.sink.Messages() {
		if m.Template == template {
			out = append(out, m)
		}
	}
	return out
}

func (f *fixture) sentTo(addr string) []mail.Message {
	var out []mail.Message
	for _, m := range f.sink.Messages() {
		for _, a := range append(append([]string{}, m.To...), m.Cc...) {
			if a == addr {
				out = append(out, m)
				break
			}
		}
	}
	return out
}
