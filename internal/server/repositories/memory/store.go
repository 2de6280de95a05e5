// Package memory is an in-process implementation of the repository manager
// and transaction runner. Transactions are fully serialized: WithTx holds an
// exclusive lock for the whole unit of work and restores a snapshot of the
// data when the unit fails. It backs the "memory" DSN and service tests.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/entryledger/internal/common"
	"github.com/dmitrijs2005/entryledger/internal/dbx"
	"github.com/dmitrijs2005/entryledger/internal/server/models"
	"github.com/dmitrijs2005/entryledger/internal/server/repositories/activitylog"
	"github.com/dmitrijs2005/entryledger/internal/server/repositories/entries"
	"github.com/dmitrijs2005/entryledger/internal/server/repositories/notifications"
	"github.com/dmitrijs2005/entryledger/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/entryledger/internal/server/repositories/transactions"
	"github.com/dmitrijs2005/entryledger/internal/server/repositories/users"
)

var errNoSQL = errors.New("memory store does not execute SQL")

type data struct {
	users         map[int64]models.User
	entries       map[int64]models.Entry
	transactions  map[int64]models.PaymentTransaction
	notifications map[int64]models.NotificationRecord
	activity      []models.ActivityLog
	seq           int64
}

func newData() data {
	return data{
		users:         map[int64]models.User{},
		entries:       map[int64]models.Entry{},
		transactions:  map[int64]models.PaymentTransaction{},
		notifications: map[int64]models.NotificationRecord{},
	}
}

func (d data) clone() data {
	c := newData()
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.entries {
		c.entries[k] = v
	}
	for k, v := range d.transactions {
		c.transactions[k] = v
	}
	for k, v := range d.notifications {
		c.notifications[k] = v
	}
	c.activity = append([]models.ActivityLog(nil), d.activity...)
	c.seq = d.seq
	return c
}

// Store holds all tables. It implements repomanager.RepositoryManager and
// dbx.TxRunner.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	d    data
	now  func() time.Time
}

func New() *Store {
	return &Store{d: newData(), now: func() time.Time { return time.Now().UTC() }}
}

var (
	_ repomanager.RepositoryManager = (*Store)(nil)
	_ dbx.TxRunner                  = (*Store)(nil)
)

// conn satisfies dbx.DBTX so callers can pass it around; the memory
// repositories never call it.
type conn struct{}

func (conn) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errNoSQL
}

func (conn) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errNoSQL
}

func (conn) QueryRowContext(context.Context, string, ...any) *sql.Row {
	return nil
}

func (s *Store) Conn() dbx.DBTX { return conn{} }

// WithTx runs fn exclusively. If fn fails or panics every change made
// through the store since the start of fn is discarded.
func (s *Store) WithTx(ctx context.Context, fn dbx.TxFunc) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.d.clone()
	s.mu.RUnlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()

	return fn(ctx, conn{})
}

func (s *Store) restore(d data) {
	s.mu.Lock()
	s.d = d
	s.mu.Unlock()
}

func (s *Store) RunMigrations(context.Context, *sql.DB) error { return nil }

func (s *Store) Users(dbx.DBTX) users.Repository                 { return userRepo{s} }
func (s *Store) Entries(dbx.DBTX) entries.Repository             { return entryRepo{s} }
func (s *Store) Transactions(dbx.DBTX) transactions.Repository   { return txRepo{s} }
func (s *Store) ActivityLog(dbx.DBTX) activitylog.Repository     { return logRepo{s} }
func (s *Store) Notifications(dbx.DBTX) notifications.Repository { return journalRepo{s} }

func (s *Store) nextID() int64 {
	s.d.seq++
	return s.d.seq
}

// users

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, other := range r.s.d.users {
		if other.UserName == u.UserName {
			return nil, errors.New("username already exists")
		}
	}
	u.ID = r.s.nextID()
	r.s.d.users[u.ID] = *u
	return u, nil
}

func (r userRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.d.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &u, nil
}

// entries

type entryRepo struct{ s *Store }

func (r entryRepo) categoryTaken(userID int64, year string, c models.Category, excludeID int64) bool {
	for _, e := range r.s.d.entries {
		if e.ID != excludeID && e.UserID == userID && e.EntryYear == year && e.Category == c {
			return true
		}
	}
	return false
}

func (r entryRepo) Create(_ context.Context, e *models.Entry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.categoryTaken(e.UserID, e.EntryYear, e.Category, 0) {
		return common.ErrDuplicateCategory
	}
	for _, other := range r.s.d.entries {
		if other.EntryRef == e.EntryRef {
			return errors.New("entry_ref already exists")
		}
	}
	e.ID = r.s.nextID()
	r.s.d.entries[e.ID] = *e
	return nil
}

func (r entryRepo) GetByID(_ context.Context, id int64) (*models.Entry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	e, ok := r.s.d.entries[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &e, nil
}

// GetByIDForUpdate needs no extra lock: WithTx already serializes units of work.
func (r entryRepo) GetByIDForUpdate(ctx context.Context, id int64) (*models.Entry, error) {
	return r.GetByID(ctx, id)
}

func (r entryRepo) GetByRef(_ context.Context, ref string) (*models.Entry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, e := range r.s.d.entries {
		if e.EntryRef == ref {
			return &e, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r entryRepo) Update(_ context.Context, e *models.Entry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	old, ok := r.s.d.entries[e.ID]
	if !ok {
		return common.ErrorNotFound
	}
	if r.categoryTaken(e.UserID, e.EntryYear, e.Category, e.ID) {
		return common.ErrDuplicateCategory
	}
	// immutable columns
	e.EntryRef, e.EntryYear, e.UserID = old.EntryRef, old.EntryYear, old.UserID
	r.s.d.entries[e.ID] = *e
	return nil
}

func (r entryRepo) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.d.entries[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.s.d.entries, id)
	for tid, t := range r.s.d.transactions {
		if t.EntryID == id {
			delete(r.s.d.transactions, tid)
		}
	}
	return nil
}

func (r entryRepo) CategoryTaken(_ context.Context, userID int64, year string, c models.Category, excludeID int64) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.categoryTaken(userID, year, c, excludeID), nil
}

func (r entryRepo) filter(keep func(models.Entry) bool) []*models.Entry {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.Entry
	for _, e := range r.s.d.entries {
		if keep(e) {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r entryRepo) ListByUser(_ context.Context, userID int64, year string) ([]*models.Entry, error) {
	return r.filter(func(e models.Entry) bool { return e.UserID == userID && e.EntryYear == year }), nil
}

func (r entryRepo) ListActive(_ context.Context, year string, statuses ...models.Status) ([]*models.Entry, error) {
	want := map[models.Status]bool{}
	for _, st := range statuses {
		want[st] = true
	}
	return r.filter(func(e models.Entry) bool {
		return e.EntryYear == year && !e.Withdrawn && want[e.Status]
	}), nil
}

// payment ledger

type txRepo struct{ s *Store }

func (r txRepo) Create(_ context.Context, t *models.PaymentTransaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, other := range r.s.d.transactions {
		switch {
		case other.InvoiceID == t.InvoiceID:
			return errors.New("duplicate invoice_id")
		case t.TransactionID != "" && other.TransactionID == t.TransactionID:
			return errors.New("duplicate transaction_id")
		case t.TransactionID == "" && other.Pending() &&
			other.EntryID == t.EntryID && other.PaymentType == t.PaymentType:
			return errors.New("pending transaction already exists")
		}
	}
	t.ID = r.s.nextID()
	t.CreatedAt = r.s.now()
	r.s.d.transactions[t.ID] = *t
	return nil
}

func (r txRepo) ListForEntry(_ context.Context, entryID int64, pt models.PaymentType) ([]*models.PaymentTransaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.PaymentTransaction
	for _, t := range r.s.d.transactions {
		if t.EntryID == entryID && t.PaymentType == pt {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return strings.Compare(out[i].InvoiceID, out[j].InvoiceID) > 0 })
	return out, nil
}

func (r txRepo) find(match func(models.PaymentTransaction) bool) (*models.PaymentTransaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, t := range r.s.d.transactions {
		if match(t) {
			return &t, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r txRepo) GetByInvoiceID(_ context.Context, invoiceID string) (*models.PaymentTransaction, error) {
	return r.find(func(t models.PaymentTransaction) bool { return t.InvoiceID == invoiceID })
}

func (r txRepo) GetByTransactionID(_ context.Context, transactionID string) (*models.PaymentTransaction, error) {
	return r.find(func(t models.PaymentTransaction) bool {
		return transactionID != "" && t.TransactionID == transactionID
	})
}

func (r txRepo) SetTransactionID(_ context.Context, id int64, transactionID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.d.transactions[id]
	if !ok {
		return common.ErrorNotFound
	}
	for _, other := range r.s.d.transactions {
		if other.ID != id && transactionID != "" && other.TransactionID == transactionID {
			return errors.New("duplicate transaction_id")
		}
	}
	t.TransactionID = transactionID
	r.s.d.transactions[id] = t
	return nil
}

// audit trail

type logRepo struct{ s *Store }

func (r logRepo) Append(_ context.Context, at time.Time, message string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.d.activity = append(r.s.d.activity, models.ActivityLog{ID: r.s.nextID(), Timestamp: at, Message: message})
	return nil
}

func (r logRepo) Recent(_ context.Context, limit int) ([]*models.ActivityLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.ActivityLog
	for i := len(r.s.d.activity) - 1; i >= 0 && len(out) < limit; i-- {
		l := r.s.d.activity[i]
		out = append(out, &l)
	}
	return out, nil
}

// notification journal

type journalRepo struct{ s *Store }

func (r journalRepo) Record(_ context.Context, rec *models.NotificationRecord) (*models.NotificationRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	for id, existing := range r.s.d.notifications {
		if existing.TxnID == rec.TxnID && existing.PaymentStatus == rec.PaymentStatus {
			existing.Attempts++
			existing.UpdatedAt = now
			r.s.d.notifications[id] = existing
			out := existing
			return &out, nil
		}
	}
	out := *rec
	out.ID = r.s.nextID()
	out.State = models.JournalProcessing
	out.Attempts = 1
	out.CreatedAt, out.UpdatedAt = now, now
	r.s.d.notifications[out.ID] = out
	return &out, nil
}

func (r journalRepo) MarkState(_ context.Context, id int64, state, errText string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.d.notifications[id]
	if !ok {
		return common.ErrorNotFound
	}
	rec.State, rec.Error, rec.UpdatedAt = state, errText, r.s.now()
	r.s.d.notifications[id] = rec
	return nil
}

func (r journalRepo) SetInvoice(_ context.Context, id int64, invoice string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.d.notifications[id]
	if !ok {
		return common.ErrorNotFound
	}
	if rec.Invoice == "" {
		rec.Invoice, rec.UpdatedAt = invoice, r.s.now()
		r.s.d.notifications[id] = rec
	}
	return nil
}

// Read-only views used by tests.

// AllTransactions returns every ledger row ordered by id.
func (s *Store) AllTransactions() []models.PaymentTransaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PaymentTransaction, 0, len(s.d.transactions))
	for _, t := range s.d.transactions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AuditMessages returns every audit message in insertion order.
func (s *Store) AuditMessages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.d.activity))
	for i, l := range s.d.activity {
		out[i] = l.Message
	}
	return out
}

// Journal returns the journal record for (txnID, status), if any.
func (s *Store) Journal(txnID, status string) (models.NotificationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.d.notifications {
		if rec.TxnID == txnID && rec.PaymentStatus == status {
			return rec, true
		}
	}
	return models.NotificationRecord{}, false
}
