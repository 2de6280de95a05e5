// Package services runs entry transitions, the payment ledger, the
// payment-notification processor and the scheduler jobs against storage.
//
// Every mutation follows the same shape: open a transaction, lock the entry
// row, apply the state machine, persist the entry and its audit lines, commit,
// and only then hand the outcome's emails to the Dispatcher.
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/entryledger/internal/dbx"
	"github.com/dmitrijs2005/entryledger/internal/logging"
	"github.com/dmitrijs2005/entryledger/internal/server/entrystate"
	"github.com/dmitrijs2005/entryledger/internal/server/metrics"
	"github.com/dmitrijs2005/entryledger/internal/server/models"
	"github.com/dmitrijs2005/entryledger/internal/server/repositories/repomanager"
)

// Deps are the collaborators shared by every service.
type Deps struct {
	Runner     dbx.TxRunner
	Repos      repomanager.RepositoryManager
	Machine    *entrystate.Machine
	Dispatcher *Dispatcher
	Logger     logging.Logger
	Metrics    *metrics.Collector
	// Now overrides the clock in tests.
	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// transition locks the entry and applies ev inside tx.
func (d *Deps) transition(ctx context.Context, tx dbx.DBTX, entryID int64, ev entrystate.Event) (entrystate.Outcome, error) {
	entry, err := d.Repos.Entries(tx).GetByIDForUpdate(ctx, entryID)
	if err != nil {
		return entrystate.Outcome{}, fmt.Errorf("lock entry %d: %w", entryID, err)
	}
	return d.persist(ctx, tx, *entry, ev)
}

// persist applies ev to an already locked entry and writes the result and
// its audit lines through tx.
func (d *Deps) persist(ctx context.Context, tx dbx.DBTX, entry models.Entry, ev entrystate.Event) (entrystate.Outcome, error) {
	out, err := d.Machine.Apply(entry, ev)
	if err != nil || !out.Changed {
		return out, err
	}

	entries := d.Repos.Entries(tx)
	if out.Deleted {
		err = entries.Delete(ctx, out.Entry.ID)
	} else {
		err = entries.Update(ctx, &out.Entry)
	}
	if err != nil {
		return out, fmt.Errorf("save entry %d: %w", out.Entry.ID, err)
	}

	audit := d.Repos.ActivityLog(tx)
	for _, line := range out.AuditLines() {
		if err := audit.Append(ctx, ev.Now, line); err != nil {
			return out, fmt.Errorf("audit: %w", err)
		}
	}

	d.Metrics.Transition(string(ev.Trigger))
	return out, nil
}

// runTransition applies ev to one entry in its own transaction and sends
// the resulting emails after commit.
func (d *Deps) runTransition(ctx context.Context, entryID int64, ev entrystate.Event) (*models.Entry, error) {
	if ev.Now.IsZero() {
		ev.Now = d.now()
	}

	var out entrystate.Outcome
	err := d.Runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		out, err = d.transition(ctx, tx, entryID, ev)
		return err
	})
	if err != nil {
		return nil, err
	}

	_ = d.Dispatcher.Dispatch(ctx, out.Entry, out.Emails())
	return &out.Entry, nil
}
