package services

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/entryledger/internal/common"
	"github.com/dmitrijs2005/entryledger/internal/dbx"
	"github.com/dmitrijs2005/entryledger/internal/server/entrystate"
	"github.com/dmitrijs2005/entryledger/internal/server/models"
	"github.com/lithammer/shortuuid"
)

// EntryService runs the user and administrator actions on entries.
type EntryService struct {
	deps *Deps
	year string
}

func NewEntryService(deps *Deps, year string) *EntryService {
	return &EntryService{deps: deps, year: year}
}

func (s *EntryService) Get(ctx context.Context, ref string) (*models.Entry, error) {
	return s.deps.Repos.Entries(s.deps.Runner.Conn()).GetByRef(ctx, ref)
}

func (s *EntryService) ListForUser(ctx context.Context, userID int64) ([]*models.Entry, error) {
	return s.deps.Repos.Entries(s.deps.Runner.Conn()).ListByUser(ctx, userID, s.year)
}

// CreateDraft saves a new in_progress entry. Only the category is required.
func (s *EntryService) CreateDraft(ctx context.Context, userID int64, d models.EntryDetails) (*models.Entry, error) {
	if err := checkCategory(d.Category); err != nil {
		return nil, err
	}

	e := &models.Entry{
		EntryRef:  shortuuid.New(),
		EntryYear: s.year,
		UserID:    userID,
		Status:    models.StatusInProgress,
	}
	d.Apply(e)

	err := s.deps.Runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.deps.Repos.Entries(tx)
		taken, err := repo.CategoryTaken(ctx, userID, s.year, d.Category, 0)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: %s", common.ErrDuplicateCategory, d.Category.Label())
		}
		if err := repo.Create(ctx, e); err != nil {
			return err
		}
		return s.deps.Repos.ActivityLog(tx).Append(ctx, s.deps.now(),
			fmt.Sprintf("Entry id %d (%s) created for user id %d", e.ID, d.Category.Label(), userID))
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateDetails saves the editable fields without changing the status.
// The category can only change while the entry is in progress.
func (s *EntryService) UpdateDetails(ctx context.Context, entryID int64, d models.EntryDetails) (*models.Entry, error) {
	var saved models.Entry
	err := s.deps.Runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.deps.Repos.Entries(tx)
		e, err := repo.GetByIDForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if e.Withdrawn {
			return fmt.Errorf("%w: entry %d", common.ErrEntryWithdrawn, e.ID)
		}
		if d.Category == "" {
			d.Category = e.Category
		}
		if d.Category != e.Category {
			if err := s.recategorize(ctx, tx, e, d.Category); err != nil {
				return err
			}
		}
		d.Apply(e)
		if err := repo.Update(ctx, e); err != nil {
			return err
		}
		saved = *e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// ChangeCategory moves an in-progress entry to another category.
func (s *EntryService) ChangeCategory(ctx context.Context, entryID int64, c models.Category) (*models.Entry, error) {
	var saved models.Entry
	err := s.deps.Runner.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.deps.Repos.Entries(tx)
		e, err := repo.GetByIDForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if e.Category == c {
			saved = *e
			return nil
		}
		if err := s.recategorize(ctx, tx, e, c); err != nil {
			return err
		}
		e.Category = c
		if err := repo.Update(ctx, e); err != nil {
			return err
		}
		saved = *e
		return s.deps.Repos.ActivityLog(tx).Append(ctx, s.deps.now(),
			fmt.Sprintf("Entry id %d moved to category %s", e.ID, c.Label()))
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (s *EntryService) recategorize(ctx context.Context, tx dbx.DBTX, e *models.Entry, c models.Category) error {
	if e.Status != models.StatusInProgress || e.Withdrawn {
		return fmt.Errorf("%w: category change on %s entry %d", common.ErrInvalidTransition, e.Status, e.ID)
	}
	if err := checkCategory(c); err != nil {
		return err
	}
	taken, err := s.deps.Repos.Entries(tx).CategoryTaken(ctx, e.UserID, e.EntryYear, c, e.ID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: %s", common.ErrDuplicateCategory, c.Label())
	}
	return nil
}

func checkCategory(c models.Category) error {
	if !c.Valid() || models.RetiredCategories[c] {
		return fmt.Errorf("%w: %q", common.ErrInvalidCategory, c)
	}
	return nil
}

func (s *EntryService) Submit(ctx context.Context, entryID int64, actor string) (*models.Entry, error) {
	return s.deps.runTransition(ctx, entryID, entrystate.Event{Trigger: entrystate.Submit, Actor: actor})
}

func (s *EntryService) Confirm(ctx context.Context, entryID int64, actor string) (*models.Entry, error) {
	return s.deps.runTransition(ctx, entryID, entrystate.Event{Trigger: entrystate.Confirm, Actor: actor})
}

func (s *EntryService) Withdraw(ctx context.Context, entryID int64, actor string) (*models.Entry, error) {
	return s.deps.runTransition(ctx, entryID, entrystate.Event{Trigger: entrystate.Withdraw, Actor: actor})
}

// Delete removes an entry that was never submitted, with its ledger rows.
func (s *EntryService) Delete(ctx context.Context, entryID int64, actor string) error {
	_, err := s.deps.runTransition(ctx, entryID, entrystate.Event{Trigger: entrystate.Delete, Actor: actor})
	return err
}

var decisions = map[models.Status]entrystate.Trigger{
	models.StatusSelected:  entrystate.Select,
	models.StatusRejected:  entrystate.Reject,
	models.StatusSubmitted: entrystate.Undecide,
}

// Decide records an administrator's selection decision. Submitted means
// "undecided".
func (s *EntryService) Decide(ctx context.Context, entryID int64, decision models.Status, admin string) (*models.Entry, error) {
	trigger, ok := decisions[decision]
	if !ok {
		return nil, fmt.Errorf("%w: decision %q", common.ErrInvalidTransition, decision)
	}
	return s.deps.runTransition(ctx, entryID, entrystate.Event{Trigger: trigger, Actor: admin})
}

// NotifyResults emails the selection result and starts the payment window
// of selected entries.
func (s *EntryService) NotifyResults(ctx context.Context, entryID int64, admin string) (*models.Entry, error) {
	return s.deps.runTransition(ctx, entryID, entrystate.Event{Trigger: entrystate.MarkNotified, Actor: admin})
}

func (s *EntryService) ResetNotified(ctx context.Context, entryID int64, admin string) (*models.Entry, error) {
	return s.deps.runTransition(ctx, entryID, entrystate.Event{Trigger: entrystate.ResetNotified, Actor: admin})
}
