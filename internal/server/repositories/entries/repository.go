// Package entries declares the storage contract for competition entries.
package entries

import (
	"context"

	"github.com/dmitrijs2005/entryledger/internal/server/models"
)

// Repository defines entry persistence. Implementations return
// common.ErrorNotFound for missing rows.
type Repository interface {
	// Create inserts e and sets e.ID. A second entry for the same
	// (year, user, category) fails with common.ErrDuplicateCategory.
	Create(ctx context.Context, e *models.Entry) error

	GetByID(ctx context.Context, id int64) (*models.Entry, error)
	GetByRef(ctx context.Context, ref string) (*models.Entry, error)

	// GetByIDForUpdate reads the entry and locks its row until the
	// surrounding transaction ends. Every mutation path goes through it.
	GetByIDForUpdate(ctx context.Context, id int64) (*models.Entry, error)

	// Update writes every mutable column of e.
	Update(ctx context.Context, e *models.Entry) error
	Delete(ctx context.Context, id int64) error

	// CategoryTaken reports whether the user already has another entry in
	// category for year; excludeID is ignored in the check.
	CategoryTaken(ctx context.Context, userID int64, year string, category models.Category, excludeID int64) (bool, error)

	ListByUser(ctx context.Context, userID int64, year string) ([]*models.Entry, error)

	// ListActive returns the non-withdrawn entries of year in any of statuses,
	// ordered by id. Used by the scheduler for its start-of-run snapshot.
	ListActive(ctx context.Context, year string, statuses ...models.Status) ([]*models.Entry, error)
}
