// Package activitylog stores the append-only audit trail.
package activitylog

import (
	"context"
	"time"

	"github.com/dmitrijs2005/entryledger/internal/server/models"
)

type Repository interface {
	Append(ctx context.Context, at time.Time, message string) error
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]*models.ActivityLog, error)
}
