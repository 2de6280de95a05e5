// Package users declares the read-only user directory used to address
// notifications.
package users

import (
	"context"

	"github.com/dmitrijs2005/entryledger/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
}
