package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/entryledger/internal/dbx"
	"github.com/dmitrijs2005/entryledger/internal/server/models"
	"github.com/dmitrijs2005/entryledger/internal/server/repositories/repomanager"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Directory is a read-through cache of the user accounts notifications are
// addressed to, keyed by user id. Entries expire after the TTL; the owner
// of the account data calls Invalidate when an account changes.
type Directory struct {
	runner dbx.TxRunner
	repos  repomanager.RepositoryManager
	cache  *expirable.LRU[int64, models.User]
}

func NewDirectory(runner dbx.TxRunner, repos repomanager.RepositoryManager, size int, ttl time.Duration) *Directory {
	if size <= 0 {
		size = 1024
	}
	return &Directory{
		runner: runner,
		repos:  repos,
		cache:  expirable.NewLRU[int64, models.User](size, nil, ttl),
	}
}

// User returns a copy of the account, loading it on a cache miss. Lookup
// failures are not cached.
func (d *Directory) User(ctx context.Context, id int64) (*models.User, error) {
	if u, ok := d.cache.Get(id); ok {
		return &u, nil
	}
	u, err := d.repos.Users(d.runner.Conn()).GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d.cache.Add(id, *u)
	out := *u
	return &out, nil
}

// Invalidate drops the cached account so the next lookup reads it again.
func (d *Directory) Invalidate(id int64) {
	d.cache.Remove(id)
}
