package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/entryledger/internal/dbx"
	"github.com/dmitrijs2005/entryledger/internal/server/repositories/activitylog"
	"github.com/dmitrijs2005/entryledger/internal/server/repositories/entries"
	"github.com/dmitrijs2005/entryledger/internal/server/repositories/notifications"
	"github.com/dmitrijs2005/entryledger/internal/server/repositories/transactions"
	"github.com/dmitrijs2005/entryledger/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so the same code
// path works on the pool and inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Entries(db dbx.DBTX) entries.Repository
	Transactions(db dbx.DBTX) transactions.Repository
	ActivityLog(db dbx.DBTX) activitylog.Repository
	Notifications(db dbx.DBTX) notifications.Repository
}
