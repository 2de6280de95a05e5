package activitylog

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/entryledger/internal/dbx"
	"github.com/dmitrijs2005/entryledger/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, at time.Time, message string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO activity_log (timestamp, message) VALUES ($1, $2)`, at, message)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Recent(ctx context.Context, limit int) ([]*models.ActivityLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, timestamp, message FROM activity_log ORDER BY timestamp DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select activity log: %w", err)
	}
	defer rows.Close()

	var result []*models.ActivityLog
	for rows.Next() {
		var l models.ActivityLog
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Message); err != nil {
			return nil, err
		}
		result = append(result, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
