// Package entries provides PostgreSQL-backed repositories for competition
// entries.
package entries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/entryledger/internal/common"
	"github.com/dmitrijs2005/entryledger/internal/dbx"
	"github.com/dmitrijs2005/entryledger/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const columns = `id, entry_ref, entry_year, user_id, category, status, withdrawn,
	stage_name, song, video_url, biography, partner_name, partner_email,
	video_entry_paid, selected_entry_paid, withdrawal_fee_paid, date_submitted,
	notified, notified_date, reminder_sent, closing_warning_sent, info_reminder_sent`

// PostgresRepository implements entry storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*models.Entry, error) {
	var (
		e                       models.Entry
		submitted, notifiedDate sql.NullTime
	)
	err := row.Scan(
		&e.ID, &e.EntryRef, &e.EntryYear, &e.UserID, &e.Category, &e.Status, &e.Withdrawn,
		&e.StageName, &e.Song, &e.VideoURL, &e.Biography, &e.PartnerName, &e.PartnerEmail,
		&e.VideoEntryPaid, &e.SelectedEntryPaid, &e.WithdrawalFeePaid, &submitted,
		&e.Notified, &notifiedDate, &e.ReminderSent, &e.ClosingWarningSent, &e.InfoReminderSent,
	)
	if err != nil {
		return nil, err
	}
	if submitted.Valid {
		t := submitted.Time
		e.DateSubmitted = &t
	}
	if notifiedDate.Valid {
		t := notifiedDate.Time
		e.NotifiedDate = &t
	}
	return &e, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (r *PostgresRepository) Create(ctx context.Context, e *models.Entry) error {
	query := `
		INSERT INTO entries (entry_ref, entry_year, user_id, category, status, withdrawn,
			stage_name, song, video_url, biography, partner_name, partner_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		e.EntryRef, e.EntryYear, e.UserID, e.Category, e.Status, e.Withdrawn,
		e.StageName, e.Song, e.VideoURL, e.Biography, e.PartnerName, e.PartnerEmail,
	).Scan(&e.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s", common.ErrDuplicateCategory, e.EntryYear, e.Category)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg any) (*models.Entry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Entry, error) {
	return r.getOne(ctx, `SELECT `+columns+` FROM entries WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByRef(ctx context.Context, ref string) (*models.Entry, error) {
	return r.getOne(ctx, `SELECT `+columns+` FROM entries WHERE entry_ref = $1`, ref)
}

func (r *PostgresRepository) GetByIDForUpdate(ctx context.Context, id int64) (*models.Entry, error) {
	return r.getOne(ctx, `SELECT `+columns+` FROM entries WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) Update(ctx context.Context, e *models.Entry) error {
	query := `
		UPDATE entries SET
			category = $2, status = $3, withdrawn = $4,
			stage_name = $5, song = $6, video_url = $7, biography = $8,
			partner_name = $9, partner_email = $10,
			video_entry_paid = $11, selected_entry_paid = $12, withdrawal_fee_paid = $13,
			date_submitted = $14, notified = $15, notified_date = $16,
			reminder_sent = $17, closing_warning_sent = $18, info_reminder_sent = $19
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query,
		e.ID, e.Category, e.Status, e.Withdrawn,
		e.StageName, e.Song, e.VideoURL, e.Biography,
		e.PartnerName, e.PartnerEmail,
		e.VideoEntryPaid, e.SelectedEntryPaid, e.WithdrawalFeePaid,
		e.DateSubmitted, e.Notified, e.NotifiedDate,
		e.ReminderSent, e.ClosingWarningSent, e.InfoReminderSent,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s", common.ErrDuplicateCategory, e.EntryYear, e.Category)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *PostgresRepository) CategoryTaken(ctx context.Context, userID int64, year string, category models.Category, excludeID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM entries
			WHERE user_id = $1 AND entry_year = $2 AND category = $3 AND id <> $4
		)`

	var taken bool
	if err := r.db.QueryRowContext(ctx, query, userID, year, category, excludeID).Scan(&taken); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return taken, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select entries: %w", err)
	}
	defer rows.Close()

	var result []*models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID int64, year string) ([]*models.Entry, error) {
	return r.list(ctx, `SELECT `+columns+` FROM entries WHERE user_id = $1 AND entry_year = $2 ORDER BY id`, userID, year)
}

func (r *PostgresRepository) ListActive(ctx context.Context, year string, statuses ...models.Status) ([]*models.Entry, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := []any{year}
	placeholders := make([]string, len(statuses))
	for i, s := range statuses {
		args = append(args, s)
		placeholders[i] = fmt.Sprintf("$%d", i+2)
	}
	query := `SELECT ` + columns + ` FROM entries
		WHERE entry_year = $1 AND NOT withdrawn AND status IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY id`
	return r.list(ctx, query, args...)
}
