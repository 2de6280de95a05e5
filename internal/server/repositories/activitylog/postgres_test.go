package activitylog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO activity_log \(timestamp, message\) VALUES \(\$1, \$2\)`).
		WithArgs(at, "Entry 1 submitted").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, NewPostgresRepository(db).Append(context.Background(), at, "Entry 1 submitted"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppend_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO activity_log`).WillReturnError(errors.New("down"))
	err = NewPostgresRepository(db).Append(context.Background(), time.Now(), "x")
	require.ErrorContains(t, err, "db error: down")
}

func TestRecent(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	at := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, timestamp, message FROM activity_log ORDER BY timestamp DESC, id DESC LIMIT \$1`).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "timestamp", "message"}).
			AddRow(int64(2), at, "b").
			AddRow(int64(1), at, "a"))

	got, err := NewPostgresRepository(db).Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Message)
}
