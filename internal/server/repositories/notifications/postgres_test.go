package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/entryledger/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_ReturnsStoredState(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	payload := []byte(`{"txn_id":"TX1"}`)
	mock.ExpectQuery(`(?s)INSERT INTO payment_notifications .* ON CONFLICT \(txn_id, payment_status\)\s+DO UPDATE SET attempts = payment_notifications.attempts \+ 1`).
		WithArgs("TX1", "Completed", "inv", "video 4", payload, "processing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "state", "error", "attempts", "created_at", "updated_at"}).
			AddRow(int64(3), "processed", "", 2, now, now))

	rec, err := NewPostgresRepository(db).Record(context.Background(), &models.NotificationRecord{
		TxnID: "TX1", PaymentStatus: "Completed", Invoice: "inv", Custom: "video 4", Payload: payload,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.ID)
	assert.Equal(t, models.JournalProcessed, rec.State)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, "TX1", rec.TxnID)
}

func TestRecord_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO payment_notifications`).WillReturnError(errors.New("down"))
	_, err = NewPostgresRepository(db).Record(context.Background(), &models.NotificationRecord{})
	require.ErrorContains(t, err, "db error: down")
}

func TestMarkState(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE payment_notifications SET state = \$2, error = \$3`).
		WithArgs(int64(3), "failed", "boom").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, NewPostgresRepository(db).MarkState(context.Background(), 3, models.JournalFailed, "boom"))
}

func TestSetInvoice(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE payment_notifications SET invoice = \$2, .* WHERE id = \$1 AND invoice = ''`).
		WithArgs(int64(3), "REF-video-inv#001").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, NewPostgresRepository(db).SetInvoice(context.Background(), 3, "REF-video-inv#001"))
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec(`UPDATE payment_notifications SET invoice`).WillReturnError(errors.New("down"))
	require.ErrorContains(t, NewPostgresRepository(db).SetInvoice(context.Background(), 3, "x"), "db error: down")
}
