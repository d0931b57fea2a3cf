package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmehdipour/number-verification/internal/model"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

var logCols = []string{"id", "correlation_id", "operation", "hashed_phone_number", "status", "client_ip", "timestamp", "error_message"}

func TestVerificationLogs_Save(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewVerificationLogsRepository(db)

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l := model.VerificationLog{
		ID:                "01HX",
		CorrelationID:     "corr-1",
		Operation:         model.OperationVerify,
		HashedPhoneNumber: "digest",
		Status:            model.StatusMatch,
		ClientIP:          "1.2.3.4",
		Timestamp:         ts,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO verification_logs")).
		WithArgs("01HX", "corr-1", model.OperationVerify, "digest", model.StatusMatch, "1.2.3.4", ts, sql.NullString{}).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Save(context.Background(), l))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationLogs_SaveError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewVerificationLogsRepository(db)

	mock.ExpectExec("INSERT INTO verification_logs").WillReturnError(errors.New("connection refused"))

	err := repo.Save(context.Background(), model.VerificationLog{ID: "x"})
	assert.Error(t, err)
}

func TestVerificationLogs_FindByCorrelationID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewVerificationLogsRepository(db)

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT .* FROM verification_logs\\s+WHERE correlation_id = \\?").
		WithArgs("corr-1").
		WillReturnRows(sqlmock.NewRows(logCols).
			AddRow("a", "corr-1", "verify", "d1", "MATCH", "1.2.3.4", ts, nil).
			AddRow("b", "corr-1", "verify", "", "MISMATCH", "1.2.3.4", ts, "provider unavailable"))

	rows, err := repo.FindByCorrelationID(context.Background(), "corr-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, model.StatusMatch, rows[0].Status)
	assert.False(t, rows[0].ErrorMessage.Valid)
	assert.Equal(t, "provider unavailable", rows[1].ErrorMessage.String)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationLogs_FindByTimeRange_ClampsLimit(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewVerificationLogsRepository(db)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	mock.ExpectQuery("SELECT .* FROM verification_logs\\s+WHERE timestamp >= \\? AND timestamp < \\?").
		WithArgs(from, to, 100).
		WillReturnRows(sqlmock.NewRows(logCols))

	rows, err := repo.FindByTimeRange(context.Background(), from, to, 5000)
	require.NoError(t, err)
	assert.Empty(t, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVerificationLogs_CountByClientSince(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewVerificationLogsRepository(db)

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
		WithArgs("1.2.3.4", since).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(7))

	n, err := repo.CountByClientSince(context.Background(), "1.2.3.4", since)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}
