package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/number-verification/internal/model"
	"github.com/jmoiron/sqlx"
)

// VerificationLogsRepository persists audit rows in MySQL. Rows are
// insert-only; nothing here updates or deletes them.
type VerificationLogsRepository interface {
	Save(ctx context.Context, l model.VerificationLog) error
	FindByCorrelationID(ctx context.Context, correlationID string) ([]model.VerificationLog, error)
	FindByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]model.VerificationLog, error)
	CountByClientSince(ctx context.Context, clientIP string, since time.Time) (int64, error)
}

type VerificationLogsRepositoryImpl struct {
	db *sqlx.DB
}

func NewVerificationLogsRepository(db *sqlx.DB) *VerificationLogsRepositoryImpl {
	return &VerificationLogsRepositoryImpl{db: db}
}

var _ VerificationLogsRepository = (*VerificationLogsRepositoryImpl)(nil)

const logColumns = `id, correlation_id, operation, hashed_phone_number, status, client_ip, timestamp, error_message`

func (r *VerificationLogsRepositoryImpl) Save(ctx context.Context, l model.VerificationLog) error {
	const q = `
		INSERT INTO verification_logs
		    (id, correlation_id, operation, hashed_phone_number, status, client_ip, timestamp, error_message)
		VALUES
		    (:id, :correlation_id, :operation, :hashed_phone_number, :status, :client_ip, :timestamp, :error_message)
	`
	_, err := r.db.NamedExecContext(ctx, q, l)
	return err
}

func (r *VerificationLogsRepositoryImpl) FindByCorrelationID(ctx context.Context, correlationID string) ([]model.VerificationLog, error) {
	var rows []model.VerificationLog
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+logColumns+`
		  FROM verification_logs
		 WHERE correlation_id = ?
		 ORDER BY timestamp ASC
	`, correlationID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FindByTimeRange returns rows with from <= timestamp < to, newest first.
func (r *VerificationLogsRepositoryImpl) FindByTimeRange(ctx context.Context, from, to time.Time, limit int) ([]model.VerificationLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var rows []model.VerificationLog
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+logColumns+`
		  FROM verification_logs
		 WHERE timestamp >= ? AND timestamp < ?
		 ORDER BY timestamp DESC
		 LIMIT ?
	`, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *VerificationLogsRepositoryImpl) CountByClientSince(ctx context.Context, clientIP string, since time.Time) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n, `
		SELECT COUNT(*)
		  FROM verification_logs
		 WHERE client_ip = ? AND timestamp > ?
	`, clientIP, since.UTC())
	return n, err
}
