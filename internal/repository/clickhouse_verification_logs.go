package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/number-verification/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHVerificationLogsRepository is the analytics copy of the audit trail,
// loaded in batches by the audit sink worker.
type CHVerificationLogsRepository interface {
	InsertBatch(ctx context.Context, rows []model.VerificationLog) error
	CountByStatus(ctx context.Context, from, to time.Time) ([]model.StatusCount, error)
}

type chVerificationLogsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHVerificationLogsRepository(ch *sqlx.DB) CHVerificationLogsRepository {
	return &chVerificationLogsRepository{ch: ch}
}

// InsertBatch uses the clickhouse-go std batching: one prepared INSERT inside a
// transaction is sent as a single block on commit.
func (r *chVerificationLogsRepository) InsertBatch(ctx context.Context, rows []model.VerificationLog) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO numverify.verification_logs
		    (id, correlation_id, operation, hashed_phone_number, status, client_ip, timestamp, error_message)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, l := range rows {
		if _, err := stmt.ExecContext(ctx,
			l.ID, l.CorrelationID, l.Operation.String(), l.HashedPhoneNumber,
			l.Status.String(), l.ClientIP, l.Timestamp.UTC(), l.ErrorMessage.String,
		); err != nil {
			return fmt.Errorf("append row %s: %w", l.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

func (r *chVerificationLogsRepository) CountByStatus(ctx context.Context, from, to time.Time) ([]model.StatusCount, error) {
	q := `
		SELECT operation, status, count() AS total, countIf(error_message != '') AS failed
		FROM numverify.verification_logs
		WHERE timestamp >= ? AND timestamp < ?
		GROUP BY operation, status
		ORDER BY operation, status
	`
	var rows []model.StatusCount
	if err := r.ch.SelectContext(ctx, &rows, q, from.UTC(), to.UTC()); err != nil {
		return nil, err
	}
	return rows, nil
}
