package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/objectdeck/objectdeck/internal/history"
)

// HistoryRepository stores operation-history records in SQLite.
type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(dbConn *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: dbConn}
}

// Append inserts one history record.
func (r *HistoryRepository) Append(ctx context.Context, rec history.Record) error {
	occurredAt := rec.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transfer_history
			(transfer_id, account_id, bucket, operation, source_key, dest_key,
			 size, status, duration_ms, error_message, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TransferID, rec.AccountID, rec.Bucket, string(rec.Operation),
		rec.SourceKey, rec.DestKey, rec.Size, rec.Status, rec.DurationMs,
		rec.ErrorMessage, occurredAt.Format(time.RFC3339),
	)

	return err
}

// Recent returns the latest records, newest first.
func (r *HistoryRepository) Recent(ctx context.Context, limit int) ([]history.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT transfer_id, account_id, bucket, operation, source_key, dest_key,
		       size, status, duration_ms, error_message, occurred_at
		FROM transfer_history
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []history.Record

	for rows.Next() {
		var (
			rec        history.Record
			operation  string
			errMsg     sql.NullString
			occurredAt string
		)

		if err := rows.Scan(&rec.TransferID, &rec.AccountID, &rec.Bucket, &operation,
			&rec.SourceKey, &rec.DestKey, &rec.Size, &rec.Status, &rec.DurationMs,
			&errMsg, &occurredAt); err != nil {
			return nil, err
		}

		rec.Operation = history.OperationKind(operation)

		if errMsg.Valid {
			rec.ErrorMessage = errMsg.String
		}

		if ts, err := time.Parse(time.RFC3339, occurredAt); err == nil {
			rec.OccurredAt = ts
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}
