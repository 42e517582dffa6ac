package sqlite

import (
	"context"
	"database/sql"

	"github.com/objectdeck/objectdeck/internal/history"
	"github.com/objectdeck/objectdeck/internal/telemetry"
)

// InstrumentedHistoryRepository wraps HistoryRepository with telemetry.
type InstrumentedHistoryRepository struct {
	repo      *HistoryRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedHistoryRepository creates a new instrumented history repository.
func NewInstrumentedHistoryRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedHistoryRepository {
	return &InstrumentedHistoryRepository{
		repo:      NewHistoryRepository(dbConn),
		telemetry: tel,
	}
}

// Append inserts one history record with telemetry.
func (r *InstrumentedHistoryRepository) Append(ctx context.Context, rec history.Record) error {
	return r.telemetry.InstrumentDBOperation(ctx, "append_history", func(ctx context.Context) error {
		return r.repo.Append(ctx, rec)
	})
}

// Recent returns the latest records with telemetry.
func (r *InstrumentedHistoryRepository) Recent(ctx context.Context, limit int) ([]history.Record, error) {
	var result []history.Record

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "recent_history", func(ctx context.Context) error {
		result, err = r.repo.Recent(ctx, limit)

		return err
	})

	if instrumentedErr != nil {
		return nil, instrumentedErr
	}

	return result, nil
}
