package queue

import (
	"context"
	"path"
	"path/filepath"

	"github.com/objectdeck/objectdeck/internal/engine"
	"github.com/objectdeck/objectdeck/internal/history"
	"github.com/objectdeck/objectdeck/internal/logctx"
)

// Auditor turns terminal transfer items into history records. Appends are
// best-effort: a failed append is logged and swallowed, it never touches
// transfer state or surfaces to the caller.
type Auditor struct {
	log       history.Log
	accountID string
}

func NewAuditor(log history.Log, accountID string) *Auditor {
	return &Auditor{log: log, accountID: accountID}
}

// Emit appends one record for a terminal item.
func (a *Auditor) Emit(ctx context.Context, it Item) {
	if a == nil || a.log == nil {
		return
	}

	rec := history.Record{
		TransferID: it.ID,
		AccountID:  a.accountID,
		Bucket:     it.Bucket,
		Size:       recordSize(it),
		Status:     string(it.Status),
		DurationMs: it.Duration().Milliseconds(),
		OccurredAt: it.CompletedAt,
	}

	switch it.Direction {
	case engine.DirectionUpload:
		rec.Operation = history.OperationUpload
		rec.SourceKey = it.Source.LocalPath
		rec.DestKey = it.DestinationKey
	case engine.DirectionDownload:
		rec.Operation = history.OperationDownload
		rec.SourceKey = it.Source.RemoteKey
		rec.DestKey = downloadTarget(it)
	}

	if it.Status == StatusFailed && it.Err != nil {
		rec.ErrorMessage = it.Err.Error()
	}

	if err := a.log.Append(ctx, rec); err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to append history record",
			"transfer_id", it.ID, "err", err)
	}
}

func recordSize(it Item) int64 {
	if it.TotalBytes > 0 {
		return it.TotalBytes
	}

	return it.BytesTransferred
}

// downloadTarget mirrors the engine's placement rule: single objects land
// under the destination directory named after the key's base, aggregates
// fill the directory itself.
func downloadTarget(it Item) string {
	if it.Aggregate {
		return it.DestinationPath
	}

	return filepath.Join(it.DestinationPath, path.Base(it.Source.RemoteKey))
}
