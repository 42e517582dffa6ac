package cleanup

import (
	"context"
	"os"
	"time"

	"github.com/objectdeck/objectdeck/internal/history"
	"github.com/objectdeck/objectdeck/internal/logctx"
)

// DeleteExpiredDownloads removes local files of completed downloads older
// than keepDuration, based on the operation history. Aggregate downloads
// leave a directory behind, which is removed recursively.
func DeleteExpiredDownloads(ctx context.Context, records []history.Record, keepDuration time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	for _, rec := range records {
		if rec.Operation != history.OperationDownload || rec.Status != "completed" {
			continue
		}

		filePath := rec.DestKey
		if filePath == "" {
			continue
		}

		info, err := os.Stat(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				continue // already deleted
			}

			logger.Error("failed to stat file", "file", filePath, "err", err)

			return err
		}

		downloadedAt := rec.OccurredAt
		if downloadedAt.IsZero() {
			// fallback: use file mod time
			downloadedAt = info.ModTime()
		}

		if now.Sub(downloadedAt) <= keepDuration {
			continue
		}

		removeFn := os.Remove
		if info.IsDir() {
			removeFn = os.RemoveAll
		}

		if err := removeFn(filePath); err != nil && !os.IsNotExist(err) {
			logger.Error("failed to delete expired file", "file", filePath, "err", err)

			return err
		}

		logger.Info("deleted expired download", "file", filePath)
	}

	return nil
}
