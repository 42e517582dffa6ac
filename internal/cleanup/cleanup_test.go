package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/objectdeck/objectdeck/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))
}

func TestDeleteExpiredDownloads_RemovesOldCompletedDownloads(t *testing.T) {
	dir := t.TempDir()

	expired := filepath.Join(dir, "old.mkv")
	fresh := filepath.Join(dir, "new.mkv")
	writeFile(t, expired)
	writeFile(t, fresh)

	records := []history.Record{
		{
			Operation:  history.OperationDownload,
			Status:     "completed",
			DestKey:    expired,
			OccurredAt: time.Now().Add(-48 * time.Hour),
		},
		{
			Operation:  history.OperationDownload,
			Status:     "completed",
			DestKey:    fresh,
			OccurredAt: time.Now().Add(-time.Hour),
		},
	}

	require.NoError(t, DeleteExpiredDownloads(context.Background(), records, 24*time.Hour))

	_, err := os.Stat(expired)
	assert.True(t, os.IsNotExist(err), "expired download should be removed")

	_, err = os.Stat(fresh)
	assert.NoError(t, err, "fresh download must survive")
}

func TestDeleteExpiredDownloads_RemovesAggregateDirectories(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "season-1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeFile(t, filepath.Join(dir, "e01.mkv"))

	records := []history.Record{{
		Operation:  history.OperationDownload,
		Status:     "completed",
		DestKey:    dir,
		OccurredAt: time.Now().Add(-48 * time.Hour),
	}}

	require.NoError(t, DeleteExpiredDownloads(context.Background(), records, 24*time.Hour))

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestDeleteExpiredDownloads_SkipsNonDownloadRecords(t *testing.T) {
	dir := t.TempDir()

	uploaded := filepath.Join(dir, "report.pdf")
	failed := filepath.Join(dir, "partial.mkv")
	writeFile(t, uploaded)
	writeFile(t, failed)

	old := time.Now().Add(-48 * time.Hour)
	records := []history.Record{
		{Operation: history.OperationUpload, Status: "completed", DestKey: uploaded, OccurredAt: old},
		{Operation: history.OperationDownload, Status: "failed", DestKey: failed, OccurredAt: old},
		{Operation: history.OperationDownload, Status: "completed", DestKey: "", OccurredAt: old},
	}

	require.NoError(t, DeleteExpiredDownloads(context.Background(), records, 24*time.Hour))

	_, err := os.Stat(uploaded)
	assert.NoError(t, err)

	_, err = os.Stat(failed)
	assert.NoError(t, err)
}

func TestDeleteExpiredDownloads_MissingFileIsNotAnError(t *testing.T) {
	records := []history.Record{{
		Operation:  history.OperationDownload,
		Status:     "completed",
		DestKey:    filepath.Join(t.TempDir(), "gone.mkv"),
		OccurredAt: time.Now().Add(-48 * time.Hour),
	}}

	assert.NoError(t, DeleteExpiredDownloads(context.Background(), records, 24*time.Hour))
}

func TestDeleteExpiredDownloads_FallsBackToModTime(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "old.mkv")
	writeFile(t, path)

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	// No OccurredAt recorded: the file's mod time decides.
	records := []history.Record{{
		Operation: history.OperationDownload,
		Status:    "completed",
		DestKey:   path,
	}}

	require.NoError(t, DeleteExpiredDownloads(context.Background(), records, 24*time.Hour))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
