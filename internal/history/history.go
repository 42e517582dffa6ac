// Package history defines the operation-history records produced after a
// transfer reaches a terminal state, and the log they are appended to.
package history

import (
	"context"
	"time"
)

// OperationKind names the user-visible operation a record describes.
type OperationKind string

const (
	OperationUpload       OperationKind = "upload"
	OperationDownload     OperationKind = "download"
	OperationCopy         OperationKind = "copy"
	OperationMove         OperationKind = "move"
	OperationRename       OperationKind = "rename"
	OperationDelete       OperationKind = "delete"
	OperationCreateFolder OperationKind = "create_folder"
)

// Record is one entry in the operation history.
type Record struct {
	TransferID   string
	AccountID    string
	Bucket       string
	Operation    OperationKind
	SourceKey    string
	DestKey      string
	Size         int64
	Status       string
	DurationMs   int64
	ErrorMessage string
	OccurredAt   time.Time
}

// Log is the external history sink. Appends are best-effort from the
// queue's point of view: a failed append never affects transfer state.
type Log interface {
	Append(ctx context.Context, rec Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
}
