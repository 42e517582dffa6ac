// Package queue implements the transfer queue: a store of transfer items,
// a budget-bounded admission loop and per-item executors that drive an
// external engine. Uploads and downloads are two Manager instances over the
// same machinery.
package queue

import (
	"context"
	"time"

	"github.com/objectdeck/objectdeck/internal/engine"
)

// Status is the lifecycle state of a transfer item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Source is what the transfer reads from. Exactly one field is populated:
// Content or LocalPath for uploads, RemoteKey for downloads.
type Source struct {
	Content   []byte
	LocalPath string
	RemoteKey string
}

// Item is one enqueued upload or download request together with its mutable
// progress state. Items are owned by the Store; everything handed out of the
// store is a copy.
type Item struct {
	ID        string
	Direction engine.Direction
	Bucket    string
	Source    Source

	DestinationKey  string // upload target object key
	DestinationPath string // download target directory

	// Aggregate marks a prefix download handled as a single item; the
	// engine may report only a terminal event for it.
	Aggregate bool

	Status           Status
	BytesTransferred int64
	TotalBytes       int64
	Err              error

	EnqueuedAt  time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	// cancel aborts the executor for an active item. Owned by the store,
	// set at admission time, never copied out.
	cancel context.CancelFunc
}

// Duration is the wall time the item spent active, zero until terminal.
func (it *Item) Duration() time.Duration {
	if it.StartedAt.IsZero() || it.CompletedAt.IsZero() {
		return 0
	}

	return it.CompletedAt.Sub(it.StartedAt)
}

// snapshot returns a copy safe to hand outside the store lock.
func (it *Item) snapshot() Item {
	out := *it
	out.cancel = nil

	return out
}
