// Package engine defines the boundary between the transfer queue and the
// component that moves bytes. The queue never talks to object storage
// directly; it hands an Engine a request and reconciles the outcome from
// the engine's event stream.
package engine

import "context"

// Direction says which way the bytes flow.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// Request describes one transfer handed to the engine. The ID ties the
// request to the events the engine emits for it.
type Request struct {
	ID        string
	Direction Direction
	Bucket    string

	// LocalPath is the resolved local source for uploads. In-memory
	// payloads are staged to a temporary file before the engine sees them.
	LocalPath string

	// RemoteKey is the object key (or prefix, when Aggregate is set)
	// being downloaded.
	RemoteKey string

	DestinationKey  string // upload target object key
	DestinationPath string // download target directory

	// Aggregate marks a prefix download: every object under RemoteKey is
	// fetched and only a terminal event is guaranteed, byte-level
	// progress may be absent entirely.
	Aggregate bool
}

// EventKind discriminates engine notifications.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Event is one notification from the engine, tagged with the request ID it
// belongs to. For a given ID the engine emits zero or more progress events
// followed by exactly one completed or failed event.
type Event struct {
	ID               string
	Kind             EventKind
	BytesTransferred int64
	TotalBytes       int64
	Err              error
}

// Engine performs transfers. Begin blocks for the duration of the transfer
// and is expected to be called from its own goroutine; it returns an error
// only when the request fails validation or pre-flight I/O before any
// engine-side work starts, in which case no events are emitted for that ID.
// Once the transfer is underway the outcome is reported exclusively through
// Events. Cancellation is cooperative via the request context; a transfer
// interrupted mid-flight may still emit a terminal event.
type Engine interface {
	Begin(ctx context.Context, req Request) error
	Events() <-chan Event
}
