package queue

import (
	"errors"
	"fmt"
)

// ErrAlreadyTerminal is returned when a transition is requested for an item
// that already reached completed, failed or cancelled.
var ErrAlreadyTerminal = errors.New("transfer item is already terminal")

// ErrUnknownItem is returned when an id does not exist in the store.
var ErrUnknownItem = errors.New("unknown transfer item")

// DuplicateIDError rejects an enqueue whose id collides with a live item.
// The whole enqueue batch is rejected before any state mutation.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("transfer item %s already enqueued", e.ID)
}

// PreflightError represents a failure detected before the engine call
// started: staging I/O errors or an invalid request. Items failing
// pre-flight go directly to failed without an engine round-trip.
type PreflightError struct {
	ID     string
	Reason string
	Err    error
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("pre-flight failure for transfer %s: %s", e.ID, e.Reason)
}

func (e *PreflightError) Unwrap() error {
	return e.Err
}

// EngineError wraps a failure reported asynchronously by the engine.
type EngineError struct {
	ID  string
	Err error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine failure for transfer %s: %s", e.ID, e.Err)
	}

	return fmt.Sprintf("engine failure for transfer %s", e.ID)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
