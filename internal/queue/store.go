package queue

import (
	"context"
	"sync"
	"time"
)

// Store is the single source of truth for transfer item state. All
// mutation goes through its transition methods, each of which holds the
// lock for the whole transition so invariants never hold partially.
//
// Items are never deleted by the queue; retention is the caller's concern.
type Store struct {
	mu    sync.Mutex
	items map[string]*Item
	order []string // enqueue order, drives FIFO admission
}

func NewStore() *Store {
	return &Store{
		items: make(map[string]*Item),
	}
}

// Enqueue appends items as pending, preserving the caller-supplied order.
// The whole batch is rejected before any mutation if an id collides with a
// live item or repeats within the batch.
func (s *Store) Enqueue(items ...Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(items))

	for i := range items {
		id := items[i].ID
		if _, ok := s.items[id]; ok {
			return &DuplicateIDError{ID: id}
		}

		if _, ok := seen[id]; ok {
			return &DuplicateIDError{ID: id}
		}

		seen[id] = struct{}{}
	}

	now := time.Now()

	for i := range items {
		it := items[i]
		it.Status = StatusPending

		if it.EnqueuedAt.IsZero() {
			it.EnqueuedAt = now
		}

		s.items[it.ID] = &it
		s.order = append(s.order, it.ID)
	}

	return nil
}

// NextPending returns a copy of the oldest pending item without mutating
// it. FIFO by enqueue order; no priority scheme.
func (s *Store) NextPending() (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		if it := s.items[id]; it.Status == StatusPending {
			return it.snapshot(), true
		}
	}

	return Item{}, false
}

// SetActive admits a pending item and attaches the executor's cancellation
// handle. Only pending items can become active.
func (s *Store) SetActive(id string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return ErrUnknownItem
	}

	if it.Status != StatusPending {
		return ErrAlreadyTerminal
	}

	it.Status = StatusActive
	it.StartedAt = time.Now()
	it.cancel = cancel

	return nil
}

// SetTerminal moves an active item to completed or failed and reports
// whether the transition was applied. Late or duplicate terminal events
// for items that are no longer active are no-ops, which is what makes
// cancellation races and duplicate engine events harmless.
func (s *Store) SetTerminal(id string, status Status, cause error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok || it.Status != StatusActive {
		return false
	}

	if status != StatusCompleted && status != StatusFailed {
		return false
	}

	it.Status = status
	it.CompletedAt = time.Now()
	it.cancel = nil

	if status == StatusFailed {
		it.Err = cause
	} else {
		it.Err = nil

		if it.TotalBytes > 0 {
			it.BytesTransferred = it.TotalBytes
		}
	}

	return true
}

// UpdateProgress records byte-level progress for an active item. Non-active
// items are left untouched so late engine events cannot resurrect a
// terminal item. Regressing byte counts are ignored to keep progress
// monotone under duplicated events.
func (s *Store) UpdateProgress(id string, bytesTransferred, totalBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok || it.Status != StatusActive {
		return
	}

	if totalBytes > it.TotalBytes {
		it.TotalBytes = totalBytes
	}

	if bytesTransferred > it.BytesTransferred {
		if it.TotalBytes > 0 && bytesTransferred > it.TotalBytes {
			bytesTransferred = it.TotalBytes
		}

		it.BytesTransferred = bytesTransferred
	}
}

// Cancel flips a pending item straight to cancelled, or cancels an active
// item by firing its executor's cancellation handle and flipping the state
// immediately; the executor's cleanup is idempotent and any late engine
// event is dropped by SetTerminal/UpdateProgress. Returns the item as it
// looks after the transition, with ok false if the item is unknown or
// already terminal.
func (s *Store) Cancel(id string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return Item{}, false
	}

	switch it.Status {
	case StatusPending, StatusActive:
		if it.cancel != nil {
			it.cancel()
			it.cancel = nil
		}

		it.Status = StatusCancelled
		it.CompletedAt = time.Now()

		return it.snapshot(), true
	default:
		return Item{}, false
	}
}

// CountByStatus returns the number of items in each state.
func (s *Store) CountByStatus() map[Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[Status]int, 5)
	for _, it := range s.items {
		counts[it.Status]++
	}

	return counts
}

// Get returns a copy of the item with the given id.
func (s *Store) Get(id string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return Item{}, false
	}

	return it.snapshot(), true
}

// Items returns copies of all items in enqueue order.
func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Item, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].snapshot())
	}

	return out
}
