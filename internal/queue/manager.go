package queue

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/objectdeck/objectdeck/internal/engine"
	"github.com/objectdeck/objectdeck/internal/logctx"
	"github.com/objectdeck/objectdeck/internal/notifier"
	"github.com/objectdeck/objectdeck/internal/telemetry"
)

// Manager runs one direction of the transfer queue: it admits pending
// items up to a fixed concurrency budget, dispatches an executor per
// admitted item and reconciles engine events back into the store. Uploads
// and downloads are two Manager instances.
type Manager struct {
	direction engine.Direction
	budget    int
	store     *Store
	engine    engine.Engine
	auditor   *Auditor
	notifier  notifier.Notifier
	tel       *telemetry.Telemetry
	tempDir   string

	// wake is a 1-buffered coalescing trigger for the drain loop: a
	// signal arriving while one is already queued is dropped, not
	// accumulated, because the loop re-reads the store on every pass.
	wake chan struct{}

	// draining keeps a second drain pass from racing the first between
	// the budget check and SetActive.
	draining atomic.Bool
}

// ManagerOption configures optional collaborators on a Manager.
type ManagerOption func(*Manager)

// WithAuditor attaches the history emitter invoked on terminal transitions.
func WithAuditor(a *Auditor) ManagerOption {
	return func(m *Manager) { m.auditor = a }
}

// WithNotifier attaches a best-effort failure notifier.
func WithNotifier(n notifier.Notifier) ManagerOption {
	return func(m *Manager) { m.notifier = n }
}

// WithTelemetry attaches metric instruments.
func WithTelemetry(t *telemetry.Telemetry) ManagerOption {
	return func(m *Manager) { m.tel = t }
}

// WithTempDir overrides the staging directory for in-memory payloads.
func WithTempDir(dir string) ManagerOption {
	return func(m *Manager) { m.tempDir = dir }
}

// NewManager creates a queue manager with the given concurrency budget.
func NewManager(direction engine.Direction, budget int, eng engine.Engine, opts ...ManagerOption) *Manager {
	if budget < 1 {
		budget = 1
	}

	m := &Manager{
		direction: direction,
		budget:    budget,
		store:     NewStore(),
		engine:    eng,
		tempDir:   os.TempDir(),
		wake:      make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Store exposes the item store for read access by callers.
func (m *Manager) Store() *Store {
	return m.store
}

// Direction returns the direction this manager serves.
func (m *Manager) Direction() engine.Direction {
	return m.direction
}

// Budget returns the concurrency budget.
func (m *Manager) Budget() int {
	return m.budget
}

// Request is one caller-supplied transfer. Exactly one of Content,
// LocalPath or RemoteKey must be set, matching the manager's direction.
type Request struct {
	ID              string // optional; assigned when empty
	Bucket          string
	Content         []byte
	LocalPath       string
	RemoteKey       string
	DestinationKey  string
	DestinationPath string
	Aggregate       bool
}

func (m *Manager) validate(req Request) error {
	if req.Bucket == "" {
		return fmt.Errorf("transfer request needs a bucket")
	}

	switch m.direction {
	case engine.DirectionUpload:
		if len(req.Content) == 0 && req.LocalPath == "" {
			return fmt.Errorf("upload request needs content or a local path")
		}

		if len(req.Content) > 0 && req.LocalPath != "" {
			return fmt.Errorf("upload request must set content or a local path, not both")
		}

		if req.DestinationKey == "" {
			return fmt.Errorf("upload request needs a destination key")
		}
	case engine.DirectionDownload:
		if req.RemoteKey == "" {
			return fmt.Errorf("download request needs a remote key")
		}

		if req.DestinationPath == "" {
			return fmt.Errorf("download request needs a destination path")
		}
	}

	return nil
}

// Enqueue appends requests as pending items and wakes the drain loop.
// Returns the assigned item ids in request order. The whole batch is
// rejected on the first invalid request or duplicate id.
func (m *Manager) Enqueue(ctx context.Context, reqs ...Request) ([]string, error) {
	items := make([]Item, 0, len(reqs))
	ids := make([]string, 0, len(reqs))

	for _, req := range reqs {
		if err := m.validate(req); err != nil {
			return nil, err
		}

		id := req.ID
		if id == "" {
			id = uuid.NewString()
		}

		items = append(items, Item{
			ID:        id,
			Direction: m.direction,
			Bucket:    req.Bucket,
			Source: Source{
				Content:   req.Content,
				LocalPath: req.LocalPath,
				RemoteKey: req.RemoteKey,
			},
			DestinationKey:  req.DestinationKey,
			DestinationPath: req.DestinationPath,
			Aggregate:       req.Aggregate,
		})
		ids = append(ids, id)
	}

	if err := m.store.Enqueue(items...); err != nil {
		return nil, err
	}

	logctx.LoggerFromContext(ctx).Debug("enqueued transfers",
		"direction", string(m.direction), "count", len(ids))

	m.recordDepth()
	m.signal()

	return ids, nil
}

// Cancel cancels a pending or active item. Cancelling a pending item is
// certain; an active one is best-effort and any late terminal event from
// the engine is discarded by the store.
func (m *Manager) Cancel(ctx context.Context, id string) bool {
	it, ok := m.store.Cancel(id)
	if !ok {
		return false
	}

	wasActive := !it.StartedAt.IsZero()
	if wasActive {
		m.tel.AddActiveTransfers(string(m.direction), -1)
	}

	m.tel.RecordTransfer(string(m.direction), string(StatusCancelled), it.Duration())

	if m.auditor != nil {
		go m.auditor.Emit(context.WithoutCancel(ctx), it)
	}

	logctx.LoggerFromContext(ctx).Info("transfer cancelled",
		"transfer_id", id, "was_active", wasActive)

	m.recordDepth()
	m.signal()

	return true
}

// Run starts the event bridge and the drain loop. Both stop when ctx is
// cancelled; in-flight executors are aborted through their item contexts,
// which derive from ctx.
func (m *Manager) Run(ctx context.Context) {
	go m.consumeEvents(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				logctx.LoggerFromContext(ctx).Info("queue manager shutting down",
					"direction", string(m.direction))

				return
			case <-m.wake:
				m.drain(ctx)
			}
		}
	}()
}

// signal wakes the drain loop, coalescing with any pending wake-up.
func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) canAdmit() bool {
	return m.store.CountByStatus()[StatusActive] < m.budget
}

// drain admits pending items FIFO while the budget allows, dispatching an
// executor goroutine per admitted item without waiting on it. The guard is
// held from the budget check to SetActive so two passes can never admit
// past the budget together; a trigger arriving mid-pass is dropped and the
// state it announced is picked up by this pass re-reading the store.
func (m *Manager) drain(ctx context.Context) {
	if !m.draining.CompareAndSwap(false, true) {
		return
	}
	defer m.draining.Store(false)

	for m.canAdmit() {
		it, ok := m.store.NextPending()
		if !ok {
			break
		}

		itemCtx, cancel := context.WithCancel(ctx)

		if err := m.store.SetActive(it.ID, cancel); err != nil {
			// Cancelled between NextPending and here; move on.
			cancel()

			continue
		}

		m.tel.AddActiveTransfers(string(m.direction), 1)

		go m.execute(itemCtx, it)
	}

	m.recordDepth()
}

// execute runs one admitted item to the point where the engine owns it:
// stage in-memory payloads, re-check cancellation, invoke the engine. The
// terminal outcome normally arrives through the event bridge; the only
// path that bypasses it is a synchronous pre-flight failure.
func (m *Manager) execute(ctx context.Context, it Item) {
	logger := logctx.LoggerFromContext(ctx).With(
		"transfer_id", it.ID, "direction", string(m.direction))

	localPath := it.Source.LocalPath

	if m.direction == engine.DirectionUpload && localPath == "" {
		staged, err := m.stage(it)
		if err != nil {
			m.failPreflight(ctx, it.ID, "failed to stage payload", err)

			return
		}

		defer func() {
			if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
				logger.Warn("failed to remove staged file", "path", staged, "err", err)
			}
		}()

		localPath = staged
	}

	if m.direction == engine.DirectionUpload {
		info, err := os.Stat(localPath)
		if err != nil {
			m.failPreflight(ctx, it.ID, "source file not readable", err)

			return
		}

		// Uploads know their size upfront; downloads learn it from the
		// engine's first progress event.
		m.store.UpdateProgress(it.ID, 0, info.Size())

		logger.Debug("starting upload", "size", humanize.Bytes(uint64(info.Size())))
	}

	// A cancel issued between admission and here must win without the
	// engine ever being invoked.
	if ctx.Err() != nil {
		logger.Debug("transfer cancelled before engine invocation")
		m.signal()

		return
	}

	req := engine.Request{
		ID:              it.ID,
		Direction:       m.direction,
		Bucket:          it.Bucket,
		LocalPath:       localPath,
		RemoteKey:       it.Source.RemoteKey,
		DestinationKey:  it.DestinationKey,
		DestinationPath: it.DestinationPath,
		Aggregate:       it.Aggregate,
	}

	if err := m.engine.Begin(ctx, req); err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-flight; the store already flipped the item.
			return
		}

		m.failPreflight(ctx, it.ID, "engine rejected request", err)
	}
}

// stage writes an in-memory payload to a temporary file the engine can
// read. The caller removes the file once the transfer is over, whatever
// the outcome.
func (m *Manager) stage(it Item) (string, error) {
	f, err := os.CreateTemp(m.tempDir, "objectdeck-stage-*")
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}

	if _, err := f.Write(it.Source.Content); err != nil {
		f.Close()
		os.Remove(f.Name())

		return "", fmt.Errorf("failed to write staging file: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(f.Name())

		return "", fmt.Errorf("failed to close staging file: %w", err)
	}

	return f.Name(), nil
}

// failPreflight moves an item straight to failed for errors raised before
// any engine-side work began.
func (m *Manager) failPreflight(ctx context.Context, id, reason string, cause error) {
	err := &PreflightError{ID: id, Reason: reason, Err: cause}

	if m.store.SetTerminal(id, StatusFailed, err) {
		logctx.LoggerFromContext(ctx).Error("transfer failed pre-flight",
			"transfer_id", id, "err", err)

		m.finish(ctx, id)
	}
}

// finish runs the bookkeeping shared by all terminal transitions reached
// through SetTerminal: metrics, audit, failure notification and freeing
// the budget slot.
func (m *Manager) finish(ctx context.Context, id string) {
	it, ok := m.store.Get(id)
	if !ok {
		return
	}

	m.tel.AddActiveTransfers(string(m.direction), -1)
	m.tel.RecordTransfer(string(m.direction), string(it.Status), it.Duration())

	if it.Status == StatusCompleted {
		m.tel.AddTransferredBytes(string(m.direction), it.BytesTransferred)
	}

	if m.auditor != nil {
		go m.auditor.Emit(context.WithoutCancel(ctx), it)
	}

	if it.Status == StatusFailed && m.notifier != nil {
		go func() {
			msg := fmt.Sprintf("❌ %s failed: %s", m.direction, it.Err)
			if err := m.notifier.Notify(msg); err != nil {
				logctx.LoggerFromContext(ctx).Warn("failed to send notification",
					"transfer_id", it.ID, "err", err)
			}
		}()
	}

	m.signal()
}

func (m *Manager) recordDepth() {
	m.tel.RecordQueueDepth(string(m.direction), int64(m.store.CountByStatus()[StatusPending]))
}
