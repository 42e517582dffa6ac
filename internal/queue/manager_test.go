package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/objectdeck/objectdeck/internal/engine"
	"github.com/objectdeck/objectdeck/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeEngine blocks each transfer until the test completes or fails it,
// emitting terminal events the way the real engine does.
type fakeEngine struct {
	mu       sync.Mutex
	events   chan engine.Event
	begun    []engine.Request
	outcomes map[string]chan error
	beginErr error

	// autoComplete finishes every transfer as soon as it begins.
	autoComplete bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		events:   make(chan engine.Event, 128),
		outcomes: make(map[string]chan error),
	}
}

func (f *fakeEngine) Events() <-chan engine.Event {
	return f.events
}

// outcome returns the 1-buffered channel for an id, creating it on first
// use. finish can park an outcome before Begin is reached, so an item
// showing active in the store can be finished immediately.
func (f *fakeEngine) outcome(id string) chan error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch, ok := f.outcomes[id]
	if !ok {
		ch = make(chan error, 1)
		f.outcomes[id] = ch
	}

	return ch
}

func (f *fakeEngine) Begin(ctx context.Context, req engine.Request) error {
	f.mu.Lock()

	if f.beginErr != nil {
		f.mu.Unlock()

		return f.beginErr
	}

	f.begun = append(f.begun, req)
	f.mu.Unlock()

	if f.autoComplete {
		f.events <- engine.Event{ID: req.ID, Kind: engine.EventCompleted}

		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-f.outcome(req.ID):
		if err != nil {
			f.events <- engine.Event{ID: req.ID, Kind: engine.EventFailed, Err: err}
		} else {
			f.events <- engine.Event{ID: req.ID, Kind: engine.EventCompleted}
		}

		return nil
	}
}

func (f *fakeEngine) finish(id string, err error) {
	f.outcome(id) <- err
}

func (f *fakeEngine) begunIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, len(f.begun))
	for i, req := range f.begun {
		ids[i] = req.ID
	}

	return ids
}

// recordingLog captures audit records for assertions.
type recordingLog struct {
	mu      sync.Mutex
	records []history.Record
}

func (l *recordingLog) Append(_ context.Context, rec history.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, rec)

	return nil
}

func (l *recordingLog) Recent(context.Context, int) ([]history.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]history.Record(nil), l.records...), nil
}

func (l *recordingLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.records)
}

func startManager(t *testing.T, dir engine.Direction, budget int, eng engine.Engine, opts ...ManagerOption) *Manager {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	m := NewManager(dir, budget, eng, opts...)
	m.Run(ctx)

	return m
}

func downloadRequest(id string) Request {
	return Request{
		ID:              id,
		Bucket:          "media",
		RemoteKey:       "videos/" + id + ".mkv",
		DestinationPath: "/tmp/downloads",
	}
}

func statusOf(t *testing.T, m *Manager, id string) Status {
	t.Helper()

	it, ok := m.Store().Get(id)
	require.True(t, ok)

	return it.Status
}

func waitForStatus(t *testing.T, m *Manager, id string, want Status) {
	t.Helper()

	require.Eventually(t, func() bool {
		it, ok := m.Store().Get(id)

		return ok && it.Status == want
	}, waitFor, tick, "item %s never reached %s", id, want)
}

func TestManager_ActiveNeverExceedsBudget(t *testing.T) {
	eng := newFakeEngine()
	m := startManager(t, engine.DirectionDownload, 2, eng)

	_, err := m.Enqueue(context.Background(),
		downloadRequest("a"), downloadRequest("b"), downloadRequest("c"),
		downloadRequest("d"), downloadRequest("e"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.Store().CountByStatus()[StatusActive] == 2
	}, waitFor, tick)

	counts := m.Store().CountByStatus()
	assert.Equal(t, 2, counts[StatusActive])
	assert.Equal(t, 3, counts[StatusPending])

	// The budget holds even transiently while the backlog drains.
	eng.finish("a", nil)

	require.Eventually(t, func() bool {
		return statusOf(t, m, "a") == StatusCompleted
	}, waitFor, tick)

	require.Eventually(t, func() bool {
		return m.Store().CountByStatus()[StatusActive] == 2
	}, waitFor, tick)

	assert.LessOrEqual(t, m.Store().CountByStatus()[StatusActive], 2)
	assert.Equal(t, 2, m.Store().CountByStatus()[StatusPending])
}

func TestManager_AdmissionIsFIFO(t *testing.T) {
	eng := newFakeEngine()
	m := startManager(t, engine.DirectionDownload, 1, eng)

	_, err := m.Enqueue(context.Background(),
		downloadRequest("a"), downloadRequest("b"), downloadRequest("c"))
	require.NoError(t, err)

	for _, id := range []string{"a", "b", "c"} {
		waitForStatus(t, m, id, StatusActive)
		eng.finish(id, nil)
		waitForStatus(t, m, id, StatusCompleted)
	}

	assert.Equal(t, []string{"a", "b", "c"}, eng.begunIDs())
}

func TestManager_FreedSlotAdmitsNextPending(t *testing.T) {
	eng := newFakeEngine()
	m := startManager(t, engine.DirectionDownload, 2, eng)

	_, err := m.Enqueue(context.Background(),
		downloadRequest("a"), downloadRequest("b"), downloadRequest("c"))
	require.NoError(t, err)

	waitForStatus(t, m, "a", StatusActive)
	waitForStatus(t, m, "b", StatusActive)
	assert.Equal(t, StatusPending, statusOf(t, m, "c"))

	// Both executors must have reached the engine before the slot frees,
	// their mutual order is unspecified.
	require.Eventually(t, func() bool {
		return len(eng.begunIDs()) == 2
	}, waitFor, tick)

	eng.finish("b", nil)

	// Exactly the freed slot is reused, and only then does "c" reach the
	// engine.
	waitForStatus(t, m, "c", StatusActive)
	assert.Equal(t, StatusActive, statusOf(t, m, "a"))

	require.Eventually(t, func() bool {
		return len(eng.begunIDs()) == 3
	}, waitFor, tick)

	ids := eng.begunIDs()
	assert.ElementsMatch(t, []string{"a", "b"}, ids[:2])
	assert.Equal(t, "c", ids[2])
}

func TestManager_EngineFailureIsLocalToItem(t *testing.T) {
	eng := newFakeEngine()
	m := startManager(t, engine.DirectionDownload, 2, eng)

	_, err := m.Enqueue(context.Background(),
		downloadRequest("a"), downloadRequest("b"), downloadRequest("c"))
	require.NoError(t, err)

	waitForStatus(t, m, "a", StatusActive)
	eng.finish("a", errors.New("connection reset"))
	waitForStatus(t, m, "a", StatusFailed)

	it, _ := m.Store().Get("a")

	var engineErr *EngineError
	require.True(t, errors.As(it.Err, &engineErr))
	assert.Equal(t, "a", engineErr.ID)

	// The rest of the queue keeps flowing.
	waitForStatus(t, m, "c", StatusActive)
	eng.finish("b", nil)
	eng.finish("c", nil)
	waitForStatus(t, m, "b", StatusCompleted)
	waitForStatus(t, m, "c", StatusCompleted)
}

func TestManager_CancelPendingIsNeverAdmitted(t *testing.T) {
	eng := newFakeEngine()
	m := startManager(t, engine.DirectionDownload, 1, eng)

	_, err := m.Enqueue(context.Background(), downloadRequest("a"), downloadRequest("b"))
	require.NoError(t, err)

	waitForStatus(t, m, "a", StatusActive)
	require.True(t, m.Cancel(context.Background(), "b"))
	assert.Equal(t, StatusCancelled, statusOf(t, m, "b"))

	eng.finish("a", nil)
	waitForStatus(t, m, "a", StatusCompleted)

	// Give the drain loop a chance to misbehave before asserting.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"a"}, eng.begunIDs())
	assert.Equal(t, StatusCancelled, statusOf(t, m, "b"))
}

func TestManager_CancelActiveIgnoresLateTerminalEvent(t *testing.T) {
	eng := newFakeEngine()
	m := startManager(t, engine.DirectionDownload, 1, eng)

	_, err := m.Enqueue(context.Background(), downloadRequest("a"))
	require.NoError(t, err)

	waitForStatus(t, m, "a", StatusActive)
	require.True(t, m.Cancel(context.Background(), "a"))
	assert.Equal(t, StatusCancelled, statusOf(t, m, "a"))

	// The engine lost the race and reports a terminal event anyway.
	eng.events <- engine.Event{ID: "a", Kind: engine.EventCompleted}
	eng.events <- engine.Event{ID: "a", Kind: engine.EventFailed, Err: errors.New("late")}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StatusCancelled, statusOf(t, m, "a"))

	// Cancelling again reports false: the item is terminal.
	assert.False(t, m.Cancel(context.Background(), "a"))
}

func TestManager_DuplicateIDRejected(t *testing.T) {
	eng := newFakeEngine()
	m := startManager(t, engine.DirectionDownload, 1, eng)

	_, err := m.Enqueue(context.Background(), downloadRequest("a"))
	require.NoError(t, err)

	_, err = m.Enqueue(context.Background(), downloadRequest("a"))

	var dup *DuplicateIDError
	require.True(t, errors.As(err, &dup))
}

func TestManager_UploadStagesAndCleansUpPayload(t *testing.T) {
	eng := newFakeEngine()
	eng.autoComplete = true

	stagingDir := t.TempDir()
	m := startManager(t, engine.DirectionUpload, 1, eng, WithTempDir(stagingDir))

	ids, err := m.Enqueue(context.Background(), Request{
		Bucket:         "media",
		Content:        []byte("inline payload"),
		DestinationKey: "docs/note.txt",
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	waitForStatus(t, m, ids[0], StatusCompleted)

	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(stagingDir)

		return err == nil && len(entries) == 0
	}, waitFor, tick, "staged payload must be removed after completion")

	// The engine saw a real file, not the in-memory payload.
	require.Len(t, eng.begunIDs(), 1)

	eng.mu.Lock()
	begun := eng.begun[0]
	eng.mu.Unlock()

	assert.NotEmpty(t, begun.LocalPath)
	assert.Equal(t, "docs/note.txt", begun.DestinationKey)
}

func TestManager_StagingFailureIsPreflight(t *testing.T) {
	eng := newFakeEngine()

	// A staging directory that cannot exist forces the write to fail.
	m := startManager(t, engine.DirectionUpload, 1, eng,
		WithTempDir(filepath.Join(t.TempDir(), "missing", "nested")))

	ids, err := m.Enqueue(context.Background(), Request{
		Bucket:         "media",
		Content:        []byte("payload"),
		DestinationKey: "docs/note.txt",
	})
	require.NoError(t, err)

	waitForStatus(t, m, ids[0], StatusFailed)

	it, _ := m.Store().Get(ids[0])

	var preflight *PreflightError
	require.True(t, errors.As(it.Err, &preflight))

	// The engine was never invoked: no event bridge round-trip happened.
	assert.Empty(t, eng.begunIDs())
}

func TestManager_EngineRejectionIsPreflight(t *testing.T) {
	eng := newFakeEngine()
	eng.beginErr = errors.New("invalid arguments")

	m := startManager(t, engine.DirectionDownload, 1, eng)

	ids, err := m.Enqueue(context.Background(), downloadRequest("a"))
	require.NoError(t, err)

	waitForStatus(t, m, ids[0], StatusFailed)

	it, _ := m.Store().Get(ids[0])

	var preflight *PreflightError
	require.True(t, errors.As(it.Err, &preflight))
}

func TestManager_AggregateCompletesWithoutProgress(t *testing.T) {
	eng := newFakeEngine()
	eng.autoComplete = true

	m := startManager(t, engine.DirectionDownload, 1, eng)

	ids, err := m.Enqueue(context.Background(), Request{
		Bucket:          "media",
		RemoteKey:       "videos/season-1/",
		DestinationPath: "/tmp/downloads",
		Aggregate:       true,
	})
	require.NoError(t, err)

	// Zero progress events before the terminal one is valid for
	// aggregates.
	waitForStatus(t, m, ids[0], StatusCompleted)

	it, _ := m.Store().Get(ids[0])
	assert.Zero(t, it.TotalBytes)
}

func TestManager_ProgressEventsReachTheStore(t *testing.T) {
	eng := newFakeEngine()
	m := startManager(t, engine.DirectionDownload, 1, eng)

	ids, err := m.Enqueue(context.Background(), downloadRequest("a"))
	require.NoError(t, err)

	waitForStatus(t, m, ids[0], StatusActive)

	eng.events <- engine.Event{ID: "a", Kind: engine.EventProgress, BytesTransferred: 256, TotalBytes: 1024}
	eng.events <- engine.Event{ID: "a", Kind: engine.EventProgress, BytesTransferred: 512, TotalBytes: 1024}

	require.Eventually(t, func() bool {
		it, _ := m.Store().Get("a")

		return it.BytesTransferred == 512 && it.TotalBytes == 1024
	}, waitFor, tick)

	eng.finish("a", nil)
	waitForStatus(t, m, "a", StatusCompleted)

	it, _ := m.Store().Get("a")
	assert.Equal(t, int64(1024), it.BytesTransferred)
}

func TestManager_TerminalTransfersAreAudited(t *testing.T) {
	eng := newFakeEngine()
	log := &recordingLog{}

	m := startManager(t, engine.DirectionDownload, 2, eng,
		WithAuditor(NewAuditor(log, "acct-1")))

	_, err := m.Enqueue(context.Background(), downloadRequest("a"), downloadRequest("b"))
	require.NoError(t, err)

	waitForStatus(t, m, "a", StatusActive)
	eng.finish("a", nil)
	waitForStatus(t, m, "a", StatusCompleted)

	waitForStatus(t, m, "b", StatusActive)
	require.True(t, m.Cancel(context.Background(), "b"))

	require.Eventually(t, func() bool {
		return log.len() == 2
	}, waitFor, tick)

	records, err := log.Recent(context.Background(), 10)
	require.NoError(t, err)

	byID := make(map[string]history.Record, len(records))
	for _, rec := range records {
		byID[rec.TransferID] = rec
	}

	require.Contains(t, byID, "a")
	assert.Equal(t, "completed", byID["a"].Status)
	assert.Equal(t, "acct-1", byID["a"].AccountID)
	assert.Equal(t, history.OperationDownload, byID["a"].Operation)
	assert.Equal(t, "videos/a.mkv", byID["a"].SourceKey)

	require.Contains(t, byID, "b")
	assert.Equal(t, "cancelled", byID["b"].Status)
	assert.Empty(t, byID["b"].ErrorMessage)
}

func TestManager_EnqueueValidation(t *testing.T) {
	tests := []struct {
		name      string
		direction engine.Direction
		req       Request
	}{
		{
			name:      "missing bucket",
			direction: engine.DirectionUpload,
			req:       Request{Content: []byte("x"), DestinationKey: "k"},
		},
		{
			name:      "upload without source",
			direction: engine.DirectionUpload,
			req:       Request{Bucket: "media", DestinationKey: "k"},
		},
		{
			name:      "upload without destination key",
			direction: engine.DirectionUpload,
			req:       Request{Bucket: "media", Content: []byte("x")},
		},
		{
			name:      "upload with both content and local path",
			direction: engine.DirectionUpload,
			req:       Request{Bucket: "media", Content: []byte("x"), LocalPath: "/tmp/f", DestinationKey: "k"},
		},
		{
			name:      "download without remote key",
			direction: engine.DirectionDownload,
			req:       Request{Bucket: "media", DestinationPath: "/tmp"},
		},
		{
			name:      "download without destination path",
			direction: engine.DirectionDownload,
			req:       Request{Bucket: "media", RemoteKey: "k"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			m := startManager(t, tt.direction, 1, eng)

			_, err := m.Enqueue(context.Background(), tt.req)
			assert.Error(t, err)
		})
	}
}
