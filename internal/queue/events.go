package queue

import (
	"context"

	"github.com/objectdeck/objectdeck/internal/engine"
	"github.com/objectdeck/objectdeck/internal/logctx"
)

// consumeEvents is the event bridge: one long-lived goroutine per manager
// that demultiplexes the engine's notification stream into store calls
// keyed by item id. Subscribing once for the manager's lifetime means a
// cancelled item never leaks a subscription; its late events just hit the
// store's no-op path.
func (m *Manager) consumeEvents(ctx context.Context) {
	events := m.engine.Events()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			m.handleEvent(ctx, ev)
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev engine.Event) {
	switch ev.Kind {
	case engine.EventProgress:
		m.store.UpdateProgress(ev.ID, ev.BytesTransferred, ev.TotalBytes)

	case engine.EventCompleted:
		// SetTerminal reports whether the transition applied, so a
		// duplicate or late completion is silently dropped here.
		if m.store.SetTerminal(ev.ID, StatusCompleted, nil) {
			logctx.LoggerFromContext(ctx).Info("transfer completed",
				"transfer_id", ev.ID, "direction", string(m.direction))

			m.finish(ctx, ev.ID)
		}

	case engine.EventFailed:
		err := &EngineError{ID: ev.ID, Err: ev.Err}

		if m.store.SetTerminal(ev.ID, StatusFailed, err) {
			logctx.LoggerFromContext(ctx).Error("transfer failed",
				"transfer_id", ev.ID, "direction", string(m.direction), "err", ev.Err)

			m.finish(ctx, ev.ID)
		}
	}
}
