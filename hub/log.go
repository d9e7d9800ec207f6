package hub

import (
	"encoding/json"
	"log/slog"
	"os"
)

// logBuffer bounds the pending event-log writes. When full, appends are
// dropped rather than blocking dispatch.
const logBuffer = 256

// eventLog appends one JSON line per event to a file from a dedicated
// goroutine. Write errors are logged and otherwise ignored.
type eventLog struct {
	path   string
	logger *slog.Logger
	ch     chan Event
	done   chan struct{}
}

func newEventLog(path string, logger *slog.Logger) *eventLog {
	return &eventLog{
		path:   path,
		logger: logger,
		ch:     make(chan Event, logBuffer),
		done:   make(chan struct{}),
	}
}

func (l *eventLog) start() {
	go func() {
		defer close(l.done)
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			l.logger.Error("Event log unavailable; events will not be persisted",
				"path", l.path, "error", err)
			for range l.ch {
				// Drain so appends never block.
			}
			return
		}
		defer f.Close()

		enc := json.NewEncoder(f)
		for e := range l.ch {
			if err := enc.Encode(e); err != nil {
				l.logger.Warn("Event log write failed", "error", err)
			}
		}
	}()
}

func (l *eventLog) append(e Event) {
	select {
	case l.ch <- e:
	default:
		l.logger.Warn("Event log buffer full; dropping log line", "event_type", e.Type)
	}
}

func (l *eventLog) close() {
	close(l.ch)
	<-l.done
}
