// Package hub implements the in-process event bus: publish/subscribe with
// priority-ordered batch delivery, a bounded in-memory history, and an
// append-only JSONL event log.
package hub

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Default tuning values.
const (
	DefaultBatchSize    = 25
	DefaultHistoryLimit = 1000
	DefaultBatchPause   = 50 * time.Millisecond
)

// Priority orders events within a delivery batch.
type Priority int

// Event priorities.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	}
	return "low"
}

// Event is a single message on the bus.
type Event struct {
	Source    string            `json:"source"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Data      any               `json:"data,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Priority  Priority          `json:"priority"`
}

// Handler receives a delivered event.
type Handler func(Event)

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// FilterOpts selects a subset of retained history.
type FilterOpts struct {
	Source      string
	MinPriority *Priority
}

type subscription struct {
	id      int
	handler Handler
}

// Hub is the in-process event bus. The zero value is not usable; use New.
type Hub struct {
	logger       *slog.Logger
	batchSize    int
	batchPause   time.Duration
	historyLimit int

	mu      sync.Mutex
	queue   []Event
	history []Event
	subs    map[string][]subscription
	nextSub int
	wake    chan struct{}
	stop    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup

	log *eventLog // nil when no log path configured
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithBatchSize sets the maximum events drained per delivery batch.
func WithBatchSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.batchSize = n
		}
	}
}

// WithHistoryLimit bounds the in-memory event history.
func WithHistoryLimit(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.historyLimit = n
		}
	}
}

// WithBatchPause sets the inter-batch yield to producers.
func WithBatchPause(d time.Duration) Option {
	return func(h *Hub) {
		if d >= 0 {
			h.batchPause = d
		}
	}
}

// WithEventLog enables the append-only JSONL event log at path.
func WithEventLog(path string) Option {
	return func(h *Hub) { h.log = newEventLog(path, h.logger) }
}

// New creates and starts a hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		logger:       slog.Default(),
		batchSize:    DefaultBatchSize,
		batchPause:   DefaultBatchPause,
		historyLimit: DefaultHistoryLimit,
		subs:         make(map[string][]subscription),
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log != nil {
		h.log.start()
	}
	h.wg.Add(1)
	go h.run()
	return h
}

// Subscribe registers a handler for an event type (or Wildcard for all).
// The returned function removes the subscription.
func (h *Hub) Subscribe(eventType string, fn Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSub++
	id := h.nextSub
	h.subs[eventType] = append(h.subs[eventType], subscription{id: id, handler: fn})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		list := h.subs[eventType]
		for i, s := range list {
			if s.id == id {
				h.subs[eventType] = append(list[:i], list[i+1:]...)
				return
			}
		}
	}
}

// Emit enqueues an event for delivery and returns it with its timestamp
// stamped. The event-log append is asynchronous and never blocks dispatch.
func (h *Hub) Emit(e Event) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	h.mu.Lock()
	h.queue = append(h.queue, e)
	h.history = append(h.history, e)
	if over := len(h.history) - h.historyLimit; over > 0 {
		h.history = h.history[over:]
	}
	h.mu.Unlock()

	if h.log != nil {
		h.log.append(e)
	}
	emittedTotal.WithLabelValues(e.Type, e.Priority.String()).Inc()

	select {
	case h.wake <- struct{}{}:
	default:
	}
	return e
}

// History returns up to limit retained events, newest first, optionally
// filtered by source ("" matches all).
func (h *Hub) History(source string, limit int) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, limit)
	for i := len(h.history) - 1; i >= 0 && len(out) < limit; i-- {
		e := h.history[i]
		if source != "" && e.Source != source {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Filter returns a snapshot of retained history matching opts, oldest first.
func (h *Hub) Filter(opts FilterOpts) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Event
	for _, e := range h.history {
		if opts.Source != "" && e.Source != opts.Source {
			continue
		}
		if opts.MinPriority != nil && e.Priority < *opts.MinPriority {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Close stops batch delivery and the event log writer. Queued events that
// have not been delivered are dropped.
func (h *Hub) Close() {
	h.stopped.Do(func() { close(h.stop) })
	h.wg.Wait()
	if h.log != nil {
		h.log.close()
	}
}

// run is the single batch processor: drain up to batchSize events, order
// by priority descending (stable on insertion order), deliver, pause.
func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.stop:
			return
		case <-h.wake:
		}

		for {
			batch := h.takeBatch()
			if len(batch) == 0 {
				break
			}
			h.deliver(batch)

			select {
			case <-h.stop:
				return
			case <-time.After(h.batchPause):
			}
		}
	}
}

func (h *Hub) takeBatch() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.queue)
	if n == 0 {
		return nil
	}
	if n > h.batchSize {
		n = h.batchSize
	}
	batch := make([]Event, n)
	copy(batch, h.queue[:n])
	h.queue = h.queue[n:]

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Priority > batch[j].Priority
	})
	return batch
}

// deliver walks the sorted batch one event at a time: an event's
// subscribers run in parallel, but all of them finish before the next
// event is dispatched, so higher-priority events complete first. A
// panicking subscriber is isolated; other deliveries proceed.
func (h *Hub) deliver(batch []Event) {
	for _, e := range batch {
		var wg sync.WaitGroup
		for _, s := range h.subscribers(e.Type) {
			wg.Add(1)
			go func(fn Handler, ev Event) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						h.logger.Error("Event handler panicked",
							"event_type", ev.Type, "panic", r)
					}
				}()
				fn(ev)
			}(s.handler, e)
		}
		wg.Wait()
		dispatchedTotal.WithLabelValues(e.Type).Inc()
	}
}

func (h *Hub) subscribers(eventType string) []subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]subscription, 0, len(h.subs[eventType])+len(h.subs[Wildcard]))
	out = append(out, h.subs[eventType]...)
	out = append(out, h.subs[Wildcard]...)
	return out
}
