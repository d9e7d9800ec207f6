// Package retryq provides a durable queue that re-executes failed
// side-effectful operations (mark email read, file attachment, ...) on a
// fixed delay schedule. Pending operations survive restarts in a JSON store;
// operations that exhaust the schedule end up in a failed-operations JSONL
// log.
package retryq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalmesh/signalmesh/storage"
)

// schedule is the fixed delay between attempts. An operation that fails
// more times than the schedule has entries is terminal.
var schedule = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	6 * time.Hour,
}

// RunInterval is how often the scheduler walks due operations.
const RunInterval = 5 * time.Minute

// Handler executes one operation type. A nil error removes the operation.
type Handler func(ctx context.Context, params map[string]any) error

// Operation is one queued side effect.
type Operation struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Params        map[string]any `json:"params,omitempty"`
	Attempts      int            `json:"attempts"`
	EnqueuedAt    time.Time      `json:"enqueued_at"`
	NextAttemptAt time.Time      `json:"next_attempt_at"`
	LastError     string         `json:"last_error,omitempty"`
}

// failedRecord is the terminal entry written to the failed-operations log.
type failedRecord struct {
	Operation
	FailedAt time.Time `json:"failed_at"`
}

// Queue is the durable retry queue.
type Queue struct {
	storePath  string
	failedPath string
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	ops      []Operation
	handlers map[string]Handler

	running sync.Mutex // re-entrancy guard for runOnce

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a queue backed by the given store files, restoring any
// pending operations from disk.
func New(storePath, failedPath string, opts ...Option) (*Queue, error) {
	q := &Queue{
		storePath:  storePath,
		failedPath: failedPath,
		logger:     slog.Default(),
		now:        time.Now,
		handlers:   make(map[string]Handler),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	var ops []Operation
	if _, err := storage.LoadJSON(storePath, &ops); err != nil {
		return nil, err
	}
	q.ops = ops
	return q, nil
}

// RegisterHandler maps an operation type to its executor.
func (q *Queue) RegisterHandler(opType string, fn Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[opType] = fn
}

// Enqueue appends an operation, due immediately, and persists the queue.
func (q *Queue) Enqueue(opType string, params map[string]any) (string, error) {
	now := q.now()
	op := Operation{
		ID:            uuid.New().String(),
		Type:          opType,
		Params:        params,
		EnqueuedAt:    now,
		NextAttemptAt: now,
	}

	q.mu.Lock()
	q.ops = append(q.ops, op)
	err := q.persistLocked()
	q.mu.Unlock()

	if err != nil {
		// In-memory state stays authoritative; a later write reconciles.
		q.logger.Warn("Retry queue persistence failed", "error", err)
	}
	return op.ID, nil
}

// Len returns the number of pending operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Start runs the scheduler: once immediately, then every RunInterval.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.RunOnce(ctx)

		ticker := time.NewTicker(RunInterval)
		defer ticker.Stop()
		for {
			select {
			case <-q.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.RunOnce(ctx)
			}
		}
	}()
}

// Stop halts the scheduler and waits for an in-flight run to finish.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
	q.wg.Wait()
}

// RunOnce walks due operations once. Overlapping runs are skipped.
func (q *Queue) RunOnce(ctx context.Context) {
	if !q.running.TryLock() {
		return
	}
	defer q.running.Unlock()

	for _, op := range q.due() {
		q.attempt(ctx, op)
	}
}

func (q *Queue) due() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []Operation
	for _, op := range q.ops {
		if !op.NextAttemptAt.After(now) {
			out = append(out, op)
		}
	}
	return out
}

func (q *Queue) attempt(ctx context.Context, op Operation) {
	q.mu.Lock()
	handler := q.handlers[op.Type]
	q.mu.Unlock()

	if handler == nil {
		q.logger.Warn("No handler registered for operation; rescheduling",
			"operation_id", op.ID, "type", op.Type)
		q.reschedule(op.ID, "no handler registered for type "+op.Type)
		return
	}

	if err := handler(ctx, op.Params); err != nil {
		q.logger.Warn("Operation failed",
			"operation_id", op.ID, "type", op.Type,
			"attempt", op.Attempts+1, "error", err)
		q.reschedule(op.ID, err.Error())
		return
	}

	q.remove(op.ID)
	q.logger.Info("Operation succeeded", "operation_id", op.ID, "type", op.Type)
}

// reschedule increments attempts and applies the fixed schedule, or ends
// the operation with a terminal failed-operations entry.
func (q *Queue) reschedule(id, lastErr string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.ops {
		if q.ops[i].ID != id {
			continue
		}
		q.ops[i].Attempts++
		q.ops[i].LastError = lastErr

		if q.ops[i].Attempts > len(schedule) {
			rec := failedRecord{Operation: q.ops[i], FailedAt: q.now()}
			if err := storage.AppendJSONLine(q.failedPath, rec); err != nil {
				q.logger.Error("Failed-operations log write failed", "error", err)
			}
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			q.logger.Error("Operation exhausted retry schedule",
				"operation_id", id, "error", lastErr)
		} else {
			delay := schedule[q.ops[i].Attempts-1]
			q.ops[i].NextAttemptAt = q.now().Add(delay)
		}
		break
	}

	if err := q.persistLocked(); err != nil {
		q.logger.Warn("Retry queue persistence failed", "error", err)
	}
}

func (q *Queue) remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.ops {
		if q.ops[i].ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			break
		}
	}
	if err := q.persistLocked(); err != nil {
		q.logger.Warn("Retry queue persistence failed", "error", err)
	}
}

func (q *Queue) persistLocked() error {
	ops := q.ops
	if ops == nil {
		ops = []Operation{}
	}
	return storage.SaveJSON(q.storePath, ops)
}
