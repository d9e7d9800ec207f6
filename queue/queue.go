// Package queue is the durable priority queue that executes approved
// actions: bounded concurrency, per-platform rate limits, bounded retry
// with exponential backoff, and a JSON snapshot on every transition.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalmesh/signalmesh/route"
	"github.com/signalmesh/signalmesh/signal"
	"github.com/signalmesh/signalmesh/storage"
)

// Default tuning values.
const (
	MaxConcurrent      = 5
	MaxAttempts        = 3
	BackoffBase        = time.Second
	ProcessingInterval = 2 * time.Second
	DefaultPriority    = 3
)

// snapshotVersion tags the on-disk queue format.
const snapshotVersion = 1

// ActionStatus is a queued action's lifecycle state.
type ActionStatus string

// Action statuses.
const (
	StatusPending   ActionStatus = "pending"
	StatusExecuting ActionStatus = "executing"
	StatusCompleted ActionStatus = "completed"
	StatusFailed    ActionStatus = "failed"
)

// QueuedAction is one unit of work. Priority runs 1 (highest) to 5.
type QueuedAction struct {
	ID              string                  `json:"id"`
	ReasoningResult *signal.ReasoningResult `json:"reasoning_result"`
	Priority        int                     `json:"priority"`
	Status          ActionStatus            `json:"status"`
	Attempts        int                     `json:"attempts"`
	CreatedAt       time.Time               `json:"created_at"`
	LastAttemptAt   *time.Time              `json:"last_attempt_at,omitempty"`
	ExecutedAt      *time.Time              `json:"executed_at,omitempty"`
	Error           string                  `json:"error,omitempty"`

	// RetryAt delays re-dispatch after a failed attempt.
	RetryAt *time.Time `json:"retry_at,omitempty"`
}

// snapshot is the on-disk queue format.
type snapshot struct {
	Actions   []*QueuedAction `json:"actions"`
	LastSaved time.Time       `json:"last_saved"`
	Version   int             `json:"version"`
}

// Stats summarizes the queue.
type Stats struct {
	Pending          int           `json:"pending"`
	Executing        int           `json:"executing"`
	Completed        int           `json:"completed"`
	Failed           int           `json:"failed"`
	Total            int           `json:"total"`
	AvgWaitTime      time.Duration `json:"avg_wait_time"`
	OldestPendingAge time.Duration `json:"oldest_pending_age,omitempty"`
}

// Executor dispatches one decision; satisfied by route.Router.
type Executor interface {
	RouteAction(ctx context.Context, decision *signal.Decision) route.Result
}

// Manager owns the action queue.
type Manager struct {
	mu      sync.Mutex
	actions map[string]*QueuedAction
	paused  bool

	executor  Executor
	limiter   *route.RateLimiter
	storePath string

	maxConcurrent int
	maxAttempts   int
	backoffBase   time.Duration
	tick          time.Duration

	// Completed/failed history retained for stats.
	waitTotal time.Duration
	waitCount int

	logger *slog.Logger
	now    func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxConcurrent bounds concurrent executions.
func WithMaxConcurrent(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxConcurrent = n
		}
	}
}

// WithMaxAttempts bounds retry attempts per action.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAttempts = n
		}
	}
}

// WithBackoffBase sets the retry backoff base delay.
func WithBackoffBase(d time.Duration) Option {
	return func(m *Manager) { m.backoffBase = d }
}

// WithProcessingInterval sets the scheduling tick.
func WithProcessingInterval(d time.Duration) Option {
	return func(m *Manager) { m.tick = d }
}

// WithRateLimiter overrides the per-platform rate limiter.
func WithRateLimiter(rl *route.RateLimiter) Option {
	return func(m *Manager) { m.limiter = rl }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a Manager and restores any persisted queue. Actions found
// in executing state are reset to pending: the prior attempt is assumed
// lost.
func New(storePath string, executor Executor, opts ...Option) (*Manager, error) {
	m := &Manager{
		actions:       make(map[string]*QueuedAction),
		executor:      executor,
		storePath:     storePath,
		maxConcurrent: MaxConcurrent,
		maxAttempts:   MaxAttempts,
		backoffBase:   BackoffBase,
		tick:          ProcessingInterval,
		logger:        slog.Default(),
		now:           time.Now,
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.limiter == nil {
		m.limiter = route.NewRateLimiter(nil)
	}

	if storePath != "" {
		var snap snapshot
		found, err := storage.LoadJSON(storePath, &snap)
		if err != nil {
			return nil, fmt.Errorf("load queue snapshot: %w", err)
		}
		if found {
			orphans := 0
			for _, action := range snap.Actions {
				if action.Status == StatusExecuting {
					action.Status = StatusPending
					action.RetryAt = nil
					orphans++
				}
				m.actions[action.ID] = action
			}
			m.logger.Info("Queue restored",
				"actions", len(snap.Actions), "orphans_reset", orphans)
		}
	}
	return m, nil
}

// Start launches the scheduling tick.
func (m *Manager) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.tick)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.ProcessQueue()
			}
		}
	}()
}

// Stop halts scheduling, waits for in-flight executions, and flushes the
// snapshot. Actions still executing are reset to pending for the next
// init.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, action := range m.actions {
		if action.Status == StatusExecuting {
			action.Status = StatusPending
		}
	}
	m.persistLocked()
}

// Enqueue adds a reasoning result at the given priority (1 highest, 5
// lowest; zero means the default) and returns the action ID.
func (m *Manager) Enqueue(result *signal.ReasoningResult, priority int) string {
	if priority < 1 || priority > 5 {
		priority = DefaultPriority
	}
	action := &QueuedAction{
		ID:              uuid.New().String(),
		ReasoningResult: result,
		Priority:        priority,
		Status:          StatusPending,
		CreatedAt:       m.now(),
	}

	m.mu.Lock()
	m.actions[action.ID] = action
	m.persistLocked()
	depth := m.countLocked(StatusPending)
	m.mu.Unlock()

	queueDepth.Set(float64(depth))
	m.logger.Debug("Action enqueued",
		"action_id", action.ID, "priority", priority, "signal_id", result.Signal.ID)
	return action.ID
}

// Pause stops dispatching; queued work is retained.
func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
}

// Resume restarts dispatching.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
}

// Clear removes pending actions only and returns how many were removed.
func (m *Manager) Clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, action := range m.actions {
		if action.Status == StatusPending {
			delete(m.actions, id)
			removed++
		}
	}
	if removed > 0 {
		m.persistLocked()
	}
	return removed
}

// ProcessQueue runs one scheduling pass: pending actions in priority
// order, bounded by the concurrency cap and per-platform rate limits.
func (m *Manager) ProcessQueue() {
	m.mu.Lock()
	if m.paused {
		m.mu.Unlock()
		return
	}

	now := m.now()
	slots := m.maxConcurrent - m.countLocked(StatusExecuting)
	if slots <= 0 {
		m.mu.Unlock()
		return
	}

	candidates := m.pendingByPriorityLocked(now)
	var dispatch []*QueuedAction
	for _, action := range candidates {
		if len(dispatch) >= slots {
			break
		}
		platform := actionPlatform(action)
		if !m.limiter.Allow(platform) {
			continue
		}
		action.Status = StatusExecuting
		at := now
		action.LastAttemptAt = &at
		dispatch = append(dispatch, action)
	}
	if len(dispatch) > 0 {
		m.persistLocked()
	}
	m.mu.Unlock()

	for _, action := range dispatch {
		m.wg.Add(1)
		go func(a *QueuedAction) {
			defer m.wg.Done()
			m.execute(a)
		}(action)
	}
}

// execute runs one action through the router and applies the outcome.
func (m *Manager) execute(action *QueuedAction) {
	decision := action.ReasoningResult.Decision
	result := m.executor.RouteAction(context.Background(), decision)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	action.Attempts++

	if result.Success {
		action.Status = StatusCompleted
		action.ExecutedAt = &now
		action.Error = ""
		m.waitTotal += now.Sub(action.CreatedAt)
		m.waitCount++
		m.persistLocked()
		actionsTotal.WithLabelValues("completed").Inc()
		m.logger.Info("Action completed",
			"action_id", action.ID, "attempts", action.Attempts,
			"execution_time", result.ExecutionTime)
		return
	}

	action.Error = result.Error
	if action.Attempts < m.maxAttempts {
		// Exponential backoff before the action becomes eligible again.
		delay := m.backoffBase * (1 << (action.Attempts - 1))
		retryAt := now.Add(delay)
		action.RetryAt = &retryAt
		action.Status = StatusPending
		m.persistLocked()
		actionsTotal.WithLabelValues("retried").Inc()
		m.logger.Warn("Action failed, will retry",
			"action_id", action.ID, "attempts", action.Attempts,
			"retry_in", delay, "error", result.Error)
		return
	}

	action.Status = StatusFailed
	action.ExecutedAt = &now
	m.waitTotal += now.Sub(action.CreatedAt)
	m.waitCount++
	m.persistLocked()
	actionsTotal.WithLabelValues("failed").Inc()
	m.logger.Error("Action failed permanently",
		"action_id", action.ID, "attempts", action.Attempts, "error", result.Error)
}

// Stats returns a point-in-time summary.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{Total: len(m.actions)}
	now := m.now()
	var oldestPending time.Time

	for _, action := range m.actions {
		switch action.Status {
		case StatusPending:
			stats.Pending++
			if oldestPending.IsZero() || action.CreatedAt.Before(oldestPending) {
				oldestPending = action.CreatedAt
			}
		case StatusExecuting:
			stats.Executing++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}

	if m.waitCount > 0 {
		stats.AvgWaitTime = m.waitTotal / time.Duration(m.waitCount)
	}
	if !oldestPending.IsZero() {
		stats.OldestPendingAge = now.Sub(oldestPending)
	}
	return stats
}

// Get returns one action by ID.
func (m *Manager) Get(actionID string) (*QueuedAction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	action, ok := m.actions[actionID]
	return action, ok
}

// pendingByPriorityLocked returns dispatch-eligible pending actions,
// priority ascending (1 first), ties oldest-first.
func (m *Manager) pendingByPriorityLocked(now time.Time) []*QueuedAction {
	var out []*QueuedAction
	for _, action := range m.actions {
		if action.Status != StatusPending {
			continue
		}
		if action.RetryAt != nil && now.Before(*action.RetryAt) {
			continue
		}
		out = append(out, action)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Manager) countLocked(status ActionStatus) int {
	n := 0
	for _, action := range m.actions {
		if action.Status == status {
			n++
		}
	}
	return n
}

// persistLocked snapshots the queue. Memory stays authoritative when the
// write fails.
func (m *Manager) persistLocked() {
	if m.storePath == "" {
		return
	}
	snap := snapshot{
		Actions:   make([]*QueuedAction, 0, len(m.actions)),
		LastSaved: m.now(),
		Version:   snapshotVersion,
	}
	for _, action := range m.actions {
		snap.Actions = append(snap.Actions, action)
	}
	if err := storage.SaveJSON(m.storePath, snap); err != nil {
		m.logger.Error("Failed to persist queue", "error", err)
	}
}

// actionPlatform names the platform an action targets, for rate limiting.
func actionPlatform(action *QueuedAction) string {
	if action.ReasoningResult == nil || action.ReasoningResult.Decision == nil {
		return ""
	}
	return action.ReasoningResult.Decision.Params.Platform()
}
