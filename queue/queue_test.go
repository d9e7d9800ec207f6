package queue

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalmesh/signalmesh/hub"
	"github.com/signalmesh/signalmesh/publish"
	"github.com/signalmesh/signalmesh/route"
	"github.com/signalmesh/signalmesh/signal"
)

// fakeExecutor records dispatch order and can fail or block.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []string
	fail    bool
	release chan struct{}
}

func (f *fakeExecutor) RouteAction(ctx context.Context, decision *signal.Decision) route.Result {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	f.calls = append(f.calls, decision.DecisionID)
	f.mu.Unlock()
	if f.fail {
		return route.Result{Error: "platform down"}
	}
	return route.Result{Success: true}
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeExecutor) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func unlimited() *route.RateLimiter {
	return route.NewRateLimiter(map[string]time.Duration{})
}

func queuedResult(decisionID, platform string) *signal.ReasoningResult {
	sig := signal.NewSignal(signal.SourceEmail, "subject", "body", "a@b.com")
	return &signal.ReasoningResult{
		Signal: sig,
		Decision: &signal.Decision{
			DecisionID: decisionID,
			SignalID:   sig.ID,
			Action:     signal.ActionCreateTask,
			Params:     signal.ActionParams{CreateTask: &signal.CreateTaskParams{Platform: platform, Title: "t"}},
			Confidence: 0.9,
			Reasoning:  "queued for execution",
		},
	}
}

func waitStatus(t *testing.T, m *Manager, id string, want ActionStatus) *QueuedAction {
	t.Helper()
	var action *QueuedAction
	require.Eventually(t, func() bool {
		a, ok := m.Get(id)
		if !ok || a.Status != want {
			return false
		}
		action = a
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return action
}

func TestEnqueueClampsPriority(t *testing.T) {
	m, err := New("", &fakeExecutor{}, WithRateLimiter(unlimited()))
	require.NoError(t, err)

	id := m.Enqueue(queuedResult("d1", "notion"), 0)
	action, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, DefaultPriority, action.Priority)

	id = m.Enqueue(queuedResult("d2", "notion"), 9)
	action, _ = m.Get(id)
	assert.Equal(t, DefaultPriority, action.Priority)

	id = m.Enqueue(queuedResult("d3", "notion"), 1)
	action, _ = m.Get(id)
	assert.Equal(t, 1, action.Priority)
}

func TestProcessQueueDispatchesHighestPriorityFirst(t *testing.T) {
	exec := &fakeExecutor{}
	m, err := New("", exec, WithRateLimiter(unlimited()), WithMaxConcurrent(1))
	require.NoError(t, err)

	low := m.Enqueue(queuedResult("low", "notion"), 4)
	high := m.Enqueue(queuedResult("high", "notion"), 1)

	m.ProcessQueue()
	waitStatus(t, m, high, StatusCompleted)

	m.ProcessQueue()
	waitStatus(t, m, low, StatusCompleted)

	assert.Equal(t, []string{"high", "low"}, exec.callOrder())
}

func TestProcessQueueHonorsConcurrencyCap(t *testing.T) {
	exec := &fakeExecutor{release: make(chan struct{})}
	m, err := New("", exec, WithRateLimiter(unlimited()), WithMaxConcurrent(5))
	require.NoError(t, err)

	ids := make([]string, 7)
	for i := range ids {
		ids[i] = m.Enqueue(queuedResult("d", "notion"), 3)
	}

	m.ProcessQueue()
	stats := m.Stats()
	assert.Equal(t, 5, stats.Executing)
	assert.Equal(t, 2, stats.Pending)

	close(exec.release)
	require.Eventually(t, func() bool { return m.Stats().Completed == 5 }, 2*time.Second, 5*time.Millisecond)

	m.ProcessQueue()
	require.Eventually(t, func() bool { return m.Stats().Completed == 7 }, 2*time.Second, 5*time.Millisecond)
}

func TestFailedActionRetriesWithBackoffThenFails(t *testing.T) {
	now := time.Now()
	exec := &fakeExecutor{fail: true}
	m, err := New("", exec,
		WithRateLimiter(unlimited()),
		WithMaxAttempts(3),
		WithBackoffBase(time.Second),
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	id := m.Enqueue(queuedResult("doomed", "notion"), 3)

	m.ProcessQueue()
	action := waitStatus(t, m, id, StatusPending)
	assert.Equal(t, 1, action.Attempts)
	require.NotNil(t, action.RetryAt)
	assert.Equal(t, now.Add(time.Second), *action.RetryAt)

	// Still backing off: nothing is dispatched.
	m.ProcessQueue()
	action, _ = m.Get(id)
	assert.Equal(t, StatusPending, action.Status)
	assert.Equal(t, 1, exec.callCount())

	now = now.Add(2 * time.Second)
	m.ProcessQueue()
	action = waitStatus(t, m, id, StatusPending)
	assert.Equal(t, 2, action.Attempts)
	assert.Equal(t, now.Add(2*time.Second), *action.RetryAt, "backoff doubles")

	now = now.Add(3 * time.Second)
	m.ProcessQueue()
	action = waitStatus(t, m, id, StatusFailed)
	assert.Equal(t, 3, action.Attempts)
	assert.Equal(t, "platform down", action.Error)
}

func TestProcessQueueRespectsPlatformRateLimit(t *testing.T) {
	exec := &fakeExecutor{}
	limiter := route.NewRateLimiter(map[string]time.Duration{"chat": time.Minute})
	m, err := New("", exec, WithRateLimiter(limiter), WithMaxConcurrent(5))
	require.NoError(t, err)

	first := m.Enqueue(queuedResult("d1", "chat"), 3)
	m.Enqueue(queuedResult("d2", "chat"), 3)

	m.ProcessQueue()
	waitStatus(t, m, first, StatusCompleted)
	assert.Equal(t, 1, m.Stats().Pending, "second dispatch waits out the interval")
}

func TestPauseAndResume(t *testing.T) {
	exec := &fakeExecutor{}
	m, err := New("", exec, WithRateLimiter(unlimited()))
	require.NoError(t, err)

	id := m.Enqueue(queuedResult("d1", "notion"), 3)

	m.Pause()
	m.ProcessQueue()
	action, _ := m.Get(id)
	assert.Equal(t, StatusPending, action.Status)

	m.Resume()
	m.ProcessQueue()
	waitStatus(t, m, id, StatusCompleted)
}

func TestClearRemovesOnlyPendingActions(t *testing.T) {
	exec := &fakeExecutor{}
	m, err := New("", exec, WithRateLimiter(unlimited()), WithMaxConcurrent(1))
	require.NoError(t, err)

	done := m.Enqueue(queuedResult("d1", "notion"), 1)
	m.ProcessQueue()
	waitStatus(t, m, done, StatusCompleted)

	m.Enqueue(queuedResult("d2", "notion"), 3)
	m.Enqueue(queuedResult("d3", "notion"), 3)

	assert.Equal(t, 2, m.Clear())
	stats := m.Stats()
	assert.Zero(t, stats.Pending)
	assert.Equal(t, 1, stats.Completed)
}

func TestRestoreResetsOrphanedExecutingActions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	exec := &fakeExecutor{}

	m, err := New(path, exec, WithRateLimiter(unlimited()))
	require.NoError(t, err)
	id := m.Enqueue(queuedResult("d1", "notion"), 3)

	// Simulate a crash mid-execution.
	m.mu.Lock()
	m.actions[id].Status = StatusExecuting
	m.persistLocked()
	m.mu.Unlock()

	restored, err := New(path, exec, WithRateLimiter(unlimited()))
	require.NoError(t, err)
	action, ok := restored.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, action.Status)
	assert.Nil(t, action.RetryAt)
}

func TestSubscribeToHubEnqueuesReadyActions(t *testing.T) {
	h := hub.New()
	defer h.Close()

	exec := &fakeExecutor{}
	m, err := New("", exec, WithRateLimiter(unlimited()))
	require.NoError(t, err)

	unsubscribe := m.SubscribeToHub(h)
	defer unsubscribe()

	result := queuedResult("d1", "notion")
	h.Emit(hub.Event{
		Source:   "publisher",
		Type:     hub.EventActionReady,
		Priority: hub.PriorityHigh,
		Data:     publish.ActionReadyPayload{Action: &publish.FormattedAction{}, Result: result},
	})

	require.Eventually(t, func() bool { return m.Stats().Pending == 1 }, 2*time.Second, 5*time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, action := range m.actions {
		assert.Equal(t, 1, action.Priority, "high priority events map to the top tier")
	}
}

func TestStatsTracksWaitTimes(t *testing.T) {
	now := time.Now()
	exec := &fakeExecutor{}
	m, err := New("", exec, WithRateLimiter(unlimited()), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	id := m.Enqueue(queuedResult("d1", "notion"), 3)
	now = now.Add(10 * time.Second)
	m.ProcessQueue()
	waitStatus(t, m, id, StatusCompleted)

	stats := m.Stats()
	assert.Equal(t, 10*time.Second, stats.AvgWaitTime)
}
