package retryq

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, now *time.Time) *Queue {
	t.Helper()
	dir := t.TempDir()
	q, err := New(
		filepath.Join(dir, "retry.json"),
		filepath.Join(dir, "failed.jsonl"),
		WithClock(func() time.Time { return *now }),
	)
	require.NoError(t, err)
	return q
}

func TestSuccessfulOperationIsRemoved(t *testing.T) {
	now := time.Now()
	q := newTestQueue(t, &now)

	var mu sync.Mutex
	var seen []map[string]any
	q.RegisterHandler("mark_read", func(ctx context.Context, params map[string]any) error {
		mu.Lock()
		seen = append(seen, params)
		mu.Unlock()
		return nil
	})

	_, err := q.Enqueue("mark_read", map[string]any{"message_id": "m1"})
	require.NoError(t, err)
	require.Equal(t, 1, q.Len())

	q.RunOnce(context.Background())
	assert.Equal(t, 0, q.Len())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, "m1", seen[0]["message_id"])
}

func TestFailedOperationFollowsSchedule(t *testing.T) {
	now := time.Now()
	q := newTestQueue(t, &now)

	q.RegisterHandler("flaky", func(context.Context, map[string]any) error {
		return errors.New("still down")
	})
	q.Enqueue("flaky", nil)

	// First failure reschedules one minute out.
	q.RunOnce(context.Background())
	require.Equal(t, 1, q.Len())

	// Not yet due.
	now = now.Add(30 * time.Second)
	q.RunOnce(context.Background())
	q.mu.Lock()
	attempts := q.ops[0].Attempts
	q.mu.Unlock()
	assert.Equal(t, 1, attempts)

	// Due again after the first delay elapses.
	now = now.Add(31 * time.Second)
	q.RunOnce(context.Background())
	q.mu.Lock()
	attempts = q.ops[0].Attempts
	q.mu.Unlock()
	assert.Equal(t, 2, attempts)
}

func TestExhaustedOperationLandsInFailedLog(t *testing.T) {
	now := time.Now()
	dir := t.TempDir()
	failedPath := filepath.Join(dir, "failed.jsonl")
	q, err := New(filepath.Join(dir, "retry.json"), failedPath,
		WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	q.RegisterHandler("doomed", func(context.Context, map[string]any) error {
		return errors.New("permanent")
	})
	q.Enqueue("doomed", map[string]any{"k": "v"})

	for i := 0; i <= len(schedule); i++ {
		q.RunOnce(context.Background())
		now = now.Add(7 * time.Hour) // past the longest delay
	}

	assert.Equal(t, 0, q.Len())
	data, err := os.ReadFile(failedPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"doomed"`)
	assert.Contains(t, lines[0], `"permanent"`)
}

func TestPendingOperationsSurviveRestart(t *testing.T) {
	now := time.Now()
	dir := t.TempDir()
	storePath := filepath.Join(dir, "retry.json")
	failedPath := filepath.Join(dir, "failed.jsonl")

	q, err := New(storePath, failedPath, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	q.Enqueue("op", map[string]any{"a": "1"})
	q.Enqueue("op", map[string]any{"a": "2"})

	restored, err := New(storePath, failedPath)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Len())
}

func TestMissingHandlerReschedulesInsteadOfDropping(t *testing.T) {
	now := time.Now()
	q := newTestQueue(t, &now)

	q.Enqueue("unknown_type", nil)
	q.RunOnce(context.Background())

	require.Equal(t, 1, q.Len())
	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Equal(t, 1, q.ops[0].Attempts)
	assert.Contains(t, q.ops[0].LastError, "no handler")
}

func TestStartAndStop(t *testing.T) {
	now := time.Now()
	q := newTestQueue(t, &now)
	q.Start(context.Background())
	q.Stop()
}
