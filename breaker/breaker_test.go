package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func failing(ctx context.Context) (any, error) { return nil, errBoom }

func succeeding(ctx context.Context) (any, error) { return "ok", nil }

func testConfig() Config {
	return Config{
		Name:             "test",
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		CacheTTL:         30 * time.Second,
	}
}

func TestCallPassesThroughWhenClosed(t *testing.T) {
	b := New(testConfig())

	out, err := b.Call(context.Background(), succeeding, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, StateClosed, b.State())
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Call(ctx, failing, nil)
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, StateOpen, b.State())

	_, err := b.Call(ctx, succeeding, nil)
	require.ErrorIs(t, err, ErrOpen)
}

func TestHalfOpenClosesAfterSuccess(t *testing.T) {
	clock := time.Now()
	b := New(testConfig(), WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Call(ctx, failing, nil)
	}
	require.Equal(t, StateOpen, b.State())

	// gobreaker keeps its own clock, so wait out the real timeout.
	short := testConfig()
	short.Timeout = 20 * time.Millisecond
	b = New(short)
	for i := 0; i < 3; i++ {
		b.Call(ctx, failing, nil)
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	out, err := b.Call(ctx, succeeding, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, StateClosed, b.State())
}

func TestFallbackServedAndCachedOnFailure(t *testing.T) {
	b := New(testConfig())
	ctx := context.Background()

	calls := 0
	fallback := func() (any, error) {
		calls++
		return "degraded", nil
	}

	out, err := b.Call(ctx, failing, fallback)
	require.NoError(t, err)
	assert.Equal(t, "degraded", out)
	assert.Equal(t, 1, calls)
}

func TestOpenCircuitServesFreshCache(t *testing.T) {
	clock := time.Now()
	b := New(testConfig(), WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	fallback := func() (any, error) { return "cached", nil }
	for i := 0; i < 3; i++ {
		out, err := b.Call(ctx, failing, fallback)
		require.NoError(t, err)
		assert.Equal(t, "cached", out)
	}
	require.Equal(t, StateOpen, b.State())

	// Rejected call is answered from cache without running the fallback.
	out, err := b.Call(ctx, failing, func() (any, error) {
		t.Fatal("fallback must not run while cache is fresh")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "cached", out)

	// Past the TTL the cache no longer answers.
	clock = clock.Add(time.Minute)
	out, err = b.Call(ctx, failing, func() (any, error) { return "refreshed", nil })
	require.NoError(t, err)
	assert.Equal(t, "refreshed", out)
}

func TestOpenCircuitWithoutCacheOrFallbackErrors(t *testing.T) {
	b := New(testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Call(ctx, failing, nil)
	}

	_, err := b.Call(ctx, succeeding, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOpen)
	assert.Contains(t, err.Error(), "test")
}
