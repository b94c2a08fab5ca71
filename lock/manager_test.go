package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cronxhq/cronx/lock"
	"github.com/cronxhq/cronx/storage/memory"
)

func TestManager_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Connect(ctx))

	m := lock.New(store, "worker-a", lock.WithTTL(200*time.Millisecond), lock.WithExtendInterval(50*time.Millisecond))

	h, ok, err := m.Acquire(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, h)

	// A different worker must not be able to take the lock while held.
	m2 := lock.New(store, "worker-b", lock.WithTTL(200*time.Millisecond))
	_, ok, err = m2.Acquire(ctx, "job-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, h.Release(ctx))

	// Releasing twice is a no-op, not an error.
	require.NoError(t, h.Release(ctx))

	// Now that it's released, another worker can take it.
	h2, ok, err := m2.Acquire(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, h2.Release(ctx))
}

func TestManager_KeepAliveExtendsPastOriginalTTL(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Connect(ctx))

	m := lock.New(store, "worker-a", lock.WithTTL(150*time.Millisecond), lock.WithExtendInterval(40*time.Millisecond))

	h, ok, err := m.Acquire(ctx, "job-2")
	require.NoError(t, err)
	require.True(t, ok)

	// Outlive the original TTL; the background keep-alive should have
	// extended it at least once by now.
	time.Sleep(250 * time.Millisecond)

	m2 := lock.New(store, "worker-b", lock.WithTTL(150*time.Millisecond))
	_, stillBlocked, err := m2.Acquire(ctx, "job-2")
	require.NoError(t, err)
	require.False(t, stillBlocked, "lock should still be held thanks to keep-alive extension")

	require.NoError(t, h.Release(ctx))
}

func TestManager_ReentrantAcquireBySameWorker(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.Connect(ctx))

	m := lock.New(store, "worker-a", lock.WithTTL(time.Second))

	h1, ok, err := m.Acquire(ctx, "job-3")
	require.NoError(t, err)
	require.True(t, ok)

	h2, ok, err := m.Acquire(ctx, "job-3")
	require.NoError(t, err)
	require.True(t, ok, "same worker re-acquiring its own lock must succeed")

	require.NoError(t, h1.Release(ctx))
	require.NoError(t, h2.Release(ctx))
}
