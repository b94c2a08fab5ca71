package executor_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cronxhq/cronx"
	"github.com/cronxhq/cronx/executor"
	"github.com/cronxhq/cronx/lock"
	"github.com/cronxhq/cronx/storage/memory"
)

func newExecutor(t *testing.T, workerID string) (*executor.Executor, *memory.Store) {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.Connect(context.Background()))
	locks := lock.New(store, workerID, lock.WithTTL(time.Second), lock.WithExtendInterval(200*time.Millisecond))
	return executor.New(store, locks, workerID, nil, nil), store
}

func TestExecutor_SuccessOnFirstAttempt(t *testing.T) {
	ex, store := newExecutor(t, "worker-1")
	job := &cronx.Job{
		Name:    "job-ok",
		Options: cronx.JobOptions{Retries: 2},
		Handler: func(ctx context.Context) error { return nil },
	}

	run, err := ex.Run(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, cronx.RunCompleted, run.Status)
	require.Equal(t, 1, run.Attempt)

	runs, err := store.GetJobRuns(context.Background(), job.Name, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestExecutor_RetriesThenFails(t *testing.T) {
	ex, store := newExecutor(t, "worker-1")

	var calls int32
	job := &cronx.Job{
		Name: "job-fail",
		Options: cronx.JobOptions{
			Retries:           2,
			Backoff:           cronx.BackoffFixed,
			FixedDelay:        10 * time.Millisecond,
		},
		Handler: func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return errors.New("boom")
		},
	}

	run, err := ex.Run(context.Background(), job)
	require.Error(t, err)
	var execErr *cronx.JobExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, 3, execErr.Attempt)
	require.Equal(t, cronx.RunFailed, run.Status)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))

	runs, err := store.GetJobRuns(context.Background(), job.Name, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, r := range runs {
		require.Equal(t, cronx.RunFailed, r.Status)
	}
}

func TestExecutor_PausedJobSkipsWithoutLock(t *testing.T) {
	ex, store := newExecutor(t, "worker-1")

	called := false
	job := &cronx.Job{
		Name:     "job-paused",
		IsPaused: true,
		Handler:  func(ctx context.Context) error { called = true; return nil },
	}

	run, err := ex.Run(context.Background(), job)
	require.NoError(t, err)
	require.False(t, called)
	require.Equal(t, cronx.RunCompleted, run.Status)
	skipped, ok := run.Result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "paused", skipped["reason"])

	runs, err := store.GetJobRuns(context.Background(), job.Name, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
}

func TestExecutor_LockHeldBySecondWorkerSkips(t *testing.T) {
	store := newSharedStore(t)

	locks1 := lock.New(store, "worker-1", lock.WithTTL(time.Second))
	ex1 := executor.New(store, locks1, "worker-1", nil, nil)

	handle, ok, err := locks1.Acquire(context.Background(), "job-shared")
	require.NoError(t, err)
	require.True(t, ok)
	defer handle.Release(context.Background())

	locks2 := lock.New(store, "worker-2", lock.WithTTL(time.Second))
	ex2 := executor.New(store, locks2, "worker-2", nil, nil)

	called := false
	job := &cronx.Job{
		Name:    "job-shared",
		Handler: func(ctx context.Context) error { called = true; return nil },
	}

	run, err := ex2.Run(context.Background(), job)
	require.NoError(t, err)
	require.False(t, called)
	skipped, ok := run.Result.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "already running on another worker", skipped["reason"])

	_ = ex1
}

func TestExecutor_TimeoutFailsAttempt(t *testing.T) {
	ex, _ := newExecutor(t, "worker-1")

	job := &cronx.Job{
		Name: "job-timeout",
		Options: cronx.JobOptions{
			Timeout: 30 * time.Millisecond,
		},
		Handler: func(ctx context.Context) error {
			time.Sleep(200 * time.Millisecond)
			return nil
		},
	}

	run, err := ex.Run(context.Background(), job)
	require.Error(t, err)
	require.Equal(t, cronx.RunFailed, run.Status)
	require.Contains(t, run.Error, "timed out")
}

func newSharedStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.Connect(context.Background()))
	return store
}
