package cronx_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cronxhq/cronx"
	_ "github.com/cronxhq/cronx/storage/memory"
)

func TestCoordinator_Heartbeat(t *testing.T) {
	ctx := context.Background()
	c := cronx.New("memory://")
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	_, err := c.Schedule(ctx, "hb", "*/5 * * * * *", func(ctx context.Context) error {
		return nil
	}, cronx.JobOptions{})
	require.NoError(t, err)

	time.Sleep(12 * time.Second)

	runs, err := c.GetJobRuns(ctx, "hb", 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(runs), 2)
	require.LessOrEqual(t, len(runs), 3)
	for _, r := range runs {
		require.Equal(t, cronx.RunCompleted, r.Status)
		require.Equal(t, 1, r.Attempt)
		require.NotNil(t, r.StartTime)
		require.NotNil(t, r.EndTime)
		require.Less(t, r.EndTime.Sub(*r.StartTime), 500*time.Millisecond)
	}
}

func TestCoordinator_RetryWithExponentialBackoff(t *testing.T) {
	ctx := context.Background()
	c := cronx.New("memory://")
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	_, err := c.Schedule(ctx, "retry-job", "0 0 0 1 1 *", func(ctx context.Context) error {
		return errors.New("always fails")
	}, cronx.JobOptions{Retries: 2, Backoff: cronx.BackoffExponential})
	require.NoError(t, err)

	_, err = c.RunJob(ctx, "retry-job")
	require.Error(t, err)

	runs, err := c.GetJobRuns(ctx, "retry-job", 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, r := range runs {
		require.Equal(t, cronx.RunFailed, r.Status)
	}
}

func TestCoordinator_PauseSkipsExecution(t *testing.T) {
	ctx := context.Background()
	c := cronx.New("memory://")
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	var count int32
	_, err := c.Schedule(ctx, "test", "*/1 * * * * *", func(ctx context.Context) error {
		atomic.AddInt32(&count, 1)
		return nil
	}, cronx.JobOptions{})
	require.NoError(t, err)

	time.Sleep(3 * time.Second)
	require.NoError(t, c.PauseJob(ctx, "test"))
	beforePause := atomic.LoadInt32(&count)

	time.Sleep(3 * time.Second)
	afterPauseWindow := atomic.LoadInt32(&count)
	require.Equal(t, beforePause, afterPauseWindow, "counter must not advance while paused")

	require.NoError(t, c.ResumeJob(ctx, "test"))
	time.Sleep(3 * time.Second)
	afterResume := atomic.LoadInt32(&count)
	require.Greater(t, afterResume, afterPauseWindow, "counter must advance again after resume")

	runs, err := c.GetJobRuns(ctx, "test", 0)
	require.NoError(t, err)
	var sawSkipped bool
	for _, r := range runs {
		if skipped, ok := r.Result.(map[string]any); ok {
			if reason, _ := skipped["reason"].(string); reason == "paused" {
				sawSkipped = true
			}
		}
	}
	require.True(t, sawSkipped, "expected at least one run skipped for reason=paused")
}

func TestCoordinator_ManualRunOutOfBand(t *testing.T) {
	ctx := context.Background()
	c := cronx.New("memory://")
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx)

	_, err := c.Schedule(ctx, "m", "0 0 0 1 1 *", func(ctx context.Context) error {
		return nil
	}, cronx.JobOptions{})
	require.NoError(t, err)

	before, err := c.GetJob(ctx, "m")
	require.NoError(t, err)
	beforeNext := before.NextRun

	run, err := c.RunJob(ctx, "m")
	require.NoError(t, err)
	require.Equal(t, cronx.RunCompleted, run.Status)

	after, err := c.GetJob(ctx, "m")
	require.NoError(t, err)
	require.Equal(t, beforeNext, after.NextRun, "manual run must not perturb the scheduler's timer")
}
