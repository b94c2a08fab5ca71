// Package storagetest is a shared contract-test harness run against every
// storage.Adapter backend, exercising the invariants and round-trip laws
// of spec.md §8. Each backend's own _test.go file calls Run against a
// fresh, connected Adapter — the same "one suite, many backends" idiom
// used for testing interchangeable implementations throughout the Go
// ecosystem (database/sql driver test suites, fs.FS conformance tests).
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/cronxhq/cronx"
	"github.com/cronxhq/cronx/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises the full storage.Adapter contract against adapter, which
// must already be connected. newJobName returns a fresh, test-unique job
// name so parallel backends (e.g. a shared Postgres instance) don't
// collide across test runs.
func Run(t *testing.T, adapter storage.Adapter, newJobName func(t *testing.T) string) {
	t.Helper()

	t.Run("SaveJob/GetJob round trip", func(t *testing.T) {
		ctx := context.Background()
		name := newJobName(t)
		now := time.Now().UTC().Truncate(time.Second)

		job := &cronx.Job{
			Name:      name,
			Schedule:  "@every 1m",
			IsActive:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		require.NoError(t, adapter.SaveJob(ctx, job))

		got, err := adapter.GetJob(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, job.Name, got.Name)
		assert.Equal(t, job.Schedule, got.Schedule)
		assert.True(t, got.IsActive)
	})

	t.Run("GetJob missing returns ErrJobNotFound", func(t *testing.T) {
		ctx := context.Background()
		_, err := adapter.GetJob(ctx, "does-not-exist-"+newJobName(t))
		assert.ErrorIs(t, err, cronx.ErrJobNotFound)
	})

	t.Run("SaveJob upsert is last-writer-wins", func(t *testing.T) {
		ctx := context.Background()
		name := newJobName(t)
		now := time.Now().UTC().Truncate(time.Second)

		require.NoError(t, adapter.SaveJob(ctx, &cronx.Job{
			Name: name, Schedule: "@every 1m", CreatedAt: now, UpdatedAt: now,
		}))
		require.NoError(t, adapter.SaveJob(ctx, &cronx.Job{
			Name: name, Schedule: "@every 5m", CreatedAt: now, UpdatedAt: now,
		}))

		got, err := adapter.GetJob(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, "@every 5m", got.Schedule)
	})

	t.Run("DeleteJob idempotence", func(t *testing.T) {
		ctx := context.Background()
		name := newJobName(t)
		now := time.Now().UTC()
		require.NoError(t, adapter.SaveJob(ctx, &cronx.Job{Name: name, CreatedAt: now, UpdatedAt: now}))

		ok, err := adapter.DeleteJob(ctx, name)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = adapter.DeleteJob(ctx, name)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("PauseJob idempotence", func(t *testing.T) {
		ctx := context.Background()
		name := newJobName(t)
		now := time.Now().UTC()
		require.NoError(t, adapter.SaveJob(ctx, &cronx.Job{Name: name, CreatedAt: now, UpdatedAt: now}))

		ok, err := adapter.PauseJob(ctx, name)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = adapter.PauseJob(ctx, name)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := adapter.GetJob(ctx, name)
		require.NoError(t, err)
		assert.True(t, got.IsPaused)
	})

	t.Run("ResumeJob clears IsPaused", func(t *testing.T) {
		ctx := context.Background()
		name := newJobName(t)
		now := time.Now().UTC()
		require.NoError(t, adapter.SaveJob(ctx, &cronx.Job{Name: name, CreatedAt: now, UpdatedAt: now}))
		_, err := adapter.PauseJob(ctx, name)
		require.NoError(t, err)

		ok, err := adapter.ResumeJob(ctx, name)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := adapter.GetJob(ctx, name)
		require.NoError(t, err)
		assert.False(t, got.IsPaused)
	})

	t.Run("SaveJobRun/GetJobRun round trip", func(t *testing.T) {
		ctx := context.Background()
		name := newJobName(t)
		now := time.Now().UTC()
		require.NoError(t, adapter.SaveJob(ctx, &cronx.Job{Name: name, CreatedAt: now, UpdatedAt: now}))

		runID := name + "-run-1"
		run := &cronx.JobRun{ID: runID, JobName: name, Status: cronx.RunPending, Attempt: 1}
		require.NoError(t, adapter.SaveJobRun(ctx, run))

		got, err := adapter.GetJobRun(ctx, runID)
		require.NoError(t, err)
		assert.Equal(t, run.JobName, got.JobName)
		assert.Equal(t, cronx.RunPending, got.Status)
	})

	t.Run("SaveJobRun upsert keeps one row per attempt", func(t *testing.T) {
		ctx := context.Background()
		name := newJobName(t)
		now := time.Now().UTC()
		require.NoError(t, adapter.SaveJob(ctx, &cronx.Job{Name: name, CreatedAt: now, UpdatedAt: now}))

		runID := name + "-run-1"
		require.NoError(t, adapter.SaveJobRun(ctx, &cronx.JobRun{ID: runID, JobName: name, Status: cronx.RunPending, Attempt: 1}))
		start := now
		require.NoError(t, adapter.SaveJobRun(ctx, &cronx.JobRun{ID: runID, JobName: name, Status: cronx.RunRunning, Attempt: 1, StartTime: &start}))
		end := now.Add(time.Second)
		require.NoError(t, adapter.SaveJobRun(ctx, &cronx.JobRun{ID: runID, JobName: name, Status: cronx.RunCompleted, Attempt: 1, StartTime: &start, EndTime: &end}))

		runs, err := adapter.GetJobRuns(ctx, name, 0)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, cronx.RunCompleted, runs[0].Status)
	})

	t.Run("GetJobRuns ordering and limit", func(t *testing.T) {
		ctx := context.Background()
		name := newJobName(t)
		now := time.Now().UTC()
		require.NoError(t, adapter.SaveJob(ctx, &cronx.Job{Name: name, CreatedAt: now, UpdatedAt: now}))

		base := now.Add(-time.Hour)
		for i := 1; i <= 5; i++ {
			st := base.Add(time.Duration(i) * time.Minute)
			require.NoError(t, adapter.SaveJobRun(ctx, &cronx.JobRun{
				ID: name + "-run-" + string(rune('0'+i)), JobName: name,
				Status: cronx.RunCompleted, Attempt: i, StartTime: &st,
			}))
		}

		runs, err := adapter.GetJobRuns(ctx, name, 3)
		require.NoError(t, err)
		require.Len(t, runs, 3)
		// Descending by StartTime: most recent (attempt 5) first.
		assert.Equal(t, 5, runs[0].Attempt)
		assert.Equal(t, 4, runs[1].Attempt)
		assert.Equal(t, 3, runs[2].Attempt)
	})

	t.Run("GetJobStats aggregates completed/failed and duration", func(t *testing.T) {
		ctx := context.Background()
		name := newJobName(t)
		now := time.Now().UTC()
		require.NoError(t, adapter.SaveJob(ctx, &cronx.Job{Name: name, CreatedAt: now, UpdatedAt: now}))

		s1, e1 := now, now.Add(2*time.Second)
		s2, e2 := now, now.Add(4*time.Second)
		require.NoError(t, adapter.SaveJobRun(ctx, &cronx.JobRun{ID: name + "-r1", JobName: name, Status: cronx.RunCompleted, Attempt: 1, StartTime: &s1, EndTime: &e1}))
		require.NoError(t, adapter.SaveJobRun(ctx, &cronx.JobRun{ID: name + "-r2", JobName: name, Status: cronx.RunFailed, Attempt: 1, StartTime: &s2, EndTime: &e2}))

		stats, err := adapter.GetJobStats(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.TotalRuns)
		assert.Equal(t, 1, stats.SuccessfulRuns)
		assert.Equal(t, 1, stats.FailedRuns)
		assert.Equal(t, 3*time.Second, stats.AverageDuration)
	})

	t.Run("AcquireLock/ExtendLock/ReleaseLock round trip", func(t *testing.T) {
		ctx := context.Background()
		name := newJobName(t)

		ok, err := adapter.AcquireLock(ctx, name, "w1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = adapter.AcquireLock(ctx, name, "w2", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "a second worker must not acquire a live lock")

		ok, err = adapter.ExtendLock(ctx, name, "w1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = adapter.ExtendLock(ctx, name, "w2", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok, "a non-owner must not be able to extend")

		ok, err = adapter.ReleaseLock(ctx, name, "w1")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = adapter.ReleaseLock(ctx, name, "w1")
		require.NoError(t, err)
		assert.False(t, ok, "release after release is a no-op")

		ok, err = adapter.AcquireLock(ctx, name, "w2", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "any worker can acquire once released")

		_, _ = adapter.ReleaseLock(ctx, name, "w2")
	})

	t.Run("AcquireLock reentrant for same worker", func(t *testing.T) {
		ctx := context.Background()
		name := newJobName(t)

		ok, err := adapter.AcquireLock(ctx, name, "w1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = adapter.AcquireLock(ctx, name, "w1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "the current owner may re-acquire (extend) via AcquireLock")

		_, _ = adapter.ReleaseLock(ctx, name, "w1")
	})

	t.Run("AcquireLock takeover after TTL expiry", func(t *testing.T) {
		ctx := context.Background()
		name := newJobName(t)

		ok, err := adapter.AcquireLock(ctx, name, "w1", 50*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, ok)

		time.Sleep(100 * time.Millisecond)

		ok, err = adapter.AcquireLock(ctx, name, "w2", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "an expired lock must be evictable by any contender")

		_, _ = adapter.ReleaseLock(ctx, name, "w2")
	})
}
