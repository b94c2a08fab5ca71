// Package executor is the Executor component (spec.md §4.5): it runs
// one logical execution of a job, including retries, timeouts, and lock
// lifecycle. It is grounded in the retry-with-backoff loop of the
// miken90-goclaw cron service's ExecuteWithRetry/RunJob pair — attempt
// the handler, record the outcome, sleep for a computed backoff, try
// again — generalized from that service's in-memory run log into
// per-attempt JobRun rows persisted through storage.Adapter, and from
// its fixed retry count into the fixed/exponential policy encoded by
// cronx.JobOptions.BackoffDelay.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cronxhq/cronx"
	"github.com/cronxhq/cronx/lock"
	"github.com/cronxhq/cronx/logging"
	"github.com/cronxhq/cronx/metrics"
	"github.com/cronxhq/cronx/storage"
)

// Executor drives job executions for a single worker identity.
type Executor struct {
	storage  storage.Adapter
	locks    *lock.Manager
	workerID string
	metrics  metrics.Sink
	logger   logging.Logger
}

// New returns an Executor persisting through store, coordinating
// mutual exclusion through locks, and reporting as workerID.
func New(store storage.Adapter, locks *lock.Manager, workerID string, sink metrics.Sink, logger logging.Logger) *Executor {
	if sink == nil {
		sink = metrics.Noop()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Executor{storage: store, locks: locks, workerID: workerID, metrics: sink, logger: logger}
}

// Run executes job to completion (including retries) and returns its
// final JobRun. Once retries are exhausted it returns a
// *cronx.JobExecutionError wrapping the last attempt's cause; a failure
// to acquire the lock or to persist a run returns a *cronx.StorageError
// instead. Callers that don't care (the Scheduler's fire-and-forget path)
// may discard the error after logging.
func (e *Executor) Run(ctx context.Context, job *cronx.Job) (*cronx.JobRun, error) {
	if job.IsPaused {
		run := skippedRun(job.Name, "paused")
		if err := e.storage.SaveJobRun(ctx, run); err != nil {
			e.logger.Warn("failed to persist skipped run", logging.Fields{"job": job.Name, "error": err.Error()})
		}
		return run, nil
	}

	handle, ok, err := e.locks.Acquire(ctx, job.Name)
	if err != nil {
		return nil, &cronx.StorageError{Op: "acquire lock", Err: err}
	}
	if !ok {
		run := skippedRun(job.Name, "already running on another worker")
		if err := e.storage.SaveJobRun(ctx, run); err != nil {
			e.logger.Warn("failed to persist skipped run", logging.Fields{"job": job.Name, "error": err.Error()})
		}
		return run, nil
	}
	defer func() {
		if err := handle.Release(context.Background()); err != nil {
			e.logger.Warn("failed to release lock", logging.Fields{"job": job.Name, "error": err.Error()})
		}
	}()

	e.metrics.RecordJobScheduled(job.Name, e.workerID)

	maxAttempts := job.Options.MaxAttempts()
	run := &cronx.JobRun{ID: uuid.NewString(), JobName: job.Name, Status: cronx.RunPending, Attempt: 1}
	if err := e.storage.SaveJobRun(ctx, run); err != nil {
		return nil, &cronx.StorageError{Op: "save job run", Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		run.Attempt = attempt
		run.Status = cronx.RunRunning
		start := time.Now().UTC()
		run.StartTime = &start
		if err := e.storage.SaveJobRun(ctx, run); err != nil {
			return nil, &cronx.StorageError{Op: "save job run", Err: err}
		}

		e.metrics.RecordJobStarted(job.Name, e.workerID)
		attemptErr := e.invoke(ctx, job)
		end := time.Now().UTC()
		run.EndTime = &end
		durationSeconds := end.Sub(start).Seconds()

		if attemptErr == nil {
			run.Status = cronx.RunCompleted
			run.Error = ""
			if err := e.storage.SaveJobRun(ctx, run); err != nil {
				return nil, &cronx.StorageError{Op: "save job run", Err: err}
			}
			e.metrics.RecordJobCompleted(job.Name, e.workerID, durationSeconds)
			e.invokeOnSuccess(job, run)
			return run, nil
		}

		lastErr = attemptErr
		run.Status = cronx.RunFailed
		run.Error = attemptErr.Error()
		if err := e.storage.SaveJobRun(ctx, run); err != nil {
			return nil, &cronx.StorageError{Op: "save job run", Err: err}
		}
		e.metrics.RecordJobFailed(job.Name, e.workerID, durationSeconds, errorKind(attemptErr))
		e.invokeOnError(job, run, attemptErr)

		if attempt == maxAttempts {
			return run, &cronx.JobExecutionError{JobName: job.Name, Attempt: attempt, Err: lastErr}
		}

		delay := job.Options.BackoffDelay(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return run, &cronx.JobExecutionError{JobName: job.Name, Attempt: attempt, Err: ctx.Err()}
		}

		run = &cronx.JobRun{ID: uuid.NewString(), JobName: job.Name, Status: cronx.RunPending, Attempt: attempt + 1}
		if err := e.storage.SaveJobRun(ctx, run); err != nil {
			return nil, &cronx.StorageError{Op: "save job run", Err: err}
		}
	}

	// Unreachable: the loop above always returns by its last iteration.
	return run, &cronx.JobExecutionError{JobName: job.Name, Attempt: maxAttempts, Err: lastErr}
}

// invoke calls the job's handler, bounded by options.Timeout if set.
// The handler is not forcibly killed on timeout (spec.md §4.5): its
// goroutine is left to finish in the background, and this attempt is
// simply recorded as failed with a timeout error.
func (e *Executor) invoke(ctx context.Context, job *cronx.Job) error {
	attemptCtx := ctx
	cancel := func() {}
	if job.Options.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, job.Options.Timeout)
	}
	defer cancel()

	resultCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		resultCh <- job.Handler(attemptCtx)
	}()

	select {
	case err := <-resultCh:
		return err
	case <-attemptCtx.Done():
		if job.Options.Timeout > 0 {
			return fmt.Errorf("timed out after %s", job.Options.Timeout)
		}
		return attemptCtx.Err()
	}
}

func (e *Executor) invokeOnSuccess(job *cronx.Job, run *cronx.JobRun) {
	if job.Options.OnSuccess == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("onSuccess callback panicked", logging.Fields{"job": job.Name, "panic": r})
		}
	}()
	job.Options.OnSuccess(run)
}

func (e *Executor) invokeOnError(job *cronx.Job, run *cronx.JobRun, cause error) {
	if job.Options.OnError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("onError callback panicked", logging.Fields{"job": job.Name, "panic": r})
		}
	}()
	job.Options.OnError(run, cause)
}

func skippedRun(jobName, reason string) *cronx.JobRun {
	now := time.Now().UTC()
	return &cronx.JobRun{
		ID:        uuid.NewString(),
		JobName:   jobName,
		Status:    cronx.RunCompleted,
		StartTime: &now,
		EndTime:   &now,
		Attempt:   1,
		Result:    map[string]any{"skipped": true, "reason": reason},
	}
}

func errorKind(err error) string {
	switch err.(type) {
	case *cronx.StorageError:
		return "storage"
	default:
		return "handler"
	}
}
