package cronx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/cronxhq/cronx/executor"
	"github.com/cronxhq/cronx/lock"
	"github.com/cronxhq/cronx/logging"
	"github.com/cronxhq/cronx/metrics"
	"github.com/cronxhq/cronx/schedule"
	"github.com/cronxhq/cronx/scheduler"
	"github.com/cronxhq/cronx/storage"
)

// Coordinator is the facade a process instantiates to register jobs,
// control their lifecycle, and read back execution history (spec.md
// §4.6). It generalizes the teacher's Cron facade (cron.go): where
// micron.Cron wires a single in-process or Redis Locker directly into
// each job, Coordinator wires a storage.Adapter (selected by URI
// scheme) through a Lock Manager and an Executor, and keeps the
// teacher's "handler lives only in this process" design by storing
// handlers in a local map keyed by job name rather than persisting
// them.
type Coordinator struct {
	mu sync.RWMutex

	storageURI string
	storage    storage.Adapter

	workerID string
	zone     *time.Location

	lockTTL            time.Duration
	lockExtendInterval time.Duration

	logger  logging.Logger
	metrics metrics.Sink

	scheduler *scheduler.Scheduler
	locks     *lock.Manager
	exec      *executor.Executor

	maxConcurrentRuns int64
	concurrency       *semaphore.Weighted

	handlers map[string]Handler
	jobs     map[string]*Job

	running bool
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithWorkerID sets a fixed worker identity instead of a random one.
func WithWorkerID(id string) Option {
	return func(c *Coordinator) { c.workerID = id }
}

// WithTimezone sets the zone the Scheduler computes fire times in.
// Panics at New time if name cannot be loaded, mirroring the teacher's
// own New, which panics on an invalid Options.Timezone.
func WithTimezone(name string) Option {
	return func(c *Coordinator) {
		loc, err := time.LoadLocation(name)
		if err != nil {
			panic(fmt.Errorf("cronx: invalid timezone %q: %w", name, err))
		}
		c.zone = loc
	}
}

// WithLogger installs a structured logger (spec.md §6).
func WithLogger(l logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics installs a metrics sink (spec.md §6).
func WithMetrics(sink metrics.Sink) Option {
	return func(c *Coordinator) { c.metrics = sink }
}

// WithLockTTL overrides the default lock TTL (spec.md §4.3 default: 60s).
func WithLockTTL(ttl time.Duration) Option {
	return func(c *Coordinator) { c.lockTTL = ttl }
}

// WithLockExtendInterval overrides the default extension cadence
// (spec.md §4.3 default: 30s, half the TTL).
func WithLockExtendInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.lockExtendInterval = d }
}

// WithMaxConcurrentRuns bounds how many scheduled fires this process may
// execute at once, generalizing the teacher's SemaphoreLocker (a weighted
// semaphore of 1 per job, for single-process mutual exclusion) into one
// process-wide weighted semaphore of n, for bounding overall resource use
// across all jobs. A fire that finds the pool full is skipped, the same
// way a fire that loses the distributed lock is skipped. n <= 0 (the
// default) leaves concurrency unbounded. Manual RunJob calls bypass this
// pool, since they are already out-of-band from the Scheduler.
func WithMaxConcurrentRuns(n int) Option {
	return func(c *Coordinator) { c.maxConcurrentRuns = int64(n) }
}

// New constructs a Coordinator targeting storageURI. Storage is not
// connected until Start is called.
func New(storageURI string, opts ...Option) *Coordinator {
	c := &Coordinator{
		storageURI:         storageURI,
		workerID:           uuid.NewString(),
		zone:               time.UTC,
		lockTTL:            DefaultLockTTL,
		lockExtendInterval: DefaultExtendInterval,
		logger:             logging.Nop(),
		metrics:            metrics.Noop(),
		handlers:           make(map[string]Handler),
		jobs:               make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.scheduler = scheduler.New(c.zone)
	if c.maxConcurrentRuns > 0 {
		c.concurrency = semaphore.NewWeighted(c.maxConcurrentRuns)
	}
	return c
}

// WorkerID returns this Coordinator's lock-ownership identity.
func (c *Coordinator) WorkerID() string {
	return c.workerID
}

// reportQueueSize publishes the count of currently armed jobs to the
// metrics sink (spec.md §4.5's worker_queue_size observable), since the
// Coordinator is the only component that knows both the armed count and
// the worker identity to label it with.
func (c *Coordinator) reportQueueSize() {
	c.metrics.UpdateQueueSize(c.workerID, c.scheduler.Len())
}

// Start connects Storage, reloads job records, re-attaches in-memory
// handlers to jobs registered earlier in this process, arms the
// Scheduler for every active job with a registered handler, and begins
// firing.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	store, err := storage.Open(ctx, c.storageURI)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.storage = store
	c.locks = lock.New(store, c.workerID,
		lock.WithTTL(c.lockTTL),
		lock.WithExtendInterval(c.lockExtendInterval),
		lock.WithErrHandler(func(err error) {
			c.logger.Warn("lock extension failed", logging.Fields{"error": err.Error()})
		}),
	)
	c.exec = executor.New(store, c.locks, c.workerID, c.metrics, c.logger)
	c.mu.Unlock()

	records, err := store.ListJobs(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	for _, rec := range records {
		if _, already := c.jobs[rec.Name]; already {
			continue
		}
		if h, ok := c.handlers[rec.Name]; ok {
			rec.Handler = h
		}
		c.jobs[rec.Name] = rec
	}
	toArm := make([]*Job, 0, len(c.jobs))
	for _, j := range c.jobs {
		if j.IsActive && j.Handler != nil {
			toArm = append(toArm, j)
		} else if j.IsActive && j.Handler == nil {
			c.logger.Warn("job has no registered handler; not armed", logging.Fields{"job": j.Name})
		}
	}
	c.mu.Unlock()

	for _, j := range toArm {
		if err := c.arm(j.Name, j.Schedule); err != nil {
			c.logger.Warn("failed to arm job", logging.Fields{"job": j.Name, "error": err.Error()})
		}
	}

	c.scheduler.Start()
	c.reportQueueSize()

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	return nil
}

// Stop disarms the Scheduler and disconnects Storage. In-flight
// executions are not cancelled; they run to completion independently.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.scheduler.Stop()
	c.reportQueueSize()

	c.mu.Lock()
	c.running = false
	store := c.storage
	c.mu.Unlock()

	if store == nil {
		return nil
	}
	return store.Disconnect(ctx)
}

// IsRunning reports whether Start has completed and Stop has not since
// been called.
func (c *Coordinator) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

func (c *Coordinator) arm(name, expr string) error {
	sched, err := schedule.Parse(expr)
	if err != nil {
		return &InvalidScheduleError{Expr: expr, Err: err}
	}
	return c.scheduler.Add(name, sched, func() { c.onFire(name) })
}

// Schedule registers a new job. It requires Start to have been called
// first, since persistence needs a connected Storage.
func (c *Coordinator) Schedule(ctx context.Context, name, expr string, handler Handler, options JobOptions) (*Job, error) {
	if name == "" {
		return nil, &InvalidConfigurationError{Reason: "job name must not be empty"}
	}
	if _, err := schedule.Parse(expr); err != nil {
		return nil, &InvalidScheduleError{Expr: expr, Err: err}
	}
	if b := options.Backoff; b != "" && b != BackoffFixed && b != BackoffExponential {
		return nil, &InvalidConfigurationError{Reason: fmt.Sprintf("unknown backoff %q", b)}
	}

	c.mu.Lock()
	if _, exists := c.jobs[name]; exists {
		c.mu.Unlock()
		return nil, ErrAlreadyExists
	}
	store := c.storage
	if store == nil {
		c.mu.Unlock()
		return nil, &StorageError{Op: "save job", Err: errors.New("coordinator not started"), Unavailable: true}
	}

	now := time.Now().UTC()
	job := &Job{
		Name:      name,
		Schedule:  expr,
		Options:   options,
		IsActive:  true,
		IsPaused:  false,
		CreatedAt: now,
		UpdatedAt: now,
		Handler:   handler,
	}
	c.jobs[name] = job
	c.handlers[name] = handler
	c.mu.Unlock()

	if err := store.SaveJob(ctx, job); err != nil {
		c.mu.Lock()
		delete(c.jobs, name)
		delete(c.handlers, name)
		c.mu.Unlock()
		return nil, err
	}

	if err := c.arm(name, expr); err != nil {
		return nil, err
	}
	c.reportQueueSize()

	if next, armed := c.scheduler.NextRun(name); armed {
		c.mu.Lock()
		job.NextRun = &next
		c.mu.Unlock()
		if err := store.SaveJob(ctx, job); err != nil {
			c.logger.Warn("failed to persist initial next run", logging.Fields{"job": name, "error": err.Error()})
		}
	}
	return job, nil
}

// Unschedule removes name from the Scheduler, forgets its handler, and
// deletes its record from Storage.
func (c *Coordinator) Unschedule(ctx context.Context, name string) error {
	c.scheduler.Remove(name)
	c.reportQueueSize()

	c.mu.Lock()
	delete(c.jobs, name)
	delete(c.handlers, name)
	store := c.storage
	c.mu.Unlock()

	if store == nil {
		return &StorageError{Op: "delete job", Err: errors.New("coordinator not started"), Unavailable: true}
	}
	_, err := store.DeleteJob(ctx, name)
	return err
}

func (c *Coordinator) onFire(name string) {
	c.mu.RLock()
	job, ok := c.jobs[name]
	store := c.storage
	c.mu.RUnlock()
	if !ok || job.Handler == nil {
		return
	}

	if c.concurrency != nil {
		if !c.concurrency.TryAcquire(1) {
			c.logger.Warn("concurrency pool full; fire skipped", logging.Fields{"job": name})
			return
		}
		defer c.concurrency.Release(1)
	}

	jobSnapshot := job.Clone()
	run, err := c.exec.Run(context.Background(), jobSnapshot)
	if err != nil {
		var execErr *JobExecutionError
		if errors.As(err, &execErr) {
			c.logger.Error("job failed after all retries", logging.Fields{"job": name, "error": err.Error()})
		} else {
			c.logger.Error("job execution error", logging.Fields{"job": name, "error": err.Error()})
		}
	}
	if run == nil || run.StartTime == nil {
		return
	}

	c.mu.Lock()
	if j, ok := c.jobs[name]; ok {
		j.LastRun = run.StartTime
		j.UpdatedAt = time.Now().UTC()
		if next, armed := c.scheduler.NextRun(name); armed {
			j.NextRun = &next
		}
	}
	c.mu.Unlock()

	if store != nil {
		c.mu.RLock()
		snapshot := c.jobs[name].Clone()
		c.mu.RUnlock()
		if snapshot != nil {
			if err := store.SaveJob(context.Background(), snapshot); err != nil {
				c.logger.Warn("failed to persist job after fire", logging.Fields{"job": name, "error": err.Error()})
			}
		}
	}
}

// GetJob returns the job named name, re-attaching its in-memory handler
// when this process has one registered.
func (c *Coordinator) GetJob(ctx context.Context, name string) (*Job, error) {
	store, ok := c.storageOrErr()
	if !ok {
		return nil, errNotStarted("get job")
	}

	job, err := store.GetJob(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	if h, ok := c.handlers[name]; ok {
		job.Handler = h
	}
	c.mu.RUnlock()
	return job, nil
}

// ListJobs returns every job known to Storage, re-attaching in-memory
// handlers where registered.
func (c *Coordinator) ListJobs(ctx context.Context) ([]*Job, error) {
	store, ok := c.storageOrErr()
	if !ok {
		return nil, errNotStarted("list jobs")
	}

	jobs, err := store.ListJobs(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	for _, j := range jobs {
		if h, ok := c.handlers[j.Name]; ok {
			j.Handler = h
		}
	}
	c.mu.RUnlock()
	return jobs, nil
}

// PauseJob suppresses execution for name without disarming its timer.
func (c *Coordinator) PauseJob(ctx context.Context, name string) error {
	store, ok := c.storageOrErr()
	if !ok {
		return errNotStarted("pause job")
	}
	existed, err := store.PauseJob(ctx, name)
	if err != nil {
		return err
	}
	if !existed {
		return ErrJobNotFound
	}

	c.mu.Lock()
	if j, ok := c.jobs[name]; ok {
		j.IsPaused = true
		j.UpdatedAt = time.Now().UTC()
	}
	c.mu.Unlock()
	return nil
}

// ResumeJob clears the pause flag set by PauseJob.
func (c *Coordinator) ResumeJob(ctx context.Context, name string) error {
	store, ok := c.storageOrErr()
	if !ok {
		return errNotStarted("resume job")
	}
	existed, err := store.ResumeJob(ctx, name)
	if err != nil {
		return err
	}
	if !existed {
		return ErrJobNotFound
	}

	c.mu.Lock()
	if j, ok := c.jobs[name]; ok {
		j.IsPaused = false
		j.UpdatedAt = time.Now().UTC()
	}
	c.mu.Unlock()
	return nil
}

// RunJob triggers name's handler immediately, out-of-band from the
// Scheduler: it does not touch the job's armed timer or advisory
// NextRun.
func (c *Coordinator) RunJob(ctx context.Context, name string) (*JobRun, error) {
	c.mu.RLock()
	job, ok := c.jobs[name]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Handler == nil {
		return nil, &InvalidConfigurationError{Reason: fmt.Sprintf("job %q has no registered handler in this process", name)}
	}

	run, err := c.exec.Run(ctx, job.Clone())
	return run, err
}

// GetJobRuns returns up to limit recent runs for name, most recent
// first. limit <= 0 means unbounded.
func (c *Coordinator) GetJobRuns(ctx context.Context, name string, limit int) ([]*JobRun, error) {
	store, ok := c.storageOrErr()
	if !ok {
		return nil, errNotStarted("get job runs")
	}
	return store.GetJobRuns(ctx, name, limit)
}

// GetJobStats aggregates run outcomes for name.
func (c *Coordinator) GetJobStats(ctx context.Context, name string) (*JobStats, error) {
	store, ok := c.storageOrErr()
	if !ok {
		return nil, errNotStarted("get job stats")
	}
	return store.GetJobStats(ctx, name)
}

// GetStats aggregates run outcomes across every job.
func (c *Coordinator) GetStats(ctx context.Context) (*JobStats, error) {
	store, ok := c.storageOrErr()
	if !ok {
		return nil, errNotStarted("get stats")
	}
	return store.GetJobStats(ctx, "")
}

// GetUpcomingRuns returns the next n fire instants for name's schedule,
// computed fresh from the cron expression (not from the advisory
// NextRun field).
func (c *Coordinator) GetUpcomingRuns(ctx context.Context, name string, n int) ([]time.Time, error) {
	store, ok := c.storageOrErr()
	if !ok {
		return nil, errNotStarted("get upcoming runs")
	}
	job, err := store.GetJob(ctx, name)
	if err != nil {
		return nil, err
	}
	return schedule.UpcomingFires(job.Schedule, time.Now().In(c.zone), c.zone, n)
}

func (c *Coordinator) storageOrErr() (storage.Adapter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.storage == nil {
		return nil, false
	}
	return c.storage, true
}

func errNotStarted(op string) error {
	return &StorageError{Op: op, Err: errors.New("coordinator not started"), Unavailable: true}
}
