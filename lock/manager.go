// Package lock is the Lock Manager (spec.md §4.3): it wraps a
// storage.Adapter's three primitive lock calls with the held-lock
// lifecycle a worker actually needs — acquire once, then keep the lock
// alive with periodic extensions for as long as the job handler runs,
// releasing it (or letting it lapse) when done.
//
// The periodic-extension goroutine generalizes the teacher's own
// self-rescheduling job timer (micron's job.Schedule / job.Stop in
// cron.go): a background goroutine that keeps the lock alive, here driven
// by a time.Ticker instead of a self-rearming time.AfterFunc, since the
// cadence is fixed (half the lock TTL) rather than computed from a
// schedule. It runs until its context is cancelled by Release or an
// extension reports that ownership was lost.
package lock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cronxhq/cronx"
	"github.com/cronxhq/cronx/storage"
)

// Manager acquires and renews distributed locks on behalf of a single
// worker identity.
type Manager struct {
	storage        storage.Adapter
	workerID       string
	ttl            time.Duration
	extendInterval time.Duration
	errHandler     func(error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the default lock TTL (spec.md default: 60s).
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithExtendInterval overrides the default extension cadence (spec.md
// default: half the TTL, i.e. 30s at the default TTL).
func WithExtendInterval(d time.Duration) Option {
	return func(m *Manager) { m.extendInterval = d }
}

// WithErrHandler registers a callback for background extension errors,
// following the teacher's Options.ErrHandler convention (cron.go).
func WithErrHandler(f func(error)) Option {
	return func(m *Manager) { m.errHandler = f }
}

// New returns a Manager issuing locks under workerID against adapter.
func New(adapter storage.Adapter, workerID string, opts ...Option) *Manager {
	m := &Manager{
		storage:        adapter,
		workerID:       workerID,
		ttl:            cronx.DefaultLockTTL,
		extendInterval: cronx.DefaultExtendInterval,
		errHandler:     func(error) {},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle represents a lock held by this Manager's worker. Release is
// safe to call more than once and safe to call even if the lock was
// already lost to expiry or takeover.
type Handle struct {
	manager *Manager
	jobName string
	cancel  context.CancelFunc
	stopped atomic.Bool
}

// Acquire attempts to take the lock for jobName. It returns (handle,
// true, nil) on success, in which case a background goroutine keeps the
// lock alive at the configured extend interval until Release is called.
// It returns (nil, false, nil) if the lock is currently held by another
// worker.
func (m *Manager) Acquire(ctx context.Context, jobName string) (*Handle, bool, error) {
	ok, err := m.storage.AcquireLock(ctx, jobName, m.workerID, m.ttl)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	extendCtx, cancel := context.WithCancel(context.Background())
	h := &Handle{manager: m, jobName: jobName, cancel: cancel}
	go m.keepAlive(extendCtx, h)
	return h, true, nil
}

func (m *Manager) keepAlive(ctx context.Context, h *Handle) {
	ticker := time.NewTicker(m.extendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := m.storage.ExtendLock(ctx, h.jobName, m.workerID, m.ttl)
			if err != nil {
				m.errHandler(err)
				continue
			}
			if !ok {
				// Ownership was lost (expired before an extend landed,
				// or taken over). Stop trying; the handler in progress
				// may still finish, but it no longer holds exclusivity.
				m.errHandler(cronx.ErrLockNotHeld)
				h.stopped.Store(true)
				return
			}
		}
	}
}

// Release stops the keep-alive goroutine and deletes the lock record if
// this worker still owns it. It never returns an error for a lock
// already lost to expiry or takeover; that is treated as the release
// having already effectively happened.
func (h *Handle) Release(ctx context.Context) error {
	if h == nil || !h.stopped.CompareAndSwap(false, true) {
		if h != nil {
			h.cancel()
		}
		return nil
	}
	h.cancel()

	_, err := h.manager.storage.ReleaseLock(ctx, h.jobName, h.manager.workerID)
	return err
}
