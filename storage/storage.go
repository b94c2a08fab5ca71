// Package storage defines the persistence contract every backend must
// satisfy (spec.md §4.2) and a scheme-based constructor that selects a
// concrete backend from a URI, mirroring how the teacher wires a single
// Locker implementation into micron.New, generalized here into an
// automatic by-scheme registry instead of a hand-wired constructor.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cronxhq/cronx"
)

// Adapter is the full persistence contract: job CRUD, run CRUD and
// stats, and the three atomic lock primitives. Every method must behave
// identically across backends; only how atomicity is achieved differs.
type Adapter interface {
	// Connect acquires backend resources and creates any missing
	// schema idempotently. It must be safe to call once before first
	// use.
	Connect(ctx context.Context) error

	// Disconnect releases backend resources. It is safe to call more
	// than once.
	Disconnect(ctx context.Context) error

	// SaveJob upserts a job by name; last-writer-wins on concurrent
	// upserts of the same name.
	SaveJob(ctx context.Context, job *cronx.Job) error

	// GetJob returns the job named name, or cronx.ErrJobNotFound.
	GetJob(ctx context.Context, name string) (*cronx.Job, error)

	// ListJobs returns all jobs, in no particular cross-job order.
	ListJobs(ctx context.Context) ([]*cronx.Job, error)

	// DeleteJob removes the job and its runs. It returns true iff a
	// record existed.
	DeleteJob(ctx context.Context, name string) (bool, error)

	// PauseJob / ResumeJob flip IsPaused and bump UpdatedAt. They
	// return true iff a record existed; calling twice is idempotent.
	PauseJob(ctx context.Context, name string) (bool, error)
	ResumeJob(ctx context.Context, name string) (bool, error)

	// SaveJobRun upserts a run by ID — a pending -> running ->
	// completed sequence for the same attempt is one row, not three.
	SaveJobRun(ctx context.Context, run *cronx.JobRun) error

	// GetJobRun returns the run with the given id, or
	// cronx.ErrJobNotFound if none exists.
	GetJobRun(ctx context.Context, id string) (*cronx.JobRun, error)

	// GetJobRuns lists runs for jobName ordered by StartTime
	// descending (nil StartTime sorted last), ties broken by Attempt
	// descending. limit <= 0 means unbounded.
	GetJobRuns(ctx context.Context, jobName string, limit int) ([]*cronx.JobRun, error)

	// GetJobStats aggregates run outcomes. When jobName is empty,
	// stats are computed across all jobs and JobStats.LastRun/NextRun
	// are left nil.
	GetJobStats(ctx context.Context, jobName string) (*cronx.JobStats, error)

	// AcquireLock atomically takes the lock for jobName if it is
	// absent, expired, or already owned by workerID. On success the
	// stored record has WorkerID=workerID and ExpiresAt=now+ttl.
	AcquireLock(ctx context.Context, jobName, workerID string, ttl time.Duration) (bool, error)

	// ReleaseLock deletes the lock iff workerID matches; stale calls
	// are no-ops returning false.
	ReleaseLock(ctx context.Context, jobName, workerID string) (bool, error)

	// ExtendLock updates the lock's expiry iff workerID matches;
	// returns false if ownership was lost.
	ExtendLock(ctx context.Context, jobName, workerID string, ttl time.Duration) (bool, error)
}

// Open selects a backend by the scheme of uri and connects it.
//
//	memory://                 -> storage/memory
//	sqlite://PATH              -> storage/sqlite
//	postgres://... postgresql://... -> storage/postgres
//	redis://... rediss://...  -> storage/redis
//
// Open itself only dispatches; it is kept free of backend imports (each
// backend package registers itself via Register) so that a caller who
// only needs, say, memory storage does not have to link pgx or
// go-redis. cmd/front-ends wire backends in via blank imports, the way
// the teacher's example/main.go wires in its own RedisLocker explicitly.
func Open(ctx context.Context, uri string) (Adapter, error) {
	scheme, err := schemeOf(uri)
	if err != nil {
		return nil, err
	}

	factory, ok := registry[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", cronx.ErrUnsupportedStorage, scheme)
	}

	adapter, err := factory(uri)
	if err != nil {
		return nil, err
	}
	if err := adapter.Connect(ctx); err != nil {
		return nil, err
	}
	return adapter, nil
}

func schemeOf(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return "", fmt.Errorf("%w: %q", cronx.ErrUnsupportedStorage, uri)
	}
	return strings.ToLower(u.Scheme), nil
}

// Factory constructs an unconnected Adapter from a storage URI.
type Factory func(uri string) (Adapter, error)

var registry = map[string]Factory{}

// Register associates a URI scheme with a backend Factory. Backend
// packages call this from an init func so that importing the backend
// package (even with an underscore import) makes it available to Open.
func Register(scheme string, factory Factory) {
	registry[strings.ToLower(scheme)] = factory
}
