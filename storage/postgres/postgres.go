// Package postgres is the networked SQL storage backend (spec.md
// §4.2/§6, "postgres://" / "postgresql://"), built on
// github.com/jackc/pgx/v5's pgxpool, modeled directly on
// ErlanBelekov-dist-job-scheduler's ScheduleRepository: $n placeholders,
// ON CONFLICT upserts, and a conditional WHERE clause for lock takeover.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cronxhq/cronx"
	"github.com/cronxhq/cronx/storage"
)

func init() {
	storage.Register("postgres", func(uri string) (storage.Adapter, error) {
		return New(uri), nil
	})
	storage.Register("postgresql", func(uri string) (storage.Adapter, error) {
		return New(uri), nil
	})
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	name TEXT PRIMARY KEY,
	schedule TEXT NOT NULL,
	options JSONB NOT NULL,
	is_active BOOLEAN NOT NULL,
	is_paused BOOLEAN NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	last_run TIMESTAMPTZ,
	next_run TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS job_runs (
	id TEXT PRIMARY KEY,
	job_name TEXT NOT NULL,
	status TEXT NOT NULL,
	start_time TIMESTAMPTZ,
	end_time TIMESTAMPTZ,
	error TEXT,
	result JSONB,
	attempt INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS locks (
	job_name TEXT PRIMARY KEY,
	worker_id TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_job_runs_job_name ON job_runs(job_name);
CREATE INDEX IF NOT EXISTS idx_job_runs_start_time ON job_runs(start_time);
CREATE INDEX IF NOT EXISTS idx_locks_expires_at ON locks(expires_at);
`

// Store is the storage.Adapter implementation backed by PostgreSQL.
type Store struct {
	dsn  string
	pool *pgxpool.Pool
}

// New returns an unconnected Store targeting the PostgreSQL instance at
// dsn (a postgres:// connection string).
func New(dsn string) *Store {
	return &Store{dsn: dsn}
}

func (s *Store) Connect(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, s.dsn)
	if err != nil {
		return &cronx.StorageError{Op: "connect", Err: err, Unavailable: true}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return &cronx.StorageError{Op: "connect", Err: err, Unavailable: true}
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return &cronx.StorageError{Op: "connect", Err: err}
	}
	s.pool = pool
	return nil
}

func (s *Store) Disconnect(ctx context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) SaveJob(ctx context.Context, job *cronx.Job) error {
	opts, err := json.Marshal(job.Options)
	if err != nil {
		return &cronx.StorageError{Op: "save job", Err: err}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (name, schedule, options, is_active, is_paused, created_at, updated_at, last_run, next_run)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name) DO UPDATE SET
			schedule = EXCLUDED.schedule, options = EXCLUDED.options,
			is_active = EXCLUDED.is_active, is_paused = EXCLUDED.is_paused,
			updated_at = EXCLUDED.updated_at, last_run = EXCLUDED.last_run, next_run = EXCLUDED.next_run`,
		job.Name, job.Schedule, opts, job.IsActive, job.IsPaused,
		job.CreatedAt.UTC(), job.UpdatedAt.UTC(), job.LastRun, job.NextRun,
	)
	if err != nil {
		return &cronx.StorageError{Op: "save job", Err: err}
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, name string) (*cronx.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT name, schedule, options, is_active, is_paused, created_at, updated_at, last_run, next_run
		FROM jobs WHERE name = $1`, name)
	return scanJob(row)
}

func (s *Store) ListJobs(ctx context.Context) ([]*cronx.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, schedule, options, is_active, is_paused, created_at, updated_at, last_run, next_run
		FROM jobs`)
	if err != nil {
		return nil, &cronx.StorageError{Op: "list jobs", Err: err}
	}
	defer rows.Close()

	var out []*cronx.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) DeleteJob(ctx context.Context, name string) (bool, error) {
	if _, err := s.pool.Exec(ctx, `DELETE FROM job_runs WHERE job_name = $1`, name); err != nil {
		return false, &cronx.StorageError{Op: "delete job", Err: err}
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE name = $1`, name)
	if err != nil {
		return false, &cronx.StorageError{Op: "delete job", Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) setPaused(ctx context.Context, name string, paused bool) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET is_paused = $2, updated_at = $3 WHERE name = $1`,
		name, paused, time.Now().UTC())
	if err != nil {
		return false, &cronx.StorageError{Op: "set paused", Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) PauseJob(ctx context.Context, name string) (bool, error) {
	return s.setPaused(ctx, name, true)
}

func (s *Store) ResumeJob(ctx context.Context, name string) (bool, error) {
	return s.setPaused(ctx, name, false)
}

func (s *Store) SaveJobRun(ctx context.Context, run *cronx.JobRun) error {
	var result []byte
	if run.Result != nil {
		b, err := json.Marshal(run.Result)
		if err != nil {
			return &cronx.StorageError{Op: "save job run", Err: err}
		}
		result = b
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_runs (id, job_name, status, start_time, end_time, error, result, attempt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status, start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time,
			error = EXCLUDED.error, result = EXCLUDED.result, attempt = EXCLUDED.attempt`,
		run.ID, run.JobName, string(run.Status), run.StartTime, run.EndTime, run.Error, result, run.Attempt,
	)
	if err != nil {
		return &cronx.StorageError{Op: "save job run", Err: err}
	}
	return nil
}

func (s *Store) GetJobRun(ctx context.Context, id string) (*cronx.JobRun, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, job_name, status, start_time, end_time, error, result, attempt
		FROM job_runs WHERE id = $1`, id)
	return scanJobRun(row)
}

func (s *Store) GetJobRuns(ctx context.Context, jobName string, limit int) ([]*cronx.JobRun, error) {
	query := `
		SELECT id, job_name, status, start_time, end_time, error, result, attempt
		FROM job_runs WHERE job_name = $1
		ORDER BY start_time DESC NULLS LAST, attempt DESC`
	args := []any{jobName}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &cronx.StorageError{Op: "list job runs", Err: err}
	}
	defer rows.Close()

	var out []*cronx.JobRun
	for rows.Next() {
		r, err := scanJobRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetJobStats(ctx context.Context, jobName string) (*cronx.JobStats, error) {
	stats := &cronx.JobStats{JobName: jobName}

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			AVG(EXTRACT(EPOCH FROM (end_time - start_time)) * 1000)
				FILTER (WHERE start_time IS NOT NULL AND end_time IS NOT NULL)
		FROM job_runs`
	args := []any{}
	if jobName != "" {
		query += ` WHERE job_name = $1`
		args = append(args, jobName)
	}

	var total, successful, failed int64
	var avgMS *float64
	row := s.pool.QueryRow(ctx, query, args...)
	if err := row.Scan(&total, &successful, &failed, &avgMS); err != nil {
		return nil, &cronx.StorageError{Op: "get job stats", Err: err}
	}

	stats.TotalRuns = int(total)
	stats.SuccessfulRuns = int(successful)
	stats.FailedRuns = int(failed)
	if avgMS != nil {
		stats.AverageDuration = time.Duration(*avgMS) * time.Millisecond
	}

	if jobName != "" {
		job, err := s.GetJob(ctx, jobName)
		if err == nil {
			stats.LastRun = job.LastRun
			stats.NextRun = job.NextRun
		} else if !errors.Is(err, cronx.ErrJobNotFound) {
			return nil, err
		}
	}

	return stats, nil
}

// AcquireLock takes the lock for jobName iff it is absent, expired, or
// already owned by workerID — expressed as a single conditional UPSERT,
// the pattern ErlanBelekov-dist-job-scheduler's SetPaused uses for its
// own conditional WHERE-guarded UPDATE.
func (s *Store) AcquireLock(ctx context.Context, jobName, workerID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO locks (job_name, worker_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_name) DO UPDATE SET
			worker_id = EXCLUDED.worker_id, expires_at = EXCLUDED.expires_at
		WHERE locks.expires_at <= $4 OR locks.worker_id = $2`,
		jobName, workerID, expiresAt, now)
	if err != nil {
		return false, &cronx.StorageError{Op: "acquire lock", Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ReleaseLock(ctx context.Context, jobName, workerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM locks WHERE job_name = $1 AND worker_id = $2`, jobName, workerID)
	if err != nil {
		return false, &cronx.StorageError{Op: "release lock", Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ExtendLock(ctx context.Context, jobName, workerID string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE locks SET expires_at = $3 WHERE job_name = $1 AND worker_id = $2`,
		jobName, workerID, time.Now().Add(ttl).UTC())
	if err != nil {
		return false, &cronx.StorageError{Op: "extend lock", Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*cronx.Job, error) {
	var j cronx.Job
	var opts []byte

	err := row.Scan(&j.Name, &j.Schedule, &opts, &j.IsActive, &j.IsPaused,
		&j.CreatedAt, &j.UpdatedAt, &j.LastRun, &j.NextRun)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cronx.ErrJobNotFound
		}
		return nil, &cronx.StorageError{Op: "scan job", Err: err}
	}

	if len(opts) > 0 {
		if err := json.Unmarshal(opts, &j.Options); err != nil {
			return nil, &cronx.StorageError{Op: "scan job", Err: err}
		}
	}
	return &j, nil
}

func scanJobRun(row rowScanner) (*cronx.JobRun, error) {
	var r cronx.JobRun
	var status string
	var result []byte

	err := row.Scan(&r.ID, &r.JobName, &status, &r.StartTime, &r.EndTime, &r.Error, &result, &r.Attempt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cronx.ErrJobNotFound
		}
		return nil, &cronx.StorageError{Op: "scan job run", Err: err}
	}

	r.Status = cronx.RunStatus(status)
	if len(result) > 0 {
		var v any
		if err := json.Unmarshal(result, &v); err == nil {
			r.Result = v
		}
	}
	return &r, nil
}

var _ storage.Adapter = (*Store)(nil)
