// Package redis is the networked KV storage backend (spec.md §4.2/§6,
// "redis://" / "rediss://"), using the `cronx:` namespace convention the
// spec mandates and github.com/go-redis/redis/v8 — the same major
// version the teacher's own redislocker package already depends on.
//
// The lock primitive leans on github.com/bsm/redislock (the teacher's
// locking dependency) for the fresh-acquire fast path: Obtain performs
// exactly the `SET key value NX PX ttl` the spec calls for, with the
// lock value set to the caller's workerID via the Token option instead
// of a random token, so later calls can compare by identity. Release and
// extend are compare-and-delete/compare-and-expire Lua scripts executed
// directly against the same key, since the Go *redislock.Lock handle
// returned by Obtain doesn't survive across the storage.Adapter's
// stateless ReleaseLock/ExtendLock calls (spec.md §4.2 requires these run
// as a single atomic server-side script, which is what both the
// redislock path and the raw scripts below provide).
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/bsm/redislock"
	goredis "github.com/go-redis/redis/v8"

	"github.com/cronxhq/cronx"
	"github.com/cronxhq/cronx/storage"
)

func init() {
	storage.Register("redis", func(uri string) (storage.Adapter, error) {
		return New(uri), nil
	})
	storage.Register("rediss", func(uri string) (storage.Adapter, error) {
		return New(uri), nil
	})
}

const (
	namespace      = "cronx:"
	maxRunsPerJob  = 100
	releaseScript  = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
	extendScript   = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("pexpire", KEYS[1], ARGV[2]) else return 0 end`
)

// Store is the storage.Adapter implementation backed by Redis.
type Store struct {
	addr   string
	client *goredis.Client
	locker *redislock.Client
}

// New returns an unconnected Store targeting the Redis instance at uri
// (a redis:// or rediss:// URL).
func New(uri string) *Store {
	return &Store{addr: uri}
}

func (s *Store) Connect(ctx context.Context) error {
	opts, err := goredis.ParseURL(s.addr)
	if err != nil {
		return &cronx.StorageError{Op: "connect", Err: err, Unavailable: true}
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return &cronx.StorageError{Op: "connect", Err: err, Unavailable: true}
	}
	s.client = client
	s.locker = redislock.New(client)
	return nil
}

func (s *Store) Disconnect(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func jobKey(name string) string  { return namespace + "job:" + name }
func jobsKey() string            { return namespace + "jobs" }
func runKey(id string) string    { return namespace + "run:" + id }
func runsKey(job string) string  { return namespace + "runs:" + job }
func lockKey(job string) string  { return namespace + "lock:" + job }

func (s *Store) SaveJob(ctx context.Context, job *cronx.Job) error {
	opts, err := json.Marshal(job.Options)
	if err != nil {
		return &cronx.StorageError{Op: "save job", Err: err}
	}

	fields := map[string]any{
		"name":       job.Name,
		"schedule":   job.Schedule,
		"options":    string(opts),
		"is_active":  formatBool(job.IsActive),
		"is_paused":  formatBool(job.IsPaused),
		"created_at": job.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": job.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if job.LastRun != nil {
		fields["last_run"] = job.LastRun.UTC().Format(time.RFC3339Nano)
	}
	if job.NextRun != nil {
		fields["next_run"] = job.NextRun.UTC().Format(time.RFC3339Nano)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(job.Name), fields)
	pipe.SAdd(ctx, jobsKey(), job.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return &cronx.StorageError{Op: "save job", Err: err}
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, name string) (*cronx.Job, error) {
	vals, err := s.client.HGetAll(ctx, jobKey(name)).Result()
	if err != nil {
		return nil, &cronx.StorageError{Op: "get job", Err: err}
	}
	if len(vals) == 0 {
		return nil, cronx.ErrJobNotFound
	}
	return decodeJob(name, vals)
}

func (s *Store) ListJobs(ctx context.Context) ([]*cronx.Job, error) {
	names, err := s.client.SMembers(ctx, jobsKey()).Result()
	if err != nil {
		return nil, &cronx.StorageError{Op: "list jobs", Err: err}
	}

	out := make([]*cronx.Job, 0, len(names))
	for _, name := range names {
		job, err := s.GetJob(ctx, name)
		if err != nil {
			if errors.Is(err, cronx.ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

func (s *Store) DeleteJob(ctx context.Context, name string) (bool, error) {
	runIDs, err := s.client.LRange(ctx, runsKey(name), 0, -1).Result()
	if err != nil {
		return false, &cronx.StorageError{Op: "delete job", Err: err}
	}

	pipe := s.client.TxPipeline()
	for _, id := range runIDs {
		pipe.Del(ctx, runKey(id))
	}
	pipe.Del(ctx, runsKey(name))
	existed := pipe.Exists(ctx, jobKey(name))
	pipe.Del(ctx, jobKey(name))
	pipe.SRem(ctx, jobsKey(), name)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, &cronx.StorageError{Op: "delete job", Err: err}
	}

	return existed.Val() > 0, nil
}

func (s *Store) setPaused(ctx context.Context, name string, paused bool) (bool, error) {
	exists, err := s.client.Exists(ctx, jobKey(name)).Result()
	if err != nil {
		return false, &cronx.StorageError{Op: "set paused", Err: err}
	}
	if exists == 0 {
		return false, nil
	}

	err = s.client.HSet(ctx, jobKey(name), map[string]any{
		"is_paused":  formatBool(paused),
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return false, &cronx.StorageError{Op: "set paused", Err: err}
	}
	return true, nil
}

func (s *Store) PauseJob(ctx context.Context, name string) (bool, error) {
	return s.setPaused(ctx, name, true)
}

func (s *Store) ResumeJob(ctx context.Context, name string) (bool, error) {
	return s.setPaused(ctx, name, false)
}

func (s *Store) SaveJobRun(ctx context.Context, run *cronx.JobRun) error {
	fields := map[string]any{
		"id":       run.ID,
		"job_name": run.JobName,
		"status":   string(run.Status),
		"attempt":  strconv.Itoa(run.Attempt),
		"error":    run.Error,
	}
	if run.StartTime != nil {
		fields["start_time"] = run.StartTime.UTC().Format(time.RFC3339Nano)
	}
	if run.EndTime != nil {
		fields["end_time"] = run.EndTime.UTC().Format(time.RFC3339Nano)
	}
	if run.Result != nil {
		b, err := json.Marshal(run.Result)
		if err != nil {
			return &cronx.StorageError{Op: "save job run", Err: err}
		}
		fields["result"] = string(b)
	}

	isNew, err := s.client.Exists(ctx, runKey(run.ID)).Result()
	if err != nil {
		return &cronx.StorageError{Op: "save job run", Err: err}
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, runKey(run.ID), fields)
	if isNew == 0 {
		// First time this attempt's id is seen: push it onto the
		// per-job recency list and trim to the 100 most recent, per
		// the spec's KV namespace convention.
		pipe.LPush(ctx, runsKey(run.JobName), run.ID)
		pipe.LTrim(ctx, runsKey(run.JobName), 0, maxRunsPerJob-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &cronx.StorageError{Op: "save job run", Err: err}
	}
	return nil
}

func (s *Store) GetJobRun(ctx context.Context, id string) (*cronx.JobRun, error) {
	vals, err := s.client.HGetAll(ctx, runKey(id)).Result()
	if err != nil {
		return nil, &cronx.StorageError{Op: "get job run", Err: err}
	}
	if len(vals) == 0 {
		return nil, cronx.ErrJobNotFound
	}
	return decodeJobRun(vals)
}

func (s *Store) GetJobRuns(ctx context.Context, jobName string, limit int) ([]*cronx.JobRun, error) {
	ids, err := s.client.LRange(ctx, runsKey(jobName), 0, -1).Result()
	if err != nil {
		return nil, &cronx.StorageError{Op: "list job runs", Err: err}
	}

	runs := make([]*cronx.JobRun, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetJobRun(ctx, id)
		if err != nil {
			if errors.Is(err, cronx.ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		runs = append(runs, r)
	}

	sort.Slice(runs, func(i, j int) bool {
		a, b := runs[i], runs[j]
		switch {
		case a.StartTime == nil && b.StartTime == nil:
			return a.Attempt > b.Attempt
		case a.StartTime == nil:
			return false
		case b.StartTime == nil:
			return true
		case !a.StartTime.Equal(*b.StartTime):
			return a.StartTime.After(*b.StartTime)
		default:
			return a.Attempt > b.Attempt
		}
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *Store) GetJobStats(ctx context.Context, jobName string) (*cronx.JobStats, error) {
	stats := &cronx.JobStats{JobName: jobName}

	var jobNames []string
	if jobName != "" {
		jobNames = []string{jobName}
	} else {
		names, err := s.client.SMembers(ctx, jobsKey()).Result()
		if err != nil {
			return nil, &cronx.StorageError{Op: "get job stats", Err: err}
		}
		jobNames = names
	}

	var totalDuration time.Duration
	var durationSamples int
	for _, name := range jobNames {
		runs, err := s.GetJobRuns(ctx, name, 0)
		if err != nil {
			return nil, err
		}
		for _, r := range runs {
			stats.TotalRuns++
			switch r.Status {
			case cronx.RunCompleted:
				stats.SuccessfulRuns++
			case cronx.RunFailed:
				stats.FailedRuns++
			}
			if r.StartTime != nil && r.EndTime != nil {
				totalDuration += r.EndTime.Sub(*r.StartTime)
				durationSamples++
			}
		}
	}
	if durationSamples > 0 {
		stats.AverageDuration = totalDuration / time.Duration(durationSamples)
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

// AcquireLock performs SET key workerID NX PX ttl via redislock's Obtain
// (using workerID as the stored value, not a random token) for the
// fresh-or-expired case. When the key is already held, it falls back to
// a compare-and-expire script to cover reentrant acquisition by the
// current owner (spec.md §4.2 case (c)).
func (s *Store) AcquireLock(ctx context.Context, jobName, workerID string, ttl time.Duration) (bool, error) {
	key := lockKey(jobName)

	_, err := s.locker.Obtain(ctx, key, ttl, &redislock.Options{Token: workerID})
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, redislock.ErrNotObtained) {
		return false, &cronx.StorageError{Op: "acquire lock", Err: err}
	}

	// Key exists; take it over only if we already own it.
	n, err := s.client.Eval(ctx, extendScript, []string{key}, workerID, strconv.FormatInt(ttl.Milliseconds(), 10)).Int64()
	if err != nil {
		return false, &cronx.StorageError{Op: "acquire lock", Err: err}
	}
	return n == 1, nil
}

func (s *Store) ReleaseLock(ctx context.Context, jobName, workerID string) (bool, error) {
	n, err := s.client.Eval(ctx, releaseScript, []string{lockKey(jobName)}, workerID).Int64()
	if err != nil {
		return false, &cronx.StorageError{Op: "release lock", Err: err}
	}
	return n == 1, nil
}

func (s *Store) ExtendLock(ctx context.Context, jobName, workerID string, ttl time.Duration) (bool, error) {
	n, err := s.client.Eval(ctx, extendScript, []string{lockKey(jobName)}, workerID, strconv.FormatInt(ttl.Milliseconds(), 10)).Int64()
	if err != nil {
		return false, &cronx.StorageError{Op: "extend lock", Err: err}
	}
	return n == 1, nil
}

func decodeJob(name string, vals map[string]string) (*cronx.Job, error) {
	j := &cronx.Job{Name: name}
	j.Schedule = vals["schedule"]
	j.IsActive = vals["is_active"] == "1"
	j.IsPaused = vals["is_paused"] == "1"

	if v, ok := vals["options"]; ok && v != "" {
		if err := json.Unmarshal([]byte(v), &j.Options); err != nil {
			return nil, &cronx.StorageError{Op: "decode job", Err: err}
		}
	}

	var err error
	if j.CreatedAt, err = parseTime(vals["created_at"]); err != nil {
		return nil, &cronx.StorageError{Op: "decode job", Err: err}
	}
	if j.UpdatedAt, err = parseTime(vals["updated_at"]); err != nil {
		return nil, &cronx.StorageError{Op: "decode job", Err: err}
	}
	if v, ok := vals["last_run"]; ok && v != "" {
		t, err := parseTime(v)
		if err != nil {
			return nil, &cronx.StorageError{Op: "decode job", Err: err}
		}
		j.LastRun = &t
	}
	if v, ok := vals["next_run"]; ok && v != "" {
		t, err := parseTime(v)
		if err != nil {
			return nil, &cronx.StorageError{Op: "decode job", Err: err}
		}
		j.NextRun = &t
	}
	return j, nil
}

func decodeJobRun(vals map[string]string) (*cronx.JobRun, error) {
	r := &cronx.JobRun{
		ID:      vals["id"],
		JobName: vals["job_name"],
		Status:  cronx.RunStatus(vals["status"]),
		Error:   vals["error"],
	}

	if v, ok := vals["attempt"]; ok && v != "" {
		attempt, err := strconv.Atoi(v)
		if err != nil {
			return nil, &cronx.StorageError{Op: "decode job run", Err: err}
		}
		r.Attempt = attempt
	}
	if v, ok := vals["start_time"]; ok && v != "" {
		t, err := parseTime(v)
		if err != nil {
			return nil, &cronx.StorageError{Op: "decode job run", Err: err}
		}
		r.StartTime = &t
	}
	if v, ok := vals["end_time"]; ok && v != "" {
		t, err := parseTime(v)
		if err != nil {
			return nil, &cronx.StorageError{Op: "decode job run", Err: err}
		}
		r.EndTime = &t
	}
	if v, ok := vals["result"]; ok && v != "" {
		var res any
		if err := json.Unmarshal([]byte(v), &res); err == nil {
			r.Result = res
		}
	}
	return r, nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

var _ storage.Adapter = (*Store)(nil)
