// Package memory is the ephemeral storage backend (spec.md §4.2, "memory://").
// It generalizes the teacher's SemaphoreLocker — which already takes a
// lock under a single synchronized map access instead of check-then-write
// — into the full storage.Adapter contract, with one RWMutex guarding
// jobs and runs and a separate mutex guarding locks, so lock operations
// never block job/run reads.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cronxhq/cronx"
	"github.com/cronxhq/cronx/storage"
)

func init() {
	storage.Register("memory", func(uri string) (storage.Adapter, error) {
		return New(), nil
	})
}

// Store is the in-process storage.Adapter implementation.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*cronx.Job
	runs map[string]*cronx.JobRun

	lockMu sync.Mutex
	locks  map[string]*cronx.Lock
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		jobs:  make(map[string]*cronx.Job),
		runs:  make(map[string]*cronx.JobRun),
		locks: make(map[string]*cronx.Lock),
	}
}

func (s *Store) Connect(ctx context.Context) error    { return nil }
func (s *Store) Disconnect(ctx context.Context) error { return nil }

func (s *Store) SaveJob(ctx context.Context, job *cronx.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = job.Clone()
	return nil
}

func (s *Store) GetJob(ctx context.Context, name string) (*cronx.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[name]
	if !ok {
		return nil, cronx.ErrJobNotFound
	}
	return j.Clone(), nil
}

func (s *Store) ListJobs(ctx context.Context) ([]*cronx.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*cronx.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.Clone())
	}
	return out, nil
}

func (s *Store) DeleteJob(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; !ok {
		return false, nil
	}
	delete(s.jobs, name)
	for id, r := range s.runs {
		if r.JobName == name {
			delete(s.runs, id)
		}
	}
	return true, nil
}

func (s *Store) setPaused(name string, paused bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return false, nil
	}
	j.IsPaused = paused
	j.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) PauseJob(ctx context.Context, name string) (bool, error) {
	return s.setPaused(name, true)
}

func (s *Store) ResumeJob(ctx context.Context, name string) (bool, error) {
	return s.setPaused(name, false)
}

func (s *Store) SaveJobRun(ctx context.Context, run *cronx.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *Store) GetJobRun(ctx context.Context, id string) (*cronx.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, cronx.ErrJobNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) GetJobRuns(ctx context.Context, jobName string, limit int) ([]*cronx.JobRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*cronx.JobRun
	for _, r := range s.runs {
		if r.JobName == jobName {
			cp := *r
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
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

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetJobStats(ctx context.Context, jobName string) (*cronx.JobStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &cronx.JobStats{JobName: jobName}
	var totalDuration time.Duration
	var durationSamples int

	for _, r := range s.runs {
		if jobName != "" && r.JobName != jobName {
			continue
		}
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
	if durationSamples > 0 {
		stats.AverageDuration = totalDuration / time.Duration(durationSamples)
	}

	if jobName != "" {
		if j, ok := s.jobs[jobName]; ok {
			stats.LastRun = j.LastRun
			stats.NextRun = j.NextRun
		}
	}

	return stats, nil
}

func (s *Store) AcquireLock(ctx context.Context, jobName, workerID string, ttl time.Duration) (bool, error) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	now := time.Now()
	existing, ok := s.locks[jobName]
	if ok && !existing.Expired(now) && existing.WorkerID != workerID {
		return false, nil
	}

	s.locks[jobName] = &cronx.Lock{
		JobName:   jobName,
		WorkerID:  workerID,
		ExpiresAt: now.Add(ttl),
	}
	return true, nil
}

func (s *Store) ReleaseLock(ctx context.Context, jobName, workerID string) (bool, error) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	existing, ok := s.locks[jobName]
	if !ok || existing.WorkerID != workerID {
		return false, nil
	}
	delete(s.locks, jobName)
	return true, nil
}

func (s *Store) ExtendLock(ctx context.Context, jobName, workerID string, ttl time.Duration) (bool, error) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	existing, ok := s.locks[jobName]
	if !ok || existing.WorkerID != workerID {
		return false, nil
	}
	existing.ExpiresAt = time.Now().Add(ttl)
	return true, nil
}

var _ storage.Adapter = (*Store)(nil)
