package scheduler_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/cronxhq/cronx"
	"github.com/cronxhq/cronx/scheduler"
)

type everySchedule struct {
	d time.Duration
}

func (s everySchedule) Next(after time.Time) time.Time {
	return after.Add(s.d)
}

func TestScheduler_FiresRepeatedly(t *testing.T) {
	s := scheduler.New(time.UTC)

	var count int32
	err := s.Add("job", everySchedule{d: time.Second}, func() {
		atomic.AddInt32(&count, 1)
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start()
	time.Sleep(3300 * time.Millisecond)
	s.Stop()

	got := atomic.LoadInt32(&count)
	if got < 3 {
		t.Fatalf("count: got %d, want >= 3", got)
	}
}

func TestScheduler_AddDuplicate(t *testing.T) {
	s := scheduler.New(time.UTC)

	if err := s.Add("job", everySchedule{d: time.Minute}, func() {}); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	err := s.Add("job", everySchedule{d: time.Minute}, func() {})
	if err != cronx.ErrAlreadyExists {
		t.Fatalf("second Add: got %v, want ErrAlreadyExists", err)
	}
}

func TestScheduler_RemoveDisarms(t *testing.T) {
	s := scheduler.New(time.UTC)

	var count int32
	s.Add("job", everySchedule{d: 200 * time.Millisecond}, func() { //nolint:errcheck
		atomic.AddInt32(&count, 1)
	})
	s.Start()

	time.Sleep(100 * time.Millisecond)
	s.Remove("job")

	after := atomic.LoadInt32(&count)
	time.Sleep(500 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != after {
		t.Fatalf("count advanced after Remove: got %d, want %d", got, after)
	}

	if _, ok := s.NextRun("job"); ok {
		t.Fatalf("NextRun: job still armed after Remove")
	}
}

func TestScheduler_StopPreventsRearm(t *testing.T) {
	s := scheduler.New(time.UTC)

	var count int32
	s.Add("job", everySchedule{d: 150 * time.Millisecond}, func() { //nolint:errcheck
		atomic.AddInt32(&count, 1)
	})
	s.Start()

	time.Sleep(50 * time.Millisecond)
	s.Stop()

	after := atomic.LoadInt32(&count)
	time.Sleep(400 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != after {
		t.Fatalf("count advanced after Stop: got %d, want %d", got, after)
	}
}

func TestScheduler_NextRunAdvances(t *testing.T) {
	s := scheduler.New(time.UTC)
	s.Add("job", everySchedule{d: 100 * time.Millisecond}, func() {}) //nolint:errcheck
	s.Start()
	defer s.Stop()

	first, ok := s.NextRun("job")
	if !ok {
		t.Fatalf("NextRun: job not armed")
	}

	time.Sleep(250 * time.Millisecond)

	second, ok := s.NextRun("job")
	if !ok {
		t.Fatalf("NextRun: job not armed")
	}
	if !second.After(first) {
		t.Fatalf("NextRun did not advance: first=%s second=%s", first, second)
	}
}
