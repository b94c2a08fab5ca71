// Package scheduler is the Scheduler component (spec.md §4.4): it owns
// one self-rearming timer per active job and hands firing jobs off to a
// caller-supplied closure. The per-job timer state machine is a direct
// generalization of the teacher's job type in cron.go — an
// unsafe.Pointer-swapped *time.Timer guarded by an atomic stopped flag,
// rearmed from inside its own AfterFunc callback — with the schedule
// oracle swapped from micron's cron.Schedule to this module's own
// schedule.Schedule, and the fixed "obtain lock, run task" body replaced
// by an opaque fire callback so the Scheduler stays ignorant of locking,
// execution, and retries (those live in lock and executor).
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/cronxhq/cronx"
	"github.com/cronxhq/cronx/schedule"
)

// FireFunc is invoked, on its own goroutine, every time a job's
// schedule indicates it should run. The Scheduler does not wait for it
// to return before rearming the next timer.
type FireFunc func()

type entry struct {
	name     string
	schedule schedule.Schedule
	zone     *time.Location
	fire     FireFunc

	timer   unsafe.Pointer // *time.Timer
	stopped int32

	nextMu  sync.Mutex
	nextRun time.Time
}

func (e *entry) arm(after time.Time) {
	next := e.schedule.Next(after)

	e.nextMu.Lock()
	e.nextRun = next
	e.nextMu.Unlock()

	d := time.Until(next)
	if d < 0 {
		// Catch-up: the computed fire is already in the past (a long
		// stall). Fire immediately rather than burst-firing every
		// missed slot — at most one catch-up invocation per stall.
		d = 0
	}

	t := time.AfterFunc(d, func() {
		if atomic.LoadInt32(&e.stopped) == 1 {
			return
		}
		// Rearm from now, not from the missed instant: a schedule.Next
		// computed from `next` after a long stall is still in the past,
		// which would clamp to d=0 and fire again immediately, bursting
		// one fire per missed slot instead of a single catch-up fire.
		e.arm(time.Now().In(e.zone))
		go e.fire()
	})
	atomic.StorePointer(&e.timer, unsafe.Pointer(t))
}

func (e *entry) disarm() {
	atomic.StoreInt32(&e.stopped, 1)
	t := (*time.Timer)(atomic.LoadPointer(&e.timer))
	if t != nil {
		t.Stop()
	}
}

func (e *entry) NextRun() time.Time {
	e.nextMu.Lock()
	defer e.nextMu.Unlock()
	return e.nextRun
}

// Scheduler maintains a mapping from job name to armed timer.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*entry
	zone    *time.Location
	running bool
}

// New returns a Scheduler whose timers are computed in zone. A nil zone
// means the process's local zone.
func New(zone *time.Location) *Scheduler {
	if zone == nil {
		zone = time.Local
	}
	return &Scheduler{
		entries: make(map[string]*entry),
		zone:    zone,
	}
}

// Add arms a timer for name using sched, invoking fire on each
// expiration. It returns cronx.ErrAlreadyExists if name is already
// armed. Adding while the Scheduler is running arms the timer
// immediately; adding before Start only registers it (Start arms
// everything registered at once).
func (s *Scheduler) Add(name string, sched schedule.Schedule, fire FireFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[name]; exists {
		return cronx.ErrAlreadyExists
	}

	e := &entry{name: name, schedule: sched, zone: s.zone, fire: fire}
	s.entries[name] = e
	if s.running {
		e.arm(time.Now().In(s.zone))
	}
	return nil
}

// Remove disarms and forgets name's timer. It is a no-op if name is not
// currently armed.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return
	}
	e.disarm()
	delete(s.entries, name)
}

// Len reports how many jobs are currently armed.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// NextRun reports the next instant name is scheduled to fire, and
// whether name is currently armed at all.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return e.NextRun(), true
}

// Start arms every currently-registered job's timer. Calling Start
// again after jobs have been added is safe; only unarmed entries are
// armed.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().In(s.zone)
	s.running = true
	for _, e := range s.entries {
		if atomic.LoadPointer(&e.timer) == nil || atomic.LoadInt32(&e.stopped) == 1 {
			atomic.StoreInt32(&e.stopped, 0)
			e.arm(now)
		}
	}
}

// Stop disarms every timer. In-flight fires that have already left the
// Scheduler (handed to the fire callback) are NOT cancelled; only
// rearming is prevented.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	for _, e := range s.entries {
		e.disarm()
	}
}
