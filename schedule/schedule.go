// Package schedule is the Clock & Cron Oracle (spec.md §4.1): pure time
// utilities that turn a cron expression into firing instants. Expression
// parsing itself is delegated to github.com/gorhill/cronexpr, exactly as
// the teacher's cron.Parse does — this package only adds the "oracle"
// surface (Next / Upcoming / monotonic sequences) the spec requires on
// top of it.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
)

// Schedule yields the next firing instant strictly after a given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

// Parse parses a cron expression. Two forms are accepted:
//
//  1. "@every <duration>", where <duration> is accepted by
//     time.ParseDuration — kept verbatim from the teacher's own
//     convenience syntax.
//  2. A standard cron expression, 5, 6 (with seconds) or 7 (with a
//     trailing year) fields, delegated to cronexpr.
//
// Parse returns an error if expr is empty or unparseable; callers in the
// cronx package wrap it as *cronx.InvalidScheduleError.
func Parse(expr string) (Schedule, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("empty schedule expression")
	}

	const everyPrefix = "@every"
	if strings.HasPrefix(expr, everyPrefix) {
		s := strings.TrimSpace(strings.TrimPrefix(expr, everyPrefix))
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, err
		}
		return every(d), nil
	}

	// cronexpr reads a six-field expression as minute..year; append a
	// year wildcard so the first of six fields is read as seconds.
	if len(strings.Fields(expr)) == 6 {
		expr += " *"
	}
	cx, err := cronexpr.Parse(expr)
	if err != nil {
		return nil, err
	}
	return cronSchedule{cx}, nil
}

// MustParse is like Parse but panics on error. It is intended for
// call sites (tests, examples) that already know the expression is
// valid.
func MustParse(expr string) Schedule {
	s, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return s
}

type cronSchedule struct {
	cx *cronexpr.Expression
}

func (s cronSchedule) Next(after time.Time) time.Time {
	return s.cx.Next(after)
}

// everySchedule activates once every duration, truncated down to a
// multiple of one second (durations below a second are rounded up to
// one, per the teacher's Every and the spec's "no sub-second
// scheduling" non-goal).
type everySchedule struct {
	d time.Duration
}

func every(d time.Duration) Schedule {
	d = d.Truncate(time.Second)
	if d <= 0 {
		d = time.Second
	}
	return everySchedule{d: d}
}

func (s everySchedule) Next(after time.Time) time.Time {
	return after.Add(s.d).Truncate(time.Second)
}

// Now returns the current instant. It exists so components depend on an
// indirection point rather than calling time.Now() directly, matching
// the spec's "now()" oracle primitive.
func Now() time.Time {
	return time.Now()
}

// NextFire returns the next instant, strictly after afterInstant, at
// which expression fires in the given zone. When zone is nil, the
// process's local zone is used.
func NextFire(expr string, afterInstant time.Time, zone *time.Location) (time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	if zone == nil {
		zone = time.Local
	}
	afterInstant = afterInstant.In(zone)
	return s.Next(afterInstant).In(zone), nil
}

// UpcomingFires returns the next n instants for expression after
// afterInstant, each strictly greater than the previous — the
// monotonicity property required by spec.md §4.1 and §8.
func UpcomingFires(expr string, afterInstant time.Time, zone *time.Location, n int) ([]time.Time, error) {
	s, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	if zone != nil {
		afterInstant = afterInstant.In(zone)
	}

	out := make([]time.Time, 0, n)
	cur := afterInstant
	for i := 0; i < n; i++ {
		next := s.Next(cur)
		out = append(out, next)
		cur = next
	}
	return out, nil
}
