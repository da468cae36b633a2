package engine

import (
	"log/slog"
	"time"
)

type job struct {
	name     string
	interval time.Duration
	next     time.Duration
	fn       func()
}

// Schedule fires repeating handlers on simulated time. Handlers due at the
// same instant run in registration order.
type Schedule struct {
	jobs []*job
}

// Every registers fn to run first at simulated time first, then every interval.
// A non-positive interval is clamped to one nanosecond so Advance always terminates.
func (s *Schedule) Every(name string, first, interval time.Duration, fn func()) {
	if interval <= 0 {
		interval = time.Nanosecond
	}
	s.jobs = append(s.jobs, &job{name: name, interval: interval, next: first, fn: fn})
}

// Advance runs every firing due at or before now, earliest first, and
// returns how many handlers ran.
func (s *Schedule) Advance(now time.Duration) int {
	fired := 0
	for {
		var due *job
		for _, j := range s.jobs {
			if j.next > now {
				continue
			}
			if due == nil || j.next < due.next {
				due = j
			}
		}
		if due == nil {
			return fired
		}

		slog.Debug("scheduled job firing", "job", due.name, "at", due.next)
		due.next += due.interval
		due.fn()
		fired++
	}
}

// Next returns the earliest pending due time, or false when nothing is scheduled.
func (s *Schedule) Next() (time.Duration, bool) {
	if len(s.jobs) == 0 {
		return 0, false
	}
	next := s.jobs[0].next
	for _, j := range s.jobs[1:] {
		if j.next < next {
			next = j.next
		}
	}
	return next, true
}
