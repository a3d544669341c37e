package recurrence

import (
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// onceSchedule fires a single time at `at` (or immediately if at is already
// past when first evaluated) and never again. A zero Next tells cron the
// entry is done.
type onceSchedule struct {
	at   time.Time
	used atomic.Bool
}

// Once returns a cron.Schedule that fires exactly once.
func Once(at time.Time) cron.Schedule {
	return &onceSchedule{at: at}
}

func (s *onceSchedule) Next(t time.Time) time.Time {
	if s.used.Swap(true) {
		return time.Time{}
	}
	if s.at.Before(t) {
		return t
	}
	return s.at
}
