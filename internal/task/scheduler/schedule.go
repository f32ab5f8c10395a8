package scheduler

import (
	"sync"
	"time"

	"cartobot/internal/timekeeper"
)

// dailySchedule is a cron.Schedule that fires once a day at hour:00:00.
//
// The first Next call may return its argument unchanged, so a job registered
// exactly at its target instant fires immediately. Later calls always return an
// instant strictly after the argument, so one fire never repeats.
type dailySchedule struct {
	hour int

	mu      sync.Mutex
	started bool
}

func newDailySchedule(hour int) *dailySchedule {
	return &dailySchedule{hour: hour}
}

func (d *dailySchedule) Next(t time.Time) time.Time {
	d.mu.Lock()
	first := !d.started
	d.started = true
	d.mu.Unlock()

	next := timekeeper.NextOccurrence(t, d.hour)
	if !first && !next.After(t) {
		next = timekeeper.NextOccurrence(t.Add(time.Second), d.hour)
	}
	return next
}
