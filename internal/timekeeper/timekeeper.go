// Package timekeeper computes delays until the next wall-clock hour.
//
// All functions are pure given a clock reading; callers pass the reading in so
// tests can drive a simulated clock.
package timekeeper

import "time"

const secondsPerDay = 24 * 60 * 60

// Clock is the time source used by the scheduler.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock, optionally in a fixed location.
type SystemClock struct {
	Loc *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Loc != nil {
		return time.Now().In(c.Loc)
	}
	return time.Now()
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// NextOccurrence returns the next instant at hour:00:00 in now's location.
// A reading exactly at hour:00:00 is not yet past and returns now itself.
func NextOccurrence(now time.Time, hour int) time.Time {
	hour = ((hour % 24) + 24) % 24
	y, m, d := now.Date()
	at := time.Date(y, m, d, hour, 0, 0, 0, now.Location())
	if now.After(at) {
		at = time.Date(y, m, d+1, hour, 0, 0, 0, now.Location())
	}
	return at
}

// SecondsUntil returns whole seconds from now until the next hour:00:00.
// The result is always in [0, 86400).
func SecondsUntil(now time.Time, hour int) int64 {
	secs := int64(NextOccurrence(now, hour).Sub(now) / time.Second)
	// A DST transition can stretch a calendar day to 25h.
	if secs >= secondsPerDay {
		secs = secondsPerDay - 1
	}
	if secs < 0 {
		secs = 0
	}
	return secs
}

// Until is SecondsUntil without truncation, for timers.
func Until(now time.Time, hour int) time.Duration {
	return NextOccurrence(now, hour).Sub(now)
}
