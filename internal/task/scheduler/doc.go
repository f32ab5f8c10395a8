// Package scheduler fires daily jobs at a fixed wall-clock hour.
//
// The scheduler only triggers: robfig/cron wakes up at the next occurrence
// computed by the timekeeper and enqueues the job on the shared worker pool
// (internal/task/engine). A job whose previous run is still in flight is
// skipped for that day.
package scheduler
