package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the worker pool.
type Config struct {
	// Workers is the fixed pool size. Default 2.
	Workers   int
	QueueSize int

	HistorySize int
}

// RunState gates overlapping runs of the same task.
// A task is considered in flight from enqueue until its Run returns.
type RunState struct {
	mu       sync.Mutex
	inflight bool
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	return true
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
}

// Busy reports whether a run is queued or executing.
func (s *RunState) Busy() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

// Task is a unit of work executed by the pool.
//
// When State is set, Enqueue refuses a task whose previous run has not
// finished yet (ErrOverlapSkip).
type Task struct {
	ID    string
	Name  string
	Run   func(ctx context.Context) error
	State *RunState
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is the payload of task.* bus events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

type Snapshot struct {
	Running  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Completed        uint64
	Failed           uint64
	Panics           uint64
	DroppedQueueFull uint64
	SkippedOverlap   uint64

	History []HistoryItem
}
