package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cartobot/internal/eventbus"
	rtsup "cartobot/internal/runtime/supervisor"
	logx "cartobot/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service is a fixed-size worker pool fed by a bounded queue.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q       chan queuedTask
	sup     *rtsup.Supervisor
	stopped bool

	hmu     sync.Mutex
	history []HistoryItem

	idSeq    atomic.Uint64
	inFlight atomic.Int32

	completed        atomic.Uint64
	failed           atomic.Uint64
	panics           atomic.Uint64
	droppedQueueFull atomic.Uint64
	skippedOverlap   atomic.Uint64

	lastQueueFullWarnAt atomic.Int64
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log.With(logx.String("comp", "taskengine")), bus: bus}
}

// Start launches the workers. It is idempotent; a stopped pool stays stopped.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.q != nil || s.stopped {
		return
	}

	s.q = make(chan queuedTask, s.cfg.QueueSize)
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	for i := 0; i < s.cfg.Workers; i++ {
		q := s.q
		s.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			return s.worker(c, q)
		})
	}
	s.log.Info("task engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop refuses new work and cancels the workers' context. A run already in
// progress is allowed to return; Stop waits for it until ctx is done.
// Queued tasks that have not started are discarded.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	sup := s.sup
	s.mu.Unlock()

	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && ctx.Err() != nil {
		s.log.Warn("task engine stop timed out", logx.Err(err))
		return
	}
	s.log.Info("task engine stopped")
}

// Enqueue adds t to the queue without blocking.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return fmt.Errorf("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("task Name is required")
	}
	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.idSeq.Add(1))
	}

	s.mu.Lock()
	q := s.q
	stopped := s.stopped
	s.mu.Unlock()
	if q == nil || stopped {
		return ErrStopped
	}

	if !t.State.tryAcquire() {
		s.skippedOverlap.Add(1)
		s.publish(eventbus.TypeTaskSkipped, TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "overlap"})
		return ErrOverlapSkip
	}

	select {
	case q <- queuedTask{task: t, enqueuedAt: now}:
		return nil
	default:
		t.State.release()
		s.droppedQueueFull.Add(1)
		if s.shouldWarn(now) {
			s.log.Warn("task dropped: queue full", logx.String("task", t.Name), logx.Int("queue_cap", cap(q)))
		}
		s.publish(eventbus.TypeTaskSkipped, TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "queue_full"})
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	q := s.q
	running := q != nil && !s.stopped
	workers := s.cfg.Workers
	s.mu.Unlock()

	snap := Snapshot{
		Running:          running,
		Workers:          workers,
		InFlight:         int(s.inFlight.Load()),
		Completed:        s.completed.Load(),
		Failed:           s.failed.Load(),
		Panics:           s.panics.Load(),
		DroppedQueueFull: s.droppedQueueFull.Load(),
		SkippedOverlap:   s.skippedOverlap.Load(),
	}
	if q != nil {
		snap.QueueLen = len(q)
		snap.QueueCap = cap(q)
	}
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, ev TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
	}
}

func (s *Service) shouldWarn(now time.Time) bool {
	prev := s.lastQueueFullWarnAt.Load()
	n := now.UnixNano()
	if prev != 0 && n-prev < int64(warnThrottleEvery) {
		return false
	}
	return s.lastQueueFullWarnAt.CompareAndSwap(prev, n)
}
