package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"cartobot/internal/eventbus"
	"cartobot/internal/task/engine"
	logx "cartobot/pkg/logx"
)

func New(cfg Config, eng *engine.Service, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:         cfg,
		log:         log.With(logx.String("comp", "scheduler")),
		bus:         bus,
		engine:      eng,
		names:       map[string]struct{}{},
		lastEnqWarn: map[string]time.Time{},
		newSchedule: func(hour int) cron.Schedule { return newDailySchedule(hour) },
	}
}

// Location is the timezone daily hours are interpreted in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loc == nil {
		s.loc = s.loadLocationLocked()
	}
	return s.loc
}

// Start starts the worker pool and the cron trigger, and registers every job
// added so far. It is idempotent.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return ErrCancelled
	}
	if s.c != nil {
		return nil
	}
	if s.engine != nil {
		s.engine.Start(ctx)
	}

	if s.loc == nil {
		s.loc = s.loadLocationLocked()
	}
	s.c = cron.New(cron.WithLocation(s.loc))
	for _, j := range s.jobs {
		s.addCronLocked(j)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
	return nil
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// CancelAll cancels every job, stops the trigger and stops the pool.
// Runs already executing see their context cancelled and may finish.
// Calls after the first return nil immediately.
func (s *Service) CancelAll(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.cancelOnce.Do(func() {
		s.mu.Lock()
		s.cancelled = true
		jobs := append([]*Job(nil), s.jobs...)
		c := s.c
		s.mu.Unlock()

		for _, j := range jobs {
			j.cancel()
		}
		if c != nil {
			select {
			case <-c.Stop().Done():
			case <-ctx.Done():
				s.cancelErr = ctx.Err()
			}
		}
		if s.engine != nil {
			s.engine.Stop(ctx)
		}
		s.log.Info("scheduled jobs cancelled", logx.Int("jobs", len(jobs)))
	})
	return s.cancelErr
}
