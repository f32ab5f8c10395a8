package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"cartobot/internal/task/engine"
	"cartobot/internal/timekeeper"
	logx "cartobot/pkg/logx"
)

// ScheduleDaily registers action to run every day at hour:00:00 in the
// scheduler's timezone. The first run happens SecondsUntil(hour) from now,
// immediately if now is exactly that instant.
//
// Failures and panics in action are logged and counted; the job stays
// scheduled.
func (s *Service) ScheduleDaily(name string, hour int, action Action) (*Job, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("name required")
	}
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("%w: %d", ErrBadHour, hour)
	}
	if action == nil {
		return nil, fmt.Errorf("action required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return nil, ErrCancelled
	}
	if _, dup := s.names[name]; dup {
		return nil, fmt.Errorf("%w: %q", ErrDuplicate, name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		id:     uuid.NewString(),
		name:   name,
		hour:   hour,
		action: action,
		ctx:    ctx,
		cancel: cancel,
		state:  &engine.RunState{},
	}
	s.names[name] = struct{}{}
	s.jobs = append(s.jobs, j)

	if s.loc == nil {
		s.loc = s.loadLocationLocked()
	}
	now := time.Now().In(s.loc)
	s.log.Info("daily job registered",
		logx.String("job", name),
		logx.String("id", j.id),
		logx.Int("hour", hour),
		logx.Int64("first_in_s", timekeeper.SecondsUntil(now, hour)),
	)
	if s.c != nil {
		s.addCronLocked(j)
	}
	return j, nil
}

// Jobs returns a snapshot of registered jobs with their trigger times.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	jobs := append([]*Job(nil), s.jobs...)
	ids := make([]cron.EntryID, len(jobs))
	for i, j := range jobs {
		ids[i] = j.entryID
	}
	c := s.c
	s.mu.Unlock()

	out := make([]JobInfo, 0, len(jobs))
	for i, j := range jobs {
		info := JobInfo{
			ID:       j.id,
			Name:     j.name,
			Hour:     j.hour,
			Runs:     j.runs.Load(),
			Failures: j.failures.Load(),
			Skips:    j.skips.Load(),
		}
		if c != nil && ids[i] != 0 {
			e := c.Entry(ids[i])
			info.Next = e.Next
			info.Prev = e.Prev
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) addCronLocked(j *Job) {
	j.entryID = s.c.Schedule(s.newSchedule(j.hour), cron.FuncJob(func() { s.fire(j) }))
}

// fire runs on the cron goroutine and must not block.
func (s *Service) fire(j *Job) {
	if j.ctx.Err() != nil {
		return
	}
	if s.engine == nil {
		return
	}
	err := s.engine.Enqueue(engine.Task{
		Name:  j.name,
		State: j.state,
		Run:   func(context.Context) error { return s.run(j) },
	})
	s.reportEnqueueError(j, err)
}

func (s *Service) run(j *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("daily job panicked", logx.String("job", j.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
		j.runs.Add(1)
		if err != nil {
			j.failures.Add(1)
		}
	}()
	return j.action(j.ctx)
}
