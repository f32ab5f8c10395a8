package scheduler

import (
	"errors"
	"time"

	"cartobot/internal/task/engine"
	logx "cartobot/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(j *Job, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, engine.ErrOverlapSkip) {
		j.skips.Add(1)
		s.log.Warn("previous run still in flight; skipping this fire", logx.String("job", j.name))
		return
	}
	if errors.Is(err, engine.ErrStopped) && j.ctx.Err() != nil {
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[j.name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[j.name] = now
	s.enqMu.Unlock()

	s.log.Warn("schedule failed to enqueue job", logx.String("job", j.name), logx.Err(err))
}
