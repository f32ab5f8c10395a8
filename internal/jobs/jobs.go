// Package jobs holds the recurring daily jobs the bot schedules.
package jobs

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"cartobot/internal/forum"
	"cartobot/internal/platform"
	logx "cartobot/pkg/logx"
)

// DailyPost sends a fixed list of messages to one channel.
type DailyPost struct {
	Client     platform.Client
	Dispatcher *platform.Dispatcher
	Channel    platform.Handle
	Messages   []string
}

// Run queues every message and returns without waiting for delivery.
func (p *DailyPost) Run(ctx context.Context) error {
	var errs []error
	for _, text := range p.Messages {
		if err := p.Dispatcher.SendText(ctx, p.Client, p.Channel, text, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IdleSweep reminds forum threads that have gone quiet.
type IdleSweep struct {
	Client     platform.Client
	Dispatcher *platform.Dispatcher
	Tracker    *forum.Tracker

	// Source refreshes the tracker before each sweep when the platform can
	// list threads.
	Source platform.ThreadSource

	Forum     platform.Handle
	IdleAfter time.Duration
	Reminder  string

	// Limiter paces reminders within one sweep. Nil means unpaced.
	Limiter *rate.Limiter
	Log     logx.Logger
}

// NewLimiter returns a limiter allowing perSec reminders a second.
func NewLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSec), 1)
}

// Run posts the reminder once to each idle thread. A thread is marked only
// after its reminder was delivered.
func (s *IdleSweep) Run(ctx context.Context) error {
	log := s.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if s.Source != nil {
		threads, err := s.Source.Threads(ctx, s.Forum)
		if err != nil {
			log.Warn("thread listing failed; using tracked threads", logx.String("forum", s.Forum.ID), logx.Err(err))
		} else {
			s.Tracker.Merge(threads)
		}
	}

	idle := s.Tracker.Idle(s.Forum.ID, s.IdleAfter)
	if len(idle) == 0 {
		log.Debug("no idle threads", logx.String("forum", s.Forum.ID))
		return nil
	}
	log.Info("reminding idle threads", logx.String("forum", s.Forum.ID), logx.Int("count", len(idle)))

	for _, e := range idle {
		if s.Limiter != nil {
			if err := s.Limiter.Wait(ctx); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		forumID, threadID := e.ForumID, e.ID
		err := s.Dispatcher.SendText(ctx, s.Client, e.Handle(), s.Reminder, func(err error) {
			if err == nil {
				s.Tracker.MarkReminded(forumID, threadID)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}
