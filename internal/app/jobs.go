package app

import (
	"context"
	"fmt"

	"cartobot/internal/config"
	"cartobot/internal/jobs"
	"cartobot/internal/lifecycle"
	"cartobot/internal/platform"
	logx "cartobot/pkg/logx"
)

func handle(res *lifecycle.Resources, path, name string) (platform.Handle, error) {
	h, ok := res.Get(name)
	if !ok {
		return platform.Handle{}, fmt.Errorf("%s: resource %q was not resolved", path, name)
	}
	return h, nil
}

// onRunning registers the daily jobs and queues the online announcement.
func (a *App) onRunning(ctx context.Context, res *lifecycle.Resources) error {
	cfg := a.cfg

	if dp := cfg.Jobs.DailyPost; dp.Enabled {
		ch, err := handle(res, "jobs.daily_post.channel", dp.Channel)
		if err != nil {
			return err
		}
		job := &jobs.DailyPost{
			Client:     a.client,
			Dispatcher: a.dispatch,
			Channel:    ch,
			Messages:   append([]string(nil), dp.Messages...),
		}
		if _, err := a.sched.ScheduleDaily("daily_post", dp.Hour, job.Run); err != nil {
			return err
		}
	}

	if idle := cfg.Jobs.IdleForum; idle.Enabled {
		fh, err := handle(res, "jobs.idle_forum.forum", idle.Forum)
		if err != nil {
			return err
		}
		after, err := config.ParsePositiveDuration("jobs.idle_forum.idle_after", idle.IdleAfter)
		if err != nil {
			return err
		}
		a.tracker.Watch(fh.ID)
		sweep := &jobs.IdleSweep{
			Client:     a.client,
			Dispatcher: a.dispatch,
			Tracker:    a.tracker,
			Forum:      fh,
			IdleAfter:  after,
			Reminder:   idle.Reminder,
			Limiter:    jobs.NewLimiter(idle.RatePerSec),
			Log:        a.log.With(logx.String("job", "idle_forum")),
		}
		if src, ok := a.client.(platform.ThreadSource); ok {
			sweep.Source = src
		}
		if _, err := a.sched.ScheduleDaily("idle_forum", idle.Hour, sweep.Run); err != nil {
			return err
		}
	}

	if name := cfg.Lifecycle.AnnounceChannel; name != "" {
		ch, err := handle(res, "lifecycle.announce_channel", name)
		if err != nil {
			return err
		}
		if err := a.dispatch.SendText(a.sup.Context(), a.client, ch, cfg.Lifecycle.OnlineMessage, nil); err != nil {
			a.log.Warn("online announcement not sent", logx.Err(err))
		}
	}
	return nil
}
