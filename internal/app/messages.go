package app

import (
	"context"
	"strings"

	"cartobot/internal/config"
	"cartobot/internal/platform"
	logx "cartobot/pkg/logx"
)

// handleMessage is called by the platform intake for every inbound message.
func (a *App) handleMessage(m platform.Message) {
	if m.Private {
		a.relayDM(m)
		return
	}
	a.tracker.Observe(m)
}

// relayDM records a direct message in the dm log and forwards it to the
// relay channel.
func (a *App) relayDM(m platform.Message) {
	if m.AuthorBot {
		return
	}
	a.sink.DMLog(m.AuthorName, "(", m.AuthorID, ") typed \"", m.Text, "\" in direct message.")

	relay := a.cfg.DMRelay
	if !relay.Enabled || strings.TrimSpace(m.Text) == "" {
		return
	}
	to, ok := a.coord.Resources().Get(relay.Channel)
	if !ok {
		return
	}
	if err := a.dispatch.SendText(a.sup.Context(), a.client, to, m.Text, nil); err != nil {
		a.log.Debug("dm relay dropped", logx.String("from", m.AuthorID), logx.Err(err))
	}
}

// reloadLoop applies hot-reloaded config. Only logging takes effect live;
// other sections are reported as needing a restart.
func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

func (a *App) applyConfig(prev, next *config.Config) {
	changed, attrs := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.logs.Apply(mapLogConfig(next))

	fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if pending := config.RestartRequired(changed); len(pending) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(pending, ",")))
	}
}
