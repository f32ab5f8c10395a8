package config

import (
	"reflect"
	"strings"

	logx "cartobot/pkg/logx"
)

// SummarizeConfigChange lists the top-level sections that differ and a few
// safe attributes for logging. Secrets are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var attrs []logx.Field

	if !reflect.DeepEqual(oldCfg.Platform, newCfg.Platform) {
		changed = append(changed, "platform")
		attrs = append(attrs,
			logx.String("platform.driver", newCfg.Platform.Driver),
			logx.Bool("platform.token_changed", oldCfg.Platform.Telegram.Token != newCfg.Platform.Telegram.Token),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs, logx.String("logging.level", strings.TrimSpace(newCfg.Logging.Level)))
	}
	sections := []struct {
		name     string
		old, new any
	}{
		{"log_sink", oldCfg.LogSink, newCfg.LogSink},
		{"persistence", oldCfg.Persistence, newCfg.Persistence},
		{"scheduler", oldCfg.Scheduler, newCfg.Scheduler},
		{"lifecycle", oldCfg.Lifecycle, newCfg.Lifecycle},
		{"resources", oldCfg.Resources, newCfg.Resources},
		{"jobs", oldCfg.Jobs, newCfg.Jobs},
		{"dm_relay", oldCfg.DMRelay, newCfg.DMRelay},
		{"ops", oldCfg.Ops, newCfg.Ops},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			changed = append(changed, s.name)
		}
	}
	return changed, attrs
}

// RestartRequired filters changed sections down to those that cannot be
// applied to a running process.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if s != "logging" {
			out = append(out, s)
		}
	}
	return out
}
