package config

import "strings"

const (
	DefaultOnlineMessage = "Cartoland Bot 已上線。\nCartoland Bot is now online."
	DefaultReminder      = "This question has been idle for a while. If it is solved, please mark it as resolved; otherwise add more details so others can help."
)

// ApplyDefaults fills zero values. Parse calls it after decoding.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Platform.Driver) == "" {
		c.Platform.Driver = "telegram"
	}
	if c.Platform.DispatchConcurrency <= 0 {
		c.Platform.DispatchConcurrency = 4
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.LogSink.MainDir) == "" {
		c.LogSink.MainDir = "logs"
	}
	if strings.TrimSpace(c.LogSink.DMDir) == "" {
		c.LogSink.DMDir = "dms"
	}
	if strings.TrimSpace(c.Persistence.Driver) == "" {
		c.Persistence.Driver = "file"
	}
	if strings.TrimSpace(c.Persistence.Path) == "" {
		if strings.EqualFold(c.Persistence.Driver, "sqlite") {
			c.Persistence.Path = "data/state.db"
		} else {
			c.Persistence.Path = "data"
		}
	}
	if c.Scheduler.Workers <= 0 {
		c.Scheduler.Workers = 2
	}
	if c.Scheduler.QueueSize <= 0 {
		c.Scheduler.QueueSize = 64
	}
	if c.Lifecycle.OnlineMessage == "" {
		c.Lifecycle.OnlineMessage = DefaultOnlineMessage
	}
	if strings.TrimSpace(c.Lifecycle.DrainTimeout) == "" {
		c.Lifecycle.DrainTimeout = "30s"
	}
	if strings.TrimSpace(c.Jobs.IdleForum.IdleAfter) == "" {
		c.Jobs.IdleForum.IdleAfter = "48h"
	}
	if c.Jobs.IdleForum.Reminder == "" {
		c.Jobs.IdleForum.Reminder = DefaultReminder
	}
	if c.Jobs.IdleForum.RatePerSec <= 0 {
		c.Jobs.IdleForum.RatePerSec = 1
	}
	if strings.TrimSpace(c.Ops.Addr) == "" {
		c.Ops.Addr = "127.0.0.1:9464"
	}
}
