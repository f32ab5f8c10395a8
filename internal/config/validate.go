package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "cartobot/pkg/logx"
)

// Validate checks cross-field constraints. All problems are reported together.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch strings.ToLower(strings.TrimSpace(c.Platform.Driver)) {
	case "telegram":
		if strings.TrimSpace(c.Platform.Telegram.Token) == "" {
			add("platform.telegram.token is required")
		}
		if _, err := ParseDurationField("platform.telegram.poll_timeout", c.Platform.Telegram.PollTimeout); err != nil {
			errs = append(errs, err)
		}
	case "fake":
	default:
		add("platform.driver: unknown driver %q", c.Platform.Driver)
	}

	if _, ok := logx.ParseLevel(c.Logging.Level); !ok {
		add("logging.level: unknown level %q", c.Logging.Level)
	}
	if s := strings.TrimSpace(c.Logging.SinkLevel); s != "" {
		if _, ok := logx.ParseLevel(s); !ok {
			add("logging.sink_level: unknown level %q", s)
		}
	}
	if c.LogSink.MaxBufferBytes < 0 {
		add("log_sink.max_buffer_bytes must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Persistence.Driver)) {
	case "file", "sqlite", "sqlite3", "none":
	default:
		add("persistence.driver: unknown driver %q", c.Persistence.Driver)
	}
	if _, err := ParseDurationField("persistence.busy_timeout", c.Persistence.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("scheduler.timezone: %v", err)
		}
	}
	if _, err := ParseDurationField("lifecycle.drain_timeout", c.Lifecycle.DrainTimeout); err != nil {
		errs = append(errs, err)
	}

	kinds := validateResources(c.Resources, add)
	if strings.EqualFold(strings.TrimSpace(c.Platform.Driver), "telegram") {
		for _, r := range c.Resources {
			if r.Kind == KindRole || r.Kind == KindTag {
				add("resources: %s %q cannot be resolved on telegram", r.Kind, r.Name)
			}
		}
	}
	ref := func(path, name string, want ...string) {
		name = strings.TrimSpace(name)
		if name == "" {
			add("%s is required", path)
			return
		}
		kind, ok := kinds[name]
		if !ok {
			add("%s: unknown resource %q", path, name)
			return
		}
		for _, k := range want {
			if k == kind {
				return
			}
		}
		add("%s: resource %q is a %s, want %s", path, name, kind, strings.Join(want, " or "))
	}

	if c.Lifecycle.AnnounceChannel != "" {
		ref("lifecycle.announce_channel", c.Lifecycle.AnnounceChannel, KindChannel)
	}
	if dp := c.Jobs.DailyPost; dp.Enabled {
		checkHour(add, "jobs.daily_post.hour", dp.Hour)
		ref("jobs.daily_post.channel", dp.Channel, KindChannel)
		if len(dp.Messages) == 0 {
			add("jobs.daily_post.messages must not be empty")
		}
	}
	if idle := c.Jobs.IdleForum; idle.Enabled {
		checkHour(add, "jobs.idle_forum.hour", idle.Hour)
		ref("jobs.idle_forum.forum", idle.Forum, KindForum)
		if _, err := ParsePositiveDuration("jobs.idle_forum.idle_after", idle.IdleAfter); err != nil {
			errs = append(errs, err)
		}
	}
	if c.DMRelay.Enabled {
		ref("dm_relay.channel", c.DMRelay.Channel, KindChannel)
	}
	if c.Ops.Enabled && strings.TrimSpace(c.Ops.Addr) == "" {
		add("ops.addr is required when ops.enabled")
	}
	return errors.Join(errs...)
}

func checkHour(add func(string, ...any), path string, h int) {
	if h < 0 || h > 23 {
		add("%s: %d is outside [0,23]", path, h)
	}
}

func validateResources(rs []ResourceConfig, add func(string, ...any)) map[string]string {
	kinds := make(map[string]string, len(rs))
	for i, r := range rs {
		path := fmt.Sprintf("resources[%d]", i)
		name := strings.TrimSpace(r.Name)
		if name == "" {
			add("%s.name is required", path)
			continue
		}
		if _, dup := kinds[name]; dup {
			add("%s: duplicate resource name %q", path, name)
			continue
		}
		switch r.Kind {
		case KindServer, KindChannel, KindForum, KindRole, KindTag:
		default:
			add("%s (%s): unknown kind %q", path, name, r.Kind)
		}
		if strings.TrimSpace(r.ID) == "" {
			add("%s (%s): id is required", path, name)
		}
		if p := strings.TrimSpace(r.Parent); p != "" {
			if _, ok := kinds[p]; !ok {
				add("%s (%s): parent %q must be declared earlier", path, name, p)
			}
		}
		if r.Kind == KindTag && strings.TrimSpace(r.Parent) == "" {
			add("%s (%s): a tag needs its forum as parent", path, name)
		}
		kinds[name] = r.Kind
	}
	return kinds
}
