package config

// Config is the on-disk configuration. JSON by default; .yaml/.yml files are
// converted to JSON before the strict decode.
type Config struct {
	Platform    PlatformConfig    `json:"platform"`
	Logging     LoggingConfig     `json:"logging"`
	LogSink     LogSinkConfig     `json:"log_sink"`
	Persistence PersistenceConfig `json:"persistence"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Lifecycle   LifecycleConfig   `json:"lifecycle"`

	// Resources are resolved in order at startup; a parent must appear
	// before its children.
	Resources []ResourceConfig `json:"resources"`

	Jobs    JobsConfig    `json:"jobs"`
	DMRelay DMRelayConfig `json:"dm_relay"`
	Ops     OpsConfig     `json:"ops"`
}

type PlatformConfig struct {
	// Driver is "telegram" or "fake".
	Driver   string         `json:"driver"`
	Telegram TelegramConfig `json:"telegram"`

	// DispatchConcurrency bounds in-flight fire-and-forget platform calls.
	DispatchConcurrency int `json:"dispatch_concurrency,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`

	// SinkLevel is the minimum level mirrored into the daily main log.
	SinkLevel string `json:"sink_level,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LogSinkConfig struct {
	MainDir string `json:"main_dir"`
	DMDir   string `json:"dm_dir"`

	// MaxBufferBytes flushes a stream early once it grows past this size.
	// 0 keeps everything in memory until shutdown.
	MaxBufferBytes int `json:"max_buffer_bytes,omitempty"`
}

type PersistenceConfig struct {
	// Driver is "file" (default), "sqlite" or "none".
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type SchedulerConfig struct {
	Timezone  string `json:"timezone"`
	Workers   int    `json:"workers,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
}

type LifecycleConfig struct {
	// AnnounceChannel names a resource that receives the online message.
	// Empty disables the announcement.
	AnnounceChannel string `json:"announce_channel,omitempty"`
	OnlineMessage   string `json:"online_message,omitempty"`

	// DrainTimeout bounds the whole shutdown sequence.
	DrainTimeout string `json:"drain_timeout,omitempty"`
}

// Resource kinds.
const (
	KindServer  = "server"
	KindChannel = "channel"
	KindForum   = "forum"
	KindRole    = "role"
	KindTag     = "tag"
)

type ResourceConfig struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Parent string `json:"parent,omitempty"`
}

type JobsConfig struct {
	DailyPost DailyPostConfig `json:"daily_post"`
	IdleForum IdleForumConfig `json:"idle_forum"`
}

type DailyPostConfig struct {
	Enabled  bool     `json:"enabled"`
	Hour     int      `json:"hour"`
	Channel  string   `json:"channel"`
	Messages []string `json:"messages"`
}

type IdleForumConfig struct {
	Enabled   bool   `json:"enabled"`
	Hour      int    `json:"hour"`
	Forum     string `json:"forum"`
	IdleAfter string `json:"idle_after"`
	Reminder  string `json:"reminder"`

	// RatePerSec paces reminder posts during one sweep.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type DMRelayConfig struct {
	Enabled bool   `json:"enabled"`
	Channel string `json:"channel"`
}

type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}
