package config

// Config is the on-disk configuration of the pacer daemon.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Autotune  AutotuneConfig  `json:"autotune,omitempty"`
	Journal   *JournalConfig  `json:"journal,omitempty"`
	Fetch     FetchConfig     `json:"fetch,omitempty"`
	Status    StatusConfig    `json:"status,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts mirrors warn+ lines to stderr, rate limited.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// SchedulerConfig selects a preset and overrides individual limits.
//
// Zero or empty fields keep the preset's value. Defaults when no preset is set:
//   - max_concurrent: 2
//   - delay: "0s" (no host spacing)
//   - burst_limit / time_window: disabled
//   - max_retries: 3
//   - retry_base: "1s", retry_max_delay: "10s"
//   - rate_limit_backoff: "60s", rate_limit_jitter: "10s"
type SchedulerConfig struct {
	Preset string `json:"preset,omitempty"`

	MaxConcurrent int    `json:"max_concurrent,omitempty"`
	Delay         string `json:"delay,omitempty"`
	BurstLimit    int    `json:"burst_limit,omitempty"`
	TimeWindow    string `json:"time_window,omitempty"`

	MaxRetries     int    `json:"max_retries,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`

	RateLimitBackoff string `json:"rate_limit_backoff,omitempty"`
	RateLimitJitter  string `json:"rate_limit_jitter,omitempty"`

	Controller ControllerConfig `json:"controller,omitempty"`
}

type ControllerConfig struct {
	MinConcurrency int    `json:"min_concurrency,omitempty"`
	MaxConcurrency int    `json:"max_concurrency,omitempty"`
	MinDelay       string `json:"min_delay,omitempty"`
	MaxDelay       string `json:"max_delay,omitempty"`
}

// AutotuneConfig drives Scheduler.Tick on a schedule.
//
// Schedule accepts "@every 30s", a 5-field cron expression, a plain duration
// ("30s") or a daily "HH:MM".
type AutotuneConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
}

// JournalConfig controls the optional outcome journal.
//
// Example:
//
//	"journal": { "driver": "sqlite", "path": "./pacer_journal" }
type JournalConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite

	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"` // do not log
	RedisDB       int    `json:"redis_db,omitempty"`
	RedisPrefix   string `json:"redis_prefix,omitempty"`
}

type FetchConfig struct {
	UserAgent    string `json:"user_agent,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
	MaxBodyBytes int64  `json:"max_body_bytes,omitempty"`
}

type StatusConfig struct {
	// Interval between status log lines and sd_notify STATUS updates. "0s" disables.
	Interval string `json:"interval,omitempty"`
}
