package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pacer/internal/task/throttle"
	logx "pacer/pkg/logx"
)

// Journal drivers.
const (
	JournalFile   = "file"
	JournalSQLite = "sqlite"
	JournalRedis  = "redis"
)

// LogxConfig maps the logging section onto the logx service config.
func (c *Config) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Logging.Level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
		Alerts: logx.AlertConfig{
			Enabled:    c.Logging.Alerts.Enabled,
			MinLevel:   c.Logging.Alerts.MinLevel,
			RatePerSec: c.Logging.Alerts.RatePerSec,
		},
	}
}

// Throttle resolves the preset plus overrides into a scheduler config.
func (s SchedulerConfig) Throttle() (throttle.Config, error) {
	var out throttle.Config
	if strings.TrimSpace(s.Preset) != "" {
		p, err := Preset(s.Preset)
		if err != nil {
			return throttle.Config{}, fmt.Errorf("scheduler.preset: %w", err)
		}
		out = p
	}

	if s.MaxConcurrent < 0 {
		return throttle.Config{}, errors.New("scheduler.max_concurrent must be >= 0")
	}
	if s.MaxConcurrent > 0 {
		out.MaxConcurrent = s.MaxConcurrent
	}
	if s.BurstLimit < 0 {
		return throttle.Config{}, errors.New("scheduler.burst_limit must be >= 0")
	}
	if s.BurstLimit > 0 {
		out.BurstLimit = s.BurstLimit
	}
	if s.MaxRetries != 0 {
		out.DefaultMaxRetries = s.MaxRetries
	}

	durations := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"scheduler.delay", s.Delay, &out.Delay},
		{"scheduler.time_window", s.TimeWindow, &out.TimeWindow},
		{"scheduler.default_timeout", s.DefaultTimeout, &out.DefaultTimeout},
		{"scheduler.retry_base", s.RetryBase, &out.RetryBase},
		{"scheduler.retry_max_delay", s.RetryMaxDelay, &out.RetryMaxDelay},
		{"scheduler.rate_limit_backoff", s.RateLimitBackoff, &out.RateLimitBackoff},
		{"scheduler.rate_limit_jitter", s.RateLimitJitter, &out.RateLimitJitter},
		{"scheduler.controller.min_delay", s.Controller.MinDelay, &out.Controller.MinDelay},
		{"scheduler.controller.max_delay", s.Controller.MaxDelay, &out.Controller.MaxDelay},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := ParseDurationField(d.path, d.raw)
		if err != nil {
			return throttle.Config{}, err
		}
		*d.dst = v
	}
	// An explicit "0s" jitter means no jitter.
	if strings.TrimSpace(s.RateLimitJitter) != "" && out.RateLimitJitter == 0 {
		out.RateLimitJitter = -1
	}

	if s.Controller.MinConcurrency > 0 {
		out.Controller.MinConcurrency = s.Controller.MinConcurrency
	}
	if s.Controller.MaxConcurrency > 0 {
		out.Controller.MaxConcurrency = s.Controller.MaxConcurrency
	}
	if mn, mx := out.Controller.MinConcurrency, out.Controller.MaxConcurrency; mn > 0 && mx > 0 && mn > mx {
		return throttle.Config{}, fmt.Errorf("scheduler.controller: min_concurrency %d > max_concurrency %d", mn, mx)
	}
	return out, nil
}

// Validate checks every section that needs parsing. It is the default
// validator used by Manager.Watch before committing a reload.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := cfg.Scheduler.Throttle(); err != nil {
		return err
	}
	if cfg.Autotune.Enabled && strings.TrimSpace(cfg.Autotune.Schedule) == "" {
		return errors.New("autotune.schedule is required when autotune is enabled")
	}
	if j := cfg.Journal; j != nil {
		switch strings.ToLower(strings.TrimSpace(j.Driver)) {
		case "", JournalFile, JournalSQLite:
		case JournalRedis:
			if strings.TrimSpace(j.RedisAddr) == "" {
				return errors.New("journal.redis_addr is required for the redis driver")
			}
		default:
			return fmt.Errorf("journal.driver: unknown driver %q", j.Driver)
		}
		if _, err := ParseDurationField("journal.busy_timeout", j.BusyTimeout); err != nil {
			return err
		}
	}
	if _, err := ParseDurationField("fetch.timeout", cfg.Fetch.Timeout); err != nil {
		return err
	}
	if cfg.Fetch.MaxBodyBytes < 0 {
		return errors.New("fetch.max_body_bytes must be >= 0")
	}
	if _, err := ParseDurationField("status.interval", cfg.Status.Interval); err != nil {
		return err
	}
	return nil
}
