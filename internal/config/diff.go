package config

import (
	"reflect"
	"strings"

	logx "pacer/pkg/logx"
)

// SummarizeChange returns the changed section names and safe structured
// attrs for logging. Secrets (redis password) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts_enabled", newCfg.Logging.Alerts.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		s := newCfg.Scheduler
		attrs = append(attrs,
			logx.String("scheduler.preset", strings.TrimSpace(s.Preset)),
			logx.Int("scheduler.max_concurrent", s.MaxConcurrent),
			logx.String("scheduler.delay", strings.TrimSpace(s.Delay)),
			logx.Int("scheduler.burst_limit", s.BurstLimit),
			logx.String("scheduler.time_window", strings.TrimSpace(s.TimeWindow)),
		)
	}

	if oldCfg.Autotune != newCfg.Autotune {
		changed = append(changed, "autotune")
		attrs = append(attrs,
			logx.Bool("autotune.enabled", newCfg.Autotune.Enabled),
			logx.String("autotune.schedule", strings.TrimSpace(newCfg.Autotune.Schedule)),
		)
	}

	oj, nj := derefJournal(oldCfg.Journal), derefJournal(newCfg.Journal)
	if (oldCfg.Journal != nil) != (newCfg.Journal != nil) || oj != nj {
		changed = append(changed, "journal")
		attrs = append(attrs,
			logx.Bool("journal.present", newCfg.Journal != nil),
			logx.String("journal.driver", strings.TrimSpace(nj.Driver)),
			logx.Bool("journal.redis_password_set", strings.TrimSpace(nj.RedisPassword) != ""),
		)
	}

	if oldCfg.Fetch != newCfg.Fetch {
		changed = append(changed, "fetch")
		attrs = append(attrs,
			logx.String("fetch.timeout", strings.TrimSpace(newCfg.Fetch.Timeout)),
			logx.Int64("fetch.max_body_bytes", newCfg.Fetch.MaxBodyBytes),
		)
	}

	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
		attrs = append(attrs, logx.String("status.interval", strings.TrimSpace(newCfg.Status.Interval)))
	}

	return changed, attrs
}

func derefJournal(j *JournalConfig) JournalConfig {
	if j == nil {
		return JournalConfig{}
	}
	return *j
}
