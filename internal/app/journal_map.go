package app

import (
	"fmt"
	"strings"
	"time"

	"pacer/internal/config"
	"pacer/internal/journal"
)

func mapJournalConfig(cfg *config.Config) (journal.Config, bool, error) {
	if cfg == nil || cfg.Journal == nil {
		return journal.Config{}, false, nil
	}
	jc := cfg.Journal
	driver := strings.ToLower(strings.TrimSpace(jc.Driver))
	if driver == "" || driver == "none" {
		return journal.Config{}, false, nil
	}
	path := strings.TrimSpace(jc.Path)

	switch driver {
	case config.JournalFile:
		return journal.Config{Driver: driver, Path: path}, true, nil
	case config.JournalSQLite, "sqlite3":
		if path == "" {
			return journal.Config{}, false, fmt.Errorf("journal.path is required when journal.driver=sqlite")
		}
		busy, err := config.ParseDurationField("journal.busy_timeout", jc.BusyTimeout)
		if err != nil {
			return journal.Config{}, false, err
		}
		if busy == 0 {
			busy = time.Second
		}
		return journal.Config{Driver: config.JournalSQLite, Path: path, BusyTimeout: busy}, true, nil
	case config.JournalRedis:
		if strings.TrimSpace(jc.RedisAddr) == "" {
			return journal.Config{}, false, fmt.Errorf("journal.redis_addr is required when journal.driver=redis")
		}
		return journal.Config{Driver: driver, Redis: journal.RedisConfig{
			Addr:     strings.TrimSpace(jc.RedisAddr),
			Password: jc.RedisPassword,
			DB:       jc.RedisDB,
			Prefix:   strings.TrimSpace(jc.RedisPrefix),
		}}, true, nil
	default:
		return journal.Config{}, false, fmt.Errorf("unknown journal.driver: %s", jc.Driver)
	}
}
