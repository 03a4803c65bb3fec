package journal

import (
	"context"
	"errors"
	"time"

	"pacer/internal/task/throttle"
)

var ErrClosed = errors.New("journal closed")

// Config configures the journal.
//
// Driver values:
//   - "file": JSON Lines file (dependency-free)
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "redis": pipelined counters plus a capped recent-records list
//
// If Driver is empty or "none", the journal is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	Redis RedisConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// Keep is the length of the recent-records list. 0 means 1000.
	Keep int64
}

// Record is one settled task. Keep it compact and schema-stable.
type Record struct {
	At         time.Time         `json:"at"`
	TaskID     string            `json:"task_id"`
	URL        string            `json:"url,omitempty"`
	Host       string            `json:"host"`
	Priority   int               `json:"priority,omitempty"`
	Outcome    string            `json:"outcome"`
	Attempts   int               `json:"attempts"`
	QueueDelay int64             `json:"queue_delay_ms"`
	Duration   int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// FromEvent converts a scheduler lifecycle event into a record.
func FromEvent(at time.Time, ev throttle.TaskEvent) Record {
	if at.IsZero() {
		at = time.Now()
	}
	return Record{
		At:         at,
		TaskID:     ev.ID,
		URL:        ev.URL,
		Host:       ev.Host,
		Priority:   ev.Priority,
		Outcome:    string(ev.Outcome),
		Attempts:   ev.Attempt,
		QueueDelay: ev.QueueDelay.Milliseconds(),
		Duration:   ev.Duration.Milliseconds(),
		Error:      ev.Error,
		Metadata:   ev.Metadata,
	}
}

// Summary aggregates every record the store has seen.
type Summary struct {
	Total     int64
	ByOutcome map[string]int64
	ByHost    map[string]int64
}

func newSummary() Summary {
	return Summary{ByOutcome: map[string]int64{}, ByHost: map[string]int64{}}
}

func (s *Summary) add(r Record) {
	s.Total++
	s.ByOutcome[r.Outcome]++
	s.ByHost[r.Host]++
}

// Store is the persistence API used by the Recorder.
type Store interface {
	Append(ctx context.Context, r Record) error
	Summary(ctx context.Context) (Summary, error)
	Close() error
}
